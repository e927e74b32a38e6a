package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/hookrelay/hookrelay/internal/logging"
)

// recordingDelegate captures the consumer responses handleMessage issues so
// tests can assert on finishes and requeues without a live nsqd.
type recordingDelegate struct {
	finishes  int
	requeues  int
	lastDelay time.Duration
}

func (d *recordingDelegate) OnFinish(*nsq.Message) { d.finishes++ }
func (d *recordingDelegate) OnRequeue(_ *nsq.Message, delay time.Duration, _ bool) {
	d.requeues++
	d.lastDelay = delay
}
func (d *recordingDelegate) OnTouch(*nsq.Message) {}

type recordedFailure struct {
	env     Envelope
	attempt int
	trace   string
	err     error
}

func newTestRunner(handler Handler, failures *[]recordedFailure) *Runner {
	r := &Runner{
		handlers: map[string]Handler{"webhook.deliver": handler},
		policy:   testPolicy(),
		logger:   logging.New("task-test"),
	}
	if failures != nil {
		r.hook = func(_ context.Context, env Envelope, attempt int, trace string, err error) {
			*failures = append(*failures, recordedFailure{env: env, attempt: attempt, trace: trace, err: err})
		}
	}
	return r
}

func testEnvelopeBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(Envelope{
		TaskName:       "webhook.deliver",
		DeliveryID:     "del_1",
		TenantID:       "tn_1",
		SubscriptionID: "sub_1",
		EventType:      "payment.succeeded",
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

// deliver simulates nsqd handing the message to the consumer: the body is
// always the originally published body and Attempts is the server-side
// delivery count.
func deliver(t *testing.T, r *Runner, del *recordingDelegate, body []byte, attempts uint16) {
	t.Helper()
	var id nsq.MessageID
	msg := nsq.NewMessage(id, body)
	msg.Attempts = attempts
	msg.Delegate = del
	if err := r.handleMessage(msg); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
}

func TestHandleMessageSuccess(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error { return nil }, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, testEnvelopeBody(t), 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want 1 finish and no requeue", del.finishes, del.requeues)
	}
	if len(failures) != 0 {
		t.Errorf("failure hook called %d times, want 0", len(failures))
	}
}

func TestHandleMessageTransientRequeues(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error { return errors.New("db connect failed") }, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, testEnvelopeBody(t), 1)

	if del.requeues != 1 || del.finishes != 0 {
		t.Fatalf("requeues = %d, finishes = %d, want 1 requeue and no finish", del.requeues, del.finishes)
	}
	p := testPolicy()
	lo := time.Duration(float64(p.Backoff[0]) * (1 - p.JitterPct))
	hi := time.Duration(float64(p.Backoff[0]) * (1 + p.JitterPct))
	if del.lastDelay < lo || del.lastDelay > hi {
		t.Errorf("requeue delay = %v, want within [%v, %v]", del.lastDelay, lo, hi)
	}
	if len(failures) != 0 {
		t.Errorf("failure hook called %d times, want 0", len(failures))
	}
}

// Redeliveries carry the original body; only nsqd's Attempts counter moves.
// The budget must still run out and hand the task to the failure hook.
func TestHandleMessageBudgetExhausted(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error { return errors.New("db connect failed") }, &failures)
	del := &recordingDelegate{}
	body := testEnvelopeBody(t)
	budget := testPolicy().MaxRetries

	for n := 1; n <= budget; n++ {
		deliver(t, r, del, body, uint16(n))
	}

	if del.requeues != budget-1 {
		t.Errorf("requeues = %d, want %d before the budget runs out", del.requeues, budget-1)
	}
	if del.finishes != 1 {
		t.Errorf("finishes = %d, want 1 on the final delivery", del.finishes)
	}
	if len(failures) != 1 {
		t.Fatalf("failure hook called %d times, want exactly 1", len(failures))
	}
	if failures[0].attempt != budget {
		t.Errorf("hook attempt = %d, want %d", failures[0].attempt, budget)
	}
	if failures[0].env.DeliveryID != "del_1" {
		t.Errorf("hook delivery id = %q, want %q", failures[0].env.DeliveryID, "del_1")
	}
}

func TestHandleMessagePermanentError(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error {
		return Permanent(errors.New("subscriber gone"))
	}, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, testEnvelopeBody(t), 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want escalation without requeue", del.finishes, del.requeues)
	}
	if len(failures) != 1 {
		t.Fatalf("failure hook called %d times, want 1", len(failures))
	}
	if failures[0].attempt != 1 {
		t.Errorf("hook attempt = %d, want 1", failures[0].attempt)
	}
}

func TestHandleMessageDiscardError(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error {
		return Discard(errors.New("delivery already terminal"))
	}, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, testEnvelopeBody(t), 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want ack without requeue", del.finishes, del.requeues)
	}
	if len(failures) != 0 {
		t.Errorf("failure hook called %d times, want 0 for discard", len(failures))
	}
}

func TestHandleMessagePanicDeadLetters(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error { panic("nil map write") }, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, testEnvelopeBody(t), 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want 1 finish and no requeue", del.finishes, del.requeues)
	}
	if len(failures) != 1 {
		t.Fatalf("failure hook called %d times, want 1", len(failures))
	}
	if failures[0].trace == "" {
		t.Error("hook trace is empty, want the panic stack")
	}
	if !IsPermanent(failures[0].err) {
		t.Errorf("hook error = %v, want permanent", failures[0].err)
	}
}

func TestHandleMessageBadPayload(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error {
		t.Error("handler should not run for a bad payload")
		return nil
	}, &failures)
	del := &recordingDelegate{}

	deliver(t, r, del, []byte("{not json"), 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want bad payload finished", del.finishes, del.requeues)
	}
	if len(failures) != 0 {
		t.Errorf("failure hook called %d times, want 0", len(failures))
	}
}

func TestHandleMessageUnknownTask(t *testing.T) {
	var failures []recordedFailure
	r := newTestRunner(func(context.Context, Envelope) error {
		t.Error("handler should not run for an unregistered task")
		return nil
	}, &failures)
	del := &recordingDelegate{}

	body, err := json.Marshal(Envelope{TaskName: "no.such.task", DeliveryID: "del_x"})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	deliver(t, r, del, body, 1)

	if del.finishes != 1 || del.requeues != 0 {
		t.Errorf("finishes = %d, requeues = %d, want unknown task finished", del.finishes, del.requeues)
	}
	if len(failures) != 0 {
		t.Errorf("failure hook called %d times, want 0", len(failures))
	}
}
