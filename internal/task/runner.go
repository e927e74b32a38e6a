package task

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

// Handler executes one task attempt. Handlers must be idempotent: the
// queue guarantees at-least-once execution, never exactly-once.
type Handler func(ctx context.Context, env Envelope) error

// FailureHook receives tasks that exhausted their retries or failed
// permanently. Implementations must use a write path that is safe to call
// from inside the consumer goroutine (a plain synchronous store call).
type FailureHook func(ctx context.Context, env Envelope, attempt int, trace string, err error)

// Runner consumes envelopes from the deliveries topic with manual
// acknowledgment. A message is only finished after the handler returns, so
// a crashed worker causes redelivery rather than silent loss.
type Runner struct {
	consumer *nsq.Consumer
	handlers map[string]Handler
	policy   Policy
	hook     FailureHook
	logger   *logging.Logger
}

// NewRunner creates a runner for one topic/channel pair. The failure hook
// is injected here rather than registered through any global mechanism.
func NewRunner(topic, channel string, maxInFlight int, policy Policy, hook FailureHook, logger *logging.Logger) (*Runner, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = maxInFlight
	// The retry budget is enforced by Policy, not by go-nsq. Left at its
	// default (5), go-nsq would FIN messages past that count without ever
	// calling the handler, losing them silently.
	conf.MaxAttempts = 0
	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}

	r := &Runner{
		consumer: consumer,
		handlers: make(map[string]Handler),
		policy:   policy,
		hook:     hook,
		logger:   logger,
	}
	consumer.AddHandler(nsq.HandlerFunc(r.handleMessage))
	return r, nil
}

// Register binds a handler to a task name. Must be called before Connect.
func (r *Runner) Register(taskName string, h Handler) {
	r.handlers[taskName] = h
}

// Connect attaches the consumer to nsqd and lookupd. Connecting directly
// to nsqd forces channel creation instead of lazy creation on first publish.
func (r *Runner) Connect(nsqdTCPAddr, lookupHTTPAddr string) error {
	if err := r.consumer.ConnectToNSQD(nsqdTCPAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	if err := r.consumer.ConnectToNSQLookupd(lookupHTTPAddr); err != nil {
		return fmt.Errorf("connect to lookupd: %w", err)
	}
	return nil
}

// Stop drains the consumer and blocks until it has exited.
func (r *Runner) Stop() {
	r.consumer.Stop()
	<-r.consumer.StopChan
}

func (r *Runner) handleMessage(m *nsq.Message) error {
	m.DisableAutoResponse() // we manually requeue or finish
	defer func() {
		if !m.HasResponded() {
			r.logger.Plain().Warn("message had no response, finishing")
			m.Finish()
		}
	}()

	var env Envelope
	if err := json.Unmarshal(m.Body, &env); err != nil {
		r.logger.Plain().WithError(err).Error("bad task payload")
		m.Finish() // terminal: don't retry bad payloads
		return nil
	}

	// nsqd counts deliveries server-side; the count survives requeues,
	// unlike anything we could stamp into the body (REQ carries only the
	// message id, so a mutated body is never redelivered).
	attempt := int(m.Attempts)

	ctx := tracing.ExtractTraceFromQueue(context.Background(), env.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "task.run",
		attribute.String("task_name", env.TaskName),
		attribute.String("delivery_id", env.DeliveryID),
		attribute.String("tenant_id", env.TenantID),
		attribute.Int("attempt", attempt),
	)
	defer span.End()

	handler, ok := r.handlers[env.TaskName]
	if !ok {
		r.logger.WithContext(ctx).WithDelivery(env.DeliveryID).
			WithField("task_name", env.TaskName).Error("no handler for task")
		m.Finish()
		return nil
	}

	err, stack := r.invoke(ctx, handler, env)

	verdict, delay := Decide(err, attempt, r.policy)
	switch verdict {
	case VerdictAck:
		if err != nil {
			tracing.AddSpanEvent(ctx, "task.discarded")
			r.logger.WithContext(ctx).WithDelivery(env.DeliveryID).WithError(err).Info("task discarded")
		}
		m.Finish()

	case VerdictDeadLetter:
		tracing.AddSpanEvent(ctx, "task.dead_letter", attribute.Int("attempt", attempt))
		tracing.SetSpanError(ctx, err)
		if r.hook != nil {
			r.hook(ctx, env, attempt, stack, err)
		}
		m.Finish() // drop from main topic

	case VerdictRequeue:
		tracing.AddSpanEvent(ctx, "task.requeue",
			attribute.Int("attempt", attempt),
			attribute.String("delay", delay.String()),
		)
		r.logger.WithContext(ctx).WithDelivery(env.DeliveryID).WithFields(map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("requeue task")
		m.Requeue(delay)
	}
	return nil
}

// invoke runs the handler with panic containment. A panicking handler is
// treated as a permanent failure carrying its stack.
func (r *Runner) invoke(ctx context.Context, h Handler, env Envelope) (err error, stack string) {
	defer func() {
		if rec := recover(); rec != nil {
			stack = string(debug.Stack())
			err = Permanent(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return h(ctx, env), ""
}

// Submitter publishes envelopes onto the deliveries topic.
type Submitter struct {
	prod  *nsq.Producer
	topic string
}

// NewSubmitter creates a producer bound to one topic.
func NewSubmitter(nsqdTCPAddr, topic string) (*Submitter, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &Submitter{prod: prod, topic: topic}, nil
}

// Submit stamps the envelope and publishes it. Trace context is carried in
// message headers so worker spans join the trigger's trace.
func (s *Submitter) Submit(ctx context.Context, env Envelope) error {
	env.PublishedAt = time.Now().UTC().Format(time.RFC3339)
	env.TraceHeaders = tracing.PropagateTraceToQueue(ctx)
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.prod.Publish(s.topic, b); err != nil {
		return fmt.Errorf("nsq publish: %w", err)
	}
	return nil
}

// Stop releases the underlying producer.
func (s *Submitter) Stop() {
	s.prod.Stop()
}
