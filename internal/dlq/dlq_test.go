package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
)

// fakeDLQStore keeps dead letters in memory and enforces the terminal
// transition rule the real store implements in SQL.
type fakeDLQStore struct {
	records map[string]*store.DeadLetter
}

func newFakeDLQStore() *fakeDLQStore {
	return &fakeDLQStore{records: make(map[string]*store.DeadLetter)}
}

func (f *fakeDLQStore) InsertDeadLetter(ctx context.Context, dl *store.DeadLetter) error {
	cp := *dl
	cp.Status = store.DeadLetterFailed
	cp.FailedAt = time.Now()
	f.records[dl.ID] = &cp
	return nil
}

func (f *fakeDLQStore) GetDeadLetter(ctx context.Context, id string) (*store.DeadLetter, error) {
	dl, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *dl
	return &cp, nil
}

func (f *fakeDLQStore) ListDeadLetters(ctx context.Context, status string, limit, offset int) ([]store.DeadLetter, error) {
	var out []store.DeadLetter
	for _, dl := range f.records {
		if status == "" || dl.Status == status {
			out = append(out, *dl)
		}
	}
	return out, nil
}

func (f *fakeDLQStore) transition(id, to, notes, resolvedBy string, bump bool) (*store.DeadLetter, error) {
	dl, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if dl.Status != store.DeadLetterFailed && dl.Status != store.DeadLetterRetried {
		return nil, store.ErrConflict
	}
	dl.Status = to
	dl.ResolutionNotes = notes
	dl.ResolvedBy = resolvedBy
	now := time.Now()
	dl.ResolvedAt = &now
	if bump {
		dl.RetryCount++
	}
	cp := *dl
	return &cp, nil
}

func (f *fakeDLQStore) ResolveDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error) {
	return f.transition(id, store.DeadLetterResolved, notes, resolvedBy, false)
}

func (f *fakeDLQStore) RetryDeadLetter(ctx context.Context, id, resolvedBy string) (*store.DeadLetter, error) {
	return f.transition(id, store.DeadLetterRetried, "", resolvedBy, true)
}

func (f *fakeDLQStore) IgnoreDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error) {
	return f.transition(id, store.DeadLetterIgnored, notes, resolvedBy, false)
}

type fakeTopicPublisher struct {
	topics []string
	bodies [][]byte
	err    error
}

func (f *fakeTopicPublisher) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, body)
	return nil
}

func testEnvelope() task.Envelope {
	return task.Envelope{
		TaskName:       "webhook.deliver",
		DeliveryID:     "del_1",
		TenantID:       "tn_1",
		SubscriptionID: "sub_1",
		EventType:      "payment.succeeded",
	}
}

func TestHookParksDeadLetter(t *testing.T) {
	fs := newFakeDLQStore()
	svc := NewService(fs, nil, "", logging.New("test"))

	svc.Hook(context.Background(), testEnvelope(), 4, "stack trace", errors.New("exhausted 3 attempts"))

	records, _ := fs.ListDeadLetters(context.Background(), "", 100, 0)
	if len(records) != 1 {
		t.Fatalf("dead letters = %d, want exactly 1", len(records))
	}
	dl := records[0]
	if dl.Status != store.DeadLetterFailed {
		t.Errorf("status = %q, want %q", dl.Status, store.DeadLetterFailed)
	}
	if dl.TaskID != "del_1" || dl.TaskName != "webhook.deliver" {
		t.Errorf("task identity = (%q, %q), want (del_1, webhook.deliver)", dl.TaskID, dl.TaskName)
	}
	if dl.RetryCount != 4 {
		t.Errorf("retry count = %d, want 4", dl.RetryCount)
	}
	if dl.Error != "exhausted 3 attempts" {
		t.Errorf("error = %q, want original task error", dl.Error)
	}

	// Full task snapshot survives for replay tooling.
	var env task.Envelope
	if err := json.Unmarshal(dl.Args, &env); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if env.DeliveryID != "del_1" || env.EventType != "payment.succeeded" {
		t.Errorf("args snapshot = %+v, want original envelope fields", env)
	}
}

func TestHookMirrorsToTopic(t *testing.T) {
	fs := newFakeDLQStore()
	pub := &fakeTopicPublisher{}
	svc := NewService(fs, pub, "deliveries_dlq", logging.New("test"))

	svc.Hook(context.Background(), testEnvelope(), 4, "", errors.New("boom"))

	if len(pub.topics) != 1 || pub.topics[0] != "deliveries_dlq" {
		t.Fatalf("mirror topics = %v, want [deliveries_dlq]", pub.topics)
	}
	var env Envelope
	if err := json.Unmarshal(pub.bodies[0], &env); err != nil {
		t.Fatalf("unmarshal mirror envelope: %v", err)
	}
	if env.Type != EnvelopeType || env.Version != "v1" {
		t.Errorf("mirror envelope type/version = (%q, %q), want (%q, v1)", env.Type, env.Version, EnvelopeType)
	}
	if env.TaskID != "del_1" || env.Attempt != 4 {
		t.Errorf("mirror envelope = %+v, want task id and attempt carried", env)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.At); err != nil {
		t.Errorf("mirror envelope At %q is not RFC3339Nano: %v", env.At, err)
	}
}

func TestHookMirrorFailureStillParks(t *testing.T) {
	fs := newFakeDLQStore()
	pub := &fakeTopicPublisher{err: errors.New("nsqd down")}
	svc := NewService(fs, pub, "deliveries_dlq", logging.New("test"))

	svc.Hook(context.Background(), testEnvelope(), 4, "", errors.New("boom"))

	records, _ := fs.ListDeadLetters(context.Background(), "", 100, 0)
	if len(records) != 1 {
		t.Errorf("dead letters = %d, want 1 despite mirror failure", len(records))
	}
}

func TestOperatorWorkflowTransitions(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, string) {
		fs := newFakeDLQStore()
		svc := NewService(fs, nil, "", logging.New("test"))
		svc.Hook(ctx, testEnvelope(), 4, "", errors.New("boom"))
		records, _ := fs.ListDeadLetters(ctx, "", 100, 0)
		return svc, records[0].ID
	}

	t.Run("resolve", func(t *testing.T) {
		svc, id := setup(t)
		dl, err := svc.Resolve(ctx, id, "fixed subscriber endpoint", "op_1")
		if err != nil {
			t.Fatalf("Resolve() error = %v, want nil", err)
		}
		if dl.Status != store.DeadLetterResolved {
			t.Errorf("status = %q, want %q", dl.Status, store.DeadLetterResolved)
		}
		if dl.ResolutionNotes != "fixed subscriber endpoint" || dl.ResolvedBy != "op_1" {
			t.Errorf("resolution = (%q, %q), want notes and operator recorded", dl.ResolutionNotes, dl.ResolvedBy)
		}
	})

	t.Run("retry marks intent and bumps counter", func(t *testing.T) {
		svc, id := setup(t)
		dl, err := svc.Retry(ctx, id, "op_1")
		if err != nil {
			t.Fatalf("Retry() error = %v, want nil", err)
		}
		if dl.Status != store.DeadLetterRetried {
			t.Errorf("status = %q, want %q", dl.Status, store.DeadLetterRetried)
		}
		if dl.RetryCount != 5 {
			t.Errorf("retry count = %d, want bumped to 5", dl.RetryCount)
		}
	})

	t.Run("ignore", func(t *testing.T) {
		svc, id := setup(t)
		dl, err := svc.Ignore(ctx, id, "subscriber decommissioned", "op_2")
		if err != nil {
			t.Fatalf("Ignore() error = %v, want nil", err)
		}
		if dl.Status != store.DeadLetterIgnored {
			t.Errorf("status = %q, want %q", dl.Status, store.DeadLetterIgnored)
		}
	})

	t.Run("retried allows further actions", func(t *testing.T) {
		svc, id := setup(t)
		if _, err := svc.Retry(ctx, id, "op_1"); err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if _, err := svc.Resolve(ctx, id, "done", "op_1"); err != nil {
			t.Errorf("Resolve() after retry error = %v, want nil", err)
		}
	})

	t.Run("terminal statuses reject transitions", func(t *testing.T) {
		svc, id := setup(t)
		if _, err := svc.Resolve(ctx, id, "done", "op_1"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if _, err := svc.Retry(ctx, id, "op_1"); !errors.Is(err, store.ErrConflict) {
			t.Errorf("Retry() after resolve error = %v, want ErrConflict", err)
		}
		if _, err := svc.Ignore(ctx, id, "n", "op_1"); !errors.Is(err, store.ErrConflict) {
			t.Errorf("Ignore() after resolve error = %v, want ErrConflict", err)
		}
		if _, err := svc.Resolve(ctx, id, "again", "op_1"); !errors.Is(err, store.ErrConflict) {
			t.Errorf("Resolve() twice error = %v, want ErrConflict", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, _ := setup(t)
		if _, err := svc.Resolve(ctx, "nope", "n", "op_1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Resolve() unknown id error = %v, want ErrNotFound", err)
		}
	})
}
