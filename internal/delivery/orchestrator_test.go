package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
)

type fakeOrchStore struct {
	subs      []store.Subscription
	created   []*store.Delivery
	createErr error
}

func (f *fakeOrchStore) ListActiveSubscriptions(ctx context.Context, tenantID, eventType string) ([]store.Subscription, error) {
	var out []store.Subscription
	for _, s := range f.subs {
		if s.TenantID != tenantID || !s.Active {
			continue
		}
		for _, et := range s.EventTypes {
			if et == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeOrchStore) CreateDelivery(ctx context.Context, d *store.Delivery) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, d)
	return nil
}

func (f *fakeOrchStore) CreateDeliveryTx(ctx context.Context, tx pgx.Tx, d *store.Delivery) error {
	return f.CreateDelivery(ctx, d)
}

type fakePublisher struct {
	submitted []task.Envelope
	err       error
}

func (f *fakePublisher) Submit(ctx context.Context, env task.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, env)
	return nil
}

func sub(id, tenant string, active bool, types ...string) store.Subscription {
	return store.Subscription{ID: id, TenantID: tenant, Active: active, EventTypes: types}
}

func TestTriggerEventFanOut(t *testing.T) {
	fs := &fakeOrchStore{subs: []store.Subscription{
		sub("sub_1", "tn_1", true, "payment.succeeded"),
		sub("sub_2", "tn_1", true, "payment.succeeded", "payment.failed"),
		sub("sub_3", "tn_1", true, "user.created"),      // wrong event type
		sub("sub_4", "tn_1", false, "payment.succeeded"), // inactive
		sub("sub_5", "tn_2", true, "payment.succeeded"),  // other tenant
	}}
	pub := &fakePublisher{}
	orch := NewOrchestrator(fs, pub, 3, logging.New("test"))

	ids, err := orch.TriggerEvent(context.Background(), "tn_1", "payment.succeeded", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("TriggerEvent() error = %v, want nil", err)
	}
	if len(ids) != 2 {
		t.Fatalf("TriggerEvent() fanout = %d, want 2", len(ids))
	}
	if len(fs.created) != 2 || len(pub.submitted) != 2 {
		t.Fatalf("created = %d, submitted = %d, want 2 each", len(fs.created), len(pub.submitted))
	}

	for i, d := range fs.created {
		if d.Status != store.DeliveryPending {
			t.Errorf("delivery %d status = %q, want %q", i, d.Status, store.DeliveryPending)
		}
		if d.MaxAttempts != 3 {
			t.Errorf("delivery %d max_attempts = %d, want 3", i, d.MaxAttempts)
		}
		if string(d.Payload) != `{"x":1}` {
			t.Errorf("delivery %d payload = %s, want snapshot of trigger payload", i, d.Payload)
		}
		env := pub.submitted[i]
		if env.TaskName != TaskName {
			t.Errorf("envelope %d task name = %q, want %q", i, env.TaskName, TaskName)
		}
		if env.DeliveryID != d.ID {
			t.Errorf("envelope %d delivery id = %q, want %q", i, env.DeliveryID, d.ID)
		}
	}
}

func TestTriggerEventZeroMatches(t *testing.T) {
	fs := &fakeOrchStore{}
	pub := &fakePublisher{}
	orch := NewOrchestrator(fs, pub, 3, logging.New("test"))

	ids, err := orch.TriggerEvent(context.Background(), "tn_1", "payment.succeeded", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("TriggerEvent() error = %v, want nil for zero matches", err)
	}
	if len(ids) != 0 {
		t.Errorf("TriggerEvent() fanout = %d, want 0", len(ids))
	}
	if len(pub.submitted) != 0 {
		t.Errorf("submitted = %d tasks, want 0", len(pub.submitted))
	}
}

func TestTriggerEventValidation(t *testing.T) {
	orch := NewOrchestrator(&fakeOrchStore{}, &fakePublisher{}, 3, logging.New("test"))

	if _, err := orch.TriggerEvent(context.Background(), "", "payment.succeeded", nil); err == nil {
		t.Error("TriggerEvent() with empty tenant id should fail")
	}
	if _, err := orch.TriggerEvent(context.Background(), "tn_1", "payment.suceeded", nil); err == nil {
		t.Error("TriggerEvent() with misspelled event type should fail")
	}
}

func TestTriggerEventCreateFailureStops(t *testing.T) {
	fs := &fakeOrchStore{
		subs:      []store.Subscription{sub("sub_1", "tn_1", true, "payment.succeeded")},
		createErr: errors.New("insert failed"),
	}
	pub := &fakePublisher{}
	orch := NewOrchestrator(fs, pub, 3, logging.New("test"))

	if _, err := orch.TriggerEvent(context.Background(), "tn_1", "payment.succeeded", nil); err == nil {
		t.Fatal("TriggerEvent() error = nil, want create error surfaced")
	}
	if len(pub.submitted) != 0 {
		t.Errorf("submitted = %d tasks after failed insert, want 0", len(pub.submitted))
	}
}

func TestTriggerEventTx(t *testing.T) {
	fs := &fakeOrchStore{subs: []store.Subscription{sub("sub_1", "tn_1", true, "payment.succeeded")}}
	pub := &fakePublisher{}
	orch := NewOrchestrator(fs, pub, 3, logging.New("test"))

	ids, err := orch.TriggerEventTx(context.Background(), nil, "tn_1", "payment.succeeded", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("TriggerEventTx() error = %v, want nil", err)
	}
	if len(ids) != 1 || len(fs.created) != 1 {
		t.Errorf("TriggerEventTx() fanout = %d created = %d, want 1 each", len(ids), len(fs.created))
	}
}
