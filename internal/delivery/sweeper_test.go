package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/store"
)

type fakeSweepStore struct {
	due      []store.Delivery
	claims   int
	released []string
}

func (f *fakeSweepStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]store.Delivery, error) {
	f.claims++
	if len(f.due) > limit {
		claimed := f.due[:limit]
		f.due = f.due[limit:]
		return claimed, nil
	}
	claimed := f.due
	f.due = nil
	return claimed, nil
}

func (f *fakeSweepStore) ReleaseRetry(ctx context.Context, deliveryID string, nextRetryAt time.Time) error {
	f.released = append(f.released, deliveryID)
	return nil
}

func dueDelivery(id string) store.Delivery {
	return store.Delivery{
		ID:             id,
		SubscriptionID: "sub_1",
		TenantID:       "tn_1",
		EventType:      "payment.succeeded",
		Status:         store.DeliveryRetrying,
	}
}

func TestSweepOnceResubmits(t *testing.T) {
	fs := &fakeSweepStore{due: []store.Delivery{dueDelivery("del_1"), dueDelivery("del_2")}}
	pub := &fakePublisher{}
	sw := NewSweeper(fs, pub, time.Minute, 100, logging.New("test"))

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v, want nil", err)
	}
	if n != 2 {
		t.Errorf("SweepOnce() resubmitted = %d, want 2", n)
	}
	if len(pub.submitted) != 2 {
		t.Fatalf("submitted = %d envelopes, want 2", len(pub.submitted))
	}
	for i, env := range pub.submitted {
		if env.TaskName != TaskName {
			t.Errorf("envelope %d task name = %q, want %q", i, env.TaskName, TaskName)
		}
	}
	if len(fs.released) != 0 {
		t.Errorf("released = %v, want none on success", fs.released)
	}
}

func TestSweepOnceRespectsBatchSize(t *testing.T) {
	fs := &fakeSweepStore{due: []store.Delivery{dueDelivery("del_1"), dueDelivery("del_2"), dueDelivery("del_3")}}
	pub := &fakePublisher{}
	sw := NewSweeper(fs, pub, time.Minute, 2, logging.New("test"))

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v, want nil", err)
	}
	if n != 2 {
		t.Errorf("SweepOnce() resubmitted = %d, want batch size 2", n)
	}
	if len(fs.due) != 1 {
		t.Errorf("remaining due = %d, want 1 left for the next sweep", len(fs.due))
	}
}

func TestSweepOnceReleasesOnPublishFailure(t *testing.T) {
	fs := &fakeSweepStore{due: []store.Delivery{dueDelivery("del_1")}}
	pub := &fakePublisher{err: errors.New("nsqd unreachable")}
	sw := NewSweeper(fs, pub, time.Minute, 100, logging.New("test"))

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v, want nil (per-delivery failure is not fatal)", err)
	}
	if n != 0 {
		t.Errorf("SweepOnce() resubmitted = %d, want 0", n)
	}
	// The claim is put back so the next sweep retries it.
	if len(fs.released) != 1 || fs.released[0] != "del_1" {
		t.Errorf("released = %v, want [del_1]", fs.released)
	}
}

func TestSweepOnceEmpty(t *testing.T) {
	fs := &fakeSweepStore{}
	pub := &fakePublisher{}
	sw := NewSweeper(fs, pub, time.Minute, 100, logging.New("test"))

	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v, want nil", err)
	}
	if n != 0 {
		t.Errorf("SweepOnce() resubmitted = %d, want 0", n)
	}
}
