package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
	"github.com/hookrelay/hookrelay/internal/tracing"
)

// SweeperStore is the slice of persistence the retry sweep needs.
type SweeperStore interface {
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]store.Delivery, error)
	ReleaseRetry(ctx context.Context, deliveryID string, nextRetryAt time.Time) error
}

// Sweeper periodically claims deliveries whose scheduled retry time has
// arrived and resubmits them to the executor path. The claim is an atomic
// retrying->pending flip, so two overlapping sweeps cannot hand the same
// delivery to two workers. Delivery outcomes are never written here.
type Sweeper struct {
	store     SweeperStore
	pub       Publisher
	interval  time.Duration
	batchSize int
	logger    *logging.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(st SweeperStore, pub Publisher, interval time.Duration, batchSize int, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		pub:       pub,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Plain().WithField("interval", s.interval.String()).Info("retry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Plain().Info("retry sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("sweep failed")
				continue
			}
			if n > 0 {
				s.logger.WithContext(ctx).WithField("resubmitted", n).Info("sweep resubmitted due retries")
			}
		}
	}
}

// SweepOnce claims one batch of due retries and resubmits each. Returns
// the number of deliveries resubmitted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.sweep")
	defer span.End()

	claimed, err := s.store.ClaimDueRetries(ctx, s.now(), s.batchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	metrics.UpdateSweepBatchSize(float64(len(claimed)))
	span.SetAttributes(attribute.Int("claimed", len(claimed)))

	resubmitted := 0
	for _, d := range claimed {
		env := task.Envelope{
			TaskName:       TaskName,
			DeliveryID:     d.ID,
			TenantID:       d.TenantID,
			SubscriptionID: d.SubscriptionID,
			EventType:      d.EventType,
		}
		if err := s.pub.Submit(ctx, env); err != nil {
			// Put the claim back so the next sweep picks it up.
			tracing.SetSpanError(ctx, err)
			s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("resubmit failed, releasing claim")
			if relErr := s.store.ReleaseRetry(ctx, d.ID, s.now().Add(s.interval)); relErr != nil {
				s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(relErr).Error("release claim failed")
			}
			continue
		}
		resubmitted++
	}

	return resubmitted, nil
}
