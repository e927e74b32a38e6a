// Package dlq is the durable dead-letter sink for tasks that exhausted
// their retry budget, plus the operator resolution workflow over it.
package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/task"
)

// Store is the persistence surface the dead-letter workflow needs.
type Store interface {
	InsertDeadLetter(ctx context.Context, dl *store.DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (*store.DeadLetter, error)
	ListDeadLetters(ctx context.Context, status string, limit, offset int) ([]store.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error)
	RetryDeadLetter(ctx context.Context, id, resolvedBy string) (*store.DeadLetter, error)
	IgnoreDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error)
}

// TopicPublisher optionally mirrors dead letters onto a separate durable
// channel for external consumers.
type TopicPublisher interface {
	Publish(topic string, body []byte) error
}

// Envelope is the schema published on the mirror topic.
type Envelope struct {
	Type    string        `json:"type"`    // "task.dlq"
	Version string        `json:"version"` // schema version
	At      string        `json:"at"`      // RFC3339 time the record was parked
	Error   string        `json:"error"`
	Attempt int           `json:"attempt"`
	TaskID  string        `json:"task_id"`
	Task    task.Envelope `json:"task"` // full task snapshot
}

const EnvelopeType = "task.dlq"

// Service owns dead-letter creation (via the failure hook) and the
// operator workflow. Records are mutated only through explicit operator
// calls.
type Service struct {
	store  Store
	pub    TopicPublisher
	topic  string
	logger *logging.Logger
}

// NewService creates a Service. pub may be nil to disable topic mirroring.
func NewService(st Store, pub TopicPublisher, topic string, logger *logging.Logger) *Service {
	return &Service{store: st, pub: pub, topic: topic, logger: logger}
}

// Hook is the task substrate failure hook: it parks the exhausted task
// synchronously. Safe to call from inside the consumer goroutine; the
// write path is an ordinary blocking store call, independent of the queue.
func (s *Service) Hook(ctx context.Context, env task.Envelope, attempt int, trace string, taskErr error) {
	args, _ := json.Marshal(env)
	dl := &store.DeadLetter{
		ID:         uuid.NewString(),
		TaskID:     env.DeliveryID,
		TaskName:   env.TaskName,
		Args:       args,
		Error:      taskErr.Error(),
		Trace:      trace,
		RetryCount: attempt,
	}

	if err := s.store.InsertDeadLetter(ctx, dl); err != nil {
		s.logger.WithContext(ctx).WithDelivery(env.DeliveryID).WithError(err).Error("dead letter insert failed")
		return
	}
	metrics.RecordDeadLetter()
	s.logger.WithContext(ctx).WithDelivery(env.DeliveryID).WithDeadLetter(dl.ID).WithFields(map[string]any{
		"task_name": env.TaskName,
		"attempt":   attempt,
	}).Warn("task dead-lettered")

	if s.pub != nil && s.topic != "" {
		mirror := Envelope{
			Type:    EnvelopeType,
			Version: "v1",
			At:      time.Now().UTC().Format(time.RFC3339Nano),
			Error:   taskErr.Error(),
			Attempt: attempt,
			TaskID:  env.DeliveryID,
			Task:    env,
		}
		b, _ := json.Marshal(mirror)
		if err := s.pub.Publish(s.topic, b); err != nil {
			s.logger.WithContext(ctx).WithDeadLetter(dl.ID).WithError(err).Error("dlq topic publish failed")
		}
	}
}

// Get returns one dead-letter record.
func (s *Service) Get(ctx context.Context, id string) (*store.DeadLetter, error) {
	return s.store.GetDeadLetter(ctx, id)
}

// List returns records filtered by status, newest failure first.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]store.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, status, limit, offset)
}

// Resolve marks a record handled with operator notes. Fails with
// store.ErrConflict from a terminal status.
func (s *Service) Resolve(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error) {
	dl, err := s.store.ResolveDeadLetter(ctx, id, notes, resolvedBy)
	if err != nil {
		return nil, err
	}
	metrics.RecordDeadLetterAction("resolve")
	s.logger.WithContext(ctx).WithDeadLetter(id).WithField("resolved_by", resolvedBy).Info("dead letter resolved")
	return dl, nil
}

// Retry marks retry intent and bumps the retry counter. It does not
// resubmit the task; resubmission is a separate explicit action.
func (s *Service) Retry(ctx context.Context, id, resolvedBy string) (*store.DeadLetter, error) {
	dl, err := s.store.RetryDeadLetter(ctx, id, resolvedBy)
	if err != nil {
		return nil, err
	}
	metrics.RecordDeadLetterAction("retry")
	s.logger.WithContext(ctx).WithDeadLetter(id).WithField("resolved_by", resolvedBy).Info("dead letter marked for retry")
	return dl, nil
}

// Ignore marks a record as not actionable.
func (s *Service) Ignore(ctx context.Context, id, notes, resolvedBy string) (*store.DeadLetter, error) {
	dl, err := s.store.IgnoreDeadLetter(ctx, id, notes, resolvedBy)
	if err != nil {
		return nil, err
	}
	metrics.RecordDeadLetterAction("ignore")
	s.logger.WithContext(ctx).WithDeadLetter(id).WithField("resolved_by", resolvedBy).Info("dead letter ignored")
	return dl, nil
}
