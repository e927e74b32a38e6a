// Package task is the asynchronous execution substrate: envelopes published
// onto a durable NSQ topic, a consumer runner with ack-late semantics, a
// per-task retry policy, and an injected failure hook for tasks that
// exhaust their budget.
package task

import (
	"errors"
	"math/rand"
	"time"
)

// Envelope is the queue message for one unit of asynchronous work.
type Envelope struct {
	TaskName       string            `json:"task_name"`
	DeliveryID     string            `json:"delivery_id"`
	TenantID       string            `json:"tenant_id"`
	SubscriptionID string            `json:"subscription_id"`
	EventType      string            `json:"event_type"`
	PublishedAt    string            `json:"published_at"` // RFC3339
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

// Policy bounds queue-level retries for transient handler errors.
type Policy struct {
	MaxRetries int
	Backoff    []time.Duration
	JitterPct  float64
}

// Delay maps a 1-based attempt number onto the backoff schedule with
// +/- JitterPct applied, clamped to the last tier.
func (p Policy) Delay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	base := p.Backoff[idx]
	j := 1 + (rand.Float64()*2-1)*p.JitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// permanentError marks a handler failure that must skip queue retries and
// go straight to the failure hook.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runner escalates immediately instead of
// requeueing.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// discardError marks a handler failure that is terminal but is a business
// outcome, not an infrastructure one: no retry, no dead letter.
type discardError struct{ err error }

func (e *discardError) Error() string { return e.err.Error() }
func (e *discardError) Unwrap() error { return e.err }

// Discard wraps err so the runner acks the message without retry and
// without invoking the failure hook.
func Discard(err error) error {
	if err == nil {
		return nil
	}
	return &discardError{err: err}
}

// IsDiscard reports whether err was wrapped by Discard.
func IsDiscard(err error) bool {
	var de *discardError
	return errors.As(err, &de)
}

// Verdict is the runner's decision for a finished handler invocation.
type Verdict int

const (
	VerdictAck Verdict = iota
	VerdictRequeue
	VerdictDeadLetter
)

// Decide classifies a handler result. attempt is the number of queue
// attempts completed including the current one.
func Decide(err error, attempt int, p Policy) (Verdict, time.Duration) {
	switch {
	case err == nil:
		return VerdictAck, 0
	case IsDiscard(err):
		return VerdictAck, 0
	case IsPermanent(err):
		return VerdictDeadLetter, 0
	case attempt >= p.MaxRetries:
		return VerdictDeadLetter, 0
	default:
		return VerdictRequeue, p.Delay(attempt)
	}
}
