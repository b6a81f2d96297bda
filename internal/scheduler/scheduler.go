// Package scheduler owns the idempotency-key derivation for the two deferred
// actions of the confirmation workflow. Actual timed dispatch is delegated to
// an external delayed-task collaborator; nothing here sleeps.
package scheduler

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindRemind  Kind = "remind"
	KindEnforce Kind = "enforce"
)

type Result int

const (
	Accepted Result = iota
	AlreadyExists
)

// ErrDuplicate is returned by a DelayedDispatch when the key is already
// registered. The scheduler turns it into AlreadyExists; it is never an
// error for the caller.
var ErrDuplicate = errors.New("task_already_exists")

// DelayedDispatch is the external delayed-delivery collaborator. Schedule
// registers a one-shot HTTP callback under an idempotency key.
type DelayedDispatch interface {
	Schedule(ctx context.Context, key string, when time.Time, route string) error
	Cancel(ctx context.Context, key string) error
}

type Scheduler struct {
	dispatch DelayedDispatch
	baseURL  string
	now      func() time.Time
}

func New(dispatch DelayedDispatch, serviceURL string) *Scheduler {
	return &Scheduler{dispatch: dispatch, baseURL: serviceURL, now: func() time.Time { return time.Now().UTC() }}
}

// Key is a pure function of (kind, bookingID, firesAt): rescheduling the same
// logical action always lands on the same dispatch registration.
func Key(kind Kind, bookingID string, firesAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", kind, bookingID, firesAt.Unix())))
	return fmt.Sprintf("%s-%x", kind, sum)
}

// Schedule registers the action. A firesAt already in the past is dispatched
// at once rather than skipped; the key still reflects the nominal time so
// retries of the same action collapse onto one registration.
func (s *Scheduler) Schedule(ctx context.Context, kind Kind, bookingID string, firesAt time.Time) (Result, error) {
	when := firesAt
	if now := s.now(); when.Before(now) {
		when = now
	}
	err := s.dispatch.Schedule(ctx, Key(kind, bookingID, firesAt), when, s.route(kind, bookingID))
	if errors.Is(err, ErrDuplicate) {
		return AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schedule %s for %s: %w", kind, bookingID, err)
	}
	return Accepted, nil
}

// CancelFor drops both pending actions for a booking, best effort. A missing
// registration is not an error; the callbacks are no-ops against terminal
// bookings anyway.
func (s *Scheduler) CancelFor(ctx context.Context, bookingID string, remindAt, enforceAt time.Time) error {
	var errs []error
	if err := s.dispatch.Cancel(ctx, Key(KindRemind, bookingID, remindAt)); err != nil {
		errs = append(errs, err)
	}
	if err := s.dispatch.Cancel(ctx, Key(KindEnforce, bookingID, enforceAt)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) route(kind Kind, bookingID string) string {
	return fmt.Sprintf("%s/api/v1/tasks/%s/%s", s.baseURL, kind, bookingID)
}
