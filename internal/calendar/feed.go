package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCursorExpired means the provider no longer accepts the sync cursor
	// and a full resync is required.
	ErrCursorExpired = errors.New("cursor_expired")
	ErrNotFound      = errors.New("event_not_found")
)

type Attendee struct {
	Email     string
	Organizer bool
}

// Event is the provider-neutral shape of a calendar change.
type Event struct {
	ID             string
	Summary        string
	Cancelled      bool
	OrganizerEmail string
	Attendees      []Attendee
	Start          time.Time
	End            time.Time
}

// Feed is the change-feed collaborator. Changes must drain the provider's
// pagination internally: callers receive the complete change set and the
// cursor that supersedes it, never a partial page.
type Feed interface {
	Changes(ctx context.Context, cursor string) ([]Event, string, error)
	Delete(ctx context.Context, eventID string) error
}
