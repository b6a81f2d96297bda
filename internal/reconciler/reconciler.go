// Package reconciler turns the calendar change feed into idempotent booking
// upserts and deferred-action registrations. A pass either completes and
// advances the cursor or aborts with the old cursor intact; reprocessing the
// same events is harmless by construction.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mihmosh/MeetConfirm/internal/calendar"
	"github.com/mihmosh/MeetConfirm/internal/domain"
	"github.com/mihmosh/MeetConfirm/internal/events"
	"github.com/mihmosh/MeetConfirm/internal/repository"
	"github.com/mihmosh/MeetConfirm/internal/scheduler"
	"github.com/mihmosh/MeetConfirm/internal/workflow"
)

type Config struct {
	Keyword        string
	SendOffset     time.Duration
	DeadlineOffset time.Duration
}

type Reconciler struct {
	feed  calendar.Feed
	repo  *repository.BookingRepo
	sched *scheduler.Scheduler
	pub   workflow.Publisher
	cfg   Config
	now   func() time.Time
}

func New(feed calendar.Feed, repo *repository.BookingRepo, sched *scheduler.Scheduler, pub workflow.Publisher, cfg Config) *Reconciler {
	return &Reconciler{
		feed: feed, repo: repo, sched: sched, pub: pub, cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile drains the change feed from the stored cursor and persists the
// new cursor only after every event processed cleanly. An expired cursor is
// not an error: the pass restarts as a full resync.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	cursor, err := r.repo.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	evs, next, err := r.feed.Changes(ctx, cursor)
	if errors.Is(err, calendar.ErrCursorExpired) {
		log.Printf("[reconciler] cursor expired, falling back to full resync")
		evs, next, err = r.feed.Changes(ctx, "")
	}
	if err != nil {
		return fmt.Errorf("list changes: %w", err)
	}
	log.Printf("[reconciler] processing %d changed events", len(evs))
	for _, ev := range evs {
		if err := r.processEvent(ctx, ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	if err := r.repo.SaveCursor(ctx, next); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (r *Reconciler) processEvent(ctx context.Context, ev calendar.Event) error {
	if ev.Cancelled {
		return r.handleProviderCancel(ctx, ev)
	}
	if !strings.Contains(strings.ToLower(ev.Summary), strings.ToLower(r.cfg.Keyword)) {
		return nil
	}
	attendee := pickAttendee(ev)
	if attendee == "" {
		log.Printf("[reconciler] event %s has no usable attendee, skipping", ev.ID)
		return nil
	}
	if ev.Start.IsZero() {
		return nil
	}
	deadline := ev.Start.Add(-r.cfg.DeadlineOffset)
	if deadline.Before(r.now()) {
		log.Printf("[reconciler] event %s deadline already passed, skipping", ev.ID)
		return nil
	}
	// a pending reschedule moves the action times; drop the registrations
	// made under the old times before the upsert overwrites them
	if prev, err := r.repo.ByExternalEventID(ctx, ev.ID); err == nil &&
		prev.Status == domain.StatusPending && !prev.StartTimeUTC.Equal(ev.Start) {
		prevRemindAt := prev.StartTimeUTC.Add(-r.cfg.SendOffset)
		if err := r.sched.CancelFor(ctx, prev.ID, prevRemindAt, prev.ConfirmDeadlineUTC); err != nil {
			log.Printf("[reconciler] cancel superseded actions for %s: %v", prev.ID, err)
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	b, created, err := r.repo.UpsertByEventID(ctx, repository.UpsertParams{
		ExternalEventID: ev.ID,
		AttendeeEmail:   attendee,
		OrganizerEmail:  ev.OrganizerEmail,
		Summary:         ev.Summary,
		StartTimeUTC:    ev.Start,
		EndTimeUTC:      ev.End,
		DeadlineUTC:     deadline,
	})
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if b.Status.Terminal() {
		return nil
	}
	// register the deferred actions on every pass, not just on create: the
	// row commits before scheduling, so a crash or dispatch failure in
	// between would otherwise strand the booking without an enforce on
	// retry. The deterministic key makes re-registration a no-op, and an
	// unscheduled enforce is a correctness risk, so any scheduling failure
	// aborts the pass with the cursor kept. The callbacks themselves no-op
	// on a booking that already moved past them.
	remindAt := b.StartTimeUTC.Add(-r.cfg.SendOffset)
	if _, err := r.sched.Schedule(ctx, scheduler.KindRemind, b.ID, remindAt); err != nil {
		return err
	}
	if _, err := r.sched.Schedule(ctx, scheduler.KindEnforce, b.ID, b.ConfirmDeadlineUTC); err != nil {
		return err
	}
	if !created {
		return nil
	}
	log.Printf("[reconciler] tracking event %s as booking %s (remind %s, enforce %s)",
		ev.ID, b.ID, remindAt.Format(time.RFC3339), b.ConfirmDeadlineUTC.Format(time.RFC3339))
	_ = r.pub.PublishJSON(ctx, events.RKBookingCreated, events.BookingCreated{
		BookingID:     b.ID,
		EventID:       ev.ID,
		AttendeeEmail: attendee,
		Start:         ev.Start.Unix(),
		End:           ev.End.Unix(),
	})
	return nil
}

func (r *Reconciler) handleProviderCancel(ctx context.Context, ev calendar.Event) error {
	b, moved, err := r.repo.TerminateTracking(ctx, ev.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	log.Printf("[reconciler] event %s cancelled at provider, booking %s closed", ev.ID, b.ID)
	remindAt := b.StartTimeUTC.Add(-r.cfg.SendOffset)
	if err := r.sched.CancelFor(ctx, b.ID, remindAt, b.ConfirmDeadlineUTC); err != nil {
		log.Printf("[reconciler] cancel deferred actions for %s: %v", b.ID, err)
	}
	_ = r.pub.PublishJSON(ctx, events.RKBookingCancelled, events.BookingCancelled{BookingID: b.ID, By: "provider"})
	return nil
}

// pickAttendee returns the first non-organizer attendee. When a meeting has
// none we fall back to the organizer rather than dropping the event; the log
// line makes the fallback visible because a meeting confirming with its own
// organizer is a policy worth revisiting.
func pickAttendee(ev calendar.Event) string {
	for _, a := range ev.Attendees {
		if a.Organizer {
			continue
		}
		if ev.OrganizerEmail != "" && strings.EqualFold(a.Email, ev.OrganizerEmail) {
			continue
		}
		return a.Email
	}
	if ev.OrganizerEmail != "" {
		log.Printf("[reconciler] event %s: attendee fallback to organizer %s", ev.ID, ev.OrganizerEmail)
	}
	return ev.OrganizerEmail
}
