// Package workflow is the authoritative transition function of the booking
// lifecycle. Every handler is idempotent under re-invocation: the status CAS
// in the repository decides which caller performs side effects, everyone
// else observes the current state and reports a no-op.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mihmosh/MeetConfirm/internal/calendar"
	"github.com/mihmosh/MeetConfirm/internal/domain"
	"github.com/mihmosh/MeetConfirm/internal/events"
	"github.com/mihmosh/MeetConfirm/internal/notifier"
	"github.com/mihmosh/MeetConfirm/internal/repository"
	"github.com/mihmosh/MeetConfirm/internal/token"
)

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeInvalidToken     Outcome = "invalid_token"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeAlreadyCancelled Outcome = "already_cancelled"
)

// Publisher is satisfied by mq.Publisher; tests substitute a recorder.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Service struct {
	repo       *repository.BookingRepo
	tokens     *token.Authority
	feed       calendar.Feed
	mail       notifier.Notifier
	pub        Publisher
	serviceURL string
}

func New(repo *repository.BookingRepo, tokens *token.Authority, feed calendar.Feed, mail notifier.Notifier, pub Publisher, serviceURL string) *Service {
	return &Service{repo: repo, tokens: tokens, feed: feed, mail: mail, pub: pub, serviceURL: serviceURL}
}

// Confirm records the attendee's confirmation. Valid only while the
// confirmation request is out; terminal states answer "already handled".
func (s *Service) Confirm(ctx context.Context, tok, bookingID string) (Outcome, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !s.tokens.Verify(tok, b.ID, b.ExternalEventID) {
		return OutcomeInvalidToken, nil
	}
	switch b.Status {
	case domain.StatusConfirmed:
		return OutcomeAlreadyProcessed, nil
	case domain.StatusCancelledByUser, domain.StatusCancelledBySystem:
		return OutcomeAlreadyCancelled, nil
	case domain.StatusPending:
		// the attendee cannot hold the link before the request mail went
		// out; answer as a replay rather than minting a new edge
		return OutcomeAlreadyProcessed, nil
	}
	_, err = s.repo.Transition(ctx, b.ID,
		[]domain.Status{domain.StatusConfirmationSent}, domain.StatusConfirmed, "attendee_confirmed")
	if errors.Is(err, repository.ErrStaleStatus) {
		return s.replayOutcome(ctx, b.ID)
	}
	if err != nil {
		return "", err
	}
	log.Printf("[workflow] booking %s confirmed by attendee", b.ID)
	_ = s.pub.PublishJSON(ctx, events.RKBookingConfirmed, events.BookingSimple{BookingID: b.ID})
	return OutcomeSuccess, nil
}

// Cancel handles the attendee's cancellation link from either pre-terminal
// state. The external event is removed; "already deleted" is not an error.
func (s *Service) Cancel(ctx context.Context, tok, bookingID string) (Outcome, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !s.tokens.Verify(tok, b.ID, b.ExternalEventID) {
		return OutcomeInvalidToken, nil
	}
	if b.Status.Terminal() {
		return OutcomeAlreadyProcessed, nil
	}
	_, err = s.repo.Transition(ctx, b.ID,
		[]domain.Status{domain.StatusPending, domain.StatusConfirmationSent},
		domain.StatusCancelledByUser, "attendee_cancelled")
	if errors.Is(err, repository.ErrStaleStatus) {
		return s.replayOutcome(ctx, b.ID)
	}
	if err != nil {
		return "", err
	}
	if err := s.deleteEvent(ctx, b.ExternalEventID); err != nil {
		return "", err
	}
	log.Printf("[workflow] booking %s cancelled by attendee", b.ID)
	_ = s.pub.PublishJSON(ctx, events.RKBookingCancelled, events.BookingCancelled{BookingID: b.ID, By: "user"})
	return OutcomeSuccess, nil
}

// OnRemindFired is the delayed-dispatch callback that sends the confirmation
// request. The CAS to CONFIRMATION_SENT runs first and the mail-sent flag is
// recorded after the send, so a redelivered task resends only when the
// previous delivery advanced the status but its send failed.
func (s *Service) OnRemindFired(ctx context.Context, bookingID string) (Outcome, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[workflow] remind fired for unknown booking %s", bookingID)
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	b, err = s.repo.Transition(ctx, b.ID,
		[]domain.Status{domain.StatusPending}, domain.StatusConfirmationSent, "confirmation_requested")
	if errors.Is(err, repository.ErrStaleStatus) {
		b, err = s.repo.ByID(ctx, bookingID)
		if err != nil {
			return "", err
		}
		if b.Status != domain.StatusConfirmationSent || b.ConfirmMailSent {
			return OutcomeAlreadyProcessed, nil
		}
		log.Printf("[workflow] booking %s: confirmation mail never left, resending", b.ID)
	} else if err != nil {
		return "", err
	}
	tok := s.tokens.Issue(b.ID, b.ExternalEventID)
	confirmURL := fmt.Sprintf("%s/api/v1/confirm?token=%s&booking_id=%s", s.serviceURL, tok, b.ID)
	cancelURL := fmt.Sprintf("%s/api/v1/cancel?token=%s&booking_id=%s", s.serviceURL, tok, b.ID)
	if err := s.mail.SendConfirmationRequest(ctx, b, confirmURL, cancelURL); err != nil {
		// returning the error keeps the task on the redelivery path
		return "", err
	}
	if err := s.repo.MarkConfirmMailSent(ctx, b.ID); err != nil {
		return "", err
	}
	_ = s.pub.PublishJSON(ctx, events.RKConfirmationSent, events.BookingSimple{BookingID: b.ID})
	return OutcomeSuccess, nil
}

// OnEnforceFired applies the deadline. A confirmation that landed first
// always wins, even when the callback arrives late.
func (s *Service) OnEnforceFired(ctx context.Context, bookingID string) (Outcome, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[workflow] enforce fired for unknown booking %s", bookingID)
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	switch b.Status {
	case domain.StatusConfirmed, domain.StatusCancelledByUser, domain.StatusCancelledBySystem:
		return OutcomeAlreadyProcessed, nil
	case domain.StatusPending:
		// the confirmation request never went out, so there is nothing fair
		// to enforce; the remind task either still fires or failed loudly
		log.Printf("[workflow] enforce fired but booking %s never left PENDING", b.ID)
		return OutcomeAlreadyProcessed, nil
	}
	b, err = s.repo.Transition(ctx, b.ID,
		[]domain.Status{domain.StatusConfirmationSent}, domain.StatusCancelledBySystem, "deadline_enforced")
	if errors.Is(err, repository.ErrStaleStatus) {
		return s.replayOutcome(ctx, b.ID)
	}
	if err != nil {
		return "", err
	}
	if err := s.deleteEvent(ctx, b.ExternalEventID); err != nil {
		return "", err
	}
	if err := s.mail.SendCancellation(ctx, b); err != nil {
		log.Printf("[workflow] cancellation mail for %s failed: %v", b.ID, err)
	}
	log.Printf("[workflow] booking %s cancelled by system (deadline passed)", b.ID)
	_ = s.pub.PublishJSON(ctx, events.RKBookingCancelled, events.BookingCancelled{BookingID: b.ID, By: "system"})
	return OutcomeSuccess, nil
}

// replayOutcome maps a lost CAS race onto the friendly answer for the state
// the winner left behind.
func (s *Service) replayOutcome(ctx context.Context, bookingID string) (Outcome, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	switch b.Status {
	case domain.StatusCancelledByUser, domain.StatusCancelledBySystem:
		return OutcomeAlreadyCancelled, nil
	default:
		return OutcomeAlreadyProcessed, nil
	}
}

func (s *Service) deleteEvent(ctx context.Context, eventID string) error {
	err := s.feed.Delete(ctx, eventID)
	if errors.Is(err, calendar.ErrNotFound) {
		log.Printf("[workflow] event %s already gone from calendar", eventID)
		return nil
	}
	return err
}
