package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mihmosh/MeetConfirm/internal/calendar"
	"github.com/mihmosh/MeetConfirm/internal/domain"
	"github.com/mihmosh/MeetConfirm/internal/repository"
	"github.com/mihmosh/MeetConfirm/internal/token"
)

type fakeFeed struct {
	deleted   []string
	deleteErr error
}

func (f *fakeFeed) Changes(_ context.Context, _ string) ([]calendar.Event, string, error) {
	return nil, "", nil
}

func (f *fakeFeed) Delete(_ context.Context, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

type fakeMail struct {
	confirmRequests int
	cancellations   int
	lastConfirmURL  string
	confirmErr      error
}

func (f *fakeMail) SendConfirmationRequest(_ context.Context, _ *domain.Booking, confirmURL, _ string) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirmRequests++
	f.lastConfirmURL = confirmURL
	return nil
}

func (f *fakeMail) SendCancellation(_ context.Context, _ *domain.Booking) error {
	f.cancellations++
	return nil
}

type fakePub struct{ keys []string }

func (f *fakePub) PublishJSON(_ context.Context, key string, _ any) error {
	f.keys = append(f.keys, key)
	return nil
}

func newTestRepo(t *testing.T) *repository.BookingRepo {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wf.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := repository.NewBookingRepo(gdb)
	require.NoError(t, repo.Migrate())
	return repo
}

type fixture struct {
	repo   *repository.BookingRepo
	tokens *token.Authority
	feed   *fakeFeed
	mail   *fakeMail
	pub    *fakePub
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newTestRepo(t),
		tokens: token.NewAuthority("test-signing-key"),
		feed:   &fakeFeed{},
		mail:   &fakeMail{},
		pub:    &fakePub{},
	}
	f.svc = New(f.repo, f.tokens, f.feed, f.mail, f.pub, "https://svc.example")
	return f
}

func (f *fixture) seedBooking(t *testing.T, eventID string) *domain.Booking {
	t.Helper()
	start := time.Now().UTC().Add(3 * time.Hour)
	b, created, err := f.repo.UpsertByEventID(context.Background(), repository.UpsertParams{
		ExternalEventID: eventID,
		AttendeeEmail:   "attendee@example.com",
		OrganizerEmail:  "organizer@example.com",
		Summary:         "Consult: intro call",
		StartTimeUTC:    start,
		EndTimeUTC:      start.Add(time.Hour),
		DeadlineUTC:     start.Add(-1 * time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	b, err := f.repo.ByID(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func TestConfirmedBookingSurvivesEnforcement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-1")

	out, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, domain.StatusConfirmationSent, f.status(t, b.ID))
	assert.Equal(t, 1, f.mail.confirmRequests)

	tok := f.tokens.Issue(b.ID, b.ExternalEventID)
	out, err = f.svc.Confirm(ctx, tok, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, domain.StatusConfirmed, f.status(t, b.ID))

	// late enforcement is a no-op: the confirmation already landed
	out, err = f.svc.OnEnforceFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Equal(t, domain.StatusConfirmed, f.status(t, b.ID))
	assert.Empty(t, f.feed.deleted)
	assert.Zero(t, f.mail.cancellations)
}

func TestUnconfirmedBookingIsCancelledBySystem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-2")

	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)

	out, err := f.svc.OnEnforceFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, domain.StatusCancelledBySystem, f.status(t, b.ID))
	assert.Equal(t, []string{"evt-2"}, f.feed.deleted)
	assert.Equal(t, 1, f.mail.cancellations)

	// redelivered enforcement must not repeat the side effects
	out, err = f.svc.OnEnforceFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Len(t, f.feed.deleted, 1)
	assert.Equal(t, 1, f.mail.cancellations)
}

func TestRemindRedeliverySendsOneMail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-3")

	out, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)

	out, err = f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Equal(t, 1, f.mail.confirmRequests)
}

func TestRemindForUnknownBooking(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.OnRemindFired(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
	assert.Zero(t, f.mail.confirmRequests)
}

func TestConfirmRejectsInvalidToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-4")
	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)

	out, err := f.svc.Confirm(ctx, "definitely-not-the-token", b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidToken, out)
	assert.Equal(t, domain.StatusConfirmationSent, f.status(t, b.ID))
}

func TestConfirmAfterSystemCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-5")
	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.OnEnforceFired(ctx, b.ID)
	require.NoError(t, err)

	tok := f.tokens.Issue(b.ID, b.ExternalEventID)
	out, err := f.svc.Confirm(ctx, tok, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCancelled, out)
	assert.Equal(t, domain.StatusCancelledBySystem, f.status(t, b.ID))
}

func TestAttendeeCancelDeletesEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-6")
	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)

	tok := f.tokens.Issue(b.ID, b.ExternalEventID)
	out, err := f.svc.Cancel(ctx, tok, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, domain.StatusCancelledByUser, f.status(t, b.ID))
	assert.Equal(t, []string{"evt-6"}, f.feed.deleted)

	// a second click on the same link is friendly, not an error
	out, err = f.svc.Cancel(ctx, tok, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Len(t, f.feed.deleted, 1)
}

func TestCancelToleratesAlreadyDeletedEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-7")
	f.feed.deleteErr = calendar.ErrNotFound

	tok := f.tokens.Issue(b.ID, b.ExternalEventID)
	out, err := f.svc.Cancel(ctx, tok, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, domain.StatusCancelledByUser, f.status(t, b.ID))
}

func TestRemindMailFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-8")
	f.mail.confirmErr = errors.New("smtp down")

	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.Error(t, err)
	// status advances before the send; the error keeps the task retrying
	assert.Equal(t, domain.StatusConfirmationSent, f.status(t, b.ID))
}

func TestRemindResendsAfterFailedSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-10")

	f.mail.confirmErr = errors.New("smtp down")
	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.Error(t, err)
	assert.Zero(t, f.mail.confirmRequests)

	// the redelivered task finds the status advanced but no mail delivered
	f.mail.confirmErr = nil
	out, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, 1, f.mail.confirmRequests)

	// once the mail left, further redeliveries are no-ops again
	out, err = f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Equal(t, 1, f.mail.confirmRequests)
}

func TestConfirmationLinkCarriesIssuedToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBooking(t, "evt-9")
	_, err := f.svc.OnRemindFired(ctx, b.ID)
	require.NoError(t, err)

	expected := "https://svc.example/api/v1/confirm?token=" + f.tokens.Issue(b.ID, b.ExternalEventID) + "&booking_id=" + b.ID
	assert.Equal(t, expected, f.mail.lastConfirmURL)
}
