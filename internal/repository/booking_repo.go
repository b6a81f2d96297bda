package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mihmosh/MeetConfirm/internal/domain"
)

var (
	ErrNotFound = errors.New("booking_not_found")
	// ErrStaleStatus means the conditional update matched no row: another
	// writer moved the booking first. Callers re-read and report a no-op.
	ErrStaleStatus = errors.New("stale_status")
)

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Booking{}, &domain.SyncState{}, &domain.AuditLog{})
}

type UpsertParams struct {
	ExternalEventID string
	AttendeeEmail   string
	OrganizerEmail  string
	Summary         string
	StartTimeUTC    time.Time
	EndTimeUTC      time.Time
	DeadlineUTC     time.Time
}

// UpsertByEventID creates the booking on first sighting of an event and
// refreshes start/end/deadline on reschedules while the booking is still
// PENDING. Non-pending bookings are left untouched. Reconciliation is
// single-flight, so the unique index on external_event_id is enough: a
// duplicate insert surfaces as an integrity error that aborts the pass.
func (r *BookingRepo) UpsertByEventID(ctx context.Context, p UpsertParams) (*domain.Booking, bool, error) {
	var b domain.Booking
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&domain.Booking{}).
			Where("external_event_id = ?", p.ExternalEventID).
			Take(&b).Error
		switch {
		case err == nil:
			if b.Status != domain.StatusPending {
				return nil
			}
			b.Summary = p.Summary
			b.StartTimeUTC = p.StartTimeUTC
			b.EndTimeUTC = p.EndTimeUTC
			b.ConfirmDeadlineUTC = p.DeadlineUTC
			return tx.Save(&b).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			b = domain.Booking{
				ID:                 uuid.NewString(),
				ExternalEventID:    p.ExternalEventID,
				AttendeeEmail:      p.AttendeeEmail,
				OrganizerEmail:     p.OrganizerEmail,
				Summary:            p.Summary,
				StartTimeUTC:       p.StartTimeUTC,
				EndTimeUTC:         p.EndTimeUTC,
				Status:             domain.StatusPending,
				ConfirmDeadlineUTC: p.DeadlineUTC,
			}
			created = true
			return tx.Create(&b).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return &b, created, nil
}

func (r *BookingRepo) ByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) ByExternalEventID(ctx context.Context, eventID string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).First(&b, "external_event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Transition is the single concurrency-safety mechanism for the status field:
// a conditional UPDATE that only fires while the current status is one of
// `from`. Zero rows affected means a racing writer won; ErrStaleStatus is
// returned and no audit row is written.
func (r *BookingRepo) Transition(ctx context.Context, id string, from []domain.Status, to domain.Status, action string) (*domain.Booking, error) {
	for _, f := range from {
		if !f.CanTransition(to) {
			return nil, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}
	var b domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Booking{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&domain.Booking{}, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			return ErrStaleStatus
		}
		audit := domain.AuditLog{
			ID:        uuid.NewString(),
			BookingID: id,
			Action:    action,
			Detail:    string(to),
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		return tx.First(&b, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkConfirmMailSent records that the confirmation request actually left.
// The flag lives apart from the status so a send failure after the status
// moved to CONFIRMATION_SENT is visible to the retrying callback.
func (r *BookingRepo) MarkConfirmMailSent(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"confirm_mail_sent": true, "updated_at": time.Now().UTC()}).Error
}

// TerminateTracking handles a provider-side cancellation: any non-terminal
// booking for the event is closed out as CANCELLED_BY_USER. Returns the
// booking and whether it was actually moved.
func (r *BookingRepo) TerminateTracking(ctx context.Context, eventID string) (*domain.Booking, bool, error) {
	b, err := r.ByExternalEventID(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	if b.Status.Terminal() {
		return b, false, nil
	}
	moved, err := r.Transition(ctx, b.ID,
		[]domain.Status{domain.StatusPending, domain.StatusConfirmationSent},
		domain.StatusCancelledByUser, "provider_cancelled")
	if errors.Is(err, ErrStaleStatus) {
		return b, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return moved, true, nil
}

func (r *BookingRepo) Cursor(ctx context.Context) (string, error) {
	var st domain.SyncState
	err := r.db.WithContext(ctx).First(&st, "id = ?", domain.SyncStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return st.Cursor, nil
}

func (r *BookingRepo) SaveCursor(ctx context.Context, cursor string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
		}).
		Create(&domain.SyncState{ID: domain.SyncStateID, Cursor: cursor, UpdatedAt: time.Now().UTC()}).Error
}

func (r *BookingRepo) Channel(ctx context.Context) (channelID, resourceID string, err error) {
	var st domain.SyncState
	err = r.db.WithContext(ctx).First(&st, "id = ?", domain.SyncStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return st.ChannelID, st.ResourceID, nil
}

func (r *BookingRepo) SaveChannel(ctx context.Context, channelID, resourceID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_id", "resource_id", "updated_at"}),
		}).
		Create(&domain.SyncState{ID: domain.SyncStateID, ChannelID: channelID, ResourceID: resourceID, UpdatedAt: time.Now().UTC()}).Error
}
