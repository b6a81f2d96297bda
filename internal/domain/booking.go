package domain

import "time"

// Status is the booking lifecycle state. Transitions only move forward; the
// two cancelled states and CONFIRMED are terminal.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusConfirmationSent  Status = "CONFIRMATION_SENT"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCancelledByUser   Status = "CANCELLED_BY_USER"
	StatusCancelledBySystem Status = "CANCELLED_BY_SYSTEM"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusCancelledByUser, StatusCancelledBySystem:
		return true
	}
	return false
}

// transitions is the full edge set of the lifecycle.
var transitions = map[Status][]Status{
	StatusPending:          {StatusConfirmationSent, StatusCancelledByUser},
	StatusConfirmationSent: {StatusConfirmed, StatusCancelledByUser, StatusCancelledBySystem},
}

// CanTransition reports whether from -> to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                 string `gorm:"primaryKey"`
	ExternalEventID    string `gorm:"uniqueIndex"`
	AttendeeEmail      string
	OrganizerEmail     string
	Summary            string
	StartTimeUTC       time.Time `gorm:"index"`
	EndTimeUTC         time.Time
	Status             Status    `gorm:"index"`
	ConfirmDeadlineUTC time.Time `gorm:"index"`
	// ConfirmMailSent separates "status advanced" from "mail delivered" so
	// a failed send can be retried without risking a double send.
	ConfirmMailSent bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncState is a single-row table holding the calendar sync cursor and the
// current push channel. The resource id is what the provider requires to stop
// the channel again.
type SyncState struct {
	ID         string `gorm:"primaryKey"`
	Cursor     string
	ChannelID  string
	ResourceID string
	UpdatedAt  time.Time
}

const SyncStateID = "calendar"

type AuditLog struct {
	ID        string `gorm:"primaryKey"`
	BookingID string `gorm:"index"`
	Action    string
	Detail    string
	CreatedAt time.Time `gorm:"index"`
}
