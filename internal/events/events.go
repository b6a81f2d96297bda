package events

import (
	"encoding/json"
	"fmt"
)

// Routing keys for booking lifecycle events on the bus.
const (
	RKBookingCreated   = "booking.created"
	RKConfirmationSent = "booking.confirmation_sent"
	RKBookingConfirmed = "booking.confirmed"
	RKBookingCancelled = "booking.cancelled"
)

type BookingCreated struct {
	BookingID     string `json:"booking_id"`
	EventID       string `json:"event_id"`
	AttendeeEmail string `json:"attendee_email"`
	Start         int64  `json:"start"` // unix seconds
	End           int64  `json:"end"`
}

type BookingSimple struct {
	BookingID string `json:"booking_id"`
}

type BookingCancelled struct {
	BookingID string `json:"booking_id"`
	By        string `json:"by"` // user | system | provider
}

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
