package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mihmosh/MeetConfirm/internal/domain"
)

// Notifier delivers attendee-facing mail. Failures are reported to the
// caller; the workflow decides whether a send is worth retrying.
type Notifier interface {
	SendConfirmationRequest(ctx context.Context, b *domain.Booking, confirmURL, cancelURL string) error
	SendCancellation(ctx context.Context, b *domain.Booking) error
}

// ConsoleNotifier logs instead of sending. Used in dev and as a last-resort
// fallback when no mail credentials are configured.
type ConsoleNotifier struct{}

func NewConsole() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (c *ConsoleNotifier) SendConfirmationRequest(_ context.Context, b *domain.Booking, confirmURL, cancelURL string) error {
	log.Printf("[notify] confirm-request to=%s booking=%s confirm=%s cancel=%s", b.AttendeeEmail, b.ID, confirmURL, cancelURL)
	return nil
}

func (c *ConsoleNotifier) SendCancellation(_ context.Context, b *domain.Booking) error {
	log.Printf("[notify] cancellation to=%s booking=%s", b.AttendeeEmail, b.ID)
	return nil
}

// HumanTimeRange renders a booking window for mail bodies.
func HumanTimeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s UTC", start.UTC().Format("2006-01-02 15:04"), end.UTC().Format("15:04"))
}
