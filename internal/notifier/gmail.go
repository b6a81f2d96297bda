package notifier

import (
	"context"
	"encoding/base64"
	"fmt"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/mihmosh/MeetConfirm/internal/domain"
)

// GmailNotifier sends attendee mail through the Gmail API. Bodies are plain
// text; rendering fancy HTML is someone else's job.
type GmailNotifier struct {
	svc *gmail.Service
}

func NewGmail(svc *gmail.Service) *GmailNotifier {
	return &GmailNotifier{svc: svc}
}

func (g *GmailNotifier) SendConfirmationRequest(ctx context.Context, b *domain.Booking, confirmURL, cancelURL string) error {
	subject := fmt.Sprintf("Please confirm: %s", b.Summary)
	body := fmt.Sprintf(
		"Your appointment %q is scheduled for %s.\n\n"+
			"Please confirm before %s or it will be cancelled automatically.\n\n"+
			"Confirm: %s\nCancel:  %s\n",
		b.Summary, HumanTimeRange(b.StartTimeUTC, b.EndTimeUTC),
		b.ConfirmDeadlineUTC.UTC().Format("2006-01-02 15:04 UTC"),
		confirmURL, cancelURL,
	)
	return g.send(ctx, b.AttendeeEmail, subject, body)
}

func (g *GmailNotifier) SendCancellation(ctx context.Context, b *domain.Booking) error {
	subject := fmt.Sprintf("Cancelled: %s", b.Summary)
	body := fmt.Sprintf(
		"Your appointment %q (%s) was cancelled because it was not confirmed in time.\n",
		b.Summary, HumanTimeRange(b.StartTimeUTC, b.EndTimeUTC),
	)
	return g.send(ctx, b.AttendeeEmail, subject, body)
}

// SelfCheck verifies Gmail API access at startup.
func (g *GmailNotifier) SelfCheck(ctx context.Context) error {
	if _, err := g.svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail self-check: %w", err)
	}
	return nil
}

func (g *GmailNotifier) send(ctx context.Context, to, subject, body string) error {
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s", to, subject, body)
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}
	if _, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
