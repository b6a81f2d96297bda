// Package notify is the ops-facing side channel: booking lifecycle events
// published to the bus are turned into human-readable notifications so an
// operator can follow the workflow without reading SQL.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mihmosh/MeetConfirm/internal/events"
	"github.com/mihmosh/MeetConfirm/pkg/mq"
)

type Worker struct {
	cons *mq.Consumer
}

func NewWorker(cons *mq.Consumer) *Worker {
	return &Worker{cons: cons}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.cons.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := w.handle(d); err != nil {
				log.Printf("[notify] handle key=%s err=%v", d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (w *Worker) handle(d amqp.Delivery) error {
	switch d.RoutingKey {
	case events.RKBookingCreated:
		ev, err := events.Unmarshal[events.BookingCreated](d.Body)
		if err != nil {
			return err
		}
		log.Printf("[notify] tracking booking %s for %s (%s to %s)",
			ev.BookingID, ev.AttendeeEmail,
			time.Unix(ev.Start, 0).UTC().Format("2006-01-02 15:04"),
			time.Unix(ev.End, 0).UTC().Format("15:04"))
	case events.RKConfirmationSent:
		ev, err := events.Unmarshal[events.BookingSimple](d.Body)
		if err != nil {
			return err
		}
		log.Printf("[notify] confirmation request sent for booking %s", ev.BookingID)
	case events.RKBookingConfirmed:
		ev, err := events.Unmarshal[events.BookingSimple](d.Body)
		if err != nil {
			return err
		}
		log.Printf("[notify] booking %s confirmed", ev.BookingID)
	case events.RKBookingCancelled:
		ev, err := events.Unmarshal[events.BookingCancelled](d.Body)
		if err != nil {
			return err
		}
		log.Printf("[notify] booking %s cancelled (by %s)", ev.BookingID, ev.By)
	default:
		log.Printf("[notify] skip unknown key=%s", d.RoutingKey)
	}
	return nil
}
