package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// GoogleFeed adapts the Google Calendar API to the Feed contract. Sync
// cursors are Google sync tokens; an expired token surfaces as HTTP 410.
type GoogleFeed struct {
	svc        *gcal.Service
	calendarID string
}

func NewGoogleFeed(svc *gcal.Service, calendarID string) *GoogleFeed {
	return &GoogleFeed{svc: svc, calendarID: calendarID}
}

func (g *GoogleFeed) Changes(ctx context.Context, cursor string) ([]Event, string, error) {
	var out []Event
	pageToken := ""
	nextSync := ""
	for {
		call := g.svc.Events.List(g.calendarID).Context(ctx).SingleEvents(true)
		if cursor != "" {
			call = call.SyncToken(cursor)
		} else {
			// full resync: only events from now forward matter
			call = call.TimeMin(time.Now().UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == 410 {
				return nil, "", ErrCursorExpired
			}
			return nil, "", fmt.Errorf("list events: %w", err)
		}
		for _, it := range res.Items {
			out = append(out, fromGoogle(it))
		}
		if res.NextPageToken != "" {
			pageToken = res.NextPageToken
			continue
		}
		nextSync = res.NextSyncToken
		break
	}
	return out, nextSync, nil
}

func (g *GoogleFeed) Delete(ctx context.Context, eventID string) error {
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == 404 || gerr.Code == 410) {
			return ErrNotFound
		}
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// Watch registers a push channel for calendar changes and returns its channel
// and resource ids. Google caps channel lifetime, so the caller re-registers
// on a schedule.
func (g *GoogleFeed) Watch(ctx context.Context, webhookURL string) (string, string, error) {
	ch := &gcal.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    webhookURL,
		Expiration: time.Now().Add(7*24*time.Hour).UnixNano() / int64(time.Millisecond),
	}
	res, err := g.svc.Events.Watch(g.calendarID, ch).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("watch calendar: %w", err)
	}
	log.Printf("[calendar] watch established: %s", res.Id)
	return res.Id, res.ResourceId, nil
}

// StopWatch tears down a push channel. A channel the provider no longer knows
// about counts as stopped.
func (g *GoogleFeed) StopWatch(ctx context.Context, channelID, resourceID string) error {
	ch := &gcal.Channel{Id: channelID, ResourceId: resourceID}
	if err := g.svc.Channels.Stop(ch).Context(ctx).Do(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return nil
		}
		return fmt.Errorf("stop watch %s: %w", channelID, err)
	}
	return nil
}

// SelfCheck verifies calendar API access at startup.
func (g *GoogleFeed) SelfCheck(ctx context.Context) error {
	if _, err := g.svc.CalendarList.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar self-check: %w", err)
	}
	return nil
}

func fromGoogle(it *gcal.Event) Event {
	ev := Event{
		ID:        it.Id,
		Summary:   it.Summary,
		Cancelled: it.Status == "cancelled",
	}
	if it.Organizer != nil {
		ev.OrganizerEmail = it.Organizer.Email
	}
	for _, a := range it.Attendees {
		if a.Email == "" {
			continue
		}
		ev.Attendees = append(ev.Attendees, Attendee{Email: a.Email, Organizer: a.Organizer})
	}
	ev.Start = parseEventTime(it.Start)
	ev.End = parseEventTime(it.End)
	return ev
}

func parseEventTime(t *gcal.EventDateTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	if t.DateTime != "" {
		if ts, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return ts.UTC()
		}
	}
	if t.Date != "" {
		if ts, err := time.Parse("2006-01-02", t.Date); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
