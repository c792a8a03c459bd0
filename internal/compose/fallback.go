package compose

import (
	"strings"
	"time"

	"showscrape/internal/model"
)

const unknownVenue = "Unknown Venue"

// Fallback renders a draft from the event's own fields. It uses UTC when
// the event has no local start.
func Fallback(ev model.Event, kind Kind) string {
	return renderFallback(ev, kind, time.UTC)
}

func (c *Composer) fallback(ev model.Event, kind Kind) string {
	return renderFallback(ev, kind, c.opts.Location)
}

func renderFallback(ev model.Event, kind Kind, loc *time.Location) string {
	venue := strings.TrimSpace(ev.VenueName)
	if venue == "" {
		venue = unknownVenue
	}
	start := ev.StartUTC.In(loc)
	if ev.StartLocal != nil {
		start = *ev.StartLocal
	}

	if kind == KindPreview {
		tickets := ev.TicketURL
		if tickets == "" {
			tickets = "TBA"
		}
		return strings.Join([]string{
			ev.Headliner(),
			"Venue: " + venue,
			"When: " + start.Format("Mon Jan 2 @ 3:04 PM"),
			"Tickets: " + tickets,
		}, "\n")
	}

	lines := []string{
		billing(ev),
		venue,
		start.Format("Monday, January 2 at 3:04 PM"),
	}
	if len(ev.Tags) > 0 && strings.TrimSpace(ev.Tags[0]) != "" {
		lines = append(lines, "Sound: "+ev.Tags[0])
	}
	if ev.TicketURL != "" {
		lines = append(lines, "Tickets: "+ev.TicketURL)
	} else {
		lines = append(lines, "Tickets: TBA")
	}
	if ev.EventURL != "" && ev.EventURL != ev.TicketURL {
		lines = append(lines, "Event: "+ev.EventURL)
	}
	return strings.Join(lines, "\n")
}

// billing is "Headliner w/ A, B".
func billing(ev model.Event) string {
	head := ev.Headliner()
	if len(ev.Artists) < 2 {
		return head
	}
	return head + " w/ " + strings.Join(ev.Artists[1:], ", ")
}
