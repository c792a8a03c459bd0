package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"showscrape/internal/config"
	appLog "showscrape/internal/log"
	"showscrape/internal/model"
	"showscrape/internal/normalize"
)

// timeForm records how a DTSTART was written, which decides how the
// normalizer must interpret it.
type timeForm int

const (
	formUTC      timeForm = iota // 20251007T200000Z, an absolute instant
	formLocal                    // 20251007T200000 with or without TZID
	formDateOnly                 // 20251007, all-day
)

// icsEntry is one VEVENT before recurrence expansion. Local and date-only
// starts are held as wall-clock readings in UTC; the zone is applied by
// the normalizer so DST edges are checked in one place.
type icsEntry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Status      string
	Categories  []string

	Start time.Time
	Form  timeForm
	TZID  string

	RawRRule     string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

func (e icsEntry) cancelled() bool {
	return strings.EqualFold(e.Status, "CANCELLED") || isCancelledTitle(e.Summary)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func isCancelledTitle(title string) bool {
	clean := nonAlnum.ReplaceAllString(strings.ToLower(title), "")
	return strings.HasPrefix(clean, "canceled") || strings.HasPrefix(clean, "cancelled")
}

// ICSAdapter reads a venue calendar feed. Each entry's title is the sole
// artist.
type ICSAdapter struct {
	venue   config.VenueConfig
	fetcher *Fetcher
	now     func() time.Time
}

// NewICSAdapter returns an adapter for one calendar feed.
func NewICSAdapter(v config.VenueConfig, f *Fetcher, now func() time.Time) *ICSAdapter {
	if now == nil {
		now = time.Now
	}
	return &ICSAdapter{venue: v, fetcher: f, now: now}
}

func (a *ICSAdapter) Info() Info { return infoFor(a.venue) }

func (a *ICSAdapter) FetchEvents(ctx context.Context) ([]model.RawEvent, error) {
	res, err := a.fetcher.Fetch(ctx, a.venue.URL)
	if err != nil {
		return nil, err
	}
	return a.Parse(res.Body)
}

// Parse turns an ICS payload into raw events, expanding recurrences within
// the venue's horizon.
func (a *ICSAdapter) Parse(body []byte) ([]model.RawEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	var entries []icsEntry
	for _, ve := range cal.Events() {
		e, perr := parseVEvent(ve)
		if perr != nil {
			// Skip this entry, keep the rest of the feed.
			appLog.Warn("ics vevent skipped", "venue", a.venue.ID, "err", perr.Error())
			continue
		}
		entries = append(entries, e)
	}

	now := a.now().UTC()
	horizon := a.venue.HorizonDays
	if horizon <= 0 {
		horizon = 120
	}
	occs := expandEntries(entries, expandWindow{
		From: now.Add(-24 * time.Hour),
		To:   now.AddDate(0, 0, horizon),
	})

	out := make([]model.RawEvent, 0, len(occs))
	cancelled := 0
	for _, o := range occs {
		if o.Entry.cancelled() {
			cancelled++
			continue
		}
		out = append(out, a.rawFromOccurrence(o))
	}

	appLog.Debug("ics parse completed", "venue", a.venue.ID, "entries", len(entries), "event_count", len(out), "cancelled", cancelled)
	if len(out) == 0 {
		return nil, fmt.Errorf("venue %s: %w", a.venue.ID, ErrNoEvents)
	}
	return out, nil
}

func (a *ICSAdapter) rawFromOccurrence(o occurrence) model.RawEvent {
	e := o.Entry
	raw := model.RawEvent{
		Source:          a.venue.ID,
		VenueID:         a.venue.VenueID,
		VenueName:       a.venue.Name,
		VenueURL:        a.venue.URL,
		EventURL:        e.URL,
		Timezone:        a.venue.Timezone,
		DefaultShowTime: a.venue.DefaultShowTime,
		Tags:            e.Categories,
		Extra:           map[string]any{"uid": e.UID},
	}
	if title := cleanText(e.Summary); title != "" {
		raw.Artists = []string{title}
	}
	switch o.Form {
	case formUTC:
		raw.StartText = o.Start.UTC().Format(time.RFC3339)
	case formLocal:
		raw.StartText = o.Start.Format("2006-01-02T15:04:05")
		// Labels such as "(UTC-07:00) Mountain Time" name no zone; the
		// venue zone is a better guess than the global default.
		if e.TZID != "" {
			if _, ok := normalize.ResolveZone(e.TZID, nil); ok {
				raw.Timezone = e.TZID
			} else {
				raw.Extra["tzid"] = e.TZID
			}
		}
	case formDateOnly:
		raw.StartText = o.Start.Format("2006-01-02")
		raw.Extra["all_day"] = true
	}
	if e.Location != "" {
		raw.Extra["location"] = e.Location
	}
	if e.Description != "" {
		raw.Extra["description"] = e.Description
	}
	if o.Recurring {
		raw.Extra["recurring"] = true
	}
	return raw
}

func parseVEvent(ve *ical.VEvent) (icsEntry, error) {
	var out icsEntry

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty("URL"); p != nil {
		out.URL = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.Status = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties("CATEGORIES") {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(unescapeText(strings.TrimSuffix(c, `\`))); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dt := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dt == nil || strings.TrimSpace(dt.Value) == "" {
		return out, fmt.Errorf("uid %q: missing DTSTART", out.UID)
	}
	start, form, err := parseICSTime(dt.Value)
	if err != nil {
		return out, fmt.Errorf("uid %q: %w", out.UID, err)
	}
	if vs := dt.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		form = formDateOnly
	}
	if form == formLocal {
		if tz := dt.ICalParameters["TZID"]; len(tz) > 0 {
			out.TZID = strings.Trim(tz[0], `"`)
		}
	}
	out.Start, out.Form = start, form

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parseICSTime(p.Value); err == nil {
			out.RecurrenceID = &t
		}
	}
	return out, nil
}

// parseICSTime parses DATE and DATE-TIME values. Results are in UTC; for
// formLocal and formDateOnly they are wall-clock readings, not instants.
func parseICSTime(v string) (time.Time, timeForm, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, 0, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, formUTC, err
	case strings.Contains(v, "T"):
		t, err := time.Parse("20060102T150405", v)
		return t, formLocal, err
	default:
		t, err := time.Parse("20060102", v)
		return t, formDateOnly, err
	}
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\,`, `,`, `\;`, `;`, `\n`, "\n", `\N`, "\n")

func unescapeText(s string) string {
	return strings.TrimSpace(textUnescaper.Replace(s))
}
