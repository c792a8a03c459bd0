// Package normalize turns adapter output into canonical events: it resolves
// venue-local times to UTC, parses price text into minor units and derives
// the content identity used for deduplication.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	appLog "showscrape/internal/log"
	"showscrape/internal/model"
)

var (
	// ErrRecordMalformed marks a raw record that cannot be normalized. The
	// record is dropped; siblings are unaffected.
	ErrRecordMalformed = errors.New("record malformed")
	// ErrAmbiguousLocalTime is a wall-clock reading that occurs twice
	// (DST fall-back overlap).
	ErrAmbiguousLocalTime = fmt.Errorf("%w: ambiguous local time", ErrRecordMalformed)
	// ErrNonexistentLocalTime is a wall-clock reading skipped by a DST
	// spring-forward gap.
	ErrNonexistentLocalTime = fmt.Errorf("%w: nonexistent local time", ErrRecordMalformed)
)

// Options configures a Normalizer.
type Options struct {
	// DefaultZone is used when a record's zone cannot be resolved.
	DefaultZone     *time.Location
	DefaultCurrency string
	// DefaultShowTime ("HH:MM") applies to date-only start text.
	DefaultShowTime string
	TagRules        []TagRule
	Now             func() time.Time
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	zone        *time.Location
	currency    string
	defaultShow clock
	rules       []compiledRule
	now         func() time.Time
}

// Result carries the canonical event plus how it was derived.
type Result struct {
	Event model.Event
	// TimezoneFallback is set when the record's zone was unknown and the
	// default zone was used instead. Such results are less accurate.
	TimezoneFallback bool
}

// New validates opts and returns a Normalizer.
func New(opts Options) (*Normalizer, error) {
	n := &Normalizer{
		zone:     opts.DefaultZone,
		currency: strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency)),
		rules:    compileRules(opts.TagRules),
		now:      opts.Now,
	}
	if n.zone == nil {
		n.zone = time.UTC
	}
	if n.currency == "" {
		n.currency = "USD"
	}
	if n.now == nil {
		n.now = time.Now
	}
	show := opts.DefaultShowTime
	if show == "" {
		show = "19:00"
	}
	c, err := parseClock(show)
	if err != nil {
		return nil, fmt.Errorf("default show time: %w", err)
	}
	n.defaultShow = c
	return n, nil
}

// Normalize converts one raw record. Errors wrap ErrRecordMalformed.
func (n *Normalizer) Normalize(raw model.RawEvent) (Result, error) {
	var res Result
	if strings.TrimSpace(raw.VenueID) == "" {
		return res, fmt.Errorf("%w: missing venue id", ErrRecordMalformed)
	}

	loc, ok := ResolveZone(raw.Timezone, n.zone)
	if !ok {
		res.TimezoneFallback = true
		appLog.Warn("timezone fallback", "venue", raw.VenueID, "timezone", raw.Timezone, "fallback", loc.String())
	}

	start, doors, err := n.resolveStart(raw, loc)
	if err != nil {
		return res, err
	}

	artists := cleanArtists(raw.Artists)
	price := ParsePrice(raw.PriceText, n.currency)

	ev := model.Event{
		ID:            EventID(raw.VenueID, start, artists),
		Source:        raw.Source,
		VenueID:       raw.VenueID,
		VenueName:     strings.TrimSpace(raw.VenueName),
		VenueURL:      strings.TrimSpace(raw.VenueURL),
		StartUTC:      start.UTC(),
		Artists:       artists,
		AllAges:       parseAllAges(raw.AgeText),
		TicketURL:     strings.TrimSpace(raw.TicketURL),
		EventURL:      strings.TrimSpace(raw.EventURL),
		PriceMinCents: price.MinCents,
		PriceMaxCents: price.MaxCents,
		Currency:      price.Currency,
		Tags:          tagSet(applyRules(n.rules, ruleText(raw), raw.Tags)),
		ScrapedAtUTC:  n.now().UTC(),
		Extra:         raw.Extra,
	}
	local := start.In(loc)
	ev.StartLocal = &local
	if doors != nil {
		d := doors.In(loc)
		ev.DoorsLocal = &d
	}
	if ev.EventURL == "" {
		ev.EventURL = ev.TicketURL
	}
	if ev.Extra == nil {
		ev.Extra = map[string]any{}
	}

	res.Event = ev
	return res, nil
}

// resolveStart returns the start instant and, when known, the doors instant.
func (n *Normalizer) resolveStart(raw model.RawEvent, loc *time.Location) (time.Time, *time.Time, error) {
	var (
		start      time.Time
		doorsClock *clock
	)
	if t, ok := parseStrict(raw.StartText); ok {
		start = t
	} else {
		show := n.defaultShow
		if raw.DefaultShowTime != "" {
			if c, err := parseClock(raw.DefaultShowTime); err == nil {
				show = c
			}
		}
		ns, err := parseNaive(raw.StartText, raw.TicketURL, show, n.now(), loc)
		if err != nil {
			return time.Time{}, nil, err
		}
		start = ns.start
		doorsClock = ns.doors
	}

	if raw.DoorsText != "" {
		if c, ok := findDoorsClock(raw.DoorsText); ok {
			doorsClock = &c
		}
	}
	if doorsClock == nil {
		return start, nil, nil
	}
	local := start.In(loc)
	day := civilDate{local.Year(), local.Month(), local.Day()}
	doors, err := localInstant(day, *doorsClock, loc)
	if err != nil {
		appLog.Debug("doors time dropped", "venue", raw.VenueID, "err", err.Error())
		return start, nil, nil
	}
	return start, &doors, nil
}

func cleanArtists(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.Join(strings.Fields(a), " "); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []string{model.UnknownPerformer}
	}
	return out
}

var (
	allAgesRe  = regexp.MustCompile(`(?i)\ball[\s-]*ages\b`)
	restrictRe = regexp.MustCompile(`(?i)\b(1[89]|2[01])\s*(\+|and\s+over|&\s*over|and\s+up|\bor\s+older)`)
)

// parseAllAges reads an age-restriction label. Unknown labels stay nil.
func parseAllAges(text string) *bool {
	var v bool
	switch {
	case allAgesRe.MatchString(text):
		v = true
	case restrictRe.MatchString(text):
		v = false
	default:
		return nil
	}
	return &v
}
