package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clock12Re = regexp.MustCompile(`(?i)\b(\d{1,2})(?:[:.](\d{2}))?\s*([ap])\.?\s?m\b\.?`)
	clock24Re = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)(?::[0-5]\d)?\b`)
	noonRe    = regexp.MustCompile(`(?i)\bnoon\b`)
	isoTRe    = regexp.MustCompile(`(\d)T(\d)`)

	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRe  = regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s*(\d{4})\b)?`)
	dayMonthRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlt + `)\b\.?(?:,?\s*(\d{4})\b)?`)
	urlDateRe   = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`)
)

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

type clock struct {
	hour, minute int
}

// clockMatch is one time-of-day found in free text, with the label that
// immediately precedes it.
type clockMatch struct {
	clock
	start, end int
	doors      bool
	show       bool
}

// parseStrict accepts machine-readable, zone-qualified timestamps.
func parseStrict(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00", time.RFC1123Z} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseClock parses "HH:MM" (24h) as used in configuration.
func parseClock(s string) (clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return clock{}, fmt.Errorf("invalid time of day %q", s)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

func cleanText(s string) string {
	r := strings.NewReplacer("\u00a0", " ", "\u2013", "-", "\u2014", "-", "\u2022", " ", "\u00b7", " ", "|", " | ")
	s = r.Replace(s)
	s = isoTRe.ReplaceAllString(s, "$1 $2")
	return strings.Join(strings.Fields(s), " ")
}

// findClocks returns every time of day in s. 12h forms win; 24h forms are
// only considered when no am/pm time is present.
func findClocks(s string) []clockMatch {
	var out []clockMatch
	for _, m := range clock12Re.FindAllStringSubmatchIndex(s, -1) {
		h, _ := strconv.Atoi(s[m[2]:m[3]])
		mi := 0
		if m[4] >= 0 {
			mi, _ = strconv.Atoi(s[m[4]:m[5]])
		}
		if h < 1 || h > 12 || mi > 59 {
			continue
		}
		pm := strings.EqualFold(s[m[6]:m[7]], "p")
		switch {
		case pm && h != 12:
			h += 12
		case !pm && h == 12:
			h = 0
		}
		out = append(out, clockMatch{clock: clock{h, mi}, start: m[0], end: m[1]})
	}
	if len(out) == 0 {
		for _, m := range clock24Re.FindAllStringSubmatchIndex(s, -1) {
			h, _ := strconv.Atoi(s[m[2]:m[3]])
			mi, _ := strconv.Atoi(s[m[4]:m[5]])
			out = append(out, clockMatch{clock: clock{h, mi}, start: m[0], end: m[1]})
		}
	}
	if len(out) == 0 {
		if m := noonRe.FindStringIndex(s); m != nil {
			out = append(out, clockMatch{clock: clock{12, 0}, start: m[0], end: m[1]})
		}
	}
	prev := 0
	for i := range out {
		out[i] = labelled(s, out[i], prev)
		prev = out[i].end
	}
	return out
}

// labelled inspects the text between the previous match and this one for a
// doors/show label.
func labelled(s string, m clockMatch, prevEnd int) clockMatch {
	from := max(m.start-16, prevEnd)
	prefix := strings.ToLower(s[from:m.start])
	if i := strings.LastIndexAny(prefix, "|/;"); i >= 0 {
		prefix = prefix[i+1:]
	}
	m.doors = strings.Contains(prefix, "door")
	m.show = strings.Contains(prefix, "show") || strings.Contains(prefix, "start") || strings.Contains(prefix, "music")
	return m
}

// pickClocks chooses the show time and, when labelled, the doors time.
func pickClocks(ms []clockMatch) (show, doors *clock) {
	for i := range ms {
		if ms[i].doors && doors == nil {
			c := ms[i].clock
			doors = &c
		}
	}
	for i := range ms {
		if ms[i].show {
			c := ms[i].clock
			return &c, doors
		}
	}
	for i := range ms {
		if !ms[i].doors {
			c := ms[i].clock
			return &c, doors
		}
	}
	if len(ms) > 0 {
		c := ms[0].clock
		return &c, doors
	}
	return nil, doors
}

func stripClocks(s string, ms []clockMatch) string {
	var b strings.Builder
	last := 0
	for _, m := range ms {
		b.WriteString(s[last:m.start])
		b.WriteByte(' ')
		last = m.end
	}
	b.WriteString(s[last:])
	return b.String()
}

// findDate extracts a calendar date. hasYear is false when the text only
// names a month and day.
func findDate(s string) (d civilDate, hasYear bool, ok bool) {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return civilDate{y, time.Month(mo), day}, true, true
	}
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[2])
		return withYear(monthByPrefix[strings.ToLower(m[1][:3])], day, m[3])
	}
	if m := dayMonthRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		return withYear(monthByPrefix[strings.ToLower(m[2][:3])], day, m[3])
	}
	if m := slashDateRe.FindStringSubmatch(s); m != nil {
		mo, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		return withYear(time.Month(mo), day, m[3])
	}
	return civilDate{}, false, false
}

func withYear(mo time.Month, day int, year string) (civilDate, bool, bool) {
	if year == "" {
		return civilDate{month: mo, day: day}, false, true
	}
	y, _ := strconv.Atoi(year)
	if y < 100 {
		y += 2000
	}
	return civilDate{y, mo, day}, true, true
}

func (d civilDate) valid() bool {
	if d.month < time.January || d.month > time.December || d.day < 1 {
		return false
	}
	t := time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
	return t.Month() == d.month && t.Day() == d.day
}

// resolveYear picks the current year in loc, or next year when the date
// has already passed.
func resolveYear(d civilDate, now time.Time, loc *time.Location) civilDate {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	d.year = local.Year()
	if time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Before(today) {
		d.year++
	}
	return d
}

// localInstant converts a wall-clock reading in loc to an instant. It
// refuses readings that fall in a DST gap or overlap instead of letting
// time.Date pick one silently.
func localInstant(d civilDate, c clock, loc *time.Location) (time.Time, error) {
	naive := time.Date(d.year, d.month, d.day, c.hour, c.minute, 0, 0, time.UTC)
	guess := time.Date(d.year, d.month, d.day, c.hour, c.minute, 0, 0, loc)

	var found []time.Time
	for _, probe := range []time.Time{guess.Add(-12 * time.Hour), guess, guess.Add(12 * time.Hour)} {
		_, offset := probe.Zone()
		cand := naive.Add(-time.Duration(offset) * time.Second).In(loc)
		if cand.Year() != d.year || cand.Month() != d.month || cand.Day() != d.day ||
			cand.Hour() != c.hour || cand.Minute() != c.minute {
			continue
		}
		dup := false
		for _, f := range found {
			if f.Equal(cand) {
				dup = true
				break
			}
		}
		if !dup {
			found = append(found, cand)
		}
	}

	wall := naive.Format("2006-01-02 15:04")
	switch len(found) {
	case 0:
		return time.Time{}, fmt.Errorf("%w: %s in %s", ErrNonexistentLocalTime, wall, loc)
	case 1:
		return found[0], nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s in %s", ErrAmbiguousLocalTime, wall, loc)
	}
}

// naiveStart is the outcome of reading free-text start information.
type naiveStart struct {
	start time.Time
	doors *clock
}

// parseNaive reads venue-style date/time text such as
// "Tue Oct 7 | Doors 7pm / Show 8pm" and resolves it in loc.
func parseNaive(text, ticketURL string, defaultShow clock, now time.Time, loc *time.Location) (naiveStart, error) {
	s := cleanText(text)
	if s == "" {
		return naiveStart{}, fmt.Errorf("%w: empty start text", ErrRecordMalformed)
	}

	clocks := findClocks(s)
	show, doors := pickClocks(clocks)
	if show == nil {
		show = &defaultShow
	}

	d, hasYear, ok := findDate(stripClocks(s, clocks))
	if !ok {
		return naiveStart{}, fmt.Errorf("%w: no date in %q", ErrRecordMalformed, text)
	}
	if !hasYear {
		if m := urlDateRe.FindStringSubmatch(ticketURL); m != nil {
			mo, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			y, _ := strconv.Atoi(m[3])
			if cand := (civilDate{y, time.Month(mo), day}); cand.valid() {
				d, hasYear = cand, true
			}
		}
	}
	if !hasYear {
		d = resolveYear(d, now, loc)
	}
	if !d.valid() {
		return naiveStart{}, fmt.Errorf("%w: invalid date in %q", ErrRecordMalformed, text)
	}

	start, err := localInstant(d, *show, loc)
	if err != nil {
		return naiveStart{}, err
	}
	return naiveStart{start: start, doors: doors}, nil
}

// findDoorsClock reads a time of day from doors text, preferring a doors label.
func findDoorsClock(text string) (clock, bool) {
	ms := findClocks(cleanText(text))
	if len(ms) == 0 {
		return clock{}, false
	}
	for _, m := range ms {
		if m.doors {
			return m.clock, true
		}
	}
	return ms[0].clock, true
}
