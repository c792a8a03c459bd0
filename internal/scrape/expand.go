package scrape

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "showscrape/internal/log"
)

const defaultMaxOccurrencesPerEntry = 500

// expandWindow bounds recurrence expansion. Times compare against entry
// starts directly, so local entries are bounded in wall-clock terms.
type expandWindow struct {
	From, To time.Time
	// MaxPerEntry caps a single RRULE. Zero uses the default.
	MaxPerEntry int
}

// occurrence is one concrete show produced from an icsEntry.
type occurrence struct {
	Entry     icsEntry
	Start     time.Time
	Form      timeForm
	Recurring bool
}

// expandEntries turns entries into occurrences:
//
//   - single entries are kept when they start at or after From
//   - RRULE entries are expanded within [From, To] minus EXDATEs
//   - RECURRENCE-ID entries replace the instance they override
func expandEntries(entries []icsEntry, w expandWindow) []occurrence {
	if w.MaxPerEntry <= 0 {
		w.MaxPerEntry = defaultMaxOccurrencesPerEntry
	}

	base := make(map[string][]icsEntry)
	overrides := make(map[string][]icsEntry)
	var order []string
	for _, e := range entries {
		if e.RecurrenceID != nil && e.UID != "" {
			overrides[e.UID] = append(overrides[e.UID], e)
			continue
		}
		if _, seen := base[e.UID]; !seen {
			order = append(order, e.UID)
		}
		base[e.UID] = append(base[e.UID], e)
	}

	var out []occurrence
	for _, uid := range order {
		for _, e := range base[uid] {
			if e.RawRRule == "" {
				if !e.Start.Before(w.From) {
					out = append(out, occurrence{Entry: e, Start: e.Start, Form: e.Form})
				}
				continue
			}
			out = append(out, expandRecurring(e, overrides[uid], w)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func expandRecurring(e icsEntry, overrides []icsEntry, w expandWindow) []occurrence {
	r, err := rrule.StrToRRule(e.RawRRule)
	if err != nil {
		appLog.Warn("ics rrule unparsable; keeping first instance", "uid", e.UID, "rrule", e.RawRRule, "err", err.Error())
		if e.Start.Before(w.From) {
			return nil
		}
		return []occurrence{{Entry: e, Start: e.Start, Form: e.Form}}
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex)
	}

	times := set.Between(w.From, w.To, true)
	if len(times) > w.MaxPerEntry {
		appLog.Error("ics expansion truncated", errors.New("max occurrences reached"), "uid", e.UID, "cap", w.MaxPerEntry)
		times = times[:w.MaxPerEntry]
	}

	out := make([]occurrence, 0, len(times))
	for _, t := range times {
		occ := occurrence{Entry: e, Start: t, Form: e.Form, Recurring: true}
		if o, ok := findOverride(overrides, t); ok {
			occ.Entry = o
			occ.Start = o.Start
			occ.Form = o.Form
		}
		out = append(out, occ)
	}
	return out
}

// findOverride finds an override whose RECURRENCE-ID equals start.
func findOverride(overrides []icsEntry, start time.Time) (icsEntry, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return icsEntry{}, false
}
