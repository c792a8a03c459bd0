package scrape

import (
	"errors"
	"strings"
	"testing"
	"time"

	"showscrape/internal/config"
)

const venueCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//showscrape//test//EN
BEGIN:VEVENT
UID:single-1
DTSTAMP:20250101T000000Z
DTSTART;TZID=America/Boise:20251007T200000
DTEND;TZID=America/Boise:20251007T230000
SUMMARY:Built to Spill
URL:https://venue.example/e/1
CATEGORIES:Rock,Indie
LOCATION:Main Room
END:VEVENT
BEGIN:VEVENT
UID:utc-1
DTSTAMP:20250101T000000Z
DTSTART:20251010T030000Z
SUMMARY:Late Show
END:VEVENT
BEGIN:VEVENT
UID:allday-1
DTSTAMP:20250101T000000Z
DTSTART;VALUE=DATE:20251012
SUMMARY:Festival Day
END:VEVENT
BEGIN:VEVENT
UID:cancel-1
DTSTAMP:20250101T000000Z
DTSTART:20251011T030000Z
SUMMARY:CANCELLED - Some Band
END:VEVENT
BEGIN:VEVENT
UID:cancel-2
DTSTAMP:20250101T000000Z
DTSTART:20251011T040000Z
STATUS:CANCELLED
SUMMARY:Other Band
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
DTSTART;TZID=America/Boise:20251001T190000
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=America/Boise:20251015T190000
SUMMARY:Open Mic
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
RECURRENCE-ID;TZID=America/Boise:20251022T190000
DTSTART;TZID=America/Boise:20251022T200000
SUMMARY:Open Mic (Late)
END:VEVENT
BEGIN:VEVENT
UID:past-1
DTSTAMP:20250101T000000Z
DTSTART:20240101T030000Z
SUMMARY:Old Show
END:VEVENT
END:VCALENDAR
`

func testICSVenue() config.VenueConfig {
	return config.VenueConfig{
		ID:          "fox-ics",
		VenueID:     "fox",
		Name:        "Fox Theater",
		URL:         "https://venue.example/cal.ics",
		Kind:        config.KindICS,
		Timezone:    "America/Denver",
		HorizonDays: 120,
	}
}

func TestICSParse(t *testing.T) {
	now := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	a := NewICSAdapter(testICSVenue(), nil, func() time.Time { return now })

	got, err := a.Parse([]byte(strings.ReplaceAll(venueCalendar, "\n", "\r\n")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	type key struct{ artist, start, tz string }
	seen := map[key]bool{}
	for _, r := range got {
		if len(r.Artists) != 1 {
			t.Fatalf("ics entries carry exactly one artist, got %v", r.Artists)
		}
		if r.VenueID != "fox" || r.Source != "fox-ics" {
			t.Fatalf("venue fields = %q/%q", r.VenueID, r.Source)
		}
		seen[key{r.Artists[0], r.StartText, r.Timezone}] = true
	}

	want := []key{
		{"Built to Spill", "2025-10-07T20:00:00", "America/Boise"},
		{"Late Show", "2025-10-10T03:00:00Z", "America/Denver"},
		{"Festival Day", "2025-10-12", "America/Denver"},
		{"Open Mic", "2025-10-01T19:00:00", "America/Boise"},
		{"Open Mic", "2025-10-08T19:00:00", "America/Boise"},
		{"Open Mic (Late)", "2025-10-22T20:00:00", "America/Boise"},
	}
	for _, k := range want {
		if !seen[k] {
			t.Errorf("missing %+v", k)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), seen)
	}

	for _, r := range got {
		if r.Artists[0] == "Built to Spill" {
			if r.EventURL != "https://venue.example/e/1" {
				t.Errorf("event url = %q", r.EventURL)
			}
			if len(r.Tags) != 2 || r.Tags[0] != "Rock" || r.Tags[1] != "Indie" {
				t.Errorf("tags = %v", r.Tags)
			}
			if r.Extra["location"] != "Main Room" || r.Extra["uid"] != "single-1" {
				t.Errorf("extra = %v", r.Extra)
			}
		}
	}
}

func TestICSUnresolvableTZIDKeepsVenueZone(t *testing.T) {
	cal := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//x//EN",
		"BEGIN:VEVENT",
		"UID:outlook-1",
		"SUMMARY:Desert Noises",
		"DTSTART;TZID=Mountain Time (US & Canada):20251007T200000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:outlook-2",
		"SUMMARY:Treefort Preview",
		"DTSTART;TZID=Pacific Standard Time:20251008T190000",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	now := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	a := NewICSAdapter(testICSVenue(), nil, func() time.Time { return now })
	got, err := a.Parse([]byte(cal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events", len(got))
	}
	for _, r := range got {
		switch r.Artists[0] {
		case "Desert Noises":
			if r.Timezone != "America/Denver" || r.Extra["tzid"] != "Mountain Time (US & Canada)" {
				t.Errorf("unresolvable tzid: zone %q extra %v", r.Timezone, r.Extra)
			}
		case "Treefort Preview":
			if r.Timezone != "Pacific Standard Time" || r.Extra["tzid"] != nil {
				t.Errorf("windows tzid: zone %q extra %v", r.Timezone, r.Extra)
			}
		}
	}
}

func TestICSEmptyFeed(t *testing.T) {
	a := NewICSAdapter(testICSVenue(), nil, time.Now)
	cal := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//x//EN\r\nEND:VCALENDAR\r\n"
	if _, err := a.Parse([]byte(cal)); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("got %v, want ErrNoEvents", err)
	}
	if _, err := a.Parse(nil); err == nil {
		t.Fatal("empty body should fail")
	}
}

func TestIsCancelledTitle(t *testing.T) {
	for _, s := range []string{"Cancelled: Band", "CANCELED - Band", "[cancelled] band"} {
		if !isCancelledTitle(s) {
			t.Errorf("%q should be cancelled", s)
		}
	}
	if isCancelledTitle("Band (rescheduled)") {
		t.Error("rescheduled is not cancelled")
	}
}
