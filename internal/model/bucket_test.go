package model

import (
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPartitionBoundaries(t *testing.T) {
	now := at("2025-01-01T00:00:00Z")
	cases := []struct {
		start string
		want  Bucket
	}{
		{"2025-01-01T00:00:00Z", BucketDayOf},
		{"2025-01-04T00:00:00Z", BucketLT1W},
		{"2025-01-08T00:00:00Z", BucketLT2W},
		{"2025-01-20T00:00:00Z", BucketLT1M},
		{"2025-02-10T00:00:00Z", BucketLT2M},
		{"2025-06-01T00:00:00Z", BucketGTE2M},
	}

	var events []Event
	for i, c := range cases {
		events = append(events, Event{ID: string(rune('a' + i)), StartUTC: at(c.start)})
	}
	got := Partition(events, now)

	if got.Len() != len(cases) {
		t.Fatalf("expected %d entries across buckets, got %d", len(cases), got.Len())
	}
	for i, c := range cases {
		entries := got[c.want]
		found := false
		for _, e := range entries {
			if e.Event.ID == events[i].ID {
				found = true
			}
		}
		if !found {
			t.Errorf("event at %s not in %s", c.start, c.want)
		}
	}
}

func TestPartitionKeepsEmptyBucketsAndOrder(t *testing.T) {
	now := at("2025-01-01T00:00:00Z")
	events := []Event{
		{ID: "late", StartUTC: at("2025-01-05T20:00:00Z")},
		{ID: "early", StartUTC: at("2025-01-03T20:00:00Z")},
		{ID: "past", StartUTC: at("2024-12-31T20:00:00Z")},
	}
	got := Partition(events, now)

	for _, k := range AllBuckets {
		if _, ok := got[k]; !ok {
			t.Fatalf("bucket %s missing", k)
		}
	}
	lt1w := got[BucketLT1W]
	if len(lt1w) != 2 || lt1w[0].Event.ID != "early" || lt1w[1].Event.ID != "late" {
		t.Fatalf("unexpected LT_1W ordering: %+v", lt1w)
	}
	if got.Len() != 2 {
		t.Fatalf("past event should be excluded, got %d entries", got.Len())
	}
}

func TestDaysUntilRounds(t *testing.T) {
	now := at("2025-01-01T00:00:00Z")
	if d := DaysUntil(at("2025-01-01T13:00:00Z"), now); d != 1 {
		t.Fatalf("13h should round to 1 day, got %d", d)
	}
	if d := DaysUntil(at("2025-01-01T11:00:00Z"), now); d != 0 {
		t.Fatalf("11h should round to 0 days, got %d", d)
	}
}

func TestHeadlinerFallback(t *testing.T) {
	if h := (Event{}).Headliner(); h != UnknownPerformer {
		t.Fatalf("got %q", h)
	}
}
