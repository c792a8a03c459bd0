package model

import (
	"math"
	"sort"
	"time"
)

// Bucket classifies a pending event by whole days until the show.
type Bucket string

const (
	BucketDayOf Bucket = "DAY_OF" // 0
	BucketLT1W  Bucket = "LT_1W"  // [1,7)
	BucketLT2W  Bucket = "LT_2W"  // [7,14)
	BucketLT1M  Bucket = "LT_1M"  // [14,30)
	BucketLT2M  Bucket = "LT_2M"  // [30,60)
	BucketGTE2M Bucket = "GTE_2M" // [60,inf)
)

// AllBuckets lists bucket keys nearest-first.
var AllBuckets = []Bucket{BucketDayOf, BucketLT1W, BucketLT2W, BucketLT1M, BucketLT2M, BucketGTE2M}

// Buckets always carries every key, possibly with an empty slice.
type Buckets map[Bucket][]PendingEntry

// NewBuckets returns a Buckets with all keys present and empty.
func NewBuckets() Buckets {
	b := make(Buckets, len(AllBuckets))
	for _, k := range AllBuckets {
		b[k] = []PendingEntry{}
	}
	return b
}

// BucketFor maps a whole-day distance onto its bucket. Negative distances
// land in DAY_OF.
func BucketFor(daysUntil int) Bucket {
	switch {
	case daysUntil <= 0:
		return BucketDayOf
	case daysUntil < 7:
		return BucketLT1W
	case daysUntil < 14:
		return BucketLT2W
	case daysUntil < 30:
		return BucketLT1M
	case daysUntil < 60:
		return BucketLT2M
	default:
		return BucketGTE2M
	}
}

// DaysUntil is the rounded whole-day difference between start and now.
func DaysUntil(start, now time.Time) int {
	return int(math.Round(start.Sub(now).Hours() / 24))
}

// Partition assigns each event whose start is at or after now to exactly
// one bucket, ordered by ascending start.
func Partition(events []Event, now time.Time) Buckets {
	out := NewBuckets()
	for _, ev := range events {
		if ev.StartUTC.Before(now) {
			continue
		}
		days := DaysUntil(ev.StartUTC, now)
		k := BucketFor(days)
		out[k] = append(out[k], PendingEntry{Event: ev, DaysUntil: days})
	}
	for _, k := range AllBuckets {
		entries := out[k]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Event.StartUTC.Equal(entries[j].Event.StartUTC) {
				return entries[i].Event.ID < entries[j].Event.ID
			}
			return entries[i].Event.StartUTC.Before(entries[j].Event.StartUTC)
		})
	}
	return out
}

// Len counts entries across all buckets.
func (b Buckets) Len() int {
	n := 0
	for _, entries := range b {
		n += len(entries)
	}
	return n
}
