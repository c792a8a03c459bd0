package model

import "time"

// UnknownPerformer stands in for an empty billing so that identity hashing
// always has a headliner to work with.
const UnknownPerformer = "Unknown Performer"

// RawEvent is what an adapter extracts from one listing entry, before any
// timezone or price interpretation. Text fields are kept as found.
type RawEvent struct {
	Source    string // adapter id
	VenueID   string
	VenueName string
	VenueURL  string

	EventURL  string
	TicketURL string

	// StartText is either a machine-readable timestamp (RFC 3339) or free
	// text such as "Tue Oct 7, 2025 Show: 8pm".
	StartText string
	Timezone  string

	// DefaultShowTime ("19:00") applies when StartText carries a date only.
	DefaultShowTime string

	// Artists is in billing order; Artists[0] is the headliner.
	Artists []string

	PriceText string
	DoorsText string
	AgeText   string
	Tags      []string

	Extra map[string]any
}

// Event is the canonical, normalized record.
type Event struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	VenueID   string `json:"venue_id"`
	VenueName string `json:"venue_name,omitempty"`
	VenueURL  string `json:"venue_url,omitempty"`

	StartLocal *time.Time `json:"start_local,omitempty"`
	StartUTC   time.Time  `json:"start_utc"`
	DoorsLocal *time.Time `json:"doors_local,omitempty"`

	Artists []string `json:"artists"`
	AllAges *bool    `json:"is_all_ages,omitempty"`

	TicketURL string `json:"ticket_url,omitempty"`
	EventURL  string `json:"event_url,omitempty"`

	PriceMinCents *int64 `json:"price_min_cents,omitempty"`
	PriceMaxCents *int64 `json:"price_max_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`

	// Tags is a set; stored sorted and de-duplicated.
	Tags []string `json:"tags"`

	ScrapedAtUTC time.Time      `json:"scraped_at_utc"`
	Extra        map[string]any `json:"extra"`
}

// Headliner returns the first billed artist.
func (e Event) Headliner() string {
	if len(e.Artists) == 0 {
		return UnknownPerformer
	}
	return e.Artists[0]
}

// StoredEventRecord is the persisted wrapper around an Event payload.
type StoredEventRecord struct {
	ID           string     `json:"id"`
	Event        Event      `json:"event"`
	FirstSeenUTC time.Time  `json:"first_seen_utc"`
	LastSeenUTC  time.Time  `json:"last_seen_utc"`
	PostedAtUTC  *time.Time `json:"posted_at_utc,omitempty"`
}

// PendingEntry is computed at query time and never persisted.
type PendingEntry struct {
	Event     Event `json:"event"`
	DaysUntil int   `json:"days_until"`
}

// ArtistProfile is a remembered artist-directory lookup, keyed by the
// folded artist name. Found is false for names the directory does not
// know (or knows without genres), so misses are remembered too.
type ArtistProfile struct {
	Key            string    `json:"key"`
	Found          bool      `json:"found"`
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name,omitempty"`
	Disambiguation string    `json:"disambiguation,omitempty"`
	Genres         []string  `json:"genres,omitempty"`
	FetchedUTC     time.Time `json:"fetched_utc"`
}
