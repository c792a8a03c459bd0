// Package store persists canonical events keyed by their identity hash and
// answers the pending-post queries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"showscrape/internal/config"
	"showscrape/internal/model"
)

// ErrNotFound is returned for unknown event ids and artist keys.
var ErrNotFound = errors.New("not found")

// Store is implemented by the SQLite and Postgres backends.
//
// Upsert inserts a new event or replaces the payload of an existing one,
// advancing last_seen while leaving first_seen and posted_at untouched.
// Concurrent upserts of one id are serialized by the database.
type Store interface {
	Upsert(ctx context.Context, ev model.Event) error
	Get(ctx context.Context, id string) (model.Event, error)
	Record(ctx context.Context, id string) (model.StoredEventRecord, error)
	// PendingBuckets groups unposted events starting at or after now.
	PendingBuckets(ctx context.Context, now time.Time) (model.Buckets, error)
	// MarkPosted marks each id independently. Unknown ids are reported in
	// the result, not as an error.
	MarkPosted(ctx context.Context, ids []string) (MarkResult, error)

	// GetArtist and PutArtist keep artist lookups across restarts.
	GetArtist(ctx context.Context, key string) (model.ArtistProfile, error)
	PutArtist(ctx context.Context, p model.ArtistProfile) error

	Close() error
}

// MarkResult is the per-id outcome of MarkPosted.
type MarkResult struct {
	Marked   []string `json:"marked"`
	NotFound []string `json:"not_found"`
}

// Options are shared by all backends.
type Options struct {
	// Now supplies first/last-seen and posted timestamps.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

// Open selects a backend from configuration.
func Open(ctx context.Context, cfg config.StoreConfig, opts Options) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := OpenSQLite(ctx, cfg.Path, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := OpenPostgres(ctx, cfg.DSN, cfg.MaxConns, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// startLayout is fixed-width so TEXT columns order chronologically.
const startLayout = "2006-01-02T15:04:05Z"

// seenLayout keeps nanoseconds, also fixed-width.
const seenLayout = "2006-01-02T15:04:05.000000000Z"

func encodeEvent(ev model.Event) ([]byte, error) {
	if ev.ID == "" {
		return nil, errors.New("store: event has no id")
	}
	return json.Marshal(ev)
}

func decodeEvent(payload []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("store: decode payload: %w", err)
	}
	return ev, nil
}

func encodeArtist(p model.ArtistProfile) ([]byte, error) {
	if p.Key == "" {
		return nil, errors.New("store: artist profile has no key")
	}
	return json.Marshal(p)
}

func decodeArtist(payload []byte) (model.ArtistProfile, error) {
	var p model.ArtistProfile
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("store: decode artist: %w", err)
	}
	return p, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
