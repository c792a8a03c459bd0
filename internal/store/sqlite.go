package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"showscrape/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	payload        TEXT NOT NULL,
	start_utc      TEXT NOT NULL,
	first_seen_utc TEXT NOT NULL,
	last_seen_utc  TEXT NOT NULL,
	posted_at_utc  TEXT
);
CREATE INDEX IF NOT EXISTS events_pending_idx ON events (posted_at_utc, start_utc);
CREATE TABLE IF NOT EXISTS artist_profiles (
	key         TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	fetched_utc TEXT NOT NULL
);
`

// SQLite is the default single-file backend.
type SQLite struct {
	db   *sql.DB
	opts Options
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One writer connection serializes every statement, including upserts
	// racing on the same id.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLite{db: db, opts: opts}, nil
}

func (s *SQLite) Upsert(ctx context.Context, ev model.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	now := s.opts.now().Format(seenLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, payload, start_utc, first_seen_utc, last_seen_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload       = excluded.payload,
			start_utc     = excluded.start_utc,
			last_seen_utc = excluded.last_seen_utc`,
		ev.ID, string(payload), ev.StartUTC.UTC().Format(startLayout), now, now)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", ev.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (model.Event, error) {
	rec, err := s.Record(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	return rec.Event, nil
}

func (s *SQLite) Record(ctx context.Context, id string) (model.StoredEventRecord, error) {
	var (
		payload, first, last string
		posted               sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, first_seen_utc, last_seen_utc, posted_at_utc FROM events WHERE id = ?`, id,
	).Scan(&payload, &first, &last, &posted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredEventRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.StoredEventRecord{}, fmt.Errorf("store: get %s: %w", id, err)
	}

	ev, err := decodeEvent([]byte(payload))
	if err != nil {
		return model.StoredEventRecord{}, err
	}
	rec := model.StoredEventRecord{ID: id, Event: ev}
	if rec.FirstSeenUTC, err = time.Parse(seenLayout, first); err != nil {
		return rec, fmt.Errorf("store: first_seen %s: %w", id, err)
	}
	if rec.LastSeenUTC, err = time.Parse(seenLayout, last); err != nil {
		return rec, fmt.Errorf("store: last_seen %s: %w", id, err)
	}
	if posted.Valid {
		t, err := time.Parse(seenLayout, posted.String)
		if err != nil {
			return rec, fmt.Errorf("store: posted_at %s: %w", id, err)
		}
		rec.PostedAtUTC = &t
	}
	return rec, nil
}

func (s *SQLite) PendingBuckets(ctx context.Context, now time.Time) (model.Buckets, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE posted_at_utc IS NULL AND start_utc >= ?
		ORDER BY start_utc, id`,
		now.UTC().Format(startLayout))
	if err != nil {
		return nil, fmt.Errorf("store: pending query: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: pending scan: %w", err)
		}
		ev, err := decodeEvent([]byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pending rows: %w", err)
	}
	return model.Partition(events, now), nil
}

func (s *SQLite) MarkPosted(ctx context.Context, ids []string) (MarkResult, error) {
	res := MarkResult{Marked: []string{}, NotFound: []string{}}
	now := s.opts.now().Format(seenLayout)
	for _, id := range dedupeIDs(ids) {
		r, err := s.db.ExecContext(ctx,
			`UPDATE events SET posted_at_utc = COALESCE(posted_at_utc, ?) WHERE id = ?`, now, id)
		if err != nil {
			return res, fmt.Errorf("store: mark posted %s: %w", id, err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("store: mark posted %s: %w", id, err)
		}
		if n == 0 {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		res.Marked = append(res.Marked, id)
	}
	return res, nil
}

func (s *SQLite) GetArtist(ctx context.Context, key string) (model.ArtistProfile, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM artist_profiles WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ArtistProfile{}, fmt.Errorf("%w: artist %s", ErrNotFound, key)
	}
	if err != nil {
		return model.ArtistProfile{}, fmt.Errorf("store: get artist %s: %w", key, err)
	}
	return decodeArtist([]byte(payload))
}

func (s *SQLite) PutArtist(ctx context.Context, p model.ArtistProfile) error {
	payload, err := encodeArtist(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artist_profiles (key, payload, fetched_utc) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_utc = excluded.fetched_utc`,
		p.Key, string(payload), p.FetchedUTC.UTC().Format(seenLayout))
	if err != nil {
		return fmt.Errorf("store: put artist %s: %w", p.Key, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
