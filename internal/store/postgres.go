package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"showscrape/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	payload        JSONB NOT NULL,
	start_utc      TIMESTAMPTZ NOT NULL,
	first_seen_utc TIMESTAMPTZ NOT NULL,
	last_seen_utc  TIMESTAMPTZ NOT NULL,
	posted_at_utc  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS events_pending_idx ON events (start_utc) WHERE posted_at_utc IS NULL;
CREATE TABLE IF NOT EXISTS artist_profiles (
	key         TEXT PRIMARY KEY,
	payload     JSONB NOT NULL,
	fetched_utc TIMESTAMPTZ NOT NULL
);
`

// Postgres is the shared-database backend.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// OpenPostgres connects a pool and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, opts Options) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: pg-dsn parse: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: pg connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate postgres: %w", err)
	}
	return &Postgres{pool: pool, opts: opts}, nil
}

func (p *Postgres) Upsert(ctx context.Context, ev model.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	now := p.opts.now()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO events (id, payload, start_utc, first_seen_utc, last_seen_utc)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			payload       = EXCLUDED.payload,
			start_utc     = EXCLUDED.start_utc,
			last_seen_utc = EXCLUDED.last_seen_utc`,
		ev.ID, payload, ev.StartUTC.UTC(), now)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (model.Event, error) {
	rec, err := p.Record(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	return rec.Event, nil
}

func (p *Postgres) Record(ctx context.Context, id string) (model.StoredEventRecord, error) {
	var (
		payload     []byte
		first, last time.Time
		posted      *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT payload, first_seen_utc, last_seen_utc, posted_at_utc FROM events WHERE id = $1`, id,
	).Scan(&payload, &first, &last, &posted)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StoredEventRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.StoredEventRecord{}, fmt.Errorf("store: get %s: %w", id, err)
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		return model.StoredEventRecord{}, err
	}
	rec := model.StoredEventRecord{
		ID:           id,
		Event:        ev,
		FirstSeenUTC: first.UTC(),
		LastSeenUTC:  last.UTC(),
	}
	if posted != nil {
		t := posted.UTC()
		rec.PostedAtUTC = &t
	}
	return rec, nil
}

func (p *Postgres) PendingBuckets(ctx context.Context, now time.Time) (model.Buckets, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT payload FROM events
		 WHERE posted_at_utc IS NULL AND start_utc >= $1
		 ORDER BY start_utc, id`,
		now.UTC().Truncate(time.Second))
	if err != nil {
		return nil, fmt.Errorf("store: pending query: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: pending scan: %w", err)
		}
		ev, err := decodeEvent(payload)
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

// MarkPosted sends one UPDATE per id in a single batch round trip.
func (p *Postgres) MarkPosted(ctx context.Context, ids []string) (MarkResult, error) {
	res := MarkResult{Marked: []string{}, NotFound: []string{}}
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return res, nil
	}
	now := p.opts.now()

	b := &pgx.Batch{}
	for _, id := range ids {
		b.Queue(`UPDATE events SET posted_at_utc = COALESCE(posted_at_utc, $1) WHERE id = $2`, now, id)
	}
	br := p.pool.SendBatch(ctx, b)
	defer br.Close()

	for _, id := range ids {
		tag, err := br.Exec()
		if err != nil {
			return res, fmt.Errorf("store: mark posted %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		res.Marked = append(res.Marked, id)
	}
	return res, nil
}

func (p *Postgres) GetArtist(ctx context.Context, key string) (model.ArtistProfile, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM artist_profiles WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ArtistProfile{}, fmt.Errorf("%w: artist %s", ErrNotFound, key)
	}
	if err != nil {
		return model.ArtistProfile{}, fmt.Errorf("store: get artist %s: %w", key, err)
	}
	return decodeArtist(payload)
}

func (p *Postgres) PutArtist(ctx context.Context, a model.ArtistProfile) error {
	payload, err := encodeArtist(a)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO artist_profiles (key, payload, fetched_utc) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, fetched_utc = EXCLUDED.fetched_utc`,
		a.Key, payload, a.FetchedUTC.UTC())
	if err != nil {
		return fmt.Errorf("store: put artist %s: %w", a.Key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
