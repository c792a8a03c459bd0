package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"showscrape/internal/compose"
	appLog "showscrape/internal/log"
	"showscrape/internal/metrics"
	"showscrape/internal/model"
	"showscrape/internal/normalize"
	"showscrape/internal/scrape"
	"showscrape/internal/store"
)

var (
	// ErrStore wraps persistence failures; they abort a run.
	ErrStore = errors.New("store failure")
	// ErrUnknownVenue is returned by RunVenue for an unconfigured id.
	ErrUnknownVenue = errors.New("unknown venue")
	// ErrNoIDs rejects an empty MarkPosted request.
	ErrNoIDs = errors.New("no event ids given")
)

// Enricher adds metadata to an event before drafting.
type Enricher interface {
	Enrich(ctx context.Context, ev model.Event) (model.Event, error)
}

// RunSummary reports every run, including failed ones.
type RunSummary struct {
	RunID             string           `json:"run_id"`
	Started           time.Time        `json:"started"`
	Finished          time.Time        `json:"finished"`
	Adapters          int              `json:"adapters"`
	Fetched           int              `json:"fetched"`
	Normalized        int              `json:"normalized"`
	Dropped           int              `json:"dropped"`
	Stored            int              `json:"stored"`
	TimezoneFallbacks int              `json:"timezone_fallbacks"`
	Failures          []AdapterFailure `json:"failures"`
	Drops             []Drop           `json:"drops"`
}

// AdapterFailure names an adapter that produced nothing and why.
type AdapterFailure struct {
	Adapter string `json:"adapter"`
	Error   string `json:"error"`
}

// Drop is one raw record the normalizer rejected.
type Drop struct {
	Adapter   string `json:"adapter"`
	Artist    string `json:"artist,omitempty"`
	StartText string `json:"start_text"`
	Reason    string `json:"reason"`
}

// Deps wires a Service. Enricher and Metrics are optional.
type Deps struct {
	Adapters   []scrape.Adapter
	Runner     *Runner
	Normalizer *normalize.Normalizer
	Store      store.Store
	Composer   *compose.Composer
	Enricher   Enricher
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Service is the invocation boundary over the pipeline.
type Service struct {
	adapters []scrape.Adapter
	runner   *Runner
	norm     *normalize.Normalizer
	store    store.Store
	composer *compose.Composer
	enricher Enricher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		adapters: d.Adapters,
		runner:   d.Runner,
		norm:     d.Normalizer,
		store:    d.Store,
		composer: d.Composer,
		enricher: d.Enricher,
		metrics:  d.Metrics,
		now:      d.Now,
	}
	if s.runner == nil {
		s.runner = &Runner{Metrics: d.Metrics}
	}
	if s.composer == nil {
		s.composer = compose.New(compose.Options{})
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunIngestion fetches every adapter, normalizes and upserts the results.
// The summary is returned even when a store failure aborts the run.
func (s *Service) RunIngestion(ctx context.Context) (RunSummary, error) {
	return s.ingest(ctx, s.adapters)
}

// RunVenue is RunIngestion restricted to one adapter id.
func (s *Service) RunVenue(ctx context.Context, id string) (RunSummary, error) {
	for _, a := range s.adapters {
		if a.Info().ID == id {
			return s.ingest(ctx, []scrape.Adapter{a})
		}
	}
	return RunSummary{}, fmt.Errorf("%w: %s", ErrUnknownVenue, id)
}

func (s *Service) ingest(ctx context.Context, adapters []scrape.Adapter) (RunSummary, error) {
	sum := RunSummary{
		RunID:    uuid.NewString(),
		Started:  s.now().UTC(),
		Adapters: len(adapters),
		Failures: []AdapterFailure{},
		Drops:    []Drop{},
	}
	appLog.Info("ingestion started", "run", sum.RunID, "adapters", len(adapters))

	err := s.process(ctx, s.runner.Run(ctx, adapters), &sum)

	sum.Finished = s.now().UTC()
	s.metrics.Events("fetched", sum.Fetched)
	s.metrics.Events("normalized", sum.Normalized)
	s.metrics.Events("dropped", sum.Dropped)
	s.metrics.Events("stored", sum.Stored)
	s.metrics.RunFinished(sum.Finished)

	if err != nil {
		appLog.Error("ingestion aborted", err, "run", sum.RunID, "stored", sum.Stored)
		return sum, err
	}
	appLog.Info("ingestion finished",
		"run", sum.RunID,
		"fetched", sum.Fetched,
		"normalized", sum.Normalized,
		"dropped", sum.Dropped,
		"stored", sum.Stored,
		"failed_adapters", len(sum.Failures),
	)
	return sum, nil
}

func (s *Service) process(ctx context.Context, results []AdapterResult, sum *RunSummary) error {
	for _, res := range results {
		if res.Err != nil {
			sum.Failures = append(sum.Failures, AdapterFailure{Adapter: res.Adapter.ID, Error: res.Err.Error()})
			continue
		}
		sum.Fetched += len(res.Events)

		for _, raw := range res.Events {
			out, err := s.norm.Normalize(raw)
			if err != nil {
				sum.Dropped++
				d := Drop{Adapter: res.Adapter.ID, StartText: raw.StartText, Reason: err.Error()}
				if len(raw.Artists) > 0 {
					d.Artist = raw.Artists[0]
				}
				sum.Drops = append(sum.Drops, d)
				appLog.Warn("record dropped", "adapter", d.Adapter, "artist", d.Artist, "start", d.StartText, "err", d.Reason)
				continue
			}
			sum.Normalized++
			if out.TimezoneFallback {
				sum.TimezoneFallbacks++
				s.metrics.TimezoneFallback()
			}
			if err := s.store.Upsert(ctx, out.Event); err != nil {
				return fmt.Errorf("%w: %w", ErrStore, err)
			}
			sum.Stored++
		}
	}
	return nil
}

// ListVenues describes the configured adapters.
func (s *Service) ListVenues() []scrape.Info {
	out := make([]scrape.Info, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a.Info())
	}
	return out
}

// ListPending returns unposted upcoming events by bucket.
func (s *Service) ListPending(ctx context.Context) (model.Buckets, error) {
	b, err := s.store.PendingBuckets(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	s.metrics.Pending(b)
	return b, nil
}

// GetEvent returns the stored record for id.
func (s *Service) GetEvent(ctx context.Context, id string) (model.StoredEventRecord, error) {
	rec, err := s.store.Record(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return rec, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return rec, err
}

// PreviewDraft composes a draft for a stored event. Enrichment and
// completion failures degrade the draft; only a missing event or a store
// failure is an error.
func (s *Service) PreviewDraft(ctx context.Context, id string, kind compose.Kind) (compose.Draft, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return compose.Draft{}, err
		}
		return compose.Draft{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if s.enricher != nil {
		enriched, err := s.enricher.Enrich(ctx, ev)
		if err != nil {
			appLog.Warn("enrich failed", "event", id, "err", err.Error())
		} else {
			ev = enriched
		}
	}
	d := s.composer.Compose(ctx, ev, kind)
	s.metrics.Draft(string(kind), d.Source)
	return d, nil
}

// MarkPosted records publication for each id independently.
func (s *Service) MarkPosted(ctx context.Context, ids []string) (store.MarkResult, error) {
	if len(ids) == 0 {
		return store.MarkResult{}, ErrNoIDs
	}
	res, err := s.store.MarkPosted(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStore, err)
	}
	appLog.Info("marked posted", "marked", len(res.Marked), "not_found", len(res.NotFound))
	return res, nil
}
