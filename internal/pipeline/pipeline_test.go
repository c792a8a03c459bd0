package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"showscrape/internal/compose"
	"showscrape/internal/model"
	"showscrape/internal/normalize"
	"showscrape/internal/scrape"
	"showscrape/internal/store"
)

type fakeAdapter struct {
	id    string
	fetch func(ctx context.Context) ([]model.RawEvent, error)
}

func (f *fakeAdapter) Info() scrape.Info { return scrape.Info{ID: f.id, VenueID: f.id, Kind: "json"} }

func (f *fakeAdapter) FetchEvents(ctx context.Context) ([]model.RawEvent, error) {
	return f.fetch(ctx)
}

func staticAdapter(id string, evs ...model.RawEvent) *fakeAdapter {
	return &fakeAdapter{id: id, fetch: func(context.Context) ([]model.RawEvent, error) { return evs, nil }}
}

func raw(venue, artist, start string) model.RawEvent {
	return model.RawEvent{
		Source:    venue,
		VenueID:   venue,
		VenueName: strings.ToUpper(venue),
		StartText: start,
		Timezone:  "America/Boise",
		Artists:   []string{artist},
		TicketURL: "https://tix.example/" + artist,
	}
}

var testNow = time.Date(2025, 10, 1, 18, 0, 0, 0, time.UTC)

func newService(t *testing.T, st store.Store, adapters ...scrape.Adapter) *Service {
	t.Helper()
	n, err := normalize.New(normalize.Options{
		DefaultZone: time.UTC,
		Now:         func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		st, err = store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "events.sqlite"),
			store.Options{Now: func() time.Time { return testNow }})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
	}
	return NewService(Deps{
		Adapters:   adapters,
		Runner:     &Runner{Timeout: 200 * time.Millisecond, Concurrency: 2},
		Normalizer: n,
		Store:      st,
		Composer:   compose.New(compose.Options{}),
		Now:        func() time.Time { return testNow },
	})
}

func TestRunnerIsolatesFailures(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	adapters := []scrape.Adapter{
		staticAdapter("good", raw("good", "Band", "2025-10-07T20:00:00-06:00")),
		&fakeAdapter{id: "broken", fetch: func(context.Context) ([]model.RawEvent, error) {
			return nil, errors.New("connection refused")
		}},
		&fakeAdapter{id: "stuck", fetch: func(context.Context) ([]model.RawEvent, error) {
			<-block // ignores its context
			return nil, nil
		}},
		&fakeAdapter{id: "panics", fetch: func(context.Context) ([]model.RawEvent, error) {
			panic("bad selector")
		}},
	}
	r := &Runner{Timeout: 100 * time.Millisecond, Concurrency: 4}

	start := time.Now()
	results := r.Run(context.Background(), adapters)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %s; timeout not enforced", elapsed)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Err != nil || len(results[0].Events) != 1 {
		t.Errorf("good adapter = %+v", results[0])
	}
	if results[1].Err == nil || results[1].Adapter.ID != "broken" {
		t.Errorf("broken adapter = %+v", results[1])
	}
	if !errors.Is(results[2].Err, ErrAdapterTimeout) {
		t.Errorf("stuck adapter err = %v", results[2].Err)
	}
	if results[3].Err == nil || !strings.Contains(results[3].Err.Error(), "panic") {
		t.Errorf("panicking adapter err = %v", results[3].Err)
	}
}

func TestRunIngestionSummary(t *testing.T) {
	svc := newService(t, nil,
		staticAdapter("fox",
			raw("fox", "Built to Spill", "2025-10-07T20:00:00-06:00"),
			raw("fox", "Nobody", "TBA"),
			raw("fox", "Late Band", "Oct 10, 2025 9pm"),
		),
		&fakeAdapter{id: "down", fetch: func(context.Context) ([]model.RawEvent, error) {
			return nil, &scrape.StatusError{URL: "https://down.example", Status: 503}
		}},
	)

	sum, err := svc.RunIngestion(context.Background())
	if err != nil {
		t.Fatalf("RunIngestion: %v", err)
	}
	if sum.RunID == "" || sum.Adapters != 2 {
		t.Errorf("summary header = %+v", sum)
	}
	if sum.Fetched != 3 || sum.Normalized != 2 || sum.Dropped != 1 || sum.Stored != 2 {
		t.Errorf("counts = fetched %d normalized %d dropped %d stored %d",
			sum.Fetched, sum.Normalized, sum.Dropped, sum.Stored)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Adapter != "down" || !strings.Contains(sum.Failures[0].Error, "503") {
		t.Errorf("failures = %+v", sum.Failures)
	}
	if len(sum.Drops) != 1 || sum.Drops[0].Artist != "Nobody" {
		t.Errorf("drops = %+v", sum.Drops)
	}

	// A second run re-upserts the same identities.
	if _, err := svc.RunIngestion(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := svc.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 2 || len(b[model.BucketLT1W]) != 1 || len(b[model.BucketLT2W]) != 1 {
		t.Fatalf("pending after two runs = %+v", b)
	}
}

func TestRunVenue(t *testing.T) {
	var calls atomic.Int32
	other := &fakeAdapter{id: "other", fetch: func(context.Context) ([]model.RawEvent, error) {
		calls.Add(1)
		return nil, nil
	}}
	svc := newService(t, nil, staticAdapter("fox", raw("fox", "Band", "2025-10-07T20:00:00-06:00")), other)

	sum, err := svc.RunVenue(context.Background(), "fox")
	if err != nil || sum.Stored != 1 || sum.Adapters != 1 {
		t.Fatalf("RunVenue = %+v, %v", sum, err)
	}
	if calls.Load() != 0 {
		t.Fatal("other adapters must not run")
	}
	if _, err := svc.RunVenue(context.Background(), "nope"); !errors.Is(err, ErrUnknownVenue) {
		t.Fatalf("unknown venue err = %v", err)
	}
	if got := svc.ListVenues(); len(got) != 2 || got[0].ID != "fox" {
		t.Fatalf("venues = %+v", got)
	}
}

type failingStore struct{ store.Store }

func (failingStore) Upsert(context.Context, model.Event) error { return errors.New("disk full") }

func TestStoreFailureAbortsRun(t *testing.T) {
	svc := newService(t, failingStore{},
		staticAdapter("fox",
			raw("fox", "One", "2025-10-07T20:00:00-06:00"),
			raw("fox", "Two", "2025-10-08T20:00:00-06:00"),
		))
	sum, err := svc.RunIngestion(context.Background())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("err = %v, want ErrStore", err)
	}
	if sum.Normalized != 1 || sum.Stored != 0 || sum.Fetched != 2 {
		t.Fatalf("partial summary = %+v", sum)
	}
}

type tagEnricher struct{}

func (tagEnricher) Enrich(_ context.Context, ev model.Event) (model.Event, error) {
	ev.Tags = append([]string{"shoegaze"}, ev.Tags...)
	return ev, nil
}

func TestPreviewDraftAndMarkPosted(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer llm.Close()

	svc := newService(t, nil, staticAdapter("fox", raw("fox", "Built to Spill", "2025-10-07T20:00:00-06:00")))
	svc.composer = compose.New(compose.Options{Endpoint: llm.URL})
	svc.enricher = tagEnricher{}

	if _, err := svc.RunIngestion(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := svc.ListPending(context.Background())
	if err != nil || b.Len() != 1 {
		t.Fatalf("pending = %+v, %v", b, err)
	}
	id := b[model.BucketLT1W][0].Event.ID

	d, err := svc.PreviewDraft(context.Background(), id, compose.KindPost)
	if err != nil {
		t.Fatalf("PreviewDraft: %v", err)
	}
	if d.Source != compose.SourceFallback || !strings.Contains(d.Text, "Built to Spill") || !strings.Contains(d.Text, "Sound: shoegaze") {
		t.Fatalf("draft = %+v", d)
	}
	if _, err := svc.PreviewDraft(context.Background(), "missing", compose.KindPreview); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing draft err = %v", err)
	}

	res, err := svc.MarkPosted(context.Background(), []string{id, "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Marked) != 1 || len(res.NotFound) != 1 {
		t.Fatalf("mark result = %+v", res)
	}
	if b, _ := svc.ListPending(context.Background()); b.Len() != 0 {
		t.Fatalf("posted event still pending: %+v", b)
	}
	if _, err := svc.MarkPosted(context.Background(), nil); !errors.Is(err, ErrNoIDs) {
		t.Fatalf("empty ids err = %v", err)
	}
}
