package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"showscrape/internal/model"
	"showscrape/internal/store"
)

const searchBody = `{"artists":[{"id":"mbid-1","name":"Built to Spill","disambiguation":"Boise band",
  "genres":[{"name":"Indie Rock"}],
  "tags":[{"name":"indie rock"},{"name":"alternative"}]}]}`

func TestEnrichMergesGenres(t *testing.T) {
	var hits atomic.Int32
	var query, ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		query = r.URL.Query().Get("query")
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, UserAgent: "test-agent", RatePerSecond: 1000})
	ev := model.Event{
		ID:      "x",
		Artists: []string{"Built to Spill"},
		Tags:    []string{"rock"},
		Extra:   map[string]any{"uid": "1"},
	}
	got, err := c.Enrich(context.Background(), ev)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if query != `artist:"Built to Spill"` || ua != "test-agent" {
		t.Errorf("query=%q ua=%q", query, ua)
	}
	if want := []string{"alternative", "indie rock", "rock"}; !reflect.DeepEqual(got.Tags, want) {
		t.Errorf("tags = %v, want %v", got.Tags, want)
	}
	mb, ok := got.Extra["musicbrainz"].(map[string]any)
	if !ok || mb["id"] != "mbid-1" || got.Extra["uid"] != "1" {
		t.Errorf("extra = %v", got.Extra)
	}
	if _, touched := ev.Extra["musicbrainz"]; touched || len(ev.Tags) != 1 {
		t.Error("input event was mutated")
	}

	// Second lookup, differently cased, is served from cache.
	if _, err := c.Lookup(context.Background(), "BUILT TO SPILL"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestEnrichNoGenresAndErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s := int(status.Load()); s != http.StatusOK {
			w.WriteHeader(s)
			return
		}
		_, _ = w.Write([]byte(`{"artists":[{"id":"mbid-2","name":"Nobody"}]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, RatePerSecond: 1000})
	ev := model.Event{Artists: []string{"Nobody"}, Tags: []string{"rock"}}
	got, err := c.Enrich(context.Background(), ev)
	if err != nil || !reflect.DeepEqual(got.Tags, ev.Tags) || got.Extra != nil {
		t.Fatalf("no-genre enrich = %+v, %v", got, err)
	}

	status.Store(http.StatusServiceUnavailable)
	if _, err := c.Enrich(context.Background(), model.Event{Artists: []string{"Someone Else"}}); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}

	if got, err := c.Enrich(context.Background(), model.Event{}); err != nil || len(got.Tags) != 0 {
		t.Fatalf("unknown performer should be skipped: %+v %v", got, err)
	}
}

// countingServer answers every search with searchBody under the queried
// name and counts requests.
func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(searchBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCacheExpiryAndEviction(t *testing.T) {
	srv, hits := countingServer(t)
	ctx := context.Background()

	c := New(Options{BaseURL: srv.URL, RatePerSecond: 1000, MaxEntries: 2, CacheTTL: time.Hour})
	for _, name := range []string{"a", "b", "a", "c"} {
		if _, err := c.Lookup(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
	// "b" was least recently used when "c" arrived.
	if _, err := c.Lookup(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 4 {
		t.Fatalf("evicted entry served from cache, hits = %d", hits.Load())
	}

	short := New(Options{BaseURL: srv.URL, RatePerSecond: 1000, CacheTTL: 50 * time.Millisecond})
	if _, err := short.Lookup(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, err := short.Lookup(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 6 {
		t.Fatalf("expired entry served from cache, hits = %d", hits.Load())
	}
}

func TestLookupSurvivesRestart(t *testing.T) {
	srv, hits := countingServer(t)
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.sqlite"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	first := New(Options{BaseURL: srv.URL, RatePerSecond: 1000, Store: st})
	if p, err := first.Lookup(ctx, "Built to Spill"); err != nil || p == nil {
		t.Fatalf("Lookup = %+v, %v", p, err)
	}

	restarted := New(Options{BaseURL: srv.URL, RatePerSecond: 1000, Store: st})
	p, err := restarted.Lookup(ctx, "built to spill")
	if err != nil || p == nil || p.ID != "mbid-1" || len(p.Genres) != 2 {
		t.Fatalf("persisted Lookup = %+v, %v", p, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}

	later := New(Options{
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
		Store:         st,
		CacheTTL:      24 * time.Hour,
		Now:           func() time.Time { return time.Now().Add(48 * time.Hour) },
	})
	if _, err := later.Lookup(ctx, "Built to Spill"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Fatalf("stale profile reused, hits = %d", hits.Load())
	}
}
