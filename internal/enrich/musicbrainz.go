// Package enrich adds artist metadata from MusicBrainz to events before
// drafts are composed.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	appLog "showscrape/internal/log"
	"showscrape/internal/metrics"
	"showscrape/internal/model"
	"showscrape/internal/store"
)

const defaultBaseURL = "https://musicbrainz.org/ws/2"

// Profile is the subset of a MusicBrainz artist that is merged into events.
type Profile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Disambiguation string   `json:"disambiguation,omitempty"`
	Genres         []string `json:"genres"`
}

// ProfileStore keeps lookups across restarts. store.Store satisfies it.
type ProfileStore interface {
	GetArtist(ctx context.Context, key string) (model.ArtistProfile, error)
	PutArtist(ctx context.Context, p model.ArtistProfile) error
}

type Options struct {
	BaseURL   string
	UserAgent string
	// RatePerSecond bounds outgoing requests; MusicBrainz asks for 1/s.
	RatePerSecond float64
	CacheTTL      time.Duration
	MaxEntries    int
	Timeout       time.Duration
	Client        *http.Client
	Metrics       *metrics.Metrics
	// Store is optional; persisted lookups younger than CacheTTL are reused.
	Store ProfileStore
	Now   func() time.Time
}

// Client looks up artists with a shared limiter and cache.
type Client struct {
	base    string
	ua      string
	http    *http.Client
	limiter *rate.Limiter
	// A nil *Profile is a cached miss.
	cache   *expirable.LRU[string, *Profile]
	ttl     time.Duration
	store   ProfileStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "showscrape/0.1"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		ua:      opts.UserAgent,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		cache:   expirable.NewLRU[string, *Profile](opts.MaxEntries, nil, opts.CacheTTL),
		ttl:     opts.CacheTTL,
		store:   opts.Store,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Enrich merges the headliner's genres into a copy of ev. Events whose
// headliner has no genres come back unchanged.
func (c *Client) Enrich(ctx context.Context, ev model.Event) (model.Event, error) {
	name := strings.TrimSpace(ev.Headliner())
	if name == "" || name == model.UnknownPerformer {
		return ev, nil
	}
	p, err := c.Lookup(ctx, name)
	if err != nil || p == nil {
		return ev, err
	}
	return merge(ev, p), nil
}

// Lookup returns nil, nil when MusicBrainz knows no genres for name.
func (c *Client) Lookup(ctx context.Context, name string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := c.cache.Get(key); ok {
		c.metrics.Lookup("cached")
		return p, nil
	}
	if p, ok := c.loadStored(ctx, key); ok {
		c.cache.Add(key, p)
		c.metrics.Lookup("cached")
		return p, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", fmt.Sprintf("artist:%q", strings.ReplaceAll(name, `"`, " ")))
	q.Set("fmt", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/artist/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Lookup("error")
		return nil, fmt.Errorf("musicbrainz: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.Lookup("error")
		return nil, fmt.Errorf("musicbrainz: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.Lookup("error")
		return nil, fmt.Errorf("musicbrainz: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.metrics.Lookup("error")
		return nil, fmt.Errorf("musicbrainz: decode: %w", err)
	}

	var p *Profile
	if len(out.Artists) > 0 {
		a := out.Artists[0]
		if g := a.genres(); len(g) > 0 {
			p = &Profile{ID: a.ID, Name: a.Name, Disambiguation: a.Disambiguation, Genres: g}
		}
	}
	c.cache.Add(key, p)
	c.saveStored(ctx, key, p)
	if p == nil {
		c.metrics.Lookup("miss")
	} else {
		c.metrics.Lookup("hit")
	}
	return p, nil
}

func (c *Client) loadStored(ctx context.Context, key string) (*Profile, bool) {
	if c.store == nil {
		return nil, false
	}
	rec, err := c.store.GetArtist(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			appLog.Warn("artist profile load failed", "artist", key, "err", err.Error())
		}
		return nil, false
	}
	if c.now().Sub(rec.FetchedUTC) >= c.ttl {
		return nil, false
	}
	if !rec.Found {
		return nil, true
	}
	return &Profile{ID: rec.ID, Name: rec.Name, Disambiguation: rec.Disambiguation, Genres: rec.Genres}, true
}

func (c *Client) saveStored(ctx context.Context, key string, p *Profile) {
	if c.store == nil {
		return
	}
	rec := model.ArtistProfile{Key: key, FetchedUTC: c.now().UTC()}
	if p != nil {
		rec.Found = true
		rec.ID, rec.Name, rec.Disambiguation, rec.Genres = p.ID, p.Name, p.Disambiguation, p.Genres
	}
	if err := c.store.PutArtist(ctx, rec); err != nil {
		appLog.Warn("artist profile save failed", "artist", key, "err", err.Error())
	}
}

type searchResponse struct {
	Artists []artistDoc `json:"artists"`
}

type artistDoc struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Disambiguation string   `json:"disambiguation"`
	Genres         []tagDoc `json:"genres"`
	Tags           []tagDoc `json:"tags"`
}

type tagDoc struct {
	Name string `json:"name"`
}

// genres prefers curated genres, then folksonomy tags, keeping first
// spelling of case-insensitive duplicates.
func (a artistDoc) genres() []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range append(append([]tagDoc{}, a.Genres...), a.Tags...) {
		name := strings.TrimSpace(t.Name)
		k := strings.ToLower(name)
		if name == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, name)
	}
	return out
}

func merge(ev model.Event, p *Profile) model.Event {
	set := map[string]bool{}
	for _, t := range ev.Tags {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, g := range p.Genres {
		set[strings.ToLower(g)] = true
	}
	delete(set, "")
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	ev.Tags = tags

	extra := make(map[string]any, len(ev.Extra)+1)
	for k, v := range ev.Extra {
		extra[k] = v
	}
	extra["musicbrainz"] = map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"disambiguation": p.Disambiguation,
		"genres":         p.Genres,
	}
	ev.Extra = extra
	return ev
}
