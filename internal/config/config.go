package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Adapter kinds.
const (
	KindHTML = "html"
	KindICS  = "ics"
	KindJSON = "json"
)

// Selectors are CSS selectors evaluated relative to one listing card.
// Only Card is required; missing sub-elements yield empty fields.
type Selectors struct {
	Card    string `yaml:"card" json:"card"`
	Artist  string `yaml:"artist" json:"artist"`
	Openers string `yaml:"openers" json:"openers"`
	Date    string `yaml:"date" json:"date"`
	Time    string `yaml:"time" json:"time"`
	Doors   string `yaml:"doors" json:"doors"`
	Age     string `yaml:"age" json:"age"`
	Ticket  string `yaml:"ticket" json:"ticket"`
	RSVP    string `yaml:"rsvp" json:"rsvp"`
	Detail  string `yaml:"detail" json:"detail"`
	Price   string `yaml:"price" json:"price"`
	Tags    string `yaml:"tags" json:"tags"`
	Venue   string `yaml:"venue" json:"venue"`
}

// JSONFields maps canonical raw fields onto keys of a JSON feed item.
// Dotted keys walk nested objects ("dates.start").
type JSONFields struct {
	Artists   string `yaml:"artists" json:"artists"`
	Start     string `yaml:"start" json:"start"`
	TicketURL string `yaml:"ticket_url" json:"ticket_url"`
	EventURL  string `yaml:"event_url" json:"event_url"`
	Price     string `yaml:"price" json:"price"`
	Doors     string `yaml:"doors" json:"doors"`
	Age       string `yaml:"age" json:"age"`
	Tags      string `yaml:"tags" json:"tags"`
	VenueName string `yaml:"venue_name" json:"venue_name"`
}

// JSONFeed configures the JSON/API adapter.
type JSONFeed struct {
	// Items is the dotted path to the array of events; empty accepts a bare
	// array or a {"events": [...]} / {"data": [...]} wrapper.
	Items  string     `yaml:"items" json:"items"`
	Fields JSONFields `yaml:"fields" json:"fields"`
}

// VenueConfig describes one scrape source.
type VenueConfig struct {
	// ID names the adapter; it is the event "source".
	ID string `yaml:"id" json:"id"`
	// VenueID is the identity used for hashing. Defaults to ID, so several
	// sources can feed one venue.
	VenueID  string `yaml:"venue_id,omitempty" json:"venue_id,omitempty"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Kind     string `yaml:"kind" json:"kind"`
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	// Render fetches HTML through headless Chromium for script-built pages.
	Render bool `yaml:"render,omitempty" json:"render,omitempty"`
	// VenueMatch filters multi-venue pages on the Venue selector text.
	VenueMatch      string `yaml:"venue_match,omitempty" json:"venue_match,omitempty"`
	DefaultShowTime string `yaml:"default_show_time,omitempty" json:"default_show_time,omitempty"`
	// HorizonDays bounds recurrence expansion for ICS feeds.
	HorizonDays int `yaml:"horizon_days,omitempty" json:"horizon_days,omitempty"`

	Selectors Selectors `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	JSON      JSONFeed  `yaml:"json,omitempty" json:"json,omitempty"`
}

// RunnerConfig bounds the concurrent fetch stage.
type RunnerConfig struct {
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	Retries     int           `yaml:"retries" json:"retries"`
	Backoff     time.Duration `yaml:"backoff" json:"backoff"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	// CacheDir holds conditional-GET metadata per URL. Empty disables it.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver" json:"driver"` // sqlite | postgres
	Path     string `yaml:"path" json:"path"`
	DSN      string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	MaxConns int    `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
}

// LLMConfig configures the OpenAI-compatible draft endpoint.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key,omitempty" json:"-"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	MaxChars    int           `yaml:"max_chars" json:"max_chars"`
	Style       string        `yaml:"style" json:"style"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// MusicBrainzConfig configures optional artist enrichment for drafts.
type MusicBrainzConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	MaxEntries    int           `yaml:"max_entries" json:"max_entries"`
}

// TagRule adds Tags when every word in When appears in the event text.
type TagRule struct {
	When []string `yaml:"when" json:"when"`
	Tags []string `yaml:"tags" json:"tags"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen      string           `yaml:"listen" json:"listen"`
	BasicAuth   *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
	CORSOrigins []string         `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`
	LogLevel    string           `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA zone used when a venue's zone is missing or unknown.
	Timezone        string `yaml:"timezone" json:"timezone"`
	Currency        string `yaml:"currency" json:"currency"`
	DefaultShowTime string `yaml:"default_show_time" json:"default_show_time"`

	// Refresh is an optional cron schedule for ingestion. Empty means runs
	// are only triggered externally.
	Refresh string `yaml:"refresh" json:"refresh"`

	Runner      RunnerConfig      `yaml:"runner" json:"runner"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	MusicBrainz MusicBrainzConfig `yaml:"musicbrainz" json:"musicbrainz"`
	TagRules    []TagRule         `yaml:"tag_rules,omitempty" json:"tag_rules,omitempty"`
	Venues      []VenueConfig     `yaml:"venues" json:"venues"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Boise"
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.DefaultShowTime == "" {
		c.DefaultShowTime = "19:00"
	}

	r := &c.Runner
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 4
	}
	if r.Retries <= 0 {
		r.Retries = 2
	}
	if r.Backoff <= 0 {
		r.Backoff = 500 * time.Millisecond
	}
	if r.UserAgent == "" {
		r.UserAgent = "showscrape/0.1"
	}

	s := &c.Store
	if s.Driver == "" {
		s.Driver = "sqlite"
	}
	if s.Driver == "sqlite" && s.Path == "" {
		s.Path = "./var/showscrape.sqlite"
	}
	if s.MaxConns <= 0 {
		s.MaxConns = 4
	}

	l := &c.LLM
	if l.Endpoint == "" {
		l.Endpoint = "http://127.0.0.1:1234/v1"
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.Temperature == 0 {
		l.Temperature = 0.2
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 5000
	}
	if l.MaxChars <= 0 {
		l.MaxChars = 2000
	}
	if l.Style == "" {
		l.Style = "concise"
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}

	m := &c.MusicBrainz
	if m.BaseURL == "" {
		m.BaseURL = "https://musicbrainz.org/ws/2"
	}
	if m.UserAgent == "" {
		m.UserAgent = "showscrape/0.1 (https://example.invalid/showscrape)"
	}
	if m.RatePerSecond <= 0 {
		m.RatePerSecond = 1
	}
	if m.CacheTTL <= 0 {
		m.CacheTTL = 24 * time.Hour
	}
	if m.MaxEntries <= 0 {
		m.MaxEntries = 1000
	}

	if c.Venues == nil {
		c.Venues = []VenueConfig{}
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
		if v.VenueID == "" {
			v.VenueID = v.ID
		}
		if v.Name == "" {
			v.Name = v.ID
		}
		if v.Timezone == "" {
			v.Timezone = c.Timezone
		}
		if v.DefaultShowTime == "" {
			v.DefaultShowTime = c.DefaultShowTime
		}
		if v.Kind == KindICS && v.HorizonDays <= 0 {
			v.HorizonDays = 120
		}
	}
}

// Validate reports configuration errors the pipeline cannot recover from.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("venues[%d]: id is required", i))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Errorf("venue %q: duplicate id", v.ID))
		}
		seen[v.ID] = true
		if strings.TrimSpace(v.URL) == "" {
			errs = append(errs, fmt.Errorf("venue %q: url is required", v.ID))
		}
		switch v.Kind {
		case KindHTML:
			if strings.TrimSpace(v.Selectors.Card) == "" {
				errs = append(errs, fmt.Errorf("venue %q: html venues need selectors.card", v.ID))
			}
		case KindICS:
		case KindJSON:
			if v.JSON.Fields.Start == "" {
				errs = append(errs, fmt.Errorf("venue %q: json venues need json.fields.start", v.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("venue %q: unknown kind %q", v.ID, v.Kind))
		}
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: postgres driver needs dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// ApplyEnv loads an optional dotenv file and overrides secrets and LLM
// settings from the environment. A missing dotenv file is not an error.
func (c *Config) ApplyEnv(dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_STYLE"); v != "" {
		c.LLM.Style = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = f
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		c.Store.DSN = v
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written with 0600 perms
// and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".showscrape-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Venue returns the venue with the given id.
func (c *Config) Venue(id string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.ID == id {
			return v, true
		}
	}
	return VenueConfig{}, false
}
