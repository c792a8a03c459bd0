package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.Timezone != "America/Boise" || cfg.Store.Driver != "sqlite" {
		t.Fatalf("defaults = %+v", cfg)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v", fi.Mode().Perm())
	}
}

const sampleYAML = `
timezone: America/Denver
currency: usd
runner:
  timeout: 5s
  concurrency: 2
llm:
  max_chars: 280
venues:
  - id: fox-ics
    venue_id: fox
    url: https://venue.example/cal.ics
    kind: ICS
  - id: pinebox
    url: https://venue.example/
    kind: html
    default_show_time: "20:00"
    selectors:
      card: .event
      artist: h2
`

func TestLoadNormalizesVenues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Currency != "USD" || cfg.Runner.Timeout != 5*time.Second || cfg.Runner.Retries != 2 || cfg.LLM.MaxChars != 280 {
		t.Errorf("globals = %+v", cfg)
	}

	ics, ok := cfg.Venue("fox-ics")
	if !ok || ics.Kind != KindICS || ics.VenueID != "fox" || ics.Timezone != "America/Denver" || ics.HorizonDays != 120 {
		t.Errorf("ics venue = %+v", ics)
	}
	html, ok := cfg.Venue("pinebox")
	if !ok || html.VenueID != "pinebox" || html.Name != "pinebox" || html.DefaultShowTime != "20:00" {
		t.Errorf("html venue = %+v", html)
	}
	if _, ok := cfg.Venue("missing"); ok {
		t.Error("unknown venue should not be found")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues = []VenueConfig{
		{ID: "a", URL: "https://a.example", Kind: KindHTML},
		{ID: "a", URL: "https://a.example", Kind: KindICS},
		{ID: "b", Kind: "rss"},
		{ID: "c", URL: "https://c.example", Kind: KindJSON},
	}
	cfg.Store = StoreConfig{Driver: "postgres"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"selectors.card",
		"duplicate id",
		`unknown kind "rss"`,
		"url is required",
		"json.fields.start",
		"postgres driver needs dsn",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("LLM_MODEL=local-model\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MAX_TOKENS", "123")
	t.Setenv("PG_DSN", "postgres://u@localhost/db")
	// godotenv does not override variables that are already set.
	t.Setenv("LLM_MODEL", "")
	os.Unsetenv("LLM_MODEL")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(dotenv); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.LLM.Model != "local-model" || cfg.LLM.APIKey != "sk-test" || cfg.LLM.MaxTokens != 123 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Store.DSN != "postgres://u@localhost/db" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
	if err := cfg.ApplyEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing dotenv should be ignored: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Refresh = "0 */6 * * *"
	cfg.Venues = []VenueConfig{{ID: "fox", URL: "https://venue.example/cal.ics", Kind: KindICS}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Refresh != cfg.Refresh || len(got.Venues) != 1 || got.Venues[0].HorizonDays != 120 || got.LLM.Timeout != 30*time.Second {
		t.Fatalf("round trip = %+v", got)
	}
}
