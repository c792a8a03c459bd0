package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"showscrape/internal/compose"
	"showscrape/internal/config"
	"showscrape/internal/enrich"
	appLog "showscrape/internal/log"
	"showscrape/internal/metrics"
	"showscrape/internal/normalize"
	"showscrape/internal/pipeline"
	"showscrape/internal/scrape"
	"showscrape/internal/store"
	"showscrape/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	logLevel   string
	once       bool
	venue      string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envPath); err != nil {
		appLog.Error("failed to apply environment", err, "env_path", flags.envPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("showscrape starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"store", conf.Store.Driver,
		"venues", len(conf.Venues),
		"refresh", conf.Refresh,
		"musicbrainz", conf.MusicBrainz.Enabled,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	m := metrics.New()
	st, err := store.Open(ctx, conf.Store, store.Options{})
	if err != nil {
		appLog.Error("failed to open store", err, "driver", conf.Store.Driver)
		os.Exit(1)
	}
	defer st.Close()

	svc, err := buildService(conf, st, m)
	if err != nil {
		appLog.Error("failed to build pipeline", err)
		os.Exit(1)
	}

	if flags.once {
		code := runOnce(ctx, svc, flags.venue)
		st.Close()
		os.Exit(code)
	}

	if conf.Refresh != "" {
		c, err := startSchedule(ctx, conf, svc)
		if err != nil {
			appLog.Error("invalid refresh schedule", err, "refresh", conf.Refresh)
			os.Exit(1)
		}
		defer c.Stop()
	}

	srv := web.NewServer(svc, web.Options{
		BasicAuth:   conf.BasicAuth,
		CORSOrigins: conf.CORSOrigins,
		Metrics:     m.Handler(),
	})
	if err := web.StartServer(ctx, conf.Listen, srv.Handler()); err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}
	appLog.Info("showscrape exiting")
}

func buildService(conf *config.Config, st store.Store, m *metrics.Metrics) (*pipeline.Service, error) {
	zone, ok := normalize.ResolveZone(conf.Timezone, time.UTC)
	if !ok {
		appLog.Warn("unknown default timezone; using UTC", "timezone", conf.Timezone)
	}

	fetcher := scrape.NewFetcher(scrape.FetchOptions{
		CacheDir:  conf.Runner.CacheDir,
		UserAgent: conf.Runner.UserAgent,
		Timeout:   conf.Runner.Timeout,
		Retries:   conf.Runner.Retries,
		Backoff:   conf.Runner.Backoff,
	})
	deps := scrape.Deps{Fetcher: fetcher}
	for _, v := range conf.Venues {
		if v.Render {
			deps.Renderer = &scrape.ChromeRenderer{Timeout: conf.Runner.Timeout, UserAgent: conf.Runner.UserAgent}
			break
		}
	}
	adapters, err := scrape.NewRegistry(conf.Venues, deps)
	if err != nil {
		return nil, err
	}

	rules := make([]normalize.TagRule, 0, len(conf.TagRules))
	for _, r := range conf.TagRules {
		rules = append(rules, normalize.TagRule(r))
	}
	norm, err := normalize.New(normalize.Options{
		DefaultZone:     zone,
		DefaultCurrency: conf.Currency,
		DefaultShowTime: conf.DefaultShowTime,
		TagRules:        rules,
	})
	if err != nil {
		return nil, err
	}

	composer := compose.New(compose.Options{
		Endpoint:    conf.LLM.Endpoint,
		Model:       conf.LLM.Model,
		APIKey:      conf.LLM.APIKey,
		Temperature: conf.LLM.Temperature,
		MaxTokens:   conf.LLM.MaxTokens,
		MaxChars:    conf.LLM.MaxChars,
		Style:       conf.LLM.Style,
		Timeout:     conf.LLM.Timeout,
		Location:    zone,
	})

	var enricher pipeline.Enricher
	if mb := conf.MusicBrainz; mb.Enabled {
		enricher = enrich.New(enrich.Options{
			BaseURL:       mb.BaseURL,
			UserAgent:     mb.UserAgent,
			RatePerSecond: mb.RatePerSecond,
			CacheTTL:      mb.CacheTTL,
			MaxEntries:    mb.MaxEntries,
			Metrics:       m,
			Store:         st,
		})
	}

	return pipeline.NewService(pipeline.Deps{
		Adapters: adapters,
		Runner: &pipeline.Runner{
			Timeout:     conf.Runner.Timeout,
			Concurrency: conf.Runner.Concurrency,
			Metrics:     m,
		},
		Normalizer: norm,
		Store:      st,
		Composer:   composer,
		Enricher:   enricher,
		Metrics:    m,
	}), nil
}

// runOnce performs one ingestion, prints the summary as JSON and returns
// the process exit code.
func runOnce(ctx context.Context, svc *pipeline.Service, venue string) int {
	var (
		sum pipeline.RunSummary
		err error
	)
	if venue != "" {
		sum, err = svc.RunVenue(ctx, venue)
	} else {
		sum, err = svc.RunIngestion(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)

	if err != nil {
		appLog.Error("ingestion failed", err)
		return 1
	}
	if sum.Adapters > 0 && len(sum.Failures) == sum.Adapters {
		return 2
	}
	return 0
}

// startSchedule triggers ingestion on the configured cron expression.
// Overlapping runs are skipped.
func startSchedule(ctx context.Context, conf *config.Config, svc *pipeline.Service) (*cron.Cron, error) {
	loc, _ := normalize.ResolveZone(conf.Timezone, time.Local)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := c.AddFunc(conf.Refresh, func() {
		if _, err := svc.RunIngestion(ctx); err != nil {
			appLog.Error("scheduled ingestion failed", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("refresh schedule started", "refresh", conf.Refresh, "timezone", loc.String())
	return c, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./showscrape.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional dotenv file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flag.BoolVar(&cfg.once, "once", false, "Run one ingestion, print the summary and exit")
	flag.StringVar(&cfg.venue, "venue", "", "With -once, ingest only this venue id")

	flag.Parse()

	return cfg
}
