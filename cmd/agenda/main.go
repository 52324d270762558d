package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"agendacal/internal/agenda"
	"agendacal/internal/cache"
	"agendacal/internal/config"
	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/resolve"
	"agendacal/internal/schedule"
	"agendacal/internal/scrape"
	"agendacal/internal/tools"
	"agendacal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	switch {
	case err != nil && conf != nil:
		// Defaults are usable even when the first-run file could not be written.
		appLog.Warn("could not write default config", "config_path", flags.configPath, "err", err)
	case err != nil:
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := config.Validate(conf); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.Init(appLog.Options{Level: conf.Log.Level, Format: conf.Log.Format})
	appLog.Info("agendacal starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_validity", conf.CacheValidity,
		"missed_window", conf.MissedWindow,
		"source", conf.Source.Kind,
		"bearer_required", conf.Auth.BearerToken != "",
		"once", flags.once,
	)

	src, err := newSource(conf, loc)
	if err != nil {
		appLog.Error("failed to create event source", err, "kind", conf.Source.Kind)
		os.Exit(1)
	}

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

	mgr := cache.New(src, cache.Options{Validity: conf.CacheValidity})
	engine := agenda.NewEngine(resolve.New(loc), agenda.Options{
		MissedWindow: conf.MissedWindow,
		DefaultLimit: conf.DefaultLimit,
	})
	svc := agenda.NewService(mgr, engine, time.Now)

	if flags.once {
		if err := runOnce(ctx, svc, mgr); err != nil {
			appLog.Error("one-shot query failed", err)
			os.Exit(1)
		}
		return
	}

	mgr.Start(ctx)

	server := web.NewServer(web.Options{
		Tools:   tools.New(svc, mgr, mgr.Validity()),
		Agenda:  svc,
		Cache:   mgr,
		Auth:    conf.Auth,
		Version: version,
	})

	sched, err := schedule.New(conf.RefreshCron, loc, mgr, conf.Source.Timeout+30*time.Second)
	if err != nil {
		appLog.Error("failed to create scheduler", err)
		os.Exit(1)
	}
	sched.Start()

	watcher := config.NewWatcher(flags.configPath, os.Getenv)
	watcher.OnChange(func(c *config.Config) {
		server.SetAuth(c.Auth)
		appLog.SetLevel(appLog.Level(c.Log.Level))
		appLog.Info("config reloaded; listen, source and timing changes need a restart")
	})
	if stop, err := watcher.Watch(); err != nil {
		appLog.Warn("config hot reload disabled", "err", err)
	} else {
		defer stop()
	}

	if err := web.StartServer(ctx, conf.Listen, server, 10*time.Second); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := sched.Stop(shutdownCtx); err != nil {
		appLog.Warn("scheduler did not stop in time", "err", err)
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		appLog.Warn("cache did not close in time", "err", err)
	}
	appLog.Info("agendacal exiting")
}

func newSource(conf *config.Config, loc *time.Location) (cache.Source, error) {
	switch conf.Source.Kind {
	case config.SourceICS:
		fetcher := ics.NewFetcher(conf.Source.ICSCacheDir, conf.Source.UserAgent, conf.Source.Timeout)
		return ics.NewFeedSource(fetcher, ics.FeedOptions{
			URL:         conf.Source.URL,
			Location:    loc,
			HorizonDays: conf.Source.HorizonDays,
		}), nil
	default:
		return scrape.New(scrape.Options{
			URL:        conf.Source.URL,
			UserAgent:  conf.Source.UserAgent,
			DefaultDay: conf.Source.DefaultDay,
			Timeout:    conf.Source.Timeout,
		})
	}
}

// runOnce fetches the agenda, prints every query result as JSON and exits.
func runOnce(ctx context.Context, svc *agenda.Service, mgr *cache.Manager) error {
	upcoming, err := svc.Upcoming(ctx, 0)
	if err != nil {
		return err
	}
	past, err := svc.Past(ctx, 0)
	if err != nil {
		return err
	}
	next, err := svc.Next(ctx)
	if err != nil {
		return err
	}
	missed, err := svc.Missed(ctx)
	if err != nil {
		return err
	}
	topics, err := svc.TopicsByTag(ctx)
	if err != nil {
		return err
	}

	out := map[string]any{
		"upcoming": upcoming,
		"past":     past,
		"next":     next,
		"missed":   missed,
		"topics":   topics,
		"cache":    mgr.Status(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/agendacal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch the agenda once, print every query as JSON and exit")

	flag.Parse()

	return cfg
}
