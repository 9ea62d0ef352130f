package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dayplan/internal/capture"
	"dayplan/internal/config"
	"dayplan/internal/ics"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/store"
	"dayplan/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("dayplan starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"width_mode", conf.WidthMode,
		"store_path", conf.StorePath,
		"refresh_cron", conf.RefreshCron,
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("dayplan failed", err)
		os.Exit(1)
	}
	appLog.Info("dayplan exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := store.Open(store.Options{Path: conf.StorePath, MaxPerDay: conf.MaxEventsPerDay})
	if err != nil {
		return err
	}
	m := metrics.New()
	m.StoreEvents.Set(float64(st.Len()))

	loc := web.ResolveLocation(conf.Timezone)
	syncer := ics.NewSyncer(ics.NewFetcher(conf.CacheDir, nil), st, sources(conf), loc, m)

	initialSync(ctx, syncer)
	m.StoreEvents.Set(float64(st.Len()))

	if flags.once {
		appLog.Info("single sync complete", "events", st.Len())
		return nil
	}

	srv := web.NewServer(conf, st, web.WithMetrics(m))

	if flags.snapshot != "" {
		return snapshot(ctx, srv, conf.Listen, flags.snapshot)
	}

	done, err := syncer.Start(ctx, conf.RefreshCron)
	if err != nil {
		return err
	}
	err = srv.Run(ctx)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// initialSync runs one sync before serving. Feed failures are logged, not
// fatal: stale events stay on the plan.
func initialSync(ctx context.Context, syncer *ics.Syncer) {
	if err := syncer.SyncAll(ctx); err != nil {
		appLog.Error("initial ics sync finished with errors", err)
	}
}

// snapshot serves until the day page has been captured to path.
func snapshot(ctx context.Context, srv *web.Server, listen, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	base := "http://" + dialAddr(listen)
	if err := waitHealthy(ctx, base, 5*time.Second); err != nil {
		return err
	}
	if err := capture.SnapshotDay(ctx, capture.Options{BaseURL: base, OutputPath: path}); err != nil {
		return err
	}

	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// dialAddr turns a listen address like ":8080" into something a client can
// dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func waitHealthy(ctx context.Context, base string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("server at %s did not become healthy within %s", base, timeout)
}

func sources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	return out
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./dayplan.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one ICS sync and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of today's day page to this path and exit")

	flag.Parse()

	return cfg
}
