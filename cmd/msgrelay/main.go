package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"msgrelay/internal/api"
	"msgrelay/internal/codec"
	"msgrelay/internal/config"
	"msgrelay/internal/healthz"
	"msgrelay/internal/metrics"
	"msgrelay/internal/runner"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	listEncodings := flag.Bool("list-encodings", false, "Print the supported encoding names and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("msgrelay %s (%s)\n", version, commit)
		return
	}
	if *listEncodings {
		for _, name := range codec.Names() {
			fmt.Println(name)
		}
		return
	}

	level := new(slog.LevelVar)
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	reloader, err := config.NewReloadable(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", "error", err)
		os.Exit(1)
	}
	defer reloader.Close()
	cfg := reloader.Get()

	logger := newLogger(cfg.Logging, level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	restartCh := make(chan *config.Config, 1)
	reloader.Watch(func(_, next *config.Config) {
		select {
		case restartCh <- next:
		default:
		}
	})

	var current runner.Current
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		health := healthz.New(cfg.Metrics.AuthToken)
		health.AddSource(func() []healthz.Checker { return healthz.LinkCheckers(current.Links()) })
		ws, err := metrics.NewWebServer(cfg.Metrics.Listen, nil,
			metrics.WithPprof(cfg.Metrics.Pprof),
			metrics.WithHandler("/api/", api.NewDashboardAPI(cfg, &current).WithConfigSource(reloader.Get).Handler()),
			metrics.WithHandler("/readyz", health.HTTPHandler()),
		)
		if err != nil {
			logger.Error("metrics server setup failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return ws.Start(gctx) })
		logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}
	g.Go(func() error {
		runLoop(gctx, cfg, restartCh, &current, level, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("msgrelay stopped", "error", err)
		os.Exit(1)
	}
}

func runLoop(ctx context.Context, cfg *config.Config, restartCh <-chan *config.Config,
	current *runner.Current, level *slog.LevelVar, logger *slog.Logger) {
	runCtx, runCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go runRelay(runCtx, cfg, current, logger, errCh)

	// stop cancels the current run and waits for it. A failed run has
	// already returned and left errCh nil.
	stop := func() {
		runCancel()
		if errCh == nil {
			return
		}
		if err := <-errCh; err != nil {
			logger.Warn("relay shutdown", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case next := <-restartCh:
			metrics.IncConfigReloads()
			level.Set(parseLevel(next.Logging.Level))
			logger.Info("config reloaded: restarting relay with updated settings")
			stop()
			runCtx, runCancel = context.WithCancel(ctx)
			errCh = make(chan error, 1)
			go runRelay(runCtx, next, current, logger, errCh)
		case err := <-errCh:
			if ctx.Err() != nil {
				return
			}
			logger.Error("relay failed; waiting for a config change", "error", err)
			errCh = nil
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

func runRelay(ctx context.Context, cfg *config.Config, current *runner.Current, logger *slog.Logger, errCh chan<- error) {
	r := runner.New(cfg, runner.WithLogger(logger))
	current.Set(r)
	errCh <- r.Start(ctx)
}

func newLogger(cfg config.Logging, level *slog.LevelVar) *slog.Logger {
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
