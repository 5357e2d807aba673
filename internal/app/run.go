package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rbright/parlance/internal/cli"
	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/control"
	"github.com/rbright/parlance/internal/coordinator"
	"github.com/rbright/parlance/internal/dispatch"
	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/eventstream"
	"github.com/rbright/parlance/internal/health"
	"github.com/rbright/parlance/internal/history"
	"github.com/rbright/parlance/internal/indicator"
	"github.com/rbright/parlance/internal/ipc"
	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/telemetry"
	"github.com/rbright/parlance/internal/version"
)

const shutdownTimeout = 3 * time.Second

// commandRun owns the coordinator until ctx ends. It binds the control socket
// first so a second `run` fails fast.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: probeTimeout,
		Retries:      8,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	shutdownTracing, err := telemetry.Setup(ctx, version.Name, version.Version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err.Error())
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	cat, err := loadCatalog(cfg.Vocabulary.Catalog)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	adapters, err := buildEngines(cfg, r.Stdin, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	ids := make([]engine.ID, 0, len(adapters))
	for _, a := range adapters {
		ids = append(ids, a.ID())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	healthServer := grpchealth.NewServer()
	monitor := health.NewMonitor(ids,
		health.WithLogger(logger),
		health.WithObserver(health.NewGRPCReporter(healthServer, ids)),
	)
	registry.MustRegister(health.NewCollector(monitor))

	debounce := cfg.Vocabulary.Debounce()
	if debounce == 0 {
		debounce = -1
	}
	coord, err := coordinator.New(coordinator.Options{
		Logger:        logger,
		Engines:       adapters,
		Preferred:     engine.ID(cfg.Engines.Preferred),
		FallbackOrder: fallbackOrder(cfg.Engines),
		AutoFallback:  cfg.Engines.AutoFallback,
		MinConfidence: cfg.Recognition.MinConfidence,
		InitTimeout:   cfg.Engines.InitTimeout(),
		EngineConfig:  engine.Config{LanguageCode: cfg.Recognition.LanguageCode},
		Matcher: matcher.New(matcher.Options{
			Logger:         logger,
			FuzzyThreshold: cfg.Recognition.FuzzyThreshold,
			Learned:        st,
			Cache:          st,
		}),
		Cache:              st,
		Health:             monitor,
		History:            history.New(cfg.History.Capacity),
		VocabularyDebounce: debounce,
		MaxPhrases:         cfg.Vocabulary.MaxPhrases,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := coord.Close(); closeErr != nil {
			logger.Warn("coordinator close failed", "error", closeErr.Error())
		}
	}()

	if err := seedVocabulary(cat, cfg.Vocabulary.Phrases, coord.RegisterCommands, coord.AddVocabulary); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	dispatcher, err := dispatch.New(dispatch.Options{Catalog: cat, Logger: logger, Registerer: registry})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	// Subscribe before initializing so consumers see the startup events.
	dispatchSub := coord.Subscribe()
	printSub := coord.Subscribe()
	indicatorSub := coord.Subscribe()
	ind := indicator.New(indicator.Options{Config: cfg.Indicator, Logger: logger})

	if err := coord.Initialize(ctx); err != nil {
		// The owner keeps serving so `reinit` can recover.
		fmt.Fprintf(r.Stderr, "warning: %v\n", err)
	}
	logger.Info("parlance running", "socket", socketPath, "state", coord.State())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, control.NewHandler(coord, logger))
	})
	g.Go(func() error {
		defer coord.Unsubscribe(dispatchSub)
		return dispatcher.Run(gctx, dispatchSub)
	})
	g.Go(func() error {
		defer coord.Unsubscribe(printSub)
		return r.printEvents(gctx, printSub, parsed.JSON)
	})
	g.Go(func() error {
		defer coord.Unsubscribe(indicatorSub)
		return ind.Run(gctx, indicatorSub)
	})
	if addr := cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		g.Go(func() error { return serveHTTP(gctx, addr, mux, logger) })
	}
	if addr := cfg.Server.EventsAddr; addr != "" {
		mux := eventstream.NewHandler(coord, logger).Mux()
		g.Go(func() error { return serveHTTP(gctx, addr, mux, logger) })
	}
	if addr := cfg.Server.HealthAddr; addr != "" {
		g.Go(func() error { return serveGRPCHealth(gctx, addr, healthServer, logger) })
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("parlance stopped", "error", err.Error())
		return 1
	}
	logger.Info("parlance stopped")
	return 0
}

// printEvents writes final results to stdout, or every event as JSON lines.
func (r Runner) printEvents(ctx context.Context, sub *events.Subscription, asJSON bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if asJSON {
				raw, err := events.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Fprintln(r.Stdout, string(raw))
				continue
			}
			switch e := ev.(type) {
			case events.FinalResult:
				fmt.Fprintf(r.Stdout, "%s\t%s\t%.2f\t%s\n", e.Match.CommandID, e.Match.Tier, e.Match.Score, e.Text)
			case events.EngineSwitch:
				fmt.Fprintf(r.Stderr, "engine: %s -> %s (%s)\n", e.From, e.To, e.Reason)
			}
		}
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	logger.Info("http listener started", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

func serveGRPCHealth(ctx context.Context, addr string, healthServer *grpchealth.Server, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	logger.Info("grpc health listener started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		srv.Stop()
	}()
	if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health %s: %w", addr, err)
	}
	return nil
}
