// Package dispatch runs catalog actions for matched final results.
//
// Dispatch is a pure consumer of the event channel: action failures are logged
// and counted, never reported back to the coordinator.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rbright/parlance/internal/catalog"
	"github.com/rbright/parlance/internal/events"
)

// DefaultTimeout bounds one action run.
const DefaultTimeout = 2 * time.Second

// Runner executes argv with input on stdin and extra environment.
type Runner func(ctx context.Context, argv []string, env []string, input string) error

// Options configures a Dispatcher.
type Options struct {
	Catalog *catalog.Catalog
	Logger  *slog.Logger
	Timeout time.Duration
	Runner  Runner
	// Registerer receives the dispatch counter; nil skips registration.
	Registerer prometheus.Registerer
}

// Dispatcher maps FinalResult events onto catalog exec actions.
type Dispatcher struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
	timeout time.Duration
	run     Runner
	runs    *prometheus.CounterVec
}

// New builds a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	run := opts.Runner
	if run == nil {
		run = runCommandWithInput
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parlance_dispatch_runs_total",
		Help: "Catalog action runs by command and outcome.",
	}, []string{"command", "outcome"})
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(runs); err != nil {
			return nil, fmt.Errorf("register dispatch metrics: %w", err)
		}
	}

	return &Dispatcher{
		catalog: opts.Catalog,
		logger:  logger,
		timeout: timeout,
		run:     run,
		runs:    runs,
	}, nil
}

// Run consumes sub until it closes or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			final, isFinal := ev.(events.FinalResult)
			if !isFinal {
				continue
			}
			d.Handle(ctx, final)
		}
	}
}

// Handle runs the action bound to the matched command, if any.
func (d *Dispatcher) Handle(ctx context.Context, final events.FinalResult) {
	if !final.Match.Accepted() {
		return
	}
	entry, ok := d.catalog.Entry(final.Match.CommandID)
	if !ok || len(entry.Argv) == 0 {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	env := []string{
		"PARLANCE_COMMAND_ID=" + entry.ID,
		"PARLANCE_TIER=" + final.Match.Tier.String(),
		"PARLANCE_SCORE=" + strconv.FormatFloat(final.Match.Score, 'f', 4, 64),
		"PARLANCE_ENGINE=" + string(final.Engine),
	}
	started := time.Now()
	if err := d.run(runCtx, entry.Argv, env, final.Text); err != nil {
		d.runs.WithLabelValues(entry.ID, "failure").Inc()
		d.logger.Error("catalog action failed",
			"command", entry.ID,
			"argv0", entry.Argv[0],
			"error", err.Error(),
		)
		return
	}
	d.runs.WithLabelValues(entry.ID, "success").Inc()
	d.logger.Info("catalog action ran",
		"command", entry.ID,
		"tier", final.Match.Tier.String(),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, env []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
