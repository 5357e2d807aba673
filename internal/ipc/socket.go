package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning reports a live owner on the control socket.
var ErrAlreadyRunning = errors.New("parlance is already running")

const socketName = "parlance.sock"

// RuntimeSocketPath returns the control socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// AcquireOptions tunes stale socket recovery.
type AcquireOptions struct {
	// ProbeTimeout bounds the liveness probe against an existing socket.
	ProbeTimeout time.Duration
	// Retries is the number of extra bind attempts after a stale socket is removed.
	Retries int
	Logger  *slog.Logger
}

// Acquire binds path as the control socket. A socket left behind by a dead
// owner is removed; a socket whose owner answers yields ErrAlreadyRunning.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				_ = listener.Close()
				return nil, fmt.Errorf("restrict socket %s: %w", path, chmodErr)
			}
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt >= opts.Retries+1 {
			return nil, fmt.Errorf("acquire socket %s: still in use after %d attempts", path, attempt+1)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			// An inconclusive probe leaves the socket in place.
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}
		logger.Warn("removed stale control socket", "path", path, "attempt", attempt+1)

		timer := time.NewTimer(time.Duration(25*(attempt+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
