package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/parlance/internal/cli"
	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/eventstream"
)

// commandEvents streams the owner's event channel as JSON lines until ctx ends.
func (r Runner) commandEvents(ctx context.Context, cfg config.Config, parsed cli.Parsed) int {
	addr := strings.TrimSpace(cfg.Server.EventsAddr)
	if addr == "" {
		fmt.Fprintln(r.Stderr, "error: server.events_addr is not configured")
		return 1
	}

	kinds := make([]events.Kind, 0, len(parsed.Types))
	for _, t := range parsed.Types {
		kinds = append(kinds, events.Kind(strings.TrimSpace(t)))
	}

	client, err := eventstream.Dial(ctx, addr, kinds...)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer func() {
		if stop() {
			_ = client.Close()
		}
	}()

	for {
		ev, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		raw, err := events.Marshal(ev)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, string(raw))
	}
}
