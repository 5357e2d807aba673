package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/fsm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SwitchEngine makes id the active engine. Concurrent calls run one at a
// time, each producing exactly one EngineSwitch event or an error.
func (c *Coordinator) SwitchEngine(ctx context.Context, id engine.ID) error {
	target, ok := c.engines[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.RLock()
	active, state, closed := c.active, c.state, c.closed
	c.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case state == fsm.StateError:
		return ErrNeedsReinitialize
	case active == nil:
		return ErrNotInitialized
	}
	return c.switchLocked(ctx, target, events.ReasonManual)
}

// switchLocked performs the switch protocol: stop, initialize, apply
// vocabulary, swap the active reference, announce, resume. Callers hold
// switchMu. On failure the previous engine stays active; it resumes
// listening only after a manual switch, never after a runtime fallback
// away from it.
func (c *Coordinator) switchLocked(ctx context.Context, target engine.Adapter, reason events.SwitchReason) (err error) {
	c.mu.Lock()
	from := c.active
	if from != nil && from.ID() == target.ID() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyActive, target.ID())
	}
	wasListening := fsm.Active(c.state)
	ready := c.ready[target.ID()]
	c.switching = true
	c.mu.Unlock()

	var fromID engine.ID
	if from != nil {
		fromID = from.ID()
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.switch", trace.WithAttributes(
		attribute.String("engine.from", string(fromID)),
		attribute.String("engine.to", string(target.ID())),
		attribute.String("switch.reason", string(reason)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if wasListening && from != nil {
		if stopErr := from.StopListening(ctx); stopErr != nil {
			c.logger.Warn("stop before switch failed", "engine", fromID, "error", stopErr)
		}
	}

	if !ready {
		if initErr := c.initEngine(ctx, target); initErr != nil {
			c.publishError(target.ID(), initErr)
			c.restoreAfterFailedSwitch(ctx, from, wasListening && reason != events.ReasonRuntimeFallback)
			return fmt.Errorf("%w: %s: %w", ErrSwitchFailed, target.ID(), initErr)
		}
	}

	c.pushVocabulary(ctx, target)
	discarded := drainMessages(target)

	c.mu.Lock()
	c.active = target
	c.switching = false
	c.bus.Publish(events.EngineSwitch{From: fromID, To: target.ID(), Reason: reason, At: time.Now()})
	c.mu.Unlock()
	c.signalRewire()
	c.logger.Info("engine switched", "from", fromID, "to", target.ID(), "reason", reason, "discarded", discarded)

	if wasListening {
		if startErr := target.StartListening(ctx); startErr != nil {
			engineErr := engine.Classify("resume on "+string(target.ID()), startErr)
			c.health.RecordError(target.ID(), engineErr)
			c.publishError(target.ID(), engineErr)
			c.dropSession(target.ID())
		}
	}
	return nil
}

func (c *Coordinator) restoreAfterFailedSwitch(ctx context.Context, from engine.Adapter, wasListening bool) {
	c.mu.Lock()
	c.switching = false
	c.mu.Unlock()

	if !wasListening || from == nil {
		return
	}
	if err := from.StartListening(ctx); err != nil {
		engineErr := engine.Classify("resume on "+string(from.ID()), err)
		c.health.RecordError(from.ID(), engineErr)
		c.publishError(from.ID(), engineErr)
		c.dropSession(from.ID())
	}
}

// dropSession returns a listening coordinator to idle after its engine could
// not resume.
func (c *Coordinator) dropSession(id engine.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !fsm.Active(c.state) {
		return
	}
	session := c.session
	_ = c.transitionLocked(fsm.EventStop)
	c.session = ""
	c.bus.Publish(events.ListeningStopped{Engine: id, Session: session, At: time.Now()})
}

// fallbackLocked walks the fallback order of failed until one switch
// succeeds. It reports false when no candidate took over; failed is then
// still active but stopped. Callers hold switchMu.
func (c *Coordinator) fallbackLocked(ctx context.Context, failed engine.ID) bool {
	for _, id := range c.fallback[failed] {
		if err := c.switchLocked(ctx, c.engines[id], events.ReasonRuntimeFallback); err != nil {
			c.logger.Warn("runtime fallback candidate failed", "engine", id, "error", err)
			continue
		}
		return true
	}
	c.logger.Error("runtime fallback exhausted", "engine", failed)
	return false
}

// drainMessages drops output a target produced while it was not active.
func drainMessages(adapter engine.Adapter) int {
	n := 0
	for {
		select {
		case _, ok := <-adapter.Messages():
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
