package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/fsm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Initialize brings up the preferred engine, walking its fallback order when
// auto-fallback is enabled. When every candidate fails the coordinator enters
// the error state and returns ErrAllEnginesFailed.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == fsm.StateError:
		c.mu.Unlock()
		return ErrNeedsReinitialize
	case c.active != nil:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.mu.Unlock()

	return c.initializeLocked(ctx)
}

// Reinitialize tears down the active engine and reruns the initialization
// protocol. It is the only way out of the error state.
func (c *Coordinator) Reinitialize(ctx context.Context) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	active := c.active
	session := c.session
	wasListening := fsm.Active(c.state)
	if c.state == fsm.StateError {
		_ = c.transitionLocked(fsm.EventReset)
	} else if wasListening {
		_ = c.transitionLocked(fsm.EventStop)
	}
	c.active = nil
	c.session = ""
	c.ready = map[engine.ID]bool{}
	if wasListening && active != nil {
		c.bus.Publish(events.ListeningStopped{Engine: active.ID(), Session: session, At: time.Now()})
	}
	c.mu.Unlock()
	c.signalRewire()

	if active != nil && wasListening {
		if err := active.StopListening(ctx); err != nil {
			c.logger.Warn("stop before reinitialize failed", "engine", active.ID(), "error", err)
		}
	}
	c.logger.Info("reinitializing coordinator")
	return c.initializeLocked(ctx)
}

// initializeLocked runs the initialization protocol. Callers hold switchMu and
// have left the coordinator idle with no active engine.
func (c *Coordinator) initializeLocked(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.initialize",
		trace.WithAttributes(attribute.String("engine.preferred", string(c.preferred))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	if err := c.transitionLocked(fsm.EventInitialize); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	candidates := []engine.ID{c.preferred}
	if c.autoFallback {
		candidates = append(candidates, c.fallback[c.preferred]...)
	}

	var failures []error
	for _, id := range candidates {
		adapter := c.engines[id]
		if initErr := c.initEngine(ctx, adapter); initErr != nil {
			failures = append(failures, initErr)
			c.publishError(id, initErr)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.pushVocabulary(ctx, adapter)

		c.mu.Lock()
		c.active = adapter
		_ = c.transitionLocked(fsm.EventReady)
		if id != c.preferred {
			c.bus.Publish(events.EngineSwitch{
				From:   c.preferred,
				To:     id,
				Reason: events.ReasonInitializationFallback,
				At:     time.Now(),
			})
		}
		c.mu.Unlock()
		c.signalRewire()

		span.SetAttributes(attribute.String("engine.active", string(id)))
		c.logger.Info("engine initialized", "engine", id, "preferred", c.preferred)
		return nil
	}

	err = fmt.Errorf("%w: %w", ErrAllEnginesFailed, errors.Join(failures...))
	c.mu.Lock()
	_ = c.transitionLocked(fsm.EventFail)
	c.mu.Unlock()
	c.bus.Publish(events.Error{Message: err.Error(), At: time.Now()})
	c.logger.Error("initialization failed", "error", err)
	return err
}

// initEngine initializes one adapter under the init timeout and records the
// outcome with the health monitor.
func (c *Coordinator) initEngine(ctx context.Context, adapter engine.Adapter) *engine.Error {
	id := adapter.ID()
	initCtx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()

	err := adapter.Initialize(initCtx, c.engineConfig)
	if err == nil && initCtx.Err() != nil && ctx.Err() == nil {
		err = initCtx.Err()
	}

	var engineErr *engine.Error
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		engineErr = engine.NewRecoverable(fmt.Sprintf("initialize %s timed out after %s", id, c.initTimeout), err)
	default:
		engineErr = engine.Classify("initialize "+string(id), err)
	}

	if engineErr != nil {
		c.health.RecordInitialization(id, engineErr)
		c.logger.Warn("engine initialization failed", "engine", id, "error", engineErr)
		return engineErr
	}
	c.health.RecordInitialization(id, nil)
	c.mu.Lock()
	c.ready[id] = true
	c.mu.Unlock()
	return nil
}

// StartListening opens a recognition session on the active engine.
func (c *Coordinator) StartListening(ctx context.Context) error {
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
	if _, err := fsm.Transition(state, fsm.EventStart); err != nil {
		return err
	}

	if err := active.StartListening(ctx); err != nil {
		engineErr := engine.Classify("start "+string(active.ID()), err)
		c.health.RecordError(active.ID(), engineErr)
		c.publishError(active.ID(), engineErr)
		return engineErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(fsm.EventStart); err != nil {
		return err
	}
	c.session = uuid.NewString()
	c.bus.Publish(events.ListeningStarted{Engine: active.ID(), Session: c.session, At: time.Now()})
	c.logger.Info("listening started", "engine", active.ID(), "session", c.session)
	return nil
}

// StopListening ends the open session. It is a no-op when not listening.
func (c *Coordinator) StopListening(ctx context.Context) error {
	return c.endSession(ctx, fsm.EventStop)
}

// CancelRecognition ends the open session and discards in-flight results
// without emitting a FinalResult.
func (c *Coordinator) CancelRecognition(ctx context.Context) error {
	return c.endSession(ctx, fsm.EventCancel)
}

func (c *Coordinator) endSession(ctx context.Context, event fsm.Event) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !fsm.Active(c.state) || c.active == nil {
		c.mu.Unlock()
		return nil
	}
	active := c.active
	session := c.session
	_ = c.transitionLocked(event)
	c.session = ""
	c.bus.Publish(events.ListeningStopped{
		Engine:    active.ID(),
		Session:   session,
		Cancelled: event == fsm.EventCancel,
		At:        time.Now(),
	})
	c.mu.Unlock()

	c.logger.Info("listening stopped", "engine", active.ID(), "session", session, "cancelled", event == fsm.EventCancel)
	if err := active.StopListening(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", active.ID(), err)
	}
	return nil
}
