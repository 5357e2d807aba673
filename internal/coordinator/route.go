package coordinator

import (
	"context"
	"time"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/fsm"
	"github.com/rbright/parlance/internal/history"
	"github.com/rbright/parlance/internal/matcher"
)

// run consumes the active adapter's message channel. A rewire signal makes
// it re-read the active reference after a switch.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.mu.RLock()
		active := c.active
		c.mu.RUnlock()

		var messages <-chan engine.Message
		if active != nil {
			messages = active.Messages()
		}

		select {
		case <-ctx.Done():
			return
		case <-c.rewire:
		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("engine message channel closed", "engine", active.ID())
				select {
				case <-ctx.Done():
					return
				case <-c.rewire:
				}
				continue
			}
			c.route(ctx, active.ID(), msg)
		}
	}
}

func (c *Coordinator) route(ctx context.Context, source engine.ID, msg engine.Message) {
	switch msg.Kind {
	case engine.MessagePartial:
		c.routePartial(source, msg)
	case engine.MessageFinal:
		c.routeFinal(ctx, source, msg)
	case engine.MessageError:
		c.routeError(ctx, source, msg)
	default:
		c.logger.Warn("unknown engine message", "engine", source, "kind", msg.Kind)
	}
}

// currentLocked reports whether messages from source may still surface.
func (c *Coordinator) currentLocked(source engine.ID) bool {
	return !c.switching && c.active != nil && c.active.ID() == source
}

func (c *Coordinator) routePartial(source engine.ID, msg engine.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(source) || !fsm.Active(c.state) {
		return
	}
	c.bus.Publish(events.PartialResult{Engine: source, Text: msg.Text, Confidence: msg.Confidence, At: stamp(msg)})
}

func (c *Coordinator) routeFinal(ctx context.Context, source engine.ID, msg engine.Message) {
	c.mu.Lock()
	if !c.currentLocked(source) || c.state != fsm.StateListening {
		c.mu.Unlock()
		c.logger.Debug("final result dropped", "engine", source, "state", c.State())
		return
	}
	_ = c.transitionLocked(fsm.EventResult)
	session := c.session
	c.mu.Unlock()

	rec := history.Record{
		Text:       msg.Text,
		Confidence: msg.Confidence,
		EngineID:   source,
		Session:    session,
		Timestamp:  stamp(msg),
	}

	var (
		result  matcher.Result
		publish bool
	)
	if msg.Confidence < c.minConfidence {
		c.health.RecordRejection(source, msg.Confidence)
		c.logger.Info("final result below confidence floor", "engine", source, "confidence", msg.Confidence, "min", c.minConfidence)
	} else {
		c.health.RecordSuccess(source, msg.Confidence)
		result = c.matcher.Match(ctx, c.vocab.Snapshot(), msg.Text, msg.Confidence)
		c.logger.Info("final result matched", "engine", source, "tier", result.Tier, "score", result.Score, "confidence", msg.Confidence, "command", result.CommandID)
		publish = result.Accepted()
		rec.CommandID = result.CommandID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != fsm.StateProcessing || c.session != session {
		// Stopped or cancelled while matching: nothing reaches consumers.
		c.history.Add(rec)
		return
	}
	_ = c.transitionLocked(fsm.EventProcessed)
	rec.WasSuccessful = publish && c.currentLocked(source)
	c.history.Add(rec)
	if !rec.WasSuccessful {
		return
	}
	c.bus.Publish(events.FinalResult{
		Engine:     source,
		Session:    session,
		Text:       msg.Text,
		Confidence: msg.Confidence,
		Match:      result,
		At:         stamp(msg),
	})
}

// routeError absorbs an engine error into health and history, surfaces it,
// then applies the recovery policy.
func (c *Coordinator) routeError(ctx context.Context, source engine.ID, msg engine.Message) {
	engineErr := msg.Err
	if engineErr == nil {
		engineErr = engine.NewRecoverable("engine reported an error without detail", nil)
	}

	c.mu.RLock()
	current := c.currentLocked(source)
	session := c.session
	c.mu.RUnlock()
	if !current {
		c.logger.Debug("error from inactive engine dropped", "engine", source, "error", engineErr)
		return
	}

	c.health.RecordError(source, engineErr)
	c.history.Add(history.Record{EngineID: source, Session: session, Timestamp: stamp(msg)})
	c.publishError(source, engineErr)
	c.logger.Warn("engine error", "engine", source, "error", engineErr, "recoverable", engineErr.Recoverable)

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.RLock()
	stillActive := c.active != nil && c.active.ID() == source
	c.mu.RUnlock()
	if !stillActive {
		return
	}

	switch {
	case !engineErr.Recoverable:
		c.failLocked(ctx, source)
	case c.autoFallback:
		if !c.fallbackLocked(ctx, source) {
			c.idleLocked(ctx, source)
		}
	default:
		c.idleLocked(ctx, source)
	}
}

// failLocked moves to the error state after a non-recoverable failure.
func (c *Coordinator) failLocked(ctx context.Context, source engine.ID) {
	c.mu.Lock()
	wasListening := fsm.Active(c.state)
	session := c.session
	_ = c.transitionLocked(fsm.EventFail)
	c.session = ""
	if wasListening {
		c.bus.Publish(events.ListeningStopped{Engine: source, Session: session, At: time.Now()})
	}
	active := c.active
	c.active = nil
	c.mu.Unlock()
	c.signalRewire()

	if wasListening {
		if err := active.StopListening(ctx); err != nil {
			c.logger.Warn("stop after fatal error failed", "engine", source, "error", err)
		}
	}
	c.logger.Error("coordinator entered error state", "engine", source)
}

// idleLocked returns to idle after a recoverable failure no other engine
// absorbed.
func (c *Coordinator) idleLocked(ctx context.Context, source engine.ID) {
	c.mu.Lock()
	if !fsm.Active(c.state) {
		c.mu.Unlock()
		return
	}
	session := c.session
	active := c.active
	_ = c.transitionLocked(fsm.EventStop)
	c.session = ""
	c.bus.Publish(events.ListeningStopped{Engine: source, Session: session, At: time.Now()})
	c.mu.Unlock()

	if err := active.StopListening(ctx); err != nil {
		c.logger.Warn("stop after engine error failed", "engine", source, "error", err)
	}
}

func stamp(msg engine.Message) time.Time {
	if msg.At.IsZero() {
		return time.Now()
	}
	return msg.At
}
