// Package control maps control-plane requests onto the coordinator.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/fsm"
	"github.com/rbright/parlance/internal/health"
	"github.com/rbright/parlance/internal/history"
	"github.com/rbright/parlance/internal/ipc"
	"github.com/rbright/parlance/internal/vocabulary"
)

// Command names accepted on the control socket.
const (
	CommandStatus  = "status"
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandCancel  = "cancel"
	CommandSwitch  = "switch"
	CommandEngines = "engines"
	CommandHistory = "history"
	CommandVocab   = "vocab"
	CommandReinit  = "reinit"
)

// Core is the consumer-facing surface the handler drives.
type Core interface {
	State() fsm.State
	ActiveEngine() (engine.ID, bool)
	Session() string
	Engines() []engine.ID
	FallbackOrder(id engine.ID) []engine.ID
	AllEngineStatuses() map[engine.ID]health.Metrics
	Health() *health.Monitor
	History(limit int) []history.Record

	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	CancelRecognition(ctx context.Context) error
	SwitchEngine(ctx context.Context, id engine.ID) error
	Reinitialize(ctx context.Context) error

	AddVocabulary(phrases []string) error
	RemoveVocabulary(phrases []string) error
	ClearVocabulary() error
	FlushVocabulary()
	Vocabulary() vocabulary.Snapshot
}

// Status is the payload of the status command.
type Status struct {
	State          fsm.State      `json:"state"`
	Engine         engine.ID      `json:"engine,omitempty"`
	Session        string         `json:"session,omitempty"`
	VocabularySize int            `json:"vocabulary_size"`
	Engines        []EngineStatus `json:"engines"`
}

// EngineStatus describes one engine in status and engines responses.
type EngineStatus struct {
	ID       engine.ID      `json:"id"`
	Active   bool           `json:"active"`
	Healthy  bool           `json:"healthy"`
	Fallback []engine.ID    `json:"fallback"`
	Metrics  health.Metrics `json:"metrics"`
}

// VocabularyChange is the payload of vocab mutations.
type VocabularyChange struct {
	Size    int  `json:"size"`
	Pending bool `json:"pending"`
}

// Handler implements ipc.Handler over a Core.
type Handler struct {
	core   Core
	logger *slog.Logger
}

// NewHandler builds a control handler.
func NewHandler(core Core, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{core: core, logger: logger}
}

// Handle dispatches one request.
func (h *Handler) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	resp, err := h.handle(ctx, req)
	if err != nil {
		h.logger.Warn("control command failed", "command", req.Command, "error", err.Error())
		resp = ipc.Failure(err)
	}
	resp.State = string(h.core.State())
	if id, ok := h.core.ActiveEngine(); ok {
		resp.Engine = string(id)
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	switch strings.TrimSpace(req.Command) {
	case CommandStatus:
		return ipc.Response{OK: true}.WithData(h.status())
	case CommandStart:
		if err := h.core.StartListening(ctx); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{OK: true, Message: "listening"}, nil
	case CommandStop:
		if err := h.core.StopListening(ctx); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{OK: true, Message: "stopped"}, nil
	case CommandCancel:
		if err := h.core.CancelRecognition(ctx); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{OK: true, Message: "cancelled"}, nil
	case CommandSwitch:
		if len(req.Args) != 1 {
			return ipc.Response{}, errors.New("switch requires exactly one engine id")
		}
		target := engine.ID(strings.TrimSpace(req.Args[0]))
		if err := h.core.SwitchEngine(ctx, target); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{OK: true, Message: fmt.Sprintf("switched to %s", target)}, nil
	case CommandEngines:
		return ipc.Response{OK: true}.WithData(h.engineStatuses())
	case CommandHistory:
		limit, err := parseLimit(req.Args)
		if err != nil {
			return ipc.Response{}, err
		}
		records := h.core.History(limit)
		if records == nil {
			records = []history.Record{}
		}
		return ipc.Response{OK: true}.WithData(records)
	case CommandVocab:
		return h.vocab(req.Args)
	case CommandReinit:
		if err := h.core.Reinitialize(ctx); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{OK: true, Message: "reinitialized"}, nil
	default:
		return ipc.Response{}, fmt.Errorf("unknown command %q", req.Command)
	}
}

func (h *Handler) vocab(args []string) (ipc.Response, error) {
	if len(args) == 0 {
		return ipc.Response{}, errors.New("vocab requires a subcommand: add, remove, clear, flush, list")
	}
	sub, phrases := args[0], args[1:]

	var err error
	switch sub {
	case "add":
		if len(phrases) == 0 {
			return ipc.Response{}, errors.New("vocab add requires at least one phrase")
		}
		err = h.core.AddVocabulary(phrases)
	case "remove":
		if len(phrases) == 0 {
			return ipc.Response{}, errors.New("vocab remove requires at least one phrase")
		}
		err = h.core.RemoveVocabulary(phrases)
	case "clear":
		err = h.core.ClearVocabulary()
	case "flush":
		h.core.FlushVocabulary()
	case "list":
		return ipc.Response{OK: true}.WithData(h.core.Vocabulary().PhraseList())
	default:
		return ipc.Response{}, fmt.Errorf("unknown vocab subcommand %q", sub)
	}
	if err != nil {
		return ipc.Response{}, err
	}

	snap := h.core.Vocabulary()
	return ipc.Response{OK: true, Message: fmt.Sprintf("vocabulary %s: %d phrases", sub, snap.Size())}.
		WithData(VocabularyChange{Size: snap.Size(), Pending: sub != "flush"})
}

func (h *Handler) status() Status {
	active, _ := h.core.ActiveEngine()
	return Status{
		State:          h.core.State(),
		Engine:         active,
		Session:        h.core.Session(),
		VocabularySize: h.core.Vocabulary().Size(),
		Engines:        h.engineStatuses(),
	}
}

func (h *Handler) engineStatuses() []EngineStatus {
	active, _ := h.core.ActiveEngine()
	metrics := h.core.AllEngineStatuses()
	monitor := h.core.Health()

	out := make([]EngineStatus, 0, len(metrics))
	for _, id := range h.core.Engines() {
		fallback := h.core.FallbackOrder(id)
		if fallback == nil {
			fallback = []engine.ID{}
		}
		out = append(out, EngineStatus{
			ID:       id,
			Active:   id == active,
			Healthy:  monitor.IsHealthy(id),
			Fallback: fallback,
			Metrics:  metrics[id],
		})
	}
	return out
}

func parseLimit(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("history limit must be a non-negative integer, got %q", args[0])
	}
	return limit, nil
}
