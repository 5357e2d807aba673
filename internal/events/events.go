// Package events defines the observable event stream: a closed set of event
// variants and an ordered multi-consumer bus.
package events

import (
	"time"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/matcher"
)

// Kind names an event variant.
type Kind string

const (
	KindListeningStarted  Kind = "listening_started"
	KindListeningStopped  Kind = "listening_stopped"
	KindPartialResult     Kind = "partial_result"
	KindFinalResult       Kind = "final_result"
	KindEngineSwitch      Kind = "engine_switch"
	KindError             Kind = "error"
	KindVocabularyUpdated Kind = "vocabulary_updated"
)

// Event is implemented only by the variants in this package. Consumers
// switch on the concrete type.
type Event interface {
	Kind() Kind
	Time() time.Time
	event()
}

// SwitchReason explains an EngineSwitch.
type SwitchReason string

const (
	ReasonInitializationFallback SwitchReason = "initialization_fallback"
	ReasonRuntimeFallback        SwitchReason = "runtime_fallback"
	ReasonManual                 SwitchReason = "manual"
)

type ListeningStarted struct {
	Engine  engine.ID `json:"engine"`
	Session string    `json:"session"`
	At      time.Time `json:"ts"`
}

type ListeningStopped struct {
	Engine    engine.ID `json:"engine"`
	Session   string    `json:"session"`
	Cancelled bool      `json:"cancelled"`
	At        time.Time `json:"ts"`
}

type PartialResult struct {
	Engine     engine.ID `json:"engine"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"ts"`
}

// FinalResult carries both the recognizer confidence and the match score.
type FinalResult struct {
	Engine     engine.ID      `json:"engine"`
	Session    string         `json:"session,omitempty"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Match      matcher.Result `json:"match"`
	At         time.Time      `json:"ts"`
}

type EngineSwitch struct {
	From   engine.ID    `json:"from"`
	To     engine.ID    `json:"to"`
	Reason SwitchReason `json:"reason"`
	At     time.Time    `json:"ts"`
}

// Error is an engine or coordinator failure after the coordinator absorbed it.
type Error struct {
	Engine      engine.ID `json:"engine,omitempty"`
	Message     string    `json:"error"`
	Recoverable bool      `json:"recoverable"`
	At          time.Time `json:"ts"`
}

type VocabularyUpdated struct {
	Size int       `json:"size"`
	At   time.Time `json:"ts"`
}

func (e ListeningStarted) Kind() Kind  { return KindListeningStarted }
func (e ListeningStopped) Kind() Kind  { return KindListeningStopped }
func (e PartialResult) Kind() Kind     { return KindPartialResult }
func (e FinalResult) Kind() Kind       { return KindFinalResult }
func (e EngineSwitch) Kind() Kind      { return KindEngineSwitch }
func (e Error) Kind() Kind             { return KindError }
func (e VocabularyUpdated) Kind() Kind { return KindVocabularyUpdated }

func (e ListeningStarted) Time() time.Time  { return e.At }
func (e ListeningStopped) Time() time.Time  { return e.At }
func (e PartialResult) Time() time.Time     { return e.At }
func (e FinalResult) Time() time.Time       { return e.At }
func (e EngineSwitch) Time() time.Time      { return e.At }
func (e Error) Time() time.Time             { return e.At }
func (e VocabularyUpdated) Time() time.Time { return e.At }

func (ListeningStarted) event()  {}
func (ListeningStopped) event()  {}
func (PartialResult) event()     {}
func (FinalResult) event()       {}
func (EngineSwitch) event()      {}
func (Error) event()             {}
func (VocabularyUpdated) event() {}
