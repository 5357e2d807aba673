// Package engine defines the contract every recognition back-end implements.
//
// Adapters never call into the coordinator. They publish partial results, final
// results, and errors as Messages on their own channel, and the coordinator
// consumes that channel from a single goroutine.
package engine

import (
	"context"
	"time"
)

// ID names one pluggable recognition back-end.
type ID string

// Config is passed to Adapter.Initialize.
type Config struct {
	LanguageCode string
	Model        string
}

// MessageKind tags one adapter message.
type MessageKind int

const (
	MessagePartial MessageKind = iota + 1
	MessageFinal
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessagePartial:
		return "partial"
	case MessageFinal:
		return "final"
	case MessageError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one event emitted by an adapter.
type Message struct {
	Kind       MessageKind
	Text       string
	Confidence float64
	Err        *Error
	At         time.Time
}

// Partial builds a partial-result message.
func Partial(text string, confidence float64) Message {
	return Message{Kind: MessagePartial, Text: text, Confidence: confidence, At: time.Now()}
}

// Final builds a final-result message.
func Final(text string, confidence float64) Message {
	return Message{Kind: MessageFinal, Text: text, Confidence: confidence, At: time.Now()}
}

// Failure builds an error message.
func Failure(err *Error) Message {
	return Message{Kind: MessageError, Err: err, At: time.Now()}
}

// Adapter drives one recognition back-end.
type Adapter interface {
	ID() ID
	Initialize(ctx context.Context, cfg Config) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	SetVocabulary(ctx context.Context, phrases []string) error
	// Messages is read by exactly one consumer. It stays open for the adapter lifetime.
	Messages() <-chan Message
	Close() error
}
