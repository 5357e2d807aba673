package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of an event: {"type": kind, "data": variant}.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes ev inside an Envelope.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Type: ev.Kind(), Data: data})
}

// Unmarshal decodes an Envelope back into its variant.
func Unmarshal(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Type {
	case KindListeningStarted:
		return decode[ListeningStarted](env)
	case KindListeningStopped:
		return decode[ListeningStopped](env)
	case KindPartialResult:
		return decode[PartialResult](env)
	case KindFinalResult:
		return decode[FinalResult](env)
	case KindEngineSwitch:
		return decode[EngineSwitch](env)
	case KindError:
		return decode[Error](env)
	case KindVocabularyUpdated:
		return decode[VocabularyUpdated](env)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decode[T Event](env Envelope) (Event, error) {
	var ev T
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return ev, nil
}
