// Package ipc carries newline-delimited JSON requests over a unix socket.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Request is one control-plane command, e.g. {"command":"switch","args":["openai"]}.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response answers one Request.
type Response struct {
	OK      bool            `json:"ok"`
	State   string          `json:"state,omitempty"`
	Engine  string          `json:"engine,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Failure builds an error response.
func Failure(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// WithData marshals payload into resp.Data.
func (r Response) WithData(payload any) (Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode response data: %w", err)
	}
	r.Data = raw
	return r, nil
}

// DecodeData unmarshals resp.Data into target.
func (r Response) DecodeData(target any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response carries no data")
	}
	if err := json.Unmarshal(r.Data, target); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
