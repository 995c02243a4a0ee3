package protocol

import (
	"encoding/json"
	"errors"

	"github.com/cruciblehq/devimg/internal/crex"
)

// Name of a request or response.
type Command string

const (
	CmdBuild    Command = "build"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"
	CmdOK       Command = "ok"
	CmdError    Command = "error"
)

var ErrProtocol = errors.New("protocol error")

// Wire frame for every message.
type Envelope struct {
	Command Command         `json:"command"`           // Request or response name.
	Payload json.RawMessage `json:"payload,omitempty"` // Command-specific body.
}

// Serializes a message. A nil payload is omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, crex.Wrap(ErrProtocol, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, crex.Wrap(ErrProtocol, err)
	}
	return data, nil
}

// Parses a message and returns its envelope and raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, crex.Wrap(ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, crex.Wrapf(ErrProtocol, "missing command")
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, crex.Wrap(ErrProtocol, err)
	}
	return &v, nil
}
