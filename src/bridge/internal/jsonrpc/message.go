// Package jsonrpc implements the JSON-RPC 2.0 connection and dispatch layer
// shared by all transports.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	segjson "github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
)

// Version is the JSON-RPC protocol version carried by every envelope.
const Version = "2.0"

// Message is a decoded JSON-RPC envelope. Exactly one of the request,
// notification, or response shapes is populated.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// DecodeMessage parses a single framed payload into an envelope.
func DecodeMessage(payload []byte) (*Message, error) {
	var m Message
	if err := segjson.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
	}
	if m.Method == "" && len(m.ID) == 0 {
		return nil, fmt.Errorf("%s: envelope carries neither method nor id", jsonrpc2.ErrInvalidRequest)
	}
	return &m, nil
}

// hasID reports whether the envelope carries a matchable id. A literal null
// id counts as absent, it can never match a pending call.
func (m *Message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(bytes.TrimSpace(m.ID), []byte("null"))
}

// IsRequest reports whether the envelope expects a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.hasID()
}

// IsNotification reports whether the envelope is a fire-and-forget call.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.hasID()
}

// IsResponse reports whether the envelope answers an outbound request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}
