// Package protocol defines the wire envelope exchanged with robot agents.
//
// Every frame on an agent link is one Message: a session id, a millisecond
// timestamp and a payload tagged by its "type" field. Unknown payload types
// are preserved verbatim so newer agents do not break older servers.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadType discriminates the payload union on the wire.
type PayloadType string

const (
	PayloadInstruction PayloadType = "instruction"
	PayloadEvent       PayloadType = "event"
	PayloadResponse    PayloadType = "response"
	PayloadClose       PayloadType = "close"

	// PayloadUnknown marks a payload whose "type" the server does not
	// recognize. The original JSON is kept for round-tripping.
	PayloadUnknown PayloadType = ""
)

// Message is the envelope for all agent link frames.
type Message struct {
	SessionID      uuid.UUID `json:"session_id"`
	LocalTimestamp int64     `json:"local_timestamp"` // ms since Unix epoch, UTC
	Payload        Payload   `json:"payload"`
}

// Payload is a tagged union over the message kinds. Content carries the
// inner JSON for instruction, event and response payloads; close has none.
type Payload struct {
	Type    PayloadType
	Content json.RawMessage

	// raw holds the original bytes of an unrecognized payload.
	raw json.RawMessage
}

type payloadWire struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON emits the tagged wire form, or the preserved original JSON
// for unknown payloads.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Type == PayloadUnknown {
		if len(p.raw) == 0 {
			return nil, fmt.Errorf("unknown payload with no preserved content")
		}
		return p.raw, nil
	}
	return json.Marshal(payloadWire{Type: string(p.Type), Content: p.Content})
}

// UnmarshalJSON decodes the tagged union. An unrecognized "type" value
// must not fail: the payload becomes Unknown with the raw JSON retained.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var wire payloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch PayloadType(wire.Type) {
	case PayloadInstruction, PayloadEvent, PayloadResponse, PayloadClose:
		p.Type = PayloadType(wire.Type)
		p.Content = wire.Content
		p.raw = nil
	default:
		p.Type = PayloadUnknown
		p.Content = nil
		p.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// Raw returns the preserved original JSON of an unknown payload.
func (p Payload) Raw() json.RawMessage {
	return p.raw
}

// Equal compares two payloads by their wire form.
func (p Payload) Equal(other Payload) bool {
	a, errA := p.MarshalJSON()
	b, errB := other.MarshalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

// NewInstruction builds an instruction message stamped with the current time.
func NewInstruction(sessionID uuid.UUID, content InstructionContent) (Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		SessionID:      sessionID,
		LocalTimestamp: now(),
		Payload:        Payload{Type: PayloadInstruction, Content: data},
	}, nil
}

// NewEvent builds an event message stamped with the current time.
func NewEvent(sessionID uuid.UUID, content any) (Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		SessionID:      sessionID,
		LocalTimestamp: now(),
		Payload:        Payload{Type: PayloadEvent, Content: data},
	}, nil
}

// NewResponse builds a response message stamped with the current time.
func NewResponse(sessionID uuid.UUID, content any) (Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		SessionID:      sessionID,
		LocalTimestamp: now(),
		Payload:        Payload{Type: PayloadResponse, Content: data},
	}, nil
}

// NewResponseRaw builds a response message from pre-encoded content.
func NewResponseRaw(sessionID uuid.UUID, content json.RawMessage) Message {
	return Message{
		SessionID:      sessionID,
		LocalTimestamp: now(),
		Payload:        Payload{Type: PayloadResponse, Content: content},
	}
}

// NewClose builds a close message for the session.
func NewClose(sessionID uuid.UUID) Message {
	return Message{
		SessionID:      sessionID,
		LocalTimestamp: now(),
		Payload:        Payload{Type: PayloadClose},
	}
}
