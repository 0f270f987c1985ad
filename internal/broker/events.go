package broker

import (
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/pkg/protocol"
)

const eventHeartbeat = "heartbeat"

// eventEnvelope is the content of an event payload: a tag naming the
// event and an opaque detail.
type eventEnvelope struct {
	Event  string          `json:"event"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// newEventSession builds the session serving an agent-initiated event.
// Unknown event tags are rejected and register nothing. Outputs go back
// on the link as response payloads under the agent's session id.
func newEventSession(sessionID uuid.UUID, log *logger.Logger, content json.RawMessage, write func(protocol.Message) error, onComplete func()) (*Session, error) {
	var env eventEnvelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, apperrors.ParseError("malformed event content", err)
	}

	switch env.Event {
	case eventHeartbeat:
		sink := func(raw json.RawMessage) error {
			return write(protocol.NewResponseRaw(sessionID, raw))
		}
		// The detail on the event frame itself is discarded; heartbeats
		// stream in as response frames on the same session.
		return NewStreaming[HeartbeatDetail, HeartbeatResponse](sessionID, log, sink, nil, onComplete, heartbeatTask), nil
	default:
		return nil, apperrors.UnknownEvent(env.Event)
	}
}
