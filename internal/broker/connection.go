package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/pkg/protocol"
)

// writerCapacity bounds the outgoing frame backlog per agent link.
const writerCapacity = 100

// Connection is the server side of one agent link. It owns the session
// registry and the outgoing frame queue; the websocket layer feeds Recv
// and drains Outgoing.
type Connection struct {
	robotID string

	writer    chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	log *logger.Logger
}

// NewConnection creates the connection state for one agent link.
func NewConnection(robotID string, log *logger.Logger) *Connection {
	return &Connection{
		robotID:  robotID,
		writer:   make(chan protocol.Message, writerCapacity),
		done:     make(chan struct{}),
		sessions: make(map[uuid.UUID]*Session),
		log:      log.WithRobotID(robotID),
	}
}

// RobotID returns the agent id this link serves.
func (c *Connection) RobotID() string {
	return c.robotID
}

// Outgoing is the queue of frames to put on the wire.
func (c *Connection) Outgoing() <-chan protocol.Message {
	return c.writer
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// write queues a frame for the agent. It never blocks: a closed link or a
// full backlog is an error the session layer handles by aborting.
func (c *Connection) write(msg protocol.Message) error {
	select {
	case <-c.done:
		return apperrors.ChannelClosed("connection closed")
	default:
	}
	select {
	case c.writer <- msg:
		return nil
	case <-c.done:
		return apperrors.ChannelClosed("connection closed")
	default:
		return apperrors.ChannelClosed("outgoing backlog full")
	}
}

// Recv dispatches one raw frame from the agent. A malformed frame is an
// error for the caller to log; the link itself survives.
func (c *Connection) Recv(raw []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return apperrors.ParseError("malformed agent frame", err)
	}

	log := c.log.WithSessionID(msg.SessionID.String())
	switch msg.Payload.Type {
	case protocol.PayloadInstruction:
		log.Error("agent sent an instruction; dropping frame")
		return nil
	case protocol.PayloadEvent:
		return c.handleEvent(msg)
	case protocol.PayloadResponse:
		c.handleResponse(msg)
		return nil
	case protocol.PayloadClose:
		c.closeSession(msg.SessionID)
		return nil
	default:
		log.Warn("unrecognized payload type; ignoring frame")
		return nil
	}
}

func (c *Connection) handleEvent(msg protocol.Message) error {
	sessionID := msg.SessionID
	s, err := newEventSession(sessionID, c.log, msg.Payload.Content, c.write, func() {
		c.removeSession(sessionID)
	})
	if err != nil {
		return err
	}
	c.register(sessionID, s)
	return nil
}

func (c *Connection) handleResponse(msg protocol.Message) {
	c.mu.RLock()
	s, ok := c.sessions[msg.SessionID]
	c.mu.RUnlock()

	log := c.log.WithSessionID(msg.SessionID.String())
	if !ok {
		log.Warn("response for unknown session")
		return
	}
	if err := s.Action.Resume(msg.Payload.Content); err != nil {
		log.Warn("could not resume session", zap.Error(err))
	}
}

func (c *Connection) closeSession(sessionID uuid.UUID) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	log := c.log.WithSessionID(sessionID.String())
	if !ok {
		log.Warn("close for unknown session")
		return
	}
	s.Close.Fire()
	s.Action.Abort()
	log.Debug("session closed by agent")
}

// register inserts a session, replacing and tearing down any session
// already registered under the same id. Latest wins.
func (c *Connection) register(sessionID uuid.UUID, s *Session) {
	c.mu.Lock()
	old := c.sessions[sessionID]
	c.sessions[sessionID] = s
	c.mu.Unlock()

	if old != nil {
		c.log.WithSessionID(sessionID.String()).Warn("replacing session with same id")
		old.Close.Fire()
		old.Action.Abort()
	}
}

// removeSession drops a registry entry without firing its close signal.
// Used by completion hooks after a task has already finished.
func (c *Connection) removeSession(sessionID uuid.UUID) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Connection) abortSession(sessionID uuid.UUID) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if ok {
		s.Close.Fire()
		s.Action.Abort()
	}
}

// SessionCount reports how many sessions are currently registered.
func (c *Connection) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// SendInstruction delivers an instruction under a fresh session id and
// waits for its result. Fire-and-forget instructions resolve immediately;
// ping-pong instructions resolve with the agent's reply, or with an error
// if the session or the link goes away first.
func (c *Connection) SendInstruction(ctx context.Context, instr Instruction) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, apperrors.AgentNotConnected(c.robotID)
	default:
	}

	sessionID := uuid.New()
	sink := newResponseSink()
	s := instr.newSession(sessionID, c.log, sink, c.write, func() {
		c.removeSession(sessionID)
	})
	c.register(sessionID, s)

	select {
	case res := <-sink.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-ctx.Done():
		c.abortSession(sessionID)
		return nil, ctx.Err()
	case <-c.done:
		c.abortSession(sessionID)
		return nil, apperrors.ChannelClosed("connection closed while awaiting reply")
	}
}

// Close tears the connection down: every registered session gets its
// close signal and is aborted, and pending SendInstruction calls fail.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		sessions := c.sessions
		c.sessions = make(map[uuid.UUID]*Session)
		c.mu.Unlock()

		for _, s := range sessions {
			s.Close.Fire()
			s.Action.Abort()
		}
		c.log.Info("connection closed", zap.Int("sessions", len(sessions)))
	})
}
