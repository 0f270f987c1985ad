package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/pkg/protocol"
)

// Instruction is an operator command deliverable to a connected agent.
// Each variant knows how to build the session that carries it and how its
// result sink gets resolved.
type Instruction interface {
	newSession(sessionID uuid.UUID, log *logger.Logger, sink *responseSink, write func(protocol.Message) error, onComplete func()) *Session
}

// SyncRobotName pushes a new display name down to the agent. Fire and
// forget: the result resolves as soon as the instruction is queued.
type SyncRobotName struct {
	RobotName string
}

func (i SyncRobotName) newSession(sessionID uuid.UUID, log *logger.Logger, sink *responseSink, write func(protocol.Message) error, onComplete func()) *Session {
	sink.resolve(json.RawMessage(`{}`), nil)
	return NewOnceShot(sessionID, log, messageSink(write), onComplete,
		func(_ context.Context, id uuid.UUID) (protocol.Message, error) {
			content, err := protocol.NewSyncRobotNameContent(i.RobotName)
			if err != nil {
				return protocol.Message{}, err
			}
			return protocol.NewInstruction(id, content)
		})
}

// UpdateMetadata asks the agent to re-read its local metadata. Fire and
// forget, like SyncRobotName.
type UpdateMetadata struct{}

func (i UpdateMetadata) newSession(sessionID uuid.UUID, log *logger.Logger, sink *responseSink, write func(protocol.Message) error, onComplete func()) *Session {
	sink.resolve(json.RawMessage(`{}`), nil)
	return NewOnceShot(sessionID, log, messageSink(write), onComplete,
		func(_ context.Context, id uuid.UUID) (protocol.Message, error) {
			return protocol.NewInstruction(id, protocol.NewUpdateMetadataContent())
		})
}

// FetchNetwork asks the agent for its network interface inventory. The
// result is the agent's raw reply content.
type FetchNetwork struct{}

func (i FetchNetwork) newSession(sessionID uuid.UUID, log *logger.Logger, sink *responseSink, write func(protocol.Message) error, onComplete func()) *Session {
	reply := make(chan json.RawMessage, 1)
	go func() {
		raw, ok := <-reply
		if !ok {
			sink.resolve(nil, apperrors.ChannelClosed("session closed before the agent replied"))
			return
		}
		sink.resolve(raw, nil)
	}()
	return NewPingPong(sessionID, log, messageSink(write), onComplete,
		func(_ context.Context, id uuid.UUID) (protocol.Message, error) {
			return protocol.NewInstruction(id, protocol.NewFetchNetworkContent())
		}, reply)
}

// messageSink decodes session outputs back into wire messages and hands
// them to the link writer.
func messageSink(write func(protocol.Message) error) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return apperrors.Serialization("decoding outbound message", err)
		}
		return write(msg)
	}
}

type instructionResult struct {
	value json.RawMessage
	err   error
}

// responseSink is a single-shot result slot for one instruction. Only the
// first resolve wins.
type responseSink struct {
	once sync.Once
	ch   chan instructionResult
}

func newResponseSink() *responseSink {
	return &responseSink{ch: make(chan instructionResult, 1)}
}

func (s *responseSink) resolve(value json.RawMessage, err error) {
	s.once.Do(func() {
		s.ch <- instructionResult{value: value, err: err}
	})
}
