// Package broker multiplexes a single agent websocket link into typed,
// concurrently running sessions keyed by session id. Each session owns an
// Action: a goroutine plus the channels that feed it.
package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
	"github.com/robofleet/robofleet/internal/common/logger"
)

const (
	inboundCapacity  = 32
	outboundCapacity = 32
)

// TaskFunc is the body of a session. It consumes decoded inbound frames,
// produces encoded outbound frames and must return promptly once the close
// signal fires or the context is canceled.
type TaskFunc func(ctx context.Context, inbound <-chan json.RawMessage, outbound chan<- json.RawMessage, closed <-chan struct{}) error

// Action is the running half of a session: one task goroutine, a bounded
// inbound channel for responses from the agent and a bounded outbound
// channel drained by an output sink.
type Action struct {
	sessionID uuid.UUID
	inbound   chan json.RawMessage
	outbound  chan json.RawMessage

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	abortOnce sync.Once

	log *logger.Logger
}

// NewAction starts the task goroutine. The completion hook fires exactly
// once, after the task returns without error and without having been
// aborted. Outbound frames are handed to sink; a sink failure aborts the
// session.
func NewAction(sessionID uuid.UUID, log *logger.Logger, closed <-chan struct{}, task TaskFunc, sink func(json.RawMessage) error, onComplete func()) *Action {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Action{
		sessionID: sessionID,
		inbound:   make(chan json.RawMessage, inboundCapacity),
		outbound:  make(chan json.RawMessage, outboundCapacity),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       log.WithSessionID(sessionID.String()),
	}
	go a.drain(sink)
	go a.run(task, closed, onComplete)
	return a
}

func (a *Action) run(task TaskFunc, closed <-chan struct{}, onComplete func()) {
	defer close(a.done)
	defer a.cancel()

	err := task(a.ctx, a.inbound, a.outbound, closed)
	close(a.outbound)

	if err != nil {
		if a.ctx.Err() == nil {
			a.log.Error("session task failed", zap.Error(err))
		}
		return
	}
	if a.ctx.Err() != nil {
		return
	}
	if onComplete != nil {
		onComplete()
	}
}

// drain forwards outbound frames until the task closes the channel. The
// task's sends select on the context, so aborting here cannot wedge it.
func (a *Action) drain(sink func(json.RawMessage) error) {
	for raw := range a.outbound {
		if err := sink(raw); err != nil {
			a.log.Warn("dropping session output", zap.Error(err))
			a.Abort()
			return
		}
	}
}

// Resume hands an agent response to the task. It never blocks: a
// terminated session or a backlog past capacity is an error.
func (a *Action) Resume(raw json.RawMessage) error {
	select {
	case <-a.done:
		return apperrors.ChannelClosed("session already terminated")
	default:
	}
	select {
	case a.inbound <- raw:
		return nil
	case <-a.done:
		return apperrors.ChannelClosed("session already terminated")
	default:
		return apperrors.ChannelClosed("session inbound backlog full")
	}
}

// Abort cancels the task. Safe to call more than once; the completion
// hook will not fire.
func (a *Action) Abort() {
	a.abortOnce.Do(a.cancel)
}

// Done is closed once the task goroutine has returned.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// SessionID returns the session this action serves.
func (a *Action) SessionID() uuid.UUID {
	return a.sessionID
}

// CloseSignal is the write-once close handle paired with each session.
type CloseSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewCloseSignal returns an unfired close signal.
func NewCloseSignal() *CloseSignal {
	return &CloseSignal{ch: make(chan struct{})}
}

// Fire trips the signal. Later calls are no-ops.
func (c *CloseSignal) Fire() {
	c.once.Do(func() { close(c.ch) })
}

// Done is closed once the signal has fired.
func (c *CloseSignal) Done() <-chan struct{} {
	return c.ch
}

func sendRaw(ctx context.Context, ch chan<- json.RawMessage, raw json.RawMessage) error {
	select {
	case ch <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
