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

// Session pairs a running action with its close signal. The holder of the
// close signal decides when the session winds down gracefully.
type Session struct {
	Action *Action
	Close  *CloseSignal
}

// OnceShotFunc produces the single output of a once-shot session.
type OnceShotFunc[Out any] func(ctx context.Context, sessionID uuid.UUID) (Out, error)

// NewOnceShot builds a session that emits one output and completes. The
// typed boundary is handled here: the task marshals the output before it
// reaches the sink.
func NewOnceShot[Out any](sessionID uuid.UUID, log *logger.Logger, sink func(json.RawMessage) error, onComplete func(), fn OnceShotFunc[Out]) *Session {
	closeSig := NewCloseSignal()
	task := func(ctx context.Context, _ <-chan json.RawMessage, out chan<- json.RawMessage, _ <-chan struct{}) error {
		v, err := fn(ctx, sessionID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return apperrors.Serialization("encoding once-shot output", err)
		}
		return sendRaw(ctx, out, raw)
	}
	return &Session{
		Action: NewAction(sessionID, log, closeSig.Done(), task, sink, onComplete),
		Close:  closeSig,
	}
}

// ResponsiveFunc maps each inbound value to one outbound value.
type ResponsiveFunc[In, Out any] func(ctx context.Context, sessionID uuid.UUID, in In) (Out, error)

// NewResponsive builds a request/reply session: every agent response is
// decoded, handled and answered in order. The session ends when the
// handler fails or the session is aborted.
func NewResponsive[In, Out any](sessionID uuid.UUID, log *logger.Logger, sink func(json.RawMessage) error, onComplete func(), fn ResponsiveFunc[In, Out]) *Session {
	closeSig := NewCloseSignal()
	task := func(ctx context.Context, in <-chan json.RawMessage, out chan<- json.RawMessage, _ <-chan struct{}) error {
		for {
			select {
			case raw, ok := <-in:
				if !ok {
					return nil
				}
				var v In
				if err := json.Unmarshal(raw, &v); err != nil {
					return apperrors.Serialization("decoding responsive input", err)
				}
				res, err := fn(ctx, sessionID, v)
				if err != nil {
					return err
				}
				enc, err := json.Marshal(res)
				if err != nil {
					return apperrors.Serialization("encoding responsive output", err)
				}
				if err := sendRaw(ctx, out, enc); err != nil {
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
	return &Session{
		Action: NewAction(sessionID, log, closeSig.Done(), task, sink, onComplete),
		Close:  closeSig,
	}
}

// PingPongConstruct builds the single outbound message of a ping-pong
// session.
type PingPongConstruct[Out any] func(ctx context.Context, sessionID uuid.UUID) (Out, error)

// NewPingPong builds a session that sends one message and waits for one
// reply. The reply channel receives at most one value and is always
// closed when the task ends, so a waiter observes either the reply or a
// closed channel, never a hang.
func NewPingPong[Out any](sessionID uuid.UUID, log *logger.Logger, sink func(json.RawMessage) error, onComplete func(), construct PingPongConstruct[Out], reply chan<- json.RawMessage) *Session {
	closeSig := NewCloseSignal()
	task := func(ctx context.Context, in <-chan json.RawMessage, out chan<- json.RawMessage, closed <-chan struct{}) error {
		defer close(reply)
		v, err := construct(ctx, sessionID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return apperrors.Serialization("encoding ping-pong message", err)
		}
		if err := sendRaw(ctx, out, raw); err != nil {
			return nil
		}
		select {
		case resp, ok := <-in:
			if ok {
				reply <- resp
			}
			return nil
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return &Session{
		Action: NewAction(sessionID, log, closeSig.Done(), task, sink, onComplete),
		Close:  closeSig,
	}
}

// StreamFunc is a long-lived handler over typed channels. It must return
// once closed fires or the context is canceled.
type StreamFunc[In, Out any] func(ctx context.Context, sessionID uuid.UUID, in <-chan In, out chan<- Out, closed <-chan struct{}) error

// NewStreaming builds a long-lived session. Inbound frames are decoded
// onto a typed channel; typed outputs are encoded for the sink and, when
// typedOut is non-nil, mirrored to it.
func NewStreaming[In, Out any](sessionID uuid.UUID, log *logger.Logger, sink func(json.RawMessage) error, typedOut chan<- Out, onComplete func(), fn StreamFunc[In, Out]) *Session {
	closeSig := NewCloseSignal()
	slog := log.WithSessionID(sessionID.String())
	task := func(ctx context.Context, in <-chan json.RawMessage, out chan<- json.RawMessage, closed <-chan struct{}) error {
		typedIn := make(chan In, inboundCapacity)
		go func() {
			defer close(typedIn)
			for {
				select {
				case raw, ok := <-in:
					if !ok {
						return
					}
					var v In
					if err := json.Unmarshal(raw, &v); err != nil {
						slog.Warn("dropping undecodable stream input", zap.Error(err))
						continue
					}
					select {
					case typedIn <- v:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		outCh := make(chan Out, outboundCapacity)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range outCh {
				raw, err := json.Marshal(v)
				if err != nil {
					slog.Warn("dropping unencodable stream output", zap.Error(err))
					continue
				}
				if typedOut != nil {
					select {
					case typedOut <- v:
					case <-ctx.Done():
					}
				}
				if err := sendRaw(ctx, out, raw); err != nil {
					return
				}
			}
		}()

		err := fn(ctx, sessionID, typedIn, outCh, closed)
		close(outCh)
		wg.Wait()
		return err
	}
	return &Session{
		Action: NewAction(sessionID, log, closeSig.Done(), task, sink, onComplete),
		Close:  closeSig,
	}
}
