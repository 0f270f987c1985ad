package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// heartbeatPace is how long the server holds each heartbeat before
// answering, pacing the agent's send loop.
var heartbeatPace = 5000 * time.Millisecond

// HeartbeatDetail is the (empty) body of an agent heartbeat.
type HeartbeatDetail struct{}

// HeartbeatResponse is the (empty) body of the server's answer.
type HeartbeatResponse struct{}

// heartbeatTask answers each heartbeat after the pace delay, until the
// session closes.
func heartbeatTask(ctx context.Context, _ uuid.UUID, in <-chan HeartbeatDetail, out chan<- HeartbeatResponse, closed <-chan struct{}) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case _, ok := <-in:
			if !ok {
				return nil
			}
			timer.Reset(heartbeatPace)
			select {
			case <-timer.C:
			case <-closed:
				return nil
			case <-ctx.Done():
				return nil
			}
			select {
			case out <- HeartbeatResponse{}:
			case <-closed:
				return nil
			case <-ctx.Done():
				return nil
			}
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
