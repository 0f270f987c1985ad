package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// link couples one websocket to one broker connection.
type link struct {
	ws   *websocket.Conn
	conn *broker.Connection
	log  *logger.Logger
}

// readPump feeds inbound frames to the broker in arrival order. Malformed
// frames are logged and skipped; only an I/O failure ends the link.
func (l *link) readPump() {
	defer l.ws.Close()

	l.ws.SetReadLimit(maxMessageSize)
	_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warn("agent link read failed", zap.Error(err))
			}
			return
		}
		if err := l.conn.Recv(raw); err != nil {
			l.log.Warn("dropping agent frame", zap.Error(err))
		}
	}
}

// writePump drains the broker's outgoing queue onto the wire and keeps
// the link alive with pings.
func (l *link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.ws.Close()
	}()

	for {
		select {
		case msg := <-l.conn.Outgoing():
			data, err := json.Marshal(msg)
			if err != nil {
				l.log.Error("could not encode outgoing frame", zap.Error(err))
				continue
			}
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-l.conn.Done():
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = l.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
