// Package websocket upgrades agent HTTP requests into full-duplex links
// and bridges frames between the wire and the broker.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// agents connect from anywhere on the fleet network
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades agent connections and registers them in the directory.
type Handler struct {
	directory *broker.Directory
	log       *logger.Logger
}

// NewHandler creates the agent link handler.
func NewHandler(directory *broker.Directory, log *logger.Logger) *Handler {
	return &Handler{
		directory: directory,
		log:       log.WithFields(zap.String("component", "gateway")),
	}
}

// RegisterRoutes mounts the agent link upgrade endpoint.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws/robots/:robot_id", h.handleAgentLink)
}

// handleAgentLink owns the whole life of one agent link: upgrade,
// directory registration, both pumps, then teardown.
func (h *Handler) handleAgentLink(c *gin.Context) {
	robotID := c.Param("robot_id")
	if robotID == "" {
		c.String(http.StatusBadRequest, "missing robot id")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithRobotID(robotID).Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := broker.NewConnection(robotID, h.log)
	h.directory.Add(conn)
	h.log.WithRobotID(robotID).Info("agent connected")

	l := &link{
		ws:   ws,
		conn: conn,
		log:  h.log.WithRobotID(robotID),
	}
	go l.writePump()
	l.readPump()

	h.directory.Remove(robotID, conn)
	conn.Close()
	h.log.WithRobotID(robotID).Info("agent disconnected")
}
