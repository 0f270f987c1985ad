package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/events/bus"
)

// Directory tracks the live connection per agent id and announces
// lifecycle changes on the event bus.
type Directory struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	bus bus.EventBus
	log *logger.Logger
}

// NewDirectory creates an empty connection directory.
func NewDirectory(eventBus bus.EventBus, log *logger.Logger) *Directory {
	return &Directory{
		conns: make(map[string]*Connection),
		bus:   eventBus,
		log:   log.WithFields(zap.String("component", "directory")),
	}
}

// Add registers a connection under its agent id. A previous connection
// for the same agent is closed; the newest link wins.
func (d *Directory) Add(conn *Connection) {
	robotID := conn.RobotID()

	d.mu.Lock()
	old := d.conns[robotID]
	d.conns[robotID] = conn
	d.mu.Unlock()

	if old != nil {
		d.log.WithRobotID(robotID).Warn("replacing existing agent link")
		old.Close()
	}
	d.publish(bus.SubjectAgentOnline, robotID)
}

// Remove drops the entry for robotID, but only if it still points at
// conn. A reconnect that already replaced the entry is left alone.
func (d *Directory) Remove(robotID string, conn *Connection) {
	d.mu.Lock()
	cur, ok := d.conns[robotID]
	if ok && cur == conn {
		delete(d.conns, robotID)
	} else {
		ok = false
	}
	d.mu.Unlock()

	if ok {
		d.publish(bus.SubjectAgentOffline, robotID)
	}
}

// Get returns the live connection for an agent id.
func (d *Directory) Get(robotID string) (*Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.conns[robotID]
	return conn, ok
}

// OnlineRobots lists the ids of all currently connected agents.
func (d *Directory) OnlineRobots() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	return ids
}

// Connections snapshots all live connections.
func (d *Directory) Connections() []*Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conns := make([]*Connection, 0, len(d.conns))
	for _, conn := range d.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (d *Directory) publish(subject, robotID string) {
	if d.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "directory", map[string]string{"robot_id": robotID})
	if err := d.bus.Publish(context.Background(), subject, event); err != nil {
		d.log.Warn("could not publish lifecycle event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
