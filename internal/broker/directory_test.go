package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/events/bus"
)

func TestDirectoryAddGetRemove(t *testing.T) {
	d := NewDirectory(nil, logger.Default())

	conn := NewConnection("robot-1", logger.Default())
	d.Add(conn)

	got, ok := d.Get("robot-1")
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.ElementsMatch(t, []string{"robot-1"}, d.OnlineRobots())

	d.Remove("robot-1", conn)
	_, ok = d.Get("robot-1")
	assert.False(t, ok)
	assert.Empty(t, d.OnlineRobots())
}

func TestDirectoryNewestLinkWins(t *testing.T) {
	d := NewDirectory(nil, logger.Default())

	first := NewConnection("robot-1", logger.Default())
	second := NewConnection("robot-1", logger.Default())
	d.Add(first)
	d.Add(second)

	got, ok := d.Get("robot-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("replaced connection was not closed")
	}

	// a stale remove from the first link's teardown must not evict the second
	d.Remove("robot-1", first)
	got, ok = d.Get("robot-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestDirectoryPublishesLifecycleEvents(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()

	online := make(chan *bus.Event, 1)
	offline := make(chan *bus.Event, 1)
	_, err := eventBus.Subscribe(bus.SubjectAgentOnline, func(_ context.Context, e *bus.Event) error {
		online <- e
		return nil
	})
	require.NoError(t, err)
	_, err = eventBus.Subscribe(bus.SubjectAgentOffline, func(_ context.Context, e *bus.Event) error {
		offline <- e
		return nil
	})
	require.NoError(t, err)

	d := NewDirectory(eventBus, logger.Default())
	conn := NewConnection("robot-7", logger.Default())

	d.Add(conn)
	select {
	case e := <-online:
		assert.Equal(t, "robot-7", e.Data["robot_id"])
	case <-time.After(time.Second):
		t.Fatal("no online event")
	}

	d.Remove("robot-7", conn)
	select {
	case e := <-offline:
		assert.Equal(t, "robot-7", e.Data["robot_id"])
	case <-time.After(time.Second):
		t.Fatal("no offline event")
	}
}

func TestDirectoryConnectionsSnapshot(t *testing.T) {
	d := NewDirectory(nil, logger.Default())
	d.Add(NewConnection("a", logger.Default()))
	d.Add(NewConnection("b", logger.Default()))

	assert.Len(t, d.Connections(), 2)
	assert.ElementsMatch(t, []string{"a", "b"}, d.OnlineRobots())
}
