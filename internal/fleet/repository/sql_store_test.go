package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	pool, err := db.Open("sqlite:"+filepath.Join(t.TempDir(), "fleet.db"), 4, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store, err := NewSQLStore(context.Background(), pool, logger.Default())
	require.NoError(t, err)
	return store
}

func TestRegisterRobotUpsertsOnUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRobot(ctx, "AA", "rover", "u1"))
	require.NoError(t, s.RegisterRobot(ctx, "BB", "rover-2", "u1"))

	robots, err := s.Robots(ctx)
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, "BB", robots[0].Mac)
	assert.Equal(t, "rover-2", robots[0].Name)
}

func TestRegisterRobotIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RegisterRobot(ctx, "AA", "rover", "u1"))
	}
	robots, err := s.Robots(ctx)
	require.NoError(t, err)
	assert.Len(t, robots, 1)
}

func TestRobotByUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterRobot(ctx, "AA", "rover", "u1"))

	robot, err := s.RobotByUUID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, robot)
	assert.Equal(t, "rover", robot.Name)

	missing, err := s.RobotByUUID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetRobotName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterRobot(ctx, "AA", "old", "u1"))
	require.NoError(t, s.SetRobotName(ctx, "u1", "new"))

	robot, err := s.RobotByUUID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, robot)
	assert.Equal(t, "new", robot.Name)
}

func TestSearchByNameAndMac(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterRobot(ctx, "AA", "robot_alice_AA", "u1"))
	require.NoError(t, s.RegisterRobot(ctx, "BB", "robot_alice_BB", "u2"))

	robot, err := s.SearchByNameAndMac(ctx, "alice", "AA")
	require.NoError(t, err)
	require.NotNil(t, robot)
	assert.Equal(t, "u1", robot.UUID)

	robot, err = s.SearchByNameAndMac(ctx, "alice", "CC")
	require.NoError(t, err)
	assert.Nil(t, robot)

	robot, err = s.SearchByNameAndMac(ctx, "bob", "AA")
	require.NoError(t, err)
	assert.Nil(t, robot)
}

func TestNetworkInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.NetworkInfo(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	inventory := json.RawMessage(`[{"index":1,"mtu":1500,"name":"eth0","hardware_addr":"00:11","flags":["up"],"addrs":[{"addr":"10.0.0.2/24"}]}]`)
	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, s.WriteNetworkInfo(ctx, "u1", inventory))

	row, err := s.NetworkInfo(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Len(t, row.Info, 1)
	assert.Equal(t, "eth0", row.Info[0].Name)
	assert.Equal(t, []string{"up"}, row.Info[0].Flags)
	assert.True(t, row.LastUpdated.After(before))

	// upsert replaces the inventory
	require.NoError(t, s.WriteNetworkInfo(ctx, "u1", json.RawMessage(`[]`)))
	row, err = s.NetworkInfo(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Empty(t, row.Info)
}
