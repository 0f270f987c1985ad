package repository

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/robofleet/robofleet/internal/fleet/models"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
)

// MemoryStore is an in-memory Repository used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	robots  map[string]models.RobotIdent
	network map[string]models.NetworkInfoRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		robots:  make(map[string]models.RobotIdent),
		network: make(map[string]models.NetworkInfoRow),
	}
}

func (m *MemoryStore) RegisterRobot(_ context.Context, mac, name, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.robots[uuid] = models.RobotIdent{Mac: mac, Name: name, UUID: uuid}
	return nil
}

func (m *MemoryStore) Robots(_ context.Context) ([]models.RobotIdent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	robots := make([]models.RobotIdent, 0, len(m.robots))
	for _, r := range m.robots {
		robots = append(robots, r)
	}
	return robots, nil
}

func (m *MemoryStore) RobotByUUID(_ context.Context, uuid string) (*models.RobotIdent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.robots[uuid]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetRobotName(_ context.Context, uuid, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.robots[uuid]
	if !ok {
		return nil
	}
	r.Name = name
	m.robots[uuid] = r
	return nil
}

func (m *MemoryStore) SearchByNameAndMac(_ context.Context, username, mac string) (*models.RobotIdent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.robots {
		if strings.Contains(r.Name, username) && r.Mac == mac {
			robot := r
			return &robot, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) WriteNetworkInfo(_ context.Context, uuid string, info json.RawMessage) error {
	var parsed models.NetworkInfo
	if err := json.Unmarshal(info, &parsed); err != nil {
		return apperrors.Serialization("decoding network info", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.network[uuid] = models.NetworkInfoRow{Info: parsed, LastUpdated: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) NetworkInfo(_ context.Context, uuid string) (*models.NetworkInfoRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.network[uuid]; ok {
		r := row
		return &r, nil
	}
	return nil, nil
}
