// Package repository persists robot identities and their last-observed
// network info.
package repository

import (
	"context"
	"encoding/json"

	"github.com/robofleet/robofleet/internal/fleet/models"
)

// Repository is the storage surface for the fleet. Lookups that find
// nothing return (nil, nil).
type Repository interface {
	// RegisterRobot upserts an identity keyed by uuid.
	RegisterRobot(ctx context.Context, mac, name, uuid string) error

	// Robots lists every registered identity.
	Robots(ctx context.Context) ([]models.RobotIdent, error)

	// RobotByUUID fetches one identity.
	RobotByUUID(ctx context.Context, uuid string) (*models.RobotIdent, error)

	// SetRobotName renames a registered robot.
	SetRobotName(ctx context.Context, uuid, name string) error

	// SearchByNameAndMac finds a robot whose name contains username and
	// whose MAC matches exactly.
	SearchByNameAndMac(ctx context.Context, username, mac string) (*models.RobotIdent, error)

	// WriteNetworkInfo upserts the raw interface inventory for a robot.
	WriteNetworkInfo(ctx context.Context, uuid string, info json.RawMessage) error

	// NetworkInfo fetches the last-observed inventory for a robot.
	NetworkInfo(ctx context.Context, uuid string) (*models.NetworkInfoRow, error)
}
