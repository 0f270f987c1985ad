package api

import (
	"time"

	"github.com/robofleet/robofleet/internal/fleet/models"
)

// SetRobotNameRequest renames a connected robot.
type SetRobotNameRequest struct {
	RobotUUID    string `json:"robot_uuid" binding:"required"`
	NewRobotName string `json:"new_robot_name" binding:"required"`
}

// FetchNetworkRequest asks one robot for a fresh network inventory.
type FetchNetworkRequest struct {
	RobotID string `json:"robot_id" binding:"required"`
}

// WhoAmIRequest asks the server to mint an identity suggestion.
type WhoAmIRequest struct {
	Username string `json:"username" binding:"required"`
	Mac      string `json:"mac" binding:"required"`
}

// WhoAmIResponse is a minted, not yet persisted, identity.
type WhoAmIResponse struct {
	RobotUUID string `json:"robot_uuid"`
	RobotName string `json:"robot_name"`
}

// SyncRequest registers an identity, upserting on uuid.
type SyncRequest struct {
	Mac  string `json:"mac" binding:"required"`
	Name string `json:"name" binding:"required"`
	UUID string `json:"uuid" binding:"required"`
}

// SyncResponse reports whether the registration stuck.
type SyncResponse struct {
	Success bool `json:"success"`
}

// RobotNetworkStatsResponse is the stored inventory plus its write time.
type RobotNetworkStatsResponse struct {
	Stats       models.NetworkInfo `json:"stats"`
	LastUpdated time.Time          `json:"last_updated"`
}

// VersionResponse reports the running service version.
type VersionResponse struct {
	Version string `json:"version"`
}
