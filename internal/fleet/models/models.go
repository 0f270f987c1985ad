// Package models holds the fleet domain types shared by the store and the
// HTTP API.
package models

import "time"

// RobotIdent is one registered agent: a stable uuid, a display name and
// the MAC address it reported at registration.
type RobotIdent struct {
	Mac  string `db:"mac" json:"mac"`
	Name string `db:"name" json:"name"`
	UUID string `db:"uuid" json:"uuid"`
}

// Addr is one address bound to a network interface.
type Addr struct {
	Addr string `json:"addr"`
}

// NetworkInfoItem describes one network interface as reported by an agent.
type NetworkInfoItem struct {
	Index        int      `json:"index"`
	MTU          int      `json:"mtu"`
	Name         string   `json:"name"`
	HardwareAddr string   `json:"hardware_addr"`
	Flags        []string `json:"flags"`
	Addrs        []Addr   `json:"addrs"`
}

// NetworkInfo is an agent's full interface inventory.
type NetworkInfo []NetworkInfoItem

// NetworkInfoRow is the last-observed inventory plus when it was written.
type NetworkInfoRow struct {
	Info        NetworkInfo `json:"info"`
	LastUpdated time.Time   `json:"last_updated"`
}
