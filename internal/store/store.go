// Package store persists the mutable usage policy across restarts.
package store

import (
	"context"
)

// PolicySnapshot is the durable slice of the usage policy: the parts admins
// mutate at runtime. Chat history and daily counters are intentionally not
// persisted.
type PolicySnapshot struct {
	WhiteList    []string       `json:"user_white_list"`
	Limits       map[string]int `json:"user_chat_count_per_day"`
	DefaultLimit int            `json:"default_user_chat_count_per_day"`
	Token        string         `json:"command_token"`
}

// PolicySource produces the current policy snapshot for periodic saving.
type PolicySource interface {
	Snapshot() PolicySnapshot
}

// Repository defines the interface for persisting policy state.
type Repository interface {
	// LoadPolicy returns the last saved snapshot, or nil when none exists.
	LoadPolicy(ctx context.Context) (*PolicySnapshot, error)

	// SavePolicy replaces the stored snapshot.
	SavePolicy(ctx context.Context, snap *PolicySnapshot) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
