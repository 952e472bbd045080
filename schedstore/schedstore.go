// Package schedstore persists schedule snapshots across process
// restarts. A manager configured with a Store can save its schedule
// table on shutdown and load it back on the next start; everything else
// about scheduling is in-memory.
package schedstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no snapshot exists for a manager.
var ErrNotFound = errors.New("schedstore: snapshot not found")

// Store is a snapshot persistence backend. One blob per manager
// identifier; saving overwrites.
type Store interface {
	// SaveSnapshot stores blob under managerID, replacing any previous
	// snapshot.
	SaveSnapshot(ctx context.Context, managerID string, blob []byte) error
	// LoadSnapshot returns the snapshot stored under managerID, or
	// ErrNotFound.
	LoadSnapshot(ctx context.Context, managerID string) ([]byte, error)
	// DeleteSnapshot removes the snapshot stored under managerID.
	// Deleting a missing snapshot is not an error.
	DeleteSnapshot(ctx context.Context, managerID string) error
	// Close releases backend resources.
	Close() error
}
