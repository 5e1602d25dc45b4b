package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/model"
)

// Registration and lookup failures callers branch on.
var (
	ErrUserExists       = errors.New("user already exists")
	ErrPasswordTooShort = errors.New("password too short")
	ErrUnknownUser      = errors.New("unknown user")
)

// Store persists user records: credentials plus at most one saved game per
// user. Implementations are safe for concurrent use.
type Store interface {
	// Register creates a user. Fails with ErrUserExists or ErrPasswordTooShort.
	Register(ctx context.Context, name, password string) error

	// Verify reports whether the name exists and the password matches.
	Verify(ctx context.Context, name, password string) (bool, error)

	// SaveGame replaces the user's saved game. An in-progress snapshot is
	// rewritten to paused before persisting.
	SaveGame(ctx context.Context, name string, snap model.GameSnapshot) error

	// LoadGame returns the saved snapshot, or nil when there is none.
	LoadGame(ctx context.Context, name string) (*model.GameSnapshot, error)

	// HasSavedGame reports whether a snapshot is stored for the user.
	HasSavedGame(ctx context.Context, name string) (bool, error)

	// DeleteSavedGame drops the saved snapshot. A no-op without one.
	DeleteSavedGame(ctx context.Context, name string) error

	Close() error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig, minPasswordLen int) (Store, error) {
	switch cfg.Backend {
	case "file":
		return OpenFileStore(cfg.FilePath, minPasswordLen)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.Database.DSN(), minPasswordLen)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// pauseForSave rewrites an in-progress snapshot to paused, leaving every
// other state untouched.
func pauseForSave(snap model.GameSnapshot) model.GameSnapshot {
	if snap.State == model.StateInProgress {
		snap.State = model.StatePaused
	}
	return snap
}
