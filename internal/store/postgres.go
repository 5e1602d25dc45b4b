package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/seabattle/internal/model"
)

// PostgresStore persists user records in a users table, the saved game as a
// jsonb column with the same layout the file backend writes.
type PostgresStore struct {
	pool           *pgxpool.Pool
	minPasswordLen int
}

// OpenPostgresStore connects, pings and migrates the schema.
func OpenPostgresStore(ctx context.Context, dsn string, minPasswordLen int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := RunMigrations(ctx, dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, minPasswordLen: minPasswordLen}, nil
}

// NewPostgresStore wraps an existing pool (used by tests).
func NewPostgresStore(pool *pgxpool.Pool, minPasswordLen int) *PostgresStore {
	return &PostgresStore{pool: pool, minPasswordLen: minPasswordLen}
}

func (s *PostgresStore) Register(ctx context.Context, name, password string) error {
	if len(password) < s.minPasswordLen {
		return ErrPasswordTooShort
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (login, password_hash)
		 VALUES ($1, $2)
		 ON CONFLICT (login) DO NOTHING`,
		name, hash,
	)
	if err != nil {
		return fmt.Errorf("registering user %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *PostgresStore) Verify(ctx context.Context, name, password string) (bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE login = $1`, name,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying user %q: %w", name, err)
	}
	return VerifyPassword(password, hash), nil
}

func (s *PostgresStore) SaveGame(ctx context.Context, name string, snap model.GameSnapshot) error {
	raw, err := json.Marshal(pauseForSave(snap))
	if err != nil {
		return fmt.Errorf("marshaling snapshot for %q: %w", name, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET saved_game = $2 WHERE login = $1`, name, raw,
	)
	if err != nil {
		return fmt.Errorf("saving game for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saving game for %q: %w", name, ErrUnknownUser)
	}
	return nil
}

func (s *PostgresStore) LoadGame(ctx context.Context, name string) (*model.GameSnapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT saved_game FROM users WHERE login = $1`, name,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading game for %q: %w", name, err)
	}
	if raw == nil {
		return nil, nil
	}

	var snap model.GameSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot for %q: %w", name, err)
	}
	return &snap, nil
}

func (s *PostgresStore) HasSavedGame(ctx context.Context, name string) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx,
		`SELECT saved_game IS NOT NULL FROM users WHERE login = $1`, name,
	).Scan(&has)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking saved game for %q: %w", name, err)
	}
	return has, nil
}

func (s *PostgresStore) DeleteSavedGame(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET saved_game = NULL WHERE login = $1`, name,
	)
	if err != nil {
		return fmt.Errorf("deleting saved game for %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
