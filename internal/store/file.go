package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/udisondev/seabattle/internal/model"
)

// userRecord is one entry of the persisted document.
type userRecord struct {
	PasswordHash string              `json:"mdp_hash"`
	SavedGame    *model.GameSnapshot `json:"partie_sauvegardee"`
}

// userFile is the whole persisted document.
type userFile struct {
	Users map[string]*userRecord `json:"users"`
}

// FileStore keeps the user document in memory and mirrors every mutation to
// a single JSON file. All access is serialized by one mutex; writes go
// through a temp file and rename so a crash never leaves a torn document.
type FileStore struct {
	path           string
	minPasswordLen int

	mu   sync.Mutex
	data userFile
}

// OpenFileStore loads the document at path, treating a missing or malformed
// file as an empty store.
func OpenFileStore(path string, minPasswordLen int) (*FileStore, error) {
	s := &FileStore{
		path:           path,
		minPasswordLen: minPasswordLen,
		data:           userFile{Users: map[string]*userRecord{}},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading user store %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		slog.Error("user store file is malformed, starting empty", "path", path, "err", err)
		s.data = userFile{Users: map[string]*userRecord{}}
	}
	if s.data.Users == nil {
		s.data.Users = map[string]*userRecord{}
	}
	return s, nil
}

// persist writes the document atomically. Caller holds the mutex.
func (s *FileStore) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling user store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing user store %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Register(ctx context.Context, name, password string) error {
	if len(password) < s.minPasswordLen {
		return ErrPasswordTooShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Users[name]; exists {
		return ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	s.data.Users[name] = &userRecord{PasswordHash: hash}

	if err := s.persist(); err != nil {
		delete(s.data.Users, name)
		return err
	}
	return nil
}

func (s *FileStore) Verify(ctx context.Context, name, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data.Users[name]
	if !exists {
		return false, nil
	}
	return VerifyPassword(password, rec.PasswordHash), nil
}

func (s *FileStore) SaveGame(ctx context.Context, name string, snap model.GameSnapshot) error {
	snap = pauseForSave(snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data.Users[name]
	if !exists {
		return fmt.Errorf("saving game for %q: %w", name, ErrUnknownUser)
	}

	prev := rec.SavedGame
	rec.SavedGame = &snap
	if err := s.persist(); err != nil {
		rec.SavedGame = prev
		return err
	}
	return nil
}

func (s *FileStore) LoadGame(ctx context.Context, name string) (*model.GameSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data.Users[name]
	if !exists || rec.SavedGame == nil {
		return nil, nil
	}
	snap := *rec.SavedGame
	return &snap, nil
}

func (s *FileStore) HasSavedGame(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data.Users[name]
	return exists && rec.SavedGame != nil, nil
}

func (s *FileStore) DeleteSavedGame(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data.Users[name]
	if !exists || rec.SavedGame == nil {
		return nil
	}

	prev := rec.SavedGame
	rec.SavedGame = nil
	if err := s.persist(); err != nil {
		rec.SavedGame = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
