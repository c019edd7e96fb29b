// Package kvstore provides the persisted key-value store used for cached records,
// local edits and the session credential.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// DriverMemory keeps entries in process memory.
	DriverMemory = "memory"
	// DriverSQLite persists entries in a SQLite database.
	DriverSQLite = "sqlite"
	// DriverFile persists one file per key under a directory.
	DriverFile = "file"

	cacheKeyPrefix = "cache:"
	editKeyPrefix  = "edit:"
	sessionKey     = "session"
)

var (
	// ErrInvalidKey indicates an empty key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
	// ErrUnknownDriver indicates an unsupported store.driver value.
	ErrUnknownDriver = errors.New("kvstore: unknown driver")
)

// Store is the string key-value contract. Values are JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// CacheKey names the entry holding all cached records of a collection.
func CacheKey(collection string) string {
	return cacheKeyPrefix + collection
}

// EditKey names the entry holding the local edit for a resource id.
func EditKey(id string) string {
	return editKeyPrefix + id
}

// SessionKey names the entry holding the session credential.
func SessionKey() string {
	return sessionKey
}

// Open constructs the store selected by driver.
func Open(driver, path string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(path, logger)
	case DriverFile:
		return NewFileStore(FileStoreConfig{Directory: path, Logger: logger})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// MemoryStore keeps entries in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
