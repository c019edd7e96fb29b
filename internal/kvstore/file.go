package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const fileSuffix = ".json"

// FileStoreConfig describes where file-backed entries live.
type FileStoreConfig struct {
	Directory string
	// Fs defaults to the host filesystem.
	Fs     afero.Fs
	Logger *zap.Logger
}

// FileStore writes each key to its own file. Writes go through a temp file and rename.
type FileStore struct {
	fs        afero.Fs
	directory string
	mu        sync.Mutex
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		return nil, fmt.Errorf("kvstore: file store directory is required")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("kv store initialized", zap.String("driver", DriverFile), zap.String("path", directory))
	}
	return &FileStore{fs: fs, directory: directory}, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	data, err := afero.ReadFile(s.fs, s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.pathFor(key)
	temp := target + ".tmp"
	if err := afero.WriteFile(s.fs, temp, []byte(value), 0o600); err != nil {
		return err
	}
	return s.fs.Rename(temp, target)
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.fs.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// pathFor escapes the key so namespace separators and path characters stay inside the directory.
func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.directory, url.PathEscape(key)+fileSuffix)
}
