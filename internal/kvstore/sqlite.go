package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one persisted key-value pair.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:entry_value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// SQLiteStore persists entries through GORM.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// OpenSQLite establishes a SQLite connection and migrates the entry table.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("kvstore: sqlite path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("kv store initialized", zap.String("driver", DriverSQLite), zap.String("path", path))
	}
	return store, nil
}

// NewSQLiteStore wraps an open GORM handle and ensures the schema exists.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("kvstore: database handle is required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	entry := Entry{Key: key, Value: value, UpdatedAtSeconds: s.clock().UTC().Unix()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_s"}),
	}).Create(&entry).Error
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{}).Error
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
