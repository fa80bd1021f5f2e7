// Package store persists networks, peers, routes, and sealed key material,
// and owns the address-offset allocator. All multi-step writes run inside a
// transaction; uniqueness lives in the schema so races surface as conflicts.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wirewarden/internal/keybox"
)

// Store wraps the database handle and the key envelope.
type Store struct {
	db  *gorm.DB
	box *keybox.Box
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations. The box seals private keys and PSKs at rest.
func Open(path string, box *keybox.Box) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	models := []any{
		&Network{},
		&WgKey{},
		&Server{},
		&Client{},
		&ServerRoute{},
		&PresharedKey{},
		&addressClaim{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, box: box}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dsn(path string) string {
	if strings.Contains(path, ":memory:") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// isDuplicate reports whether err is a unique-constraint violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
