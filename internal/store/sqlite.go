package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/asadbukhari/weather-alert-cache/internal/models"
)

// Open initialises the embedded SQLite database at path and migrates the
// weather_cache and alerts tables. An empty path or ":memory:" opens a
// shared in-memory database, used by tests.
func Open(path string) (*gorm.DB, error) {
	dsn := buildDSN(path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&models.CacheEntry{}, &models.AlertEntry{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func buildDSN(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "", strings.EqualFold(path, ":memory:"):
		return "file::memory:?cache=shared"
	default:
		if err := ensureDir(path); err == nil {
			return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000", filepath.ToSlash(path))
		}
		return filepath.ToSlash(path)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
