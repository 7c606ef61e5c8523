package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/esc-lab/dialogue-bench/internal/models"
)

// Connect opens the experiment database. DSNs that look like file paths
// or in-memory URIs use SQLite; anything else is treated as a PostgreSQL
// connection string.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	var dialector gorm.Dialector
	if isSQLite(dsn) {
		dialector = sqlite.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the experiment schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Experiment{}, &models.QuestionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

func isSQLite(dsn string) bool {
	switch {
	case strings.HasPrefix(dsn, "file:"),
		strings.Contains(dsn, ":memory:"),
		strings.HasSuffix(dsn, ".db"),
		strings.HasSuffix(dsn, ".sqlite"):
		return true
	}

	return false
}
