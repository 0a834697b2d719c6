package storage

import (
	"fmt"
	"strings"

	"github.com/stacklight/wabridge/pkg/storage/postgres"
	"github.com/stacklight/wabridge/pkg/storage/sqlite"
)

// NewArchive builds the archive backend selected by cfg.Type. An empty type
// defaults to sqlite.
func NewArchive(cfg Config) (Archive, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "sqlite":
		return sqlite.New(cfg.FilePath)
	case "postgres":
		return postgres.New(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
