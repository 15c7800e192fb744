package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/config"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Store mirrors journal entries and fired insights into a database for
// long-horizon queries. Optional; the JSON files remain authoritative.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveLogEntry(ctx context.Context, entry model.EventLogEntry) error
	SaveInsight(ctx context.Context, ins model.Insight) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
