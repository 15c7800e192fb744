package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:betterclaw.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			subscription_id TEXT NOT NULL,
			source TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			event_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_ts ON journal(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_sub ON journal(subscription_id)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			trigger_id TEXT NOT NULL,
			priority TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_ts ON insights(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveLogEntry(ctx context.Context, entry model.EventLogEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (ts, subscription_id, source, decision, reason, event_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp,
		entry.Event.SubscriptionID,
		entry.Event.Source,
		string(entry.Decision),
		entry.Reason,
		encodeJSON(entry.Event),
	)
	return err
}

func (s *sqliteStore) SaveInsight(ctx context.Context, ins model.Insight) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (ts, trigger_id, priority, message)
		VALUES (?, ?, ?, ?)`,
		ins.FiredAt,
		ins.ID,
		ins.Priority,
		ins.Message,
	)
	return err
}
