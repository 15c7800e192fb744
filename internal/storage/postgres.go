package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/betterclaw?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id BIGSERIAL PRIMARY KEY,
			ts DOUBLE PRECISION NOT NULL,
			subscription_id TEXT NOT NULL,
			source TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			event_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_ts ON journal(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_sub ON journal(subscription_id)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id BIGSERIAL PRIMARY KEY,
			ts DOUBLE PRECISION NOT NULL,
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

func (s *postgresStore) SaveLogEntry(ctx context.Context, entry model.EventLogEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (ts, subscription_id, source, decision, reason, event_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Timestamp,
		entry.Event.SubscriptionID,
		entry.Event.Source,
		string(entry.Decision),
		entry.Reason,
		encodeJSON(entry.Event),
	)
	return err
}

func (s *postgresStore) SaveInsight(ctx context.Context, ins model.Insight) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (ts, trigger_id, priority, message)
		VALUES ($1, $2, $3, $4)`,
		ins.FiredAt,
		ins.ID,
		ins.Priority,
		ins.Message,
	)
	return err
}
