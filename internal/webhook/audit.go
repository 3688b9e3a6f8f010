package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditEntry is a write-once forensic record of one inbound delivery
// attempt, kept regardless of processing outcome.
type AuditEntry struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Direction      string    `json:"direction"` // always "inbound"
	RequestPayload string    `json:"request_payload"`
	ResponseStatus int       `json:"response_status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditStats is the aggregate view the admin surface shows instead of
// individual stack traces.
type AuditStats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"` // 0-100
}

type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Stats(ctx context.Context, from, to time.Time) (*AuditStats, error)
}

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresAuditStore struct {
	db DB
}

func NewPostgresAuditStore(db DB) AuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO webhook_audit (id, source, direction, request_payload, response_status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		entry.ID, entry.Source, entry.Direction,
		entry.RequestPayload, entry.ResponseStatus, entry.Error,
	).Scan(&entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (s *PostgresAuditStore) Stats(ctx context.Context, from, to time.Time) (*AuditStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE response_status < 400 AND error = ''),
		       COUNT(*) FILTER (WHERE response_status >= 400 OR error <> '')
		FROM webhook_audit
		WHERE created_at BETWEEN $1 AND $2
	`
	var stats AuditStats
	err := s.db.QueryRow(ctx, query, from, to).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit stats: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total) * 100
	}
	return &stats, nil
}
