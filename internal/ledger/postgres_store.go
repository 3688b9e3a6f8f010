package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *UsageRecord) error {
	query := `
		INSERT INTO usage_records (tenant_id, provider, model, input_units, output_units, cost_amount, currency, cache_hit, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		rec.TenantID, rec.Provider, rec.Model,
		rec.InputUnits, rec.OutputUnits, rec.CostAmount, rec.Currency,
		rec.CacheHit, rec.OccurredAt, rec.Metadata,
	).Scan(&rec.ID)

	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) RecordFee(ctx context.Context, fee *FeeEntry) error {
	query := `
		INSERT INTO fee_entries (tenant_id, source, description, amount, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		fee.TenantID, fee.Source, fee.Description, fee.Amount, fee.Currency,
	).Scan(&fee.ID, &fee.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record fee: %w", err)
	}

	return nil
}

// filterClause builds the shared WHERE clause for range + optional
// tenant/provider/model filters.
func filterClause(from, to time.Time, tenantID, provider, model string) (string, []any) {
	clause := "WHERE occurred_at BETWEEN $1 AND $2"
	args := []any{from, to}
	if tenantID != "" {
		args = append(args, tenantID)
		clause += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if provider != "" {
		args = append(args, provider)
		clause += fmt.Sprintf(" AND provider = $%d", len(args))
	}
	if model != "" {
		args = append(args, model)
		clause += fmt.Sprintf(" AND model = $%d", len(args))
	}
	return clause, args
}

func (s *PostgresStore) fetch(ctx context.Context, clause string, args []any) ([]*UsageRecord, error) {
	query := `
		SELECT id, tenant_id, provider, model, input_units, output_units, cost_amount, currency, cache_hit, occurred_at, metadata
		FROM usage_records ` + clause + `
		ORDER BY occurred_at DESC
	`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		err := rows.Scan(
			&r.ID, &r.TenantID, &r.Provider, &r.Model,
			&r.InputUnits, &r.OutputUnits, &r.CostAmount, &r.Currency,
			&r.CacheHit, &r.OccurredAt, &r.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, q SummaryQuery) (*Summary, error) {
	clause, args := filterClause(q.From, q.To, q.TenantID, q.Provider, q.Model)
	records, err := s.fetch(ctx, clause, args)
	if err != nil {
		return nil, err
	}
	return aggregate(records), nil
}

func (s *PostgresStore) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	clause, args := filterClause(q.From, q.To, q.TenantID, q.Provider, q.Model)

	var total int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM usage_records "+clause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count usage records: %w", err)
	}

	p := paginate(q.Page, q.PageSize, total)

	args = append(args, p.PageSize, (p.Page-1)*p.PageSize)
	query := fmt.Sprintf(`
		SELECT id, tenant_id, provider, model, input_units, output_units, cost_amount, currency, cache_hit, occurred_at, metadata
		FROM usage_records %s
		ORDER BY occurred_at DESC
		LIMIT $%d OFFSET $%d
	`, clause, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	defer rows.Close()

	records := []*UsageRecord{}
	for rows.Next() {
		var r UsageRecord
		err := rows.Scan(
			&r.ID, &r.TenantID, &r.Provider, &r.Model,
			&r.InputUnits, &r.OutputUnits, &r.CostAmount, &r.Currency,
			&r.CacheHit, &r.OccurredAt, &r.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage history: %w", err)
	}

	return &HistoryPage{Records: records, Pagination: p}, nil
}

func (s *PostgresStore) MonthToDateCost(ctx context.Context, tenantID string, at time.Time) (float64, error) {
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)

	query := `
		SELECT COALESCE(SUM(cost_amount), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND occurred_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, tenantID, monthStart, at).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get month-to-date cost: %w", err)
	}

	return total, nil
}
