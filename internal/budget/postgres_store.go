package budget

import (
	"context"
	"errors"
	"fmt"

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

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetLimit(ctx context.Context, tenantID string) (*CostLimit, error) {
	query := `
		SELECT tenant_id, monthly_limit, currency
		FROM cost_limits
		WHERE tenant_id = $1
	`
	var l CostLimit
	err := s.db.QueryRow(ctx, query, tenantID).Scan(&l.TenantID, &l.MonthlyLimit, &l.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLimitNotFound
		}
		return nil, fmt.Errorf("failed to get cost limit: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) SetLimit(ctx context.Context, limit *CostLimit) error {
	query := `
		INSERT INTO cost_limits (tenant_id, monthly_limit, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET monthly_limit = EXCLUDED.monthly_limit, currency = EXCLUDED.currency
	`
	_, err := s.db.Exec(ctx, query, limit.TenantID, limit.MonthlyLimit, limit.Currency)
	if err != nil {
		return fmt.Errorf("failed to set cost limit: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertAlert(ctx context.Context, alert *CostAlert) error {
	query := `
		INSERT INTO cost_alerts (id, tenant_id, kind, current_amount, limit_amount, percentage, message, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET current_amount = EXCLUDED.current_amount,
		              limit_amount   = EXCLUDED.limit_amount,
		              percentage     = EXCLUDED.percentage,
		              message        = EXCLUDED.message,
		              is_active      = EXCLUDED.is_active,
		              created_at     = EXCLUDED.created_at
	`
	_, err := s.db.Exec(ctx, query,
		alert.ID, alert.TenantID, alert.Kind,
		alert.CurrentAmount, alert.LimitAmount, alert.Percentage,
		alert.Message, alert.IsActive, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateAlert(ctx context.Context, alertID string) error {
	query := `UPDATE cost_alerts SET is_active = false WHERE id = $1`
	_, err := s.db.Exec(ctx, query, alertID)
	if err != nil {
		return fmt.Errorf("failed to deactivate alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateOthers(ctx context.Context, tenantID, keepAlertID string) error {
	query := `UPDATE cost_alerts SET is_active = false WHERE tenant_id = $1 AND id <> $2`
	_, err := s.db.Exec(ctx, query, tenantID, keepAlertID)
	if err != nil {
		return fmt.Errorf("failed to deactivate superseded alerts: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateAll(ctx context.Context, tenantID string) error {
	query := `UPDATE cost_alerts SET is_active = false WHERE tenant_id = $1`
	_, err := s.db.Exec(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate alerts: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*CostAlert, error) {
	query := `
		SELECT id, tenant_id, kind, current_amount, limit_amount, percentage, message, is_active, created_at
		FROM cost_alerts
		WHERE is_active = true
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*CostAlert
	for rows.Next() {
		var a CostAlert
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.Kind,
			&a.CurrentAmount, &a.LimitAmount, &a.Percentage,
			&a.Message, &a.IsActive, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}
