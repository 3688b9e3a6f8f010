package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrLimitNotFound = errors.New("cost limit not found")

type AlertKind string

const (
	KindWarning      AlertKind = "WARNING"       // >= 75% of monthly limit
	KindCritical     AlertKind = "CRITICAL"      // >= 90%
	KindLimitReached AlertKind = "LIMIT_REACHED" // >= 100%
)

// CostLimit is a tenant's monthly budget. At most one per tenant;
// SetLimit has upsert semantics.
type CostLimit struct {
	TenantID     string  `json:"tenant_id"`
	MonthlyLimit float64 `json:"monthly_limit"`
	Currency     string  `json:"currency"`
}

// CostAlert is one threshold crossing. The id is deterministic per
// (kind, tenant) so repeated evaluations update instead of duplicating.
type CostAlert struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Kind          AlertKind `json:"kind"`
	CurrentAmount float64   `json:"current_amount"`
	LimitAmount   float64   `json:"limit_amount"`
	Percentage    float64   `json:"percentage"`
	Message       string    `json:"message"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// AlertID is the stable identifier for a (kind, tenant) pair.
func AlertID(kind AlertKind, tenantID string) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(string(kind)), tenantID)
}

type Store interface {
	GetLimit(ctx context.Context, tenantID string) (*CostLimit, error)
	SetLimit(ctx context.Context, limit *CostLimit) error
	UpsertAlert(ctx context.Context, alert *CostAlert) error
	DeactivateAlert(ctx context.Context, alertID string) error
	DeactivateOthers(ctx context.Context, tenantID, keepAlertID string) error
	DeactivateAll(ctx context.Context, tenantID string) error
	ListActive(ctx context.Context) ([]*CostAlert, error)
}

// UsageReader is the slice of the ledger the monitor needs.
type UsageReader interface {
	MonthToDateCost(ctx context.Context, tenantID string, at time.Time) (float64, error)
}

type Monitor struct {
	store Store
	usage UsageReader
	now   func() time.Time
}

func NewMonitor(store Store, usage UsageReader) *Monitor {
	return &Monitor{store: store, usage: usage, now: time.Now}
}

// NewTestMonitor injects a clock for deterministic tests.
func NewTestMonitor(store Store, usage UsageReader, now func() time.Time) *Monitor {
	return &Monitor{store: store, usage: usage, now: now}
}

// band maps a spend ratio (percent) to an alert kind, empty below the
// warning threshold.
func band(percentage float64) AlertKind {
	switch {
	case percentage >= 100:
		return KindLimitReached
	case percentage >= 90:
		return KindCritical
	case percentage >= 75:
		return KindWarning
	default:
		return ""
	}
}

func message(kind AlertKind, percentage float64, current, limit float64, currency string) string {
	switch kind {
	case KindLimitReached:
		return fmt.Sprintf("Monthly cost limit reached: %.2f %s of %.2f %s", current, currency, limit, currency)
	case KindCritical:
		return fmt.Sprintf("Monthly cost at %.1f%% of limit (%.2f %s of %.2f %s)", percentage, current, currency, limit, currency)
	default:
		return fmt.Sprintf("Monthly cost at %.1f%% of limit (%.2f %s of %.2f %s)", percentage, current, currency, limit, currency)
	}
}

// Evaluate recomputes the tenant's month-to-date spend and reconciles
// alert state from scratch: the current band's alert is upserted active,
// every other kind is deactivated, so at most one alert per tenant is
// active at any time. Tenants without a configured limit are a no-op.
func (m *Monitor) Evaluate(ctx context.Context, tenantID string) ([]*CostAlert, error) {
	limit, err := m.store.GetLimit(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrLimitNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cost limit: %w", err)
	}
	if limit.MonthlyLimit <= 0 {
		return nil, nil
	}

	now := m.now()
	current, err := m.usage.MonthToDateCost(ctx, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute month-to-date cost: %w", err)
	}

	percentage := current / limit.MonthlyLimit * 100
	kind := band(percentage)
	if kind == "" {
		// Below every threshold: nothing stays active (covers limit
		// increases after an alert fired).
		if err := m.store.DeactivateAll(ctx, tenantID); err != nil {
			return nil, fmt.Errorf("failed to deactivate alerts: %w", err)
		}
		return nil, nil
	}

	reported := percentage
	if kind == KindLimitReached && reported > 100 {
		reported = 100
	}

	alert := &CostAlert{
		ID:            AlertID(kind, tenantID),
		TenantID:      tenantID,
		Kind:          kind,
		CurrentAmount: current,
		LimitAmount:   limit.MonthlyLimit,
		Percentage:    reported,
		Message:       message(kind, reported, current, limit.MonthlyLimit, limit.Currency),
		IsActive:      true,
		CreatedAt:     now,
	}

	if err := m.store.UpsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to upsert alert: %w", err)
	}
	if err := m.store.DeactivateOthers(ctx, tenantID, alert.ID); err != nil {
		return nil, fmt.Errorf("failed to supersede stale alerts: %w", err)
	}

	return []*CostAlert{alert}, nil
}

func (m *Monitor) ListActive(ctx context.Context) ([]*CostAlert, error) {
	return m.store.ListActive(ctx)
}

// Dismiss deactivates an alert without deleting it; the record stays
// for the audit trail.
func (m *Monitor) Dismiss(ctx context.Context, alertID string) error {
	return m.store.DeactivateAlert(ctx, alertID)
}

func (m *Monitor) SetLimit(ctx context.Context, limit *CostLimit) error {
	if limit.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if limit.MonthlyLimit < 0 {
		return fmt.Errorf("monthly_limit must not be negative")
	}
	if limit.Currency == "" {
		limit.Currency = "USD"
	}
	return m.store.SetLimit(ctx, limit)
}

func (m *Monitor) GetLimit(ctx context.Context, tenantID string) (*CostLimit, error) {
	return m.store.GetLimit(ctx, tenantID)
}
