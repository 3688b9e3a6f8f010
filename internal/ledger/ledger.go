package ledger

import (
	"context"
	"log"
	"math"
	"time"
)

// UsageRecord is one priced usage event. Records are append-only; the
// amount is computed once at creation and never recomputed when the
// pricing catalog changes.
type UsageRecord struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	InputUnits  int64             `json:"input_units"`
	OutputUnits int64             `json:"output_units"`
	CostAmount  float64           `json:"cost_amount"`
	Currency    string            `json:"currency"`
	CacheHit    *bool             `json:"cache_hit,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FeeEntry is a flat processing fee (payment processors), kept apart
// from the usage ledger.
type FeeEntry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

type SummaryQuery struct {
	From     time.Time
	To       time.Time
	TenantID string
	Provider string
	Model    string
}

type Summary struct {
	TotalCost         float64            `json:"total_cost"`
	TotalInputUnits   int64              `json:"total_input_units"`
	TotalOutputUnits  int64              `json:"total_output_units"`
	RequestCount      int                `json:"request_count"`
	AvgCostPerRequest float64            `json:"avg_cost_per_request"`
	ByModel           map[string]float64 `json:"by_model"`
	ByProvider        map[string]float64 `json:"by_provider"`
	ByTenant          map[string]float64 `json:"by_tenant"`
	DailyBreakdown    map[string]float64 `json:"daily_breakdown"` // key: YYYY-MM-DD
}

type HistoryQuery struct {
	Page     int
	PageSize int
	From     time.Time
	To       time.Time
	TenantID string
	Provider string
	Model    string
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type HistoryPage struct {
	Records    []*UsageRecord `json:"records"`
	Pagination Pagination     `json:"pagination"`
}

type Store interface {
	Record(ctx context.Context, rec *UsageRecord) error
	RecordFee(ctx context.Context, fee *FeeEntry) error
	Summarize(ctx context.Context, q SummaryQuery) (*Summary, error)
	History(ctx context.Context, q HistoryQuery) (*HistoryPage, error)
	MonthToDateCost(ctx context.Context, tenantID string, at time.Time) (float64, error)
}

// Notifier is told about every committed usage write so the budget
// monitor can re-evaluate the affected tenant.
type Notifier interface {
	UsageRecorded(ctx context.Context, tenantID string)
}

// Service fronts a Store and fans out post-write notifications.
// Notification failures are best-effort: a missed alert is preferable
// to a failed usage write.
type Service struct {
	Store
	notifier Notifier
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{Store: store, notifier: notifier}
}

func (s *Service) Record(ctx context.Context, rec *UsageRecord) error {
	if err := s.Store.Record(ctx, rec); err != nil {
		return err
	}
	if s.notifier != nil {
		func() {
			defer logNotifyPanic()
			s.notifier.UsageRecorded(ctx, rec.TenantID)
		}()
	}
	return nil
}

// logNotifyPanic guards against a notifier taking down a usage write.
func logNotifyPanic() {
	if r := recover(); r != nil {
		log.Printf("ledger: usage notifier panicked: %v", r)
	}
}

// aggregate folds matching records into a Summary. Kept separate from
// the store so the arithmetic is testable without a database.
func aggregate(records []*UsageRecord) *Summary {
	s := &Summary{
		ByModel:        map[string]float64{},
		ByProvider:     map[string]float64{},
		ByTenant:       map[string]float64{},
		DailyBreakdown: map[string]float64{},
	}
	for _, r := range records {
		s.TotalCost += r.CostAmount
		s.TotalInputUnits += r.InputUnits
		s.TotalOutputUnits += r.OutputUnits
		s.RequestCount++
		s.ByModel[r.Model] += r.CostAmount
		s.ByProvider[r.Provider] += r.CostAmount
		s.ByTenant[r.TenantID] += r.CostAmount
		s.DailyBreakdown[r.OccurredAt.UTC().Format("2006-01-02")] += r.CostAmount
	}
	if s.RequestCount > 0 {
		s.AvgCostPerRequest = s.TotalCost / float64(s.RequestCount)
	}
	return s
}

// paginate computes the page bookkeeping for a total row count.
func paginate(page, pageSize, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}
}
