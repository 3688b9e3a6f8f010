package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vnmchuo/cost-gateway/internal/auth"
	"github.com/vnmchuo/cost-gateway/internal/budget"
	"github.com/vnmchuo/cost-gateway/internal/ledger"
	"github.com/vnmchuo/cost-gateway/internal/webhook"
	"github.com/vnmchuo/cost-gateway/pkg/ratelimit"
)

// Handler serves the cost query surface consumed by the admin UI.
type Handler struct {
	ledger  ledger.Store
	monitor *budget.Monitor
	audit   webhook.AuditStore
	limiter *ratelimit.Limiter
}

func NewHandler(ledgerStore ledger.Store, monitor *budget.Monitor, audit webhook.AuditStore, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		ledger:  ledgerStore,
		monitor: monitor,
		audit:   audit,
		limiter: limiter,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RateLimit caps query-API requests per tenant via the redis limiter.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := auth.GetTenantID(r.Context())
		allowed, err := h.limiter.Allow(r.Context(), tenantID)
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60s")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseRange reads from/to query params (RFC3339), defaulting to the
// last 30 days, the same contract the admin UI already speaks.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'from' date format (use RFC3339)")
		}
		from = parsed
	}
	if s := r.URL.Query().Get("to"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'to' date format (use RFC3339)")
		}
		to = parsed
	}
	return from, to, nil
}

// tenantScope resolves the tenant filter: an explicit tenant_id query
// param wins, the authenticated tenant is the default.
func tenantScope(r *http.Request) string {
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		return t
	}
	return auth.GetTenantID(r.Context())
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.ledger.Summarize(r.Context(), ledger.SummaryQuery{
		From:     from,
		To:       to,
		TenantID: tenantScope(r),
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"from":    from,
		"to":      to,
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	history, err := h.ledger.History(r.Context(), ledger.HistoryQuery{
		Page:     page,
		PageSize: pageSize,
		From:     from,
		To:       to,
		TenantID: tenantScope(r),
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := ledger.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ledger.FormatCSV
	}
	if format != ledger.FormatCSV && format != ledger.FormatJSON {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	// Export pulls every matching record through the history query with
	// pagination wide open.
	history, err := h.ledger.History(r.Context(), ledger.HistoryQuery{
		Page:     1,
		PageSize: 100000,
		From:     from,
		To:       to,
		TenantID: tenantScope(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := ledger.Export(history.Records, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("cost-export-%s.%s", time.Now().UTC().Format("2006-01-02"), format)
	if format == ledger.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.monitor.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*budget.CostAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")
	if alertID == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}
	if err := h.monitor.Dismiss(r.Context(), alertID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) HandleSetLimit(w http.ResponseWriter, r *http.Request) {
	var limit budget.CostLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if limit.TenantID == "" {
		limit.TenantID = auth.GetTenantID(r.Context())
	}

	if err := h.monitor.SetLimit(r.Context(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Re-evaluate immediately so a lowered limit surfaces alerts without
	// waiting for the next usage write.
	if _, err := h.monitor.Evaluate(r.Context(), limit.TenantID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "limit": limit})
}

func (h *Handler) HandleWebhookStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.audit.Stats(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
