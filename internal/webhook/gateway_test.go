package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/cost-gateway/internal/ledger"
	"github.com/vnmchuo/cost-gateway/internal/pricing"
	"github.com/vnmchuo/cost-gateway/pkg/ratelimit"
)

// Mock ledger store
type mockLedger struct {
	records   []*ledger.UsageRecord
	fees      []*ledger.FeeEntry
	recordErr error
}

func (m *mockLedger) Record(ctx context.Context, r *ledger.UsageRecord) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records = append(m.records, r)
	return nil
}

func (m *mockLedger) RecordFee(ctx context.Context, f *ledger.FeeEntry) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.fees = append(m.fees, f)
	return nil
}

func (m *mockLedger) Summarize(ctx context.Context, q ledger.SummaryQuery) (*ledger.Summary, error) {
	return &ledger.Summary{}, nil
}

func (m *mockLedger) History(ctx context.Context, q ledger.HistoryQuery) (*ledger.HistoryPage, error) {
	return &ledger.HistoryPage{}, nil
}

func (m *mockLedger) MonthToDateCost(ctx context.Context, tenantID string, at time.Time) (float64, error) {
	return 0, nil
}

// Mock audit store
type mockAudit struct {
	entries []*AuditEntry
}

func (m *mockAudit) Append(ctx context.Context, e *AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAudit) Stats(ctx context.Context, from, to time.Time) (*AuditStats, error) {
	return &AuditStats{}, nil
}

// Mock media tracker
type mockTracker struct {
	refreshed []string
	err       error
}

func (m *mockTracker) Refresh(ctx context.Context, provider string) error {
	if m.err != nil {
		return m.err
	}
	m.refreshed = append(m.refreshed, provider)
	return nil
}

type testEnv struct {
	gateway *Gateway
	ledger  *mockLedger
	audit   *mockAudit
	tracker *mockTracker
	clock   *time.Time
}

func setupGateway(opts Options) *testEnv {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	env := &testEnv{
		ledger:  &mockLedger{},
		audit:   &mockAudit{},
		tracker: &mockTracker{},
		clock:   &now,
	}
	limiter := ratelimit.NewTestWindowLimiter(5, time.Minute, func() time.Time { return *env.clock })
	resolver := pricing.NewResolver(pricing.NewCatalog(pricing.DefaultProviders()))
	tracer := noop.NewTracerProvider().Tracer("test")

	env.gateway = NewGateway(opts, limiter, resolver, env.ledger, env.audit, env.tracker, tracer)
	return env
}

func enabledOpts() Options {
	return Options{Enabled: true}
}

func deliver(env *testEnv, headers map[string]string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/webhooks/events", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:52100"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.gateway.HandleEvent(w, req)
	return w
}

func aiHeaders() map[string]string {
	return map[string]string{"User-Agent": "OpenAI-Webhooks/1.0"}
}

func TestHandleEvent_AIUsageEndToEnd(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, aiHeaders(), map[string]any{
		"event":        "ai_usage",
		"tenantId":     "t1",
		"provider":     "OpenAI",
		"model":        "gpt-4o-mini",
		"inputTokens":  1000,
		"outputTokens": 500,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["success"] != true || resp["event"] != "ai_usage" {
		t.Errorf("Unexpected response: %v", resp)
	}

	if len(env.ledger.records) != 1 {
		t.Fatalf("Expected 1 ledger record, got %d", len(env.ledger.records))
	}
	rec := env.ledger.records[0]
	if math.Abs(rec.CostAmount-0.00045) > 1e-12 {
		t.Errorf("Expected cost 0.00045, got %v", rec.CostAmount)
	}
	if rec.TenantID != "t1" || rec.Currency != "USD" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	if len(env.audit.entries) != 1 {
		t.Fatalf("Expected exactly 1 audit entry, got %d", len(env.audit.entries))
	}
	entry := env.audit.entries[0]
	if entry.Source != "ai" || entry.ResponseStatus != 200 || entry.Error != "" {
		t.Errorf("Unexpected audit entry: %+v", entry)
	}
}

func TestHandleEvent_UnknownModelAuditedNotCrashed(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, aiHeaders(), map[string]any{
		"event":       "ai_usage",
		"tenantId":    "t1",
		"provider":    "OpenAI",
		"model":       "nonexistent-model",
		"inputTokens": 100,
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if len(env.ledger.records) != 0 {
		t.Error("No record should be written for an unknown model")
	}
	if len(env.audit.entries) != 1 {
		t.Fatalf("Expected exactly 1 audit entry, got %d", len(env.audit.entries))
	}
	if env.audit.entries[0].Error == "" {
		t.Error("Audit entry should carry the resolution error")
	}
}

func TestHandleEvent_Disabled(t *testing.T) {
	env := setupGateway(Options{Enabled: false})

	w := deliver(env, aiHeaders(), map[string]any{"event": "ai_usage"})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	if len(env.audit.entries) != 1 {
		t.Errorf("Rejections must be audited, got %d entries", len(env.audit.entries))
	}
}

func TestHandleEvent_RateLimitWindow(t *testing.T) {
	env := setupGateway(enabledOpts())

	for i := 0; i < 5; i++ {
		w := deliver(env, aiHeaders(), map[string]any{
			"event": "ai_usage", "tenantId": "t1",
			"provider": "OpenAI", "model": "gpt-4o-mini",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := deliver(env, aiHeaders(), map[string]any{"event": "ai_usage"})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("6th request: expected 429, got %d", w.Code)
	}

	*env.clock = env.clock.Add(61 * time.Second)
	w = deliver(env, aiHeaders(), map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini",
	})
	if w.Code != http.StatusOK {
		t.Errorf("Post-window request: expected 200, got %d", w.Code)
	}
}

func TestHandleEvent_UnknownSource(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, map[string]string{"User-Agent": "curl/8.0"}, map[string]any{"hello": "world"})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if env.audit.entries[0].Source != "unknown" {
		t.Errorf("Expected unknown source in audit, got %s", env.audit.entries[0].Source)
	}
}

func TestHandleEvent_SourceNotInAllowList(t *testing.T) {
	opts := enabledOpts()
	opts.AllowedSources = []string{"ai"}
	env := setupGateway(opts)

	w := deliver(env, map[string]string{"User-Agent": "Stripe/1.0"}, map[string]any{
		"type": "charge.succeeded", "tenantId": "t1", "amount": 100,
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	// Audit distinguishes disallowed known source from unknown source.
	if env.audit.entries[0].Source != "payment" {
		t.Errorf("Expected payment source in audit, got %s", env.audit.entries[0].Source)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleEvent_SignatureTamperedBody(t *testing.T) {
	opts := enabledOpts()
	opts.SignatureValidation = true
	opts.Secrets = map[string]string{"ai": "topsecret"}
	env := setupGateway(opts)

	original, _ := json.Marshal(map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini", "inputTokens": 100,
	})
	signature := sign("topsecret", original)

	tampered, _ := json.Marshal(map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini", "inputTokens": 999999,
	})

	req := httptest.NewRequest("POST", "/webhooks/events", bytes.NewReader(tampered))
	req.RemoteAddr = "10.0.0.1:52100"
	req.Header.Set("X-Provider-Signature", signature)
	w := httptest.NewRecorder()
	env.gateway.HandleEvent(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for tampered body, got %d", w.Code)
	}
	if len(env.ledger.records) != 0 {
		t.Error("Tampered delivery must not reach the ledger")
	}
	if len(env.audit.entries) != 1 || env.audit.entries[0].Error == "" {
		t.Error("Signature rejection must be audited with a reason")
	}
}

func TestHandleEvent_SignatureValid(t *testing.T) {
	opts := enabledOpts()
	opts.SignatureValidation = true
	opts.Secrets = map[string]string{"ai": "topsecret"}
	env := setupGateway(opts)

	body, _ := json.Marshal(map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini", "inputTokens": 100,
	})

	req := httptest.NewRequest("POST", "/webhooks/events", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:52100"
	req.Header.Set("X-Provider-Signature", sign("topsecret", body))
	w := httptest.NewRecorder()
	env.gateway.HandleEvent(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestHandleEvent_SignatureMissingWhenRequired(t *testing.T) {
	opts := enabledOpts()
	opts.SignatureValidation = true
	opts.Secrets = map[string]string{"ai": "topsecret"}
	env := setupGateway(opts)

	// Classified as ai via user-agent, but no signature header at all.
	w := deliver(env, aiHeaders(), map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing signature, got %d", w.Code)
	}
}

func TestHandleEvent_NoSecretSkipsVerification(t *testing.T) {
	opts := enabledOpts()
	opts.SignatureValidation = true
	env := setupGateway(opts)

	w := deliver(env, aiHeaders(), map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini",
	})

	if w.Code != http.StatusOK {
		t.Errorf("Expected permissive accept without a secret, got %d", w.Code)
	}
}

func TestHandleEvent_UnsupportedEventInKnownSource(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, aiHeaders(), map[string]any{
		"event": "model_deprecated", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for unsupported event, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["success"] != false {
		t.Errorf("Expected success=false, got %v", resp)
	}
	if env.audit.entries[0].Source != "ai" {
		t.Errorf("Audit should show the known source, got %s", env.audit.entries[0].Source)
	}
}

func TestHandleEvent_PaymentFee(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, map[string]string{"User-Agent": "Stripe/1.0"}, map[string]any{
		"type": "charge.succeeded", "tenantId": "t1",
		"transactionId": "txn_123", "amount": 100.0, "currency": "USD",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if len(env.ledger.fees) != 1 {
		t.Fatalf("Expected 1 fee entry, got %d", len(env.ledger.fees))
	}
	fee := env.ledger.fees[0]
	// 2.9% of 100 + 0.30
	if math.Abs(fee.Amount-3.20) > 1e-9 {
		t.Errorf("Expected fee 3.20, got %v", fee.Amount)
	}
	if len(env.ledger.records) != 0 {
		t.Error("Payment fees must not create usage records")
	}
}

func TestHandleEvent_MediaRefresh(t *testing.T) {
	env := setupGateway(enabledOpts())

	w := deliver(env, map[string]string{"User-Agent": "Cloudinary-Notifications"}, map[string]any{
		"notification_type": "usage_update",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if len(env.tracker.refreshed) != 1 || env.tracker.refreshed[0] != "cloudinary" {
		t.Errorf("Expected cloudinary refresh, got %v", env.tracker.refreshed)
	}
}

func TestHandleEvent_MediaRefreshFailure(t *testing.T) {
	env := setupGateway(enabledOpts())
	env.tracker.err = errors.New("tracker down")

	w := deliver(env, map[string]string{"User-Agent": "Cloudinary-Notifications"}, map[string]any{
		"notification_type": "usage_update",
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if env.audit.entries[0].Error == "" {
		t.Error("Refresh failure must be audited")
	}
}

func TestHandleEvent_LedgerWriteFailurePropagates(t *testing.T) {
	env := setupGateway(enabledOpts())
	env.ledger.recordErr = errors.New("store unavailable")

	w := deliver(env, aiHeaders(), map[string]any{
		"event": "ai_usage", "tenantId": "t1",
		"provider": "OpenAI", "model": "gpt-4o-mini", "inputTokens": 100,
	})

	// Failure response lets the sender's retry mechanism redeliver.
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestHandleEvent_ValidationErrors(t *testing.T) {
	env := setupGateway(enabledOpts())

	cases := []map[string]any{
		{"event": "ai_usage", "provider": "OpenAI", "model": "gpt-4o-mini"},                                        // missing tenant
		{"event": "ai_usage", "tenantId": "t1", "model": "gpt-4o-mini"},                                            // missing provider
		{"event": "ai_usage", "tenantId": "t1", "provider": "OpenAI", "model": "gpt-4o-mini", "inputTokens": -5},   // negative units
		{"event": "ai_usage", "tenantId": "t1", "provider": "OpenAI", "model": "gpt-4o-mini", "timestamp": "bad"}, // bad timestamp
	}
	for i, payload := range cases {
		w := deliver(env, aiHeaders(), payload)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Case %d: expected 400, got %d", i, w.Code)
		}
	}
	if len(env.ledger.records) != 0 {
		t.Error("Invalid payloads must not reach the ledger")
	}
	if len(env.audit.entries) != len(cases) {
		t.Errorf("Each rejection must be audited: expected %d entries, got %d", len(cases), len(env.audit.entries))
	}
}
