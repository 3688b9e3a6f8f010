package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/vnmchuo/cost-gateway/internal/ledger"
	"github.com/vnmchuo/cost-gateway/internal/pricing"
)

// aiEvent is the usage payload AI vendors deliver.
type aiEvent struct {
	Event        string `json:"event"`
	TenantID     string `json:"tenantId"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	CacheHit     *bool  `json:"cacheHit,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"` // RFC3339, defaults to receipt time
}

// paymentEvent is the processor's transaction notification. Amount is
// the transaction total in the payload currency's major unit.
type paymentEvent struct {
	Type          string  `json:"type"`
	TenantID      string  `json:"tenantId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// mediaEvent is the CDN's usage-update ping.
type mediaEvent struct {
	NotificationType string `json:"notification_type"`
	Provider         string `json:"provider,omitempty"`
}

func success(source Source, event string) outcome {
	return outcome{
		status: http.StatusOK,
		body:   map[string]any{"success": true, "event": event},
		source: source,
		event:  event,
	}
}

// unsupported marks a recognized source delivering an event kind we do
// not handle: 200 so the sender stops retrying, success=false so the
// audit trail distinguishes it from an unknown source.
func unsupported(source Source, event string) outcome {
	msg := fmt.Sprintf("unsupported event type %q", event)
	return outcome{
		status: http.StatusOK,
		body:   map[string]any{"success": false, "error": msg},
		source: source,
		event:  event,
		errMsg: msg,
	}
}

func invalid(source Source, event, msg string) outcome {
	o := rejected(http.StatusBadRequest, source, msg)
	o.event = event
	return o
}

func handlerError(source Source, event string, err error) outcome {
	log.Printf("webhook: %s handler failed: %v", source, err)
	return outcome{
		status: http.StatusInternalServerError,
		body:   map[string]any{"error": "processing failed"},
		source: source,
		event:  event,
		errMsg: err.Error(),
	}
}

func (g *Gateway) handleAIUsage(ctx context.Context, body []byte) outcome {
	var ev aiEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return invalid(SourceAI, "", "malformed payload: "+err.Error())
	}
	if ev.Event == "" {
		ev.Event = "ai_usage"
	}
	if ev.Event != "ai_usage" {
		return unsupported(SourceAI, ev.Event)
	}

	if ev.Provider == "" || ev.Model == "" {
		return invalid(SourceAI, ev.Event, "provider and model are required")
	}
	if ev.InputTokens < 0 || ev.OutputTokens < 0 {
		return invalid(SourceAI, ev.Event, "token counts must not be negative")
	}
	if ev.TenantID == "" {
		return invalid(SourceAI, ev.Event, "tenantId is required")
	}

	occurredAt := time.Now().UTC()
	if ev.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			return invalid(SourceAI, ev.Event, "invalid timestamp (use RFC3339)")
		}
		occurredAt = parsed
	}

	cost, err := g.resolver.Resolve(pricing.Usage{
		Provider:    ev.Provider,
		Model:       ev.Model,
		InputUnits:  ev.InputTokens,
		OutputUnits: ev.OutputTokens,
		CacheHit:    ev.CacheHit,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		// Unknown model is a configuration fault: fail this event, never
		// default to zero cost.
		return handlerError(SourceAI, ev.Event, err)
	}

	rec := &ledger.UsageRecord{
		TenantID:    ev.TenantID,
		Provider:    ev.Provider,
		Model:       ev.Model,
		InputUnits:  ev.InputTokens,
		OutputUnits: ev.OutputTokens,
		CostAmount:  cost.Amount,
		Currency:    cost.Currency,
		CacheHit:    ev.CacheHit,
		OccurredAt:  occurredAt,
		Metadata:    map[string]string{"tier": cost.Tier, "via": "webhook"},
	}
	if err := g.ledger.Record(ctx, rec); err != nil {
		// Propagate as failure so the sender's retry redelivers.
		return handlerError(SourceAI, ev.Event, err)
	}

	return success(SourceAI, ev.Event)
}

var supportedPaymentEvents = map[string]bool{
	"charge.succeeded":         true,
	"payment_intent.succeeded": true,
}

func (g *Gateway) handlePayment(ctx context.Context, body []byte) outcome {
	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return invalid(SourcePayment, "", "malformed payload: "+err.Error())
	}
	if !supportedPaymentEvents[ev.Type] {
		return unsupported(SourcePayment, ev.Type)
	}

	if ev.Amount < 0 {
		return invalid(SourcePayment, ev.Type, "amount must not be negative")
	}
	if ev.TenantID == "" {
		return invalid(SourcePayment, ev.Type, "tenantId is required")
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}

	fee := ev.Amount*g.opts.FeePercent/100 + g.opts.FeeFixed
	entry := &ledger.FeeEntry{
		TenantID:    ev.TenantID,
		Source:      string(SourcePayment),
		Description: fmt.Sprintf("processing fee for transaction %s", ev.TransactionID),
		Amount:      fee,
		Currency:    ev.Currency,
	}
	if err := g.ledger.RecordFee(ctx, entry); err != nil {
		return handlerError(SourcePayment, ev.Type, err)
	}

	return success(SourcePayment, ev.Type)
}

func (g *Gateway) handleMedia(ctx context.Context, body []byte) outcome {
	var ev mediaEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return invalid(SourceMedia, "", "malformed payload: "+err.Error())
	}
	if ev.NotificationType != "usage_update" {
		return unsupported(SourceMedia, ev.NotificationType)
	}
	if ev.Provider == "" {
		ev.Provider = "cloudinary"
	}

	// The breaker keeps a flapping tracker endpoint from being hammered
	// by every delivery.
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.media.Refresh(ctx, ev.Provider)
	})
	if err != nil {
		return handlerError(SourceMedia, ev.NotificationType, err)
	}

	return success(SourceMedia, ev.NotificationType)
}
