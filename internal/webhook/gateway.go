package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/cost-gateway/internal/ledger"
	"github.com/vnmchuo/cost-gateway/internal/media"
	"github.com/vnmchuo/cost-gateway/internal/pricing"
	"github.com/vnmchuo/cost-gateway/pkg/ratelimit"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Default card processing fee: 2.9% + $0.30 per transaction.
const (
	defaultFeePercent = 2.9
	defaultFeeFixed   = 0.30
)

type Options struct {
	Enabled             bool
	AllowedSources      []string // lowercased; empty allows every known source
	SignatureValidation bool
	Secrets             map[string]string // keyed by source name

	FeePercent float64 // payment processing percentage, 0 means default
	FeeFixed   float64 // payment fixed fee, 0 means default
}

// Gateway is the single webhook ingress. Per request it walks
// rate-limit -> source identification -> signature check -> dispatch,
// and writes exactly one audit entry as its final act no matter which
// state the request terminates in.
type Gateway struct {
	opts     Options
	limiter  *ratelimit.WindowLimiter
	resolver *pricing.Resolver
	ledger   ledger.Store
	audit    AuditStore
	media    media.Tracker
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

func NewGateway(
	opts Options,
	limiter *ratelimit.WindowLimiter,
	resolver *pricing.Resolver,
	ledgerStore ledger.Store,
	audit AuditStore,
	mediaTracker media.Tracker,
	tracer trace.Tracer,
) *Gateway {
	if opts.FeePercent == 0 {
		opts.FeePercent = defaultFeePercent
	}
	if opts.FeeFixed == 0 {
		opts.FeeFixed = defaultFeeFixed
	}
	settings := gobreaker.Settings{
		Name:        "media-tracker",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Gateway{
		opts:     opts,
		limiter:  limiter,
		resolver: resolver,
		ledger:   ledgerStore,
		audit:    audit,
		media:    mediaTracker,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		tracer:   tracer,
	}
}

// outcome is one terminal state of the per-request state machine.
type outcome struct {
	status int
	body   map[string]any
	source Source
	event  string
	errMsg string // recorded in the audit entry, not always sent to the caller
}

func rejected(status int, source Source, msg string) outcome {
	return outcome{
		status: status,
		body:   map[string]any{"error": msg},
		source: source,
		errMsg: msg,
	}
}

// HandleEvent is the single POST ingress for all webhook sources.
func (g *Gateway) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		body = nil
	}

	res := g.process(r, body)

	// The audit write is always the last processing step so it observes
	// the final outcome. A failed audit write must not turn a processed
	// webhook into a sender-side retry.
	entry := &AuditEntry{
		ID:             uuid.New().String(),
		Source:         string(res.source),
		Direction:      "inbound",
		RequestPayload: string(body),
		ResponseStatus: res.status,
		Error:          res.errMsg,
	}
	if err := g.audit.Append(r.Context(), entry); err != nil {
		log.Printf("webhook: audit write failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	_ = json.NewEncoder(w).Encode(res.body)
}

func (g *Gateway) process(r *http.Request, body []byte) outcome {
	if !g.opts.Enabled {
		return rejected(http.StatusServiceUnavailable, SourceUnknown, "cost tracking is disabled")
	}

	if !g.limiter.Allow(clientKey(r)) {
		return rejected(http.StatusTooManyRequests, SourceUnknown, "rate limit exceeded")
	}

	source := Classify(r.Header, body)
	if source == SourceUnknown {
		return rejected(http.StatusForbidden, SourceUnknown, "unknown webhook source")
	}
	if !g.sourceAllowed(source) {
		return rejected(http.StatusForbidden, source, fmt.Sprintf("source %q is not allowed", source))
	}

	if g.opts.SignatureValidation {
		secret := g.opts.Secrets[string(source)]
		if secret == "" {
			// Documented permissive fallback: no secret means no check.
			log.Printf("webhook: no signature secret configured for source %q, accepting unverified", source)
		}
		err := VerifySignature(secret, body, r.Header.Get(source.SignatureHeader()))
		if err != nil {
			return rejected(http.StatusUnauthorized, source, err.Error())
		}
	}

	ctx, span := g.tracer.Start(r.Context(), "webhook.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.source", string(source)))

	res := g.dispatch(ctx, source, body)
	span.SetAttributes(
		attribute.String("webhook.event", res.event),
		attribute.Int("webhook.status", res.status),
	)
	return res
}

func (g *Gateway) sourceAllowed(source Source) bool {
	if len(g.opts.AllowedSources) == 0 {
		return true
	}
	for _, s := range g.opts.AllowedSources {
		if s == string(source) {
			return true
		}
	}
	return false
}

// dispatch runs the source handler with a panic guard: a handler fault
// becomes a HandlerError audit entry and a generic 500, never a crash
// of the ingestion process.
func (g *Gateway) dispatch(ctx context.Context, source Source, body []byte) (res outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("webhook: handler panic for source %q: %v", source, rec)
			res = outcome{
				status: http.StatusInternalServerError,
				body:   map[string]any{"error": "internal processing failure"},
				source: source,
				errMsg: fmt.Sprintf("handler panic: %v", rec),
			}
		}
	}()

	switch source {
	case SourceAI:
		return g.handleAIUsage(ctx, body)
	case SourcePayment:
		return g.handlePayment(ctx, body)
	case SourceMedia:
		return g.handleMedia(ctx, body)
	default:
		return rejected(http.StatusForbidden, source, "unknown webhook source")
	}
}

// clientKey identifies the sender for rate limiting; the remote host is
// the best identifier available before the source is known.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
