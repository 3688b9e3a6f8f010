package webhook

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Source is the third-party system that originated a webhook.
type Source string

const (
	SourceAI      Source = "ai"      // AI model vendors (usage events)
	SourcePayment Source = "payment" // payment processors (transaction fees)
	SourceMedia   Source = "media"   // media CDNs (usage-update pings)
	SourceUnknown Source = "unknown"
)

// SignatureHeader returns the signature header name the source sends,
// empty when the source has none.
func (s Source) SignatureHeader() string {
	switch s {
	case SourceAI:
		return "X-Provider-Signature"
	case SourcePayment:
		return "Stripe-Signature"
	case SourceMedia:
		return "X-Cld-Signature"
	default:
		return ""
	}
}

// Classify resolves the originating source from a prioritized sequence
// of signals: provider signature headers first, then user-agent
// substrings, then payload field heuristics. Exactly one source (or
// unknown) comes back; path-based routing is deliberately not used.
func Classify(header http.Header, body []byte) Source {
	// 1. Provider-specific headers
	if header.Get("Stripe-Signature") != "" {
		return SourcePayment
	}
	if header.Get("X-Cld-Signature") != "" || header.Get("X-Cld-Timestamp") != "" {
		return SourceMedia
	}
	if header.Get("X-Provider-Signature") != "" || header.Get("X-Provider-Name") != "" {
		return SourceAI
	}

	// 2. User-agent substrings
	ua := strings.ToLower(header.Get("User-Agent"))
	switch {
	case strings.Contains(ua, "stripe"):
		return SourcePayment
	case strings.Contains(ua, "cloudinary"):
		return SourceMedia
	case strings.Contains(ua, "openai"), strings.Contains(ua, "deepseek"), strings.Contains(ua, "anthropic"):
		return SourceAI
	}

	// 3. Payload field heuristics
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return SourceUnknown
	}
	if _, ok := probe["inputTokens"]; ok {
		return SourceAI
	}
	if _, ok := probe["model"]; ok {
		if _, ok := probe["provider"]; ok {
			return SourceAI
		}
	}
	if _, ok := probe["transactionId"]; ok {
		return SourcePayment
	}
	if _, ok := probe["notification_type"]; ok {
		return SourceMedia
	}
	if _, ok := probe["public_id"]; ok {
		return SourceMedia
	}

	return SourceUnknown
}
