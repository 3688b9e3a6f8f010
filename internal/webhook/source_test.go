package webhook

import (
	"net/http"
	"testing"
)

func headers(kv map[string]string) http.Header {
	h := http.Header{}
	for k, v := range kv {
		h.Set(k, v)
	}
	return h
}

func TestClassify_ByHeader(t *testing.T) {
	cases := []struct {
		header map[string]string
		want   Source
	}{
		{map[string]string{"Stripe-Signature": "t=1,v1=abc"}, SourcePayment},
		{map[string]string{"X-Cld-Signature": "abc"}, SourceMedia},
		{map[string]string{"X-Cld-Timestamp": "1718000000"}, SourceMedia},
		{map[string]string{"X-Provider-Signature": "abc"}, SourceAI},
		{map[string]string{"X-Provider-Name": "OpenAI"}, SourceAI},
	}
	for _, tc := range cases {
		if got := Classify(headers(tc.header), []byte(`{}`)); got != tc.want {
			t.Errorf("Classify(%v): expected %s, got %s", tc.header, tc.want, got)
		}
	}
}

func TestClassify_HeaderBeatsUserAgent(t *testing.T) {
	h := headers(map[string]string{
		"Stripe-Signature": "t=1,v1=abc",
		"User-Agent":       "OpenAI-Webhooks/1.0",
	})
	if got := Classify(h, []byte(`{}`)); got != SourcePayment {
		t.Errorf("Signature header must win over user-agent, got %s", got)
	}
}

func TestClassify_ByUserAgent(t *testing.T) {
	cases := []struct {
		ua   string
		want Source
	}{
		{"Stripe/1.0 (+https://stripe.com/docs/webhooks)", SourcePayment},
		{"Cloudinary-Notifications", SourceMedia},
		{"OpenAI-Webhooks/1.0", SourceAI},
		{"DeepSeek-Hooks", SourceAI},
		{"anthropic-webhook-client", SourceAI},
	}
	for _, tc := range cases {
		h := headers(map[string]string{"User-Agent": tc.ua})
		if got := Classify(h, []byte(`{}`)); got != tc.want {
			t.Errorf("Classify(ua=%q): expected %s, got %s", tc.ua, tc.want, got)
		}
	}
}

func TestClassify_ByPayload(t *testing.T) {
	cases := []struct {
		body string
		want Source
	}{
		{`{"inputTokens":100}`, SourceAI},
		{`{"model":"gpt-4o-mini","provider":"OpenAI"}`, SourceAI},
		{`{"transactionId":"txn_1"}`, SourcePayment},
		{`{"notification_type":"usage_update"}`, SourceMedia},
		{`{"public_id":"img-1"}`, SourceMedia},
		{`{"model":"gpt-4o-mini"}`, SourceUnknown}, // model without provider is ambiguous
		{`{"something":"else"}`, SourceUnknown},
		{`not json`, SourceUnknown},
	}
	for _, tc := range cases {
		if got := Classify(http.Header{}, []byte(tc.body)); got != tc.want {
			t.Errorf("Classify(body=%s): expected %s, got %s", tc.body, tc.want, got)
		}
	}
}
