package pricing

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModelNotFound = errors.New("model pricing not found")

// Tier is a single price point. Prices are USD per one million units
// (tokens for AI providers).
type Tier struct {
	InputPer1M  float64
	OutputPer1M float64
	Currency    string
	Note        string
}

// ModelPricing holds every tier defined for one (provider, model) pair.
// Standard is always present; the others are optional.
type ModelPricing struct {
	Model         string
	Provider      string
	Standard      Tier
	Discounted    *Tier
	CacheHit      *Tier
	CacheMiss     *Tier
	ContextLength int
	MaxOutput     int
	Features      []string
}

// Window is a daily recurring local-time interval, inclusive on both
// ends. Times are "HH:MM" and the window never wraps midnight.
type Window struct {
	Start string
	End   string
}

// Provider groups a vendor's models with the timezone its discount
// window is declared in.
type Provider struct {
	Name           string
	Timezone       string
	DiscountWindow *Window
	Models         []ModelPricing
}

type Catalog struct {
	providers map[string]*Provider // key: lowercased provider name
}

// NewCatalog indexes the given providers. The catalog is read-only after
// construction; pricing changes require a restart.
func NewCatalog(providers []Provider) *Catalog {
	c := &Catalog{providers: make(map[string]*Provider, len(providers))}
	for i := range providers {
		c.providers[strings.ToLower(providers[i].Name)] = &providers[i]
	}
	return c
}

// Lookup returns the pricing for a (provider, model) pair. Provider and
// model matching is case-insensitive.
func (c *Catalog) Lookup(provider, model string) (*Provider, *ModelPricing, error) {
	p, ok := c.providers[strings.ToLower(provider)]
	if !ok {
		return nil, nil, fmt.Errorf("provider %q: %w", provider, ErrModelNotFound)
	}
	for i := range p.Models {
		if strings.EqualFold(p.Models[i].Model, model) {
			return p, &p.Models[i], nil
		}
	}
	return nil, nil, fmt.Errorf("provider %q model %q: %w", provider, model, ErrModelNotFound)
}

// Providers returns the catalog contents for display surfaces.
func (c *Catalog) Providers() []*Provider {
	out := make([]*Provider, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p)
	}
	return out
}

func usd(in, out float64) Tier {
	return Tier{InputPer1M: in, OutputPer1M: out, Currency: "USD"}
}

func usdp(in, out float64, note string) *Tier {
	return &Tier{InputPer1M: in, OutputPer1M: out, Currency: "USD", Note: note}
}

// DefaultProviders is the pricing table loaded at startup. Prices are per
// one million tokens, USD, current as of early 2026.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:     "OpenAI",
			Timezone: "UTC",
			Models: []ModelPricing{
				{
					Model: "gpt-4o-mini", Provider: "OpenAI",
					Standard:      usd(0.15, 0.60),
					ContextLength: 128000, MaxOutput: 16384,
					Features: []string{"vision", "function-calling"},
				},
				{
					Model: "gpt-4o", Provider: "OpenAI",
					Standard:      usd(2.50, 10.00),
					ContextLength: 128000, MaxOutput: 16384,
					Features: []string{"vision", "function-calling"},
				},
				{
					Model: "gpt-4.1-mini", Provider: "OpenAI",
					Standard:      usd(0.40, 1.60),
					ContextLength: 1047576, MaxOutput: 32768,
					Features: []string{"vision", "function-calling"},
				},
			},
		},
		{
			Name:           "DeepSeek",
			Timezone:       "Asia/Shanghai",
			DiscountWindow: &Window{Start: "00:30", End: "08:30"},
			Models: []ModelPricing{
				{
					Model: "deepseek-chat", Provider: "DeepSeek",
					Standard:      usd(0.27, 1.10),
					Discounted:    usdp(0.135, 0.550, "off-peak 50% off"),
					CacheHit:      usdp(0.07, 1.10, "prefix cache hit"),
					CacheMiss:     usdp(0.27, 1.10, "prefix cache miss"),
					ContextLength: 64000, MaxOutput: 8192,
					Features: []string{"function-calling"},
				},
				{
					Model: "deepseek-reasoner", Provider: "DeepSeek",
					Standard:      usd(0.55, 2.19),
					Discounted:    usdp(0.1375, 0.5475, "off-peak 75% off"),
					CacheHit:      usdp(0.14, 2.19, "prefix cache hit"),
					CacheMiss:     usdp(0.55, 2.19, "prefix cache miss"),
					ContextLength: 64000, MaxOutput: 65536,
					Features: []string{"reasoning"},
				},
			},
		},
		{
			Name:     "Anthropic",
			Timezone: "UTC",
			Models: []ModelPricing{
				{
					Model: "claude-3-5-haiku", Provider: "Anthropic",
					Standard:      usd(0.80, 4.00),
					CacheHit:      usdp(0.08, 4.00, "prompt cache read"),
					ContextLength: 200000, MaxOutput: 8192,
					Features: []string{"vision"},
				},
				{
					Model: "claude-sonnet-4", Provider: "Anthropic",
					Standard:      usd(3.00, 15.00),
					CacheHit:      usdp(0.30, 15.00, "prompt cache read"),
					ContextLength: 200000, MaxOutput: 64000,
					Features: []string{"vision", "function-calling"},
				},
			},
		},
	}
}
