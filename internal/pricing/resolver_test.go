package pricing

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testResolver() *Resolver {
	return NewResolver(NewCatalog(DefaultProviders()))
}

// shanghaiTime builds a UTC timestamp that lands on the given wall clock
// in Asia/Shanghai (UTC+8, no DST).
func shanghaiTime(t *testing.T, hhmm string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04", "2025-06-15 "+hhmm, loc)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return parsed.UTC()
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestResolve_StandardTier(t *testing.T) {
	r := testResolver()
	cost, err := r.Resolve(Usage{
		Provider:    "OpenAI",
		Model:       "gpt-4o-mini",
		InputUnits:  1000,
		OutputUnits: 500,
		OccurredAt:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// (1000/1e6)*0.15 + (500/1e6)*0.60
	if !almostEqual(cost.Amount, 0.00045) {
		t.Errorf("Expected 0.00045, got %v", cost.Amount)
	}
	if cost.Currency != "USD" {
		t.Errorf("Expected USD, got %s", cost.Currency)
	}
	if cost.Tier != "standard" {
		t.Errorf("Expected standard tier, got %s", cost.Tier)
	}
}

func TestResolve_DiscountWindowBoundaries(t *testing.T) {
	r := testResolver()
	cases := []struct {
		hhmm     string
		wantTier string
	}{
		{"00:29", "standard"},
		{"00:30", "discounted"},
		{"04:00", "discounted"},
		{"08:30", "discounted"},
		{"08:31", "standard"},
	}
	for _, tc := range cases {
		cost, err := r.Resolve(Usage{
			Provider:    "DeepSeek",
			Model:       "deepseek-chat",
			InputUnits:  1_000_000,
			OutputUnits: 0,
			OccurredAt:  shanghaiTime(t, tc.hhmm),
		})
		if err != nil {
			t.Fatalf("Resolve at %s failed: %v", tc.hhmm, err)
		}
		if cost.Tier != tc.wantTier {
			t.Errorf("At %s expected %s tier, got %s", tc.hhmm, tc.wantTier, cost.Tier)
		}
	}
}

func TestResolve_CacheHitOverridesDiscount(t *testing.T) {
	r := testResolver()
	hit := true
	cost, err := r.Resolve(Usage{
		Provider:    "DeepSeek",
		Model:       "deepseek-chat",
		InputUnits:  1_000_000,
		OutputUnits: 0,
		CacheHit:    &hit,
		OccurredAt:  shanghaiTime(t, "04:00"), // inside the discount window
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cost.Tier != "cache_hit" {
		t.Errorf("Expected cache_hit tier, got %s", cost.Tier)
	}
	if !almostEqual(cost.Amount, 0.07) {
		t.Errorf("Expected cache-hit price 0.07, got %v", cost.Amount)
	}
}

func TestResolve_CacheMissTier(t *testing.T) {
	r := testResolver()
	miss := false
	cost, err := r.Resolve(Usage{
		Provider:    "DeepSeek",
		Model:       "deepseek-chat",
		InputUnits:  1_000_000,
		OutputUnits: 0,
		CacheHit:    &miss,
		OccurredAt:  shanghaiTime(t, "12:00"),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cost.Tier != "cache_miss" {
		t.Errorf("Expected cache_miss tier, got %s", cost.Tier)
	}
}

func TestResolve_CacheFlagWithoutCacheTiers(t *testing.T) {
	// gpt-4o-mini has no cache tiers; an explicit flag must not change
	// the selected tier.
	r := testResolver()
	hit := true
	cost, err := r.Resolve(Usage{
		Provider:    "OpenAI",
		Model:       "gpt-4o-mini",
		InputUnits:  1000,
		OutputUnits: 0,
		CacheHit:    &hit,
		OccurredAt:  time.Date(2025, 6, 15, 4, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cost.Tier != "standard" {
		t.Errorf("Expected standard tier, got %s", cost.Tier)
	}
}

func TestResolve_NoWindowNeverDiscounts(t *testing.T) {
	// Anthropic declares no discount window; any time of day prices standard.
	r := testResolver()
	cost, err := r.Resolve(Usage{
		Provider:    "Anthropic",
		Model:       "claude-3-5-haiku",
		InputUnits:  1_000_000,
		OutputUnits: 0,
		OccurredAt:  time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cost.Tier != "standard" {
		t.Errorf("Expected standard tier, got %s", cost.Tier)
	}
	if !almostEqual(cost.Amount, 0.80) {
		t.Errorf("Expected 0.80, got %v", cost.Amount)
	}
}

func TestResolve_ZeroUsage(t *testing.T) {
	r := testResolver()
	cost, err := r.Resolve(Usage{
		Provider:   "OpenAI",
		Model:      "gpt-4o-mini",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cost.Amount != 0 {
		t.Errorf("Expected zero cost, got %v", cost.Amount)
	}
}

func TestResolve_UnknownModel(t *testing.T) {
	r := testResolver()
	_, err := r.Resolve(Usage{
		Provider:   "OpenAI",
		Model:      "nonexistent-model",
		OccurredAt: time.Now(),
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound, got %v", err)
	}

	_, err = r.Resolve(Usage{
		Provider:   "nonexistent-provider",
		Model:      "gpt-4o-mini",
		OccurredAt: time.Now(),
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound for unknown provider, got %v", err)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := testResolver()
	u := Usage{
		Provider:    "DeepSeek",
		Model:       "deepseek-reasoner",
		InputUnits:  123456,
		OutputUnits: 654321,
		OccurredAt:  shanghaiTime(t, "02:00"),
	}
	first, err := r.Resolve(u)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(u)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if again.Amount != first.Amount || again.Tier != first.Tier {
			t.Errorf("Non-deterministic resolve: %+v vs %+v", again, first)
		}
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	c := NewCatalog(DefaultProviders())
	_, m, err := c.Lookup("openai", "GPT-4O-MINI")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if m.Model != "gpt-4o-mini" {
		t.Errorf("Expected gpt-4o-mini, got %s", m.Model)
	}
}
