package pricing

import (
	"fmt"
	"time"
)

// Usage is one raw usage event to be priced.
type Usage struct {
	Provider    string
	Model       string
	InputUnits  int64
	OutputUnits int64
	CacheHit    *bool // nil when the provider did not report cache state
	OccurredAt  time.Time
}

// Cost is the resolved monetary cost for a usage event.
type Cost struct {
	Amount   float64
	Currency string
	Tier     string // standard, discounted, cache_hit, cache_miss
}

type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve picks the applicable tier and computes the cost. Tier
// precedence: standard, then discounted inside the provider's discount
// window, then a cache_hit/cache_miss override when the event reports
// cache state and the model prices it.
//
// An unknown (provider, model) pair is a hard error; callers must not
// fall back to zero cost.
func (r *Resolver) Resolve(u Usage) (*Cost, error) {
	provider, model, err := r.catalog.Lookup(u.Provider, u.Model)
	if err != nil {
		return nil, err
	}

	tier := model.Standard
	tierName := "standard"

	if model.Discounted != nil && provider.DiscountWindow != nil {
		in, err := inWindow(u.OccurredAt, provider.Timezone, provider.DiscountWindow)
		if err != nil {
			return nil, err
		}
		if in {
			tier = *model.Discounted
			tierName = "discounted"
		}
	}

	if u.CacheHit != nil {
		if *u.CacheHit && model.CacheHit != nil {
			tier = *model.CacheHit
			tierName = "cache_hit"
		} else if !*u.CacheHit && model.CacheMiss != nil {
			tier = *model.CacheMiss
			tierName = "cache_miss"
		}
	}

	amount := float64(u.InputUnits)/1e6*tier.InputPer1M +
		float64(u.OutputUnits)/1e6*tier.OutputPer1M

	return &Cost{Amount: amount, Currency: tier.Currency, Tier: tierName}, nil
}

// inWindow reports whether t falls inside the window when converted to
// the provider's timezone. Comparison is lexical on "HH:MM", inclusive
// on both ends; windows do not wrap midnight.
func inWindow(t time.Time, timezone string, w *Window) (bool, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	hhmm := t.In(loc).Format("15:04")
	return hhmm >= w.Start && hhmm <= w.End, nil
}
