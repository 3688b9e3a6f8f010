package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore is a read-through redis cache in front of Summarize and
// History. Cache keys carry a per-tenant version that is bumped on every
// write, so invalidation is a single INCR instead of a key scan.
// Everything here is best-effort: on any redis error the store is hit
// directly.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedStore(store Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: store, rdb: rdb, ttl: ttl}
}

func (c *CachedStore) version(ctx context.Context, tenantID string) string {
	if tenantID == "" {
		tenantID = "all"
	}
	v, err := c.rdb.Get(ctx, "costs:ver:"+tenantID).Result()
	if err != nil {
		return "0"
	}
	return v
}

func (c *CachedStore) invalidate(ctx context.Context, tenantID string) {
	// Cross-tenant queries share the "all" version.
	for _, key := range []string{"costs:ver:" + tenantID, "costs:ver:all"} {
		if err := c.rdb.Incr(ctx, key).Err(); err != nil {
			log.Printf("ledger: cache invalidation failed for %s: %v", key, err)
		}
	}
}

func (c *CachedStore) Record(ctx context.Context, rec *UsageRecord) error {
	if err := c.Store.Record(ctx, rec); err != nil {
		return err
	}
	c.invalidate(ctx, rec.TenantID)
	return nil
}

func (c *CachedStore) RecordFee(ctx context.Context, fee *FeeEntry) error {
	if err := c.Store.RecordFee(ctx, fee); err != nil {
		return err
	}
	c.invalidate(ctx, fee.TenantID)
	return nil
}

func (c *CachedStore) Summarize(ctx context.Context, q SummaryQuery) (*Summary, error) {
	key := fmt.Sprintf("costs:summary:%s:%d:%d:%s:%s:%s",
		c.version(ctx, q.TenantID),
		q.From.Unix(), q.To.Unix(), q.TenantID, q.Provider, q.Model)

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var s Summary
		if err := json.Unmarshal(data, &s); err == nil {
			return &s, nil
		}
	} else if err != redis.Nil {
		log.Printf("ledger: cache read failed: %v", err)
	}

	s, err := c.Store.Summarize(ctx, q)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(s); err == nil {
		_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	return s, nil
}

func (c *CachedStore) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	key := fmt.Sprintf("costs:history:%s:%d:%d:%d:%d:%s:%s:%s",
		c.version(ctx, q.TenantID),
		q.Page, q.PageSize, q.From.Unix(), q.To.Unix(), q.TenantID, q.Provider, q.Model)

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p HistoryPage
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	} else if err != redis.Nil {
		log.Printf("ledger: cache read failed: %v", err)
	}

	p, err := c.Store.History(ctx, q)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	return p, nil
}
