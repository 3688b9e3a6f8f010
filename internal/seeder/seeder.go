package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/vnmchuo/cost-gateway/internal/auth"
	"github.com/vnmchuo/cost-gateway/internal/budget"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
	TestLimitUSD = 100
)

func SeedTestTenant(ctx context.Context, authStore auth.Store, budgetStore budget.Store) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  keyHash,
		Label:    "seeded test key",
		Active:   true,
	}

	if err := authStore.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
	} else {
		log.Printf("[Seeder] Test API key created successfully")
		log.Printf("[Seeder] Key: %s", TestAPIKey)
		log.Printf("[Seeder] TenantID: %s", TestTenantID)
	}

	limit := &budget.CostLimit{
		TenantID:     TestTenantID,
		MonthlyLimit: TestLimitUSD,
		Currency:     "USD",
	}
	if err := budgetStore.SetLimit(ctx, limit); err != nil {
		log.Printf("[Seeder] Failed to seed cost limit: %v", err)
	} else {
		log.Printf("[Seeder] Monthly cost limit seeded: %d USD", TestLimitUSD)
	}
}
