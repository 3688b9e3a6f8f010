package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = errors.New("api key not found")

const (
	cacheTTL = 5 * time.Minute
	// Unknown keys are cached briefly so a key-guessing client cannot
	// turn every 401 into a postgres round trip.
	missTTL    = time.Minute
	missMarker = "!"
)

// APIKey is a tenant-scoped credential for the cost console API.
type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	KeyHash   string    `json:"key_hash"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	apiKeyIDKey  contextKey = "api_key_id"
	requestIDKey contextKey = "request_id"
)

// credential pulls the API key from the request. The console sends
// "Authorization: Bearer <key>"; scripted clients may use X-API-Key.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func NewMiddleware(store Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			key := credential(r)
			if key == "" {
				unauthorized(w, "missing API key")
				return
			}

			apiKey, err := lookup(ctx, store, cache, key)
			if err != nil {
				if errors.Is(err, ErrKeyRevoked) {
					log.Printf("auth: revoked key presented from %s", r.RemoteAddr)
					unauthorized(w, "invalid API key")
					return
				}
				if errors.Is(err, ErrKeyNotFound) {
					unauthorized(w, "invalid API key")
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			ctx = context.WithValue(ctx, tenantIDKey, apiKey.TenantID)
			ctx = context.WithValue(ctx, apiKeyIDKey, apiKey.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookup resolves a key through the redis cache, falling back to the
// store. Both hits and misses are cached; redis errors degrade to a
// store lookup.
func lookup(ctx context.Context, store Store, cache *redis.Client, key string) (*APIKey, error) {
	redisKey := fmt.Sprintf("auth:%s", hashKey(key))

	raw, err := cache.Get(ctx, redisKey).Result()
	if err == nil {
		if raw == missMarker {
			return nil, ErrKeyNotFound
		}
		var apiKey APIKey
		if uerr := apiKey.UnmarshalBinary([]byte(raw)); uerr == nil {
			return &apiKey, nil
		}
	} else if err != redis.Nil {
		log.Printf("auth: redis error: %v", err)
	}

	apiKey, err := store.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrKeyRevoked) {
			_ = cache.Set(ctx, redisKey, missMarker, missTTL).Err()
		}
		return nil, err
	}

	_ = cache.Set(ctx, redisKey, apiKey, cacheTTL).Err()
	return apiKey, nil
}

// Helpers to extract from context
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}
