package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultCacheTTL is the validity window of cached API responses.
const DefaultCacheTTL = 24 * time.Hour

// CachedResponse is a stored API payload.
type CachedResponse struct {
	Endpoint string
	Payload  json.RawMessage
	CachedAt time.Time
}

// CacheKey derives the cache key of an endpoint path (query included).
func CacheKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

// CacheResponse stores the latest successful payload for endpoint.
func (s *Store) CacheResponse(ctx context.Context, endpoint string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("refusing to cache invalid JSON for %s", endpoint)
	}

	query := `
	INSERT INTO api_cache (key, endpoint, payload, cached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		cached_at = excluded.cached_at
	`
	if _, err := s.conn.ExecContext(ctx, query,
		CacheKey(endpoint), endpoint, string(payload), formatTime(s.clock.Now())); err != nil {
		return storageErr("cache", fmt.Errorf("failed to cache %s: %w", endpoint, err))
	}
	return nil
}

// CachedResponse returns the cached payload for endpoint. An entry is
// valid while its age is at most ttl (0 means DefaultCacheTTL); older
// entries yield ErrExpired and absent ones ErrNotFound.
func (s *Store) CachedResponse(ctx context.Context, endpoint string, ttl time.Duration) (*CachedResponse, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	var payload, cachedAt string
	err := s.conn.QueryRowContext(ctx,
		`SELECT payload, cached_at FROM api_cache WHERE key = ?`, CacheKey(endpoint)).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache %s: %w", endpoint, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("cache", fmt.Errorf("failed to read cache for %s: %w", endpoint, err))
	}

	entry := &CachedResponse{
		Endpoint: endpoint,
		Payload:  json.RawMessage(payload),
		CachedAt: parseTime(cachedAt),
	}
	if s.clock.Since(entry.CachedAt) > ttl {
		return entry, fmt.Errorf("cache %s cached at %s: %w", endpoint, entry.CachedAt.Format(time.RFC3339), ErrExpired)
	}
	return entry, nil
}

// InvalidateCache drops the cached payload for endpoint.
func (s *Store) InvalidateCache(ctx context.Context, endpoint string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM api_cache WHERE key = ?`, CacheKey(endpoint)); err != nil {
		return storageErr("cache", fmt.Errorf("failed to invalidate %s: %w", endpoint, err))
	}
	return nil
}
