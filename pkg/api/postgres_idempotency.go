package api

import (
	"database/sql"
	"log/slog"
	"time"
)

// PostgresIdempotencyStore provides durable idempotency enforcement
// backed by PostgreSQL, surviving process restarts where the in-memory
// store cannot.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key         TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	body        BYTEA NOT NULL,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// NewPostgresIdempotencyStore creates the store and ensures its table.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) (*PostgresIdempotencyStore, error) {
	if _, err := db.Exec(idempotencySchema); err != nil {
		return nil, err
	}
	return &PostgresIdempotencyStore{db: db, ttl: ttl}, nil
}

// Check returns a cached response if the key was seen within the TTL.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var (
		statusCode int
		body       []byte
		cachedAt   time.Time
	)
	err := s.db.QueryRow(
		`SELECT status_code, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	return &cachedResponse{
		StatusCode: statusCode,
		Body:       body,
		CachedAt:   cachedAt,
	}, true
}

// Set stores an idempotency key and its response. Failures are logged,
// not raised: losing a cache entry only costs a duplicate-create risk on
// retry, never a failed request.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, body []byte) {
	_, err := s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, body, cached_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, body = $3, cached_at = NOW()`,
		key, statusCode, body,
	)
	if err != nil {
		slog.Error("idempotency: set key failed", "key", key, "error", err)
	}
}

// Cleanup removes idempotency keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup() {
	_, _ = s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
