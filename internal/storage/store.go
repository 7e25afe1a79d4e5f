package storage

import (
	"context"
	"time"
)

// SessionStore maps session tokens to user ids. Session issuance lives in
// an external auth service; this service only validates tokens.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionStore interface {
	SetSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (userID string, err error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
