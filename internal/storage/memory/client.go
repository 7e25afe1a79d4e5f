package memory

import (
	"context"
	"sync"
	"time"
)

const defaultSessionTTL = 30 * 24 * time.Hour

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
}

func New() *Client {
	return &Client{sessions: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = item{val: userID, exp: time.Now().Add(ttl)}
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}
