package router

import (
	"sync"
	"time"
)

// Inbound frame budget per connection per window. Sized for a participant
// streaming one screen frame per second with plenty of headroom for chat
// and identify traffic.
const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 600
)

// RateLimiter bounds inbound frames per connection with a fixed one-minute
// window. Over-limit frames are dropped; the connection stays open.
type RateLimiter struct {
	mu    sync.Mutex
	conns map[string]*connLimit
}

type connLimit struct {
	frameCount  int
	windowStart time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		conns: make(map[string]*connLimit),
	}
}

// Allow reports whether the connection may submit another frame now.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.conns[connID]
	if !exists {
		rl.conns[connID] = &connLimit{frameCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rateLimitWindow {
		limit.frameCount = 1
		limit.windowStart = now
		return true
	}

	if limit.frameCount >= rateLimitMax {
		return false
	}
	limit.frameCount++
	return true
}

// Forget drops a connection's window state; called on disconnect so the
// map tracks only live connections.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.conns, connID)
}
