// Package ratelimit provides token bucket rate limiting for popgate's MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned by Check when a tool's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // bucket size and initial token count
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// PerMinute creates a limiter allowing n requests per minute with the given burst.
func PerMinute(n int, burst int) *Limiter {
	return NewLimiter(float64(n)/60.0, burst)
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b := l.refill(key, now)
	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// refill must be called with l.mu held.
func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
		return b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}
	return b
}

// ToolLimiters maps MCP tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default per-tool limits. Hot-path tools
// (evaluate, record) get high limits; tools that rewrite or dump whole
// engine state get low ones.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"popgate_evaluate":           NewLimiter(50.0, 200),
		"popgate_record_shown":       NewLimiter(50.0, 200),
		"popgate_record_interaction": NewLimiter(50.0, 200),
		"popgate_set_rule":           PerMinute(30, 5),
		"popgate_get_rules":          NewLimiter(1.0, 10),
		"popgate_set_preferences":    PerMinute(60, 10),
		"popgate_get_preferences":    NewLimiter(1.0, 10),
		"popgate_reset_visitor":      PerMinute(30, 5),
		"popgate_mark_blocker":       PerMinute(60, 10),
		"popgate_summarize":          PerMinute(10, 2),
		"popgate_export":             PerMinute(5, 2),
	}
}

// Check checks the rate limit for a tool. Tools without a configured
// limiter are always allowed, as is every tool on a nil map.
func (t ToolLimiters) Check(toolName string) error {
	limiter, ok := t[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, toolName)
	}
	return nil
}
