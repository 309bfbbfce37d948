package engine

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

// PageRule is an extra admission check run after the behavior check.
// When ok is false, reason explains the denial and next, if non-zero, is the
// earliest time the rule would pass.
type PageRule interface {
	Check(popupID string, dc models.DisplayContext, at time.Time) (ok bool, reason string, next time.Time)
}

// Rand is the random source for probabilistic throttling.
type Rand interface {
	// Float64 returns a number in [0, 1).
	Float64() float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for timestamps the caller leaves zero.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

// WithRand sets the random source used by the behavior check.
func WithRand(r Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithPageRules appends page rules. With none, the page-rule check always passes.
func WithPageRules(rules ...PageRule) Option {
	return func(e *Engine) {
		e.pageRules = append(e.pageRules, rules...)
	}
}

// lockedRand makes a math/rand/v2 generator safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe random source seeded with seed.
// Equal seeds produce equal sequences.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// FixedRand always returns its value. Tests use it to force throttle outcomes.
type FixedRand float64

// Float64 returns f.
func (f FixedRand) Float64() float64 {
	return float64(f)
}
