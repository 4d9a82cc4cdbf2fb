// Package engine executes workflow graphs: the per-node invocation loop,
// the message router, and the run-level executor with its spending guard.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Guard errors.
var (
	ErrBudgetExhausted = errors.New("run budget exhausted")
	ErrRateExceeded    = errors.New("run request ceiling exceeded")
)

// RunGuard bounds USD spend and request count for one run. It is the only
// state mutated concurrently by in-flight node invocations, so every
// operation takes the lock. Callers must Reserve immediately before each
// provider call rather than caching an earlier answer.
type RunGuard struct {
	mu          sync.Mutex
	limitUSD    float64
	maxRequests int
	spentUSD    float64
	requests    int
	warnings    []string
}

// NewRunGuard creates a guard with a USD ceiling and a request ceiling.
// Non-positive ceilings disable the corresponding check.
func NewRunGuard(limitUSD float64, maxRequests int) *RunGuard {
	return &RunGuard{limitUSD: limitUSD, maxRequests: maxRequests}
}

// Reserve checks both ceilings and, if the call may proceed, counts the
// request. Check and count are one critical section so parallel branches
// cannot race past the ceiling.
func (g *RunGuard) Reserve() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limitUSD > 0 && g.spentUSD >= g.limitUSD {
		return ErrBudgetExhausted
	}
	if g.maxRequests > 0 && g.requests >= g.maxRequests {
		return ErrRateExceeded
	}
	g.requests++
	return nil
}

// AddCost atomically records spend. Negative and non-finite values are
// clamped to zero and recorded as warnings rather than corrupting the
// counter.
func (g *RunGuard) AddCost(usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if usd < 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		g.warnings = append(g.warnings, fmt.Sprintf("ignored invalid cost value %v", usd))
		return
	}
	g.spentUSD += usd
}

// Exhausted reports whether either ceiling has been reached.
func (g *RunGuard) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limitUSD > 0 && g.spentUSD >= g.limitUSD {
		return true
	}
	return g.maxRequests > 0 && g.requests >= g.maxRequests
}

// SpentUSD returns the total spend recorded so far.
func (g *RunGuard) SpentUSD() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spentUSD
}

// Requests returns how many provider calls have been reserved.
func (g *RunGuard) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests
}

// Warnings returns the clamp warnings accumulated so far.
func (g *RunGuard) Warnings() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.warnings...)
}
