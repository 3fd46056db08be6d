// Package loss simulates datagram loss on the outbound sample stream.
package loss

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var ErrProbability = errors.New("loss probability must be within [0,1]")

// Gate is a per-packet Bernoulli gate. A packet is dropped when a uniform
// draw in [0,1) falls below P.
type Gate struct {
	P float64

	mu sync.Mutex
	r  *rand.Rand
}

// New validates p and seeds the gate's random source. A zero seed picks a
// time-based one.
func New(p float64, seed int64) (*Gate, error) {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return nil, fmt.Errorf("%w: got %v", ErrProbability, p)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Gate{P: p, r: rand.New(rand.NewSource(seed))}, nil
}

// ShouldSend reports whether the next packet survives.
func (g *Gate) ShouldSend() bool {
	if g == nil || g.P <= 0 {
		return true
	}
	if g.P >= 1 {
		return false
	}
	g.mu.Lock()
	draw := g.r.Float64()
	g.mu.Unlock()
	return draw >= g.P
}

// ShouldSend draws from the global source.
func ShouldSend(p float64) bool {
	if p <= 0 {
		return true
	}
	if p >= 1 {
		return false
	}
	return rand.Float64() >= p
}
