package energy

import (
	"math/rand"
	"sync"
)

// Source draws uniform values from [lo, hi). Readings are simulated, so the
// source stands in for real sensor input.
type Source interface {
	Uniform(lo, hi float64) float64
}

// SourceFunc adapts a function to Source.
type SourceFunc func(lo, hi float64) float64

func (f SourceFunc) Uniform(lo, hi float64) float64 { return f(lo, hi) }

type randSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandSource returns a goroutine-safe Source seeded with seed.
func NewRandSource(seed int64) Source {
	return &randSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *randSource) Uniform(lo, hi float64) float64 {
	s.mu.Lock()
	f := s.rnd.Float64()
	s.mu.Unlock()
	return lo + f*(hi-lo)
}
