package shield

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source supplies uniform draws in [0, 1). Rotation, block sampling and
// spike outcomes all draw from the engine's Source.
type Source interface {
	Float64() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// NewSeededSource returns a deterministic Source. Two sources with the same
// seed produce the same sequence.
func NewSeededSource(seed uint64) Source {
	return &lockedSource{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func newTimeSource() Source {
	return NewSeededSource(uint64(time.Now().UnixNano()))
}
