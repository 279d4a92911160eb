package rng

import (
	"math/rand"
	"time"
)

// Source is the random source every stochastic loot step draws from.
// *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Float64() float64
}

// RNG is a seeded Source that counts draws, so a run can be reported and replayed.
type RNG struct {
	seed int64
	src  *rand.Rand
	pos  int64
}

// New returns a seeded RNG. A zero seed uses the current time.
func New(seed int64) *RNG {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RNG{seed: seed, src: rand.New(rand.NewSource(seed))}
}

func (r *RNG) Intn(n int) int {
	r.pos++
	return r.src.Intn(n)
}

func (r *RNG) Float64() float64 {
	r.pos++
	return r.src.Float64()
}

func (r *RNG) Seed() int64     { return r.seed }
func (r *RNG) Position() int64 { return r.pos }

// Between draws an integer uniformly from [lo, hi]. Swapped bounds are reordered.
func Between(src Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}
