package market

import (
	"math/rand"
	"time"
)

// RandomSource supplies the draws consumed by Rule.Apply.
type RandomSource interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// Uniform returns a uniform value between lo and hi.
	Uniform(lo, hi float64) float64
	// Bool is a fair coin flip.
	Bool() bool
}

type mathSource struct {
	r *rand.Rand
}

// NewRandomSource returns a seeded source. It is not safe for concurrent use;
// the Book only draws while holding its lock.
func NewRandomSource(seed int64) RandomSource {
	return &mathSource{r: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededSource seeds from the wall clock.
func NewTimeSeededSource() RandomSource {
	return NewRandomSource(time.Now().UnixNano())
}

func (s *mathSource) Float64() float64 { return s.r.Float64() }

func (s *mathSource) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.r.Float64()
}

func (s *mathSource) Bool() bool { return s.r.Intn(2) == 0 }
