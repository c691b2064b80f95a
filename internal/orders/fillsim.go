package orders

import (
	"math/rand"

	"polymarket-lp/pkg/types"
)

// FillSimulator decides whether a resting simulated order fills on a given
// check. Dry-run fill detection is driven through this interface so tests
// can script exact fill sequences instead of depending on randomness.
type FillSimulator interface {
	ShouldFill(o types.Order) bool
}

// RandomFillSim fills each working order with a fixed probability per
// check. The generator is explicitly seeded so a dry-run session can be
// replayed.
type RandomFillSim struct {
	rng  *rand.Rand
	prob float64
}

// NewRandomFillSim creates a seeded random fill simulator.
// A probability of 0.10 approximates how often a well-placed order near
// the touch gets taken between checks.
func NewRandomFillSim(seed int64, prob float64) *RandomFillSim {
	return &RandomFillSim{
		rng:  rand.New(rand.NewSource(seed)),
		prob: prob,
	}
}

// ShouldFill rolls once per order per check.
func (s *RandomFillSim) ShouldFill(types.Order) bool {
	return s.rng.Float64() < s.prob
}
