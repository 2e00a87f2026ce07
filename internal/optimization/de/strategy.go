package de

import (
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

// StrategyKind enumerates the supported mutation strategies.
type StrategyKind int

const (
	// RandOne builds x1 + F*(x2-x3).
	RandOne StrategyKind = iota
	// BestOne builds best + F*(x2-x3).
	BestOne
	// RandToBestOne builds target + F*(best-target) + F*(x1-x2).
	RandToBestOne
)

func (k StrategyKind) String() string {
	switch k {
	case RandOne:
		return "rand/1"
	case BestOne:
		return "best/1"
	case RandToBestOne:
		return "rand-to-best/1"
	default:
		return "unknown"
	}
}

// randomIndices is how many distinct non-target members the strategy draws.
func (k StrategyKind) randomIndices() int {
	if k == RandOne {
		return 3
	}
	return 2
}

// Strategy is a mutation strategy with its differential weight.
type Strategy struct {
	Kind StrategyKind
	F    float64
}

// ParseStrategy resolves a strategy name. The "DE/" prefix is optional.
func ParseStrategy(name string, f float64) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "de/")
	for _, kind := range []StrategyKind{RandOne, BestOne, RandToBestOne} {
		if key == kind.String() {
			return Strategy{Kind: kind, F: f}, nil
		}
	}
	return Strategy{}, optimization.NewError(optimization.ErrUnsupportedStrategy, "%q", name).
		WithComponent("de").WithOperation("parse strategy")
}

// MinPopulation is the smallest population the strategy can draw from.
func (s Strategy) MinPopulation() int {
	return s.Kind.randomIndices() + 1
}

func (s Strategy) String() string {
	return s.Kind.String()
}

// Mutate builds the donor vector for target from the frozen snapshot.
func Mutate(s Strategy, snap *Snapshot, target int, rng *rand.Rand) []float64 {
	return MutateInto(s, snap, target, rng, nil, nil)
}

// MutateInto is Mutate writing into dst with scratch as working space. Both
// are allocated when nil. Every donor coordinate is wrapped into [0, T).
func MutateInto(s Strategy, snap *Snapshot, target int, rng *rand.Rand, dst, scratch []float64) []float64 {
	t := snap.dim
	if dst == nil {
		dst = make([]float64, t)
	}
	if scratch == nil {
		scratch = make([]float64, t)
	}

	var picked [3]int
	idx := picked[:s.Kind.randomIndices()]
	pickDistinct(rng, snap.Size(), target, idx)

	switch s.Kind {
	case RandOne:
		x1, x2, x3 := snap.vectors[idx[0]], snap.vectors[idx[1]], snap.vectors[idx[2]]
		floats.AddScaledTo(dst, x1, s.F, floats.SubTo(scratch, x2, x3))
	case BestOne:
		best := snap.vectors[snap.best]
		x2, x3 := snap.vectors[idx[0]], snap.vectors[idx[1]]
		floats.AddScaledTo(dst, best, s.F, floats.SubTo(scratch, x2, x3))
	case RandToBestOne:
		best, tv := snap.vectors[snap.best], snap.vectors[target]
		x1, x2 := snap.vectors[idx[0]], snap.vectors[idx[1]]
		floats.AddScaledTo(dst, tv, s.F, floats.SubTo(scratch, best, tv))
		floats.AddScaled(dst, s.F, floats.SubTo(scratch, x1, x2))
	}

	total := float64(t)
	for k, v := range dst {
		dst[k] = jssp.Wrap(v, total)
	}
	return dst
}

// pickDistinct fills out with distinct indices in [0, size) other than
// target, uniformly without replacement.
func pickDistinct(rng *rand.Rand, size, target int, out []int) {
	for i := range out {
	draw:
		for {
			c := rng.Intn(size)
			if c == target {
				continue
			}
			for _, prev := range out[:i] {
				if prev == c {
					continue draw
				}
			}
			out[i] = c
			break
		}
	}
}
