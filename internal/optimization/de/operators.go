package de

import (
	"math/rand"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
)

// Individual is a candidate solution. Permutation and Makespan are derived
// from Vector and are only meaningful while Evaluated is true.
type Individual struct {
	Vector      []float64
	Permutation []jssp.OpRef
	Makespan    int
	Evaluated   bool
}

// copyFrom overwrites ind with src without reallocating.
func (ind *Individual) copyFrom(src *Individual) {
	copy(ind.Vector, src.Vector)
	ind.Permutation = append(ind.Permutation[:0], src.Permutation...)
	ind.Makespan = src.Makespan
	ind.Evaluated = src.Evaluated
}

// Crossover performs binomial crossover of donor into parent. A single index
// jRand always takes the donor coordinate. dst may alias parent or donor; it
// is allocated when nil.
func Crossover(parent, donor []float64, cr float64, rng *rand.Rand, dst []float64) []float64 {
	t := len(parent)
	if dst == nil {
		dst = make([]float64, t)
	}
	jRand := rng.Intn(t)
	for j := 0; j < t; j++ {
		if rng.Float64() < cr || j == jRand {
			dst[j] = donor[j]
		} else {
			dst[j] = parent[j]
		}
	}
	return dst
}

// Select returns trial if it strictly improves on parent, else parent.
func Select(parent, trial *Individual) *Individual {
	if trial.Makespan < parent.Makespan {
		return trial
	}
	return parent
}
