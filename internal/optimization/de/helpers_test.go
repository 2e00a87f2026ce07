package de

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
)

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

func loadFT06(t *testing.T) *jssp.Instance {
	t.Helper()
	inst, err := jssp.Load("../../jssp/testdata/ft06.txt")
	require.NoError(t, err)
	return inst
}

// evaluatedMembers builds members with the given vectors and makespans.
func evaluatedMembers(vectors [][]float64, makespans []int) []Individual {
	members := make([]Individual, len(vectors))
	for i := range vectors {
		members[i] = Individual{
			Vector:    vectors[i],
			Makespan:  makespans[i],
			Evaluated: true,
		}
	}
	return members
}

func testConfig(strategy string, size, generations int) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.PopulationSize = size
	cfg.Generations = generations
	cfg.Seed = 42
	return cfg
}
