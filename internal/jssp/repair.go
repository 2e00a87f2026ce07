package jssp

import "math"

// OpID maps a vector coordinate to an operation id in [0, total). Rounding is
// half-to-even and the modulo is the mathematical one, so negative
// coordinates wrap around instead of producing negative ids.
func OpID(x float64, total int) int {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	r := math.Mod(math.RoundToEven(x), float64(total))
	if r < 0 {
		r += float64(total)
	}
	id := int(r)
	if id >= total {
		id = 0
	}
	return id
}

// Wrap reduces x into [0, total) using the mathematical modulo.
func Wrap(x, total float64) float64 {
	r := math.Mod(x, total)
	if r < 0 {
		r += total
	}
	// r+total can round up to total for tiny negative r.
	if r >= total {
		r = 0
	}
	return r
}

// Repair decodes a continuous vector into a permutation of every operation of
// inst. Coordinates are scanned in order and the first occurrence of an
// operation wins; later duplicates are dropped. Operations never hit are
// appended job-major, op-minor. The result always has inst.TotalOps entries.
func Repair(inst *Instance, vector []float64) []OpRef {
	return RepairInto(inst, vector, nil, nil)
}

// RepairInto is Repair writing into dst and using used as scratch. Either may
// be nil; they are grown when too small.
func RepairInto(inst *Instance, vector []float64, dst []OpRef, used []bool) []OpRef {
	total := inst.TotalOps()
	m := inst.Machines

	if cap(used) < total {
		used = make([]bool, total)
	}
	used = used[:total]
	for i := range used {
		used[i] = false
	}
	if cap(dst) < total {
		dst = make([]OpRef, 0, total)
	}
	perm := dst[:0]

	for _, x := range vector {
		id := OpID(x, total)
		if used[id] {
			continue
		}
		used[id] = true
		perm = append(perm, OpRef{Job: id / m, Op: id % m})
	}
	for id := 0; id < total; id++ {
		if !used[id] {
			perm = append(perm, OpRef{Job: id / m, Op: id % m})
		}
	}
	return perm[:total]
}

// EnforcePrecedence reorders perm in place so that the operations of each job
// appear in ascending op order. Every job keeps the slots it occupies; only
// the op indices within those slots are reassigned.
func EnforcePrecedence(inst *Instance, perm []OpRef) []OpRef {
	return EnforcePrecedenceInto(inst, perm, nil)
}

// EnforcePrecedenceInto is EnforcePrecedence using next as the per-job
// counter scratch. next may be nil; it is grown when too small.
func EnforcePrecedenceInto(inst *Instance, perm []OpRef, next []int) []OpRef {
	if cap(next) < inst.Jobs {
		next = make([]int, inst.Jobs)
	}
	next = next[:inst.Jobs]
	for j := range next {
		next[j] = 0
	}
	for i, ref := range perm {
		perm[i].Op = next[ref.Job]
		next[ref.Job]++
	}
	return perm
}

// IsPermutation reports whether perm covers every operation of inst exactly
// once.
func IsPermutation(inst *Instance, perm []OpRef) bool {
	if len(perm) != inst.TotalOps() {
		return false
	}
	seen := make([]bool, inst.TotalOps())
	for _, ref := range perm {
		if ref.Job < 0 || ref.Job >= inst.Jobs || ref.Op < 0 || ref.Op >= inst.Machines {
			return false
		}
		id := ref.Job*inst.Machines + ref.Op
		if seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

// RespectsPrecedence reports whether each job's operations appear in
// ascending op order.
func RespectsPrecedence(inst *Instance, perm []OpRef) bool {
	next := make([]int, inst.Jobs)
	for _, ref := range perm {
		if ref.Op != next[ref.Job] {
			return false
		}
		next[ref.Job]++
	}
	return true
}
