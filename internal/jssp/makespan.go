package jssp

// ScheduledOp is one operation placed on the timeline.
type ScheduledOp struct {
	OpRef
	Machine int `json:"machine"`
	Start   int `json:"start"`
	End     int `json:"end"`
}

// Schedule is the timeline produced by simulating a permutation.
type Schedule struct {
	Ops      []ScheduledOp `json:"ops"`
	Makespan int           `json:"makespan"`
}

// Evaluator computes makespans for one instance, reusing its ready-time
// buffers between calls. An Evaluator is not safe for concurrent use; create
// one per goroutine.
type Evaluator struct {
	inst         *Instance
	jobReady     []int
	machineReady []int
}

// NewEvaluator returns an evaluator bound to inst.
func NewEvaluator(inst *Instance) *Evaluator {
	return &Evaluator{
		inst:         inst,
		jobReady:     make([]int, inst.Jobs),
		machineReady: make([]int, inst.MachineCount),
	}
}

// Makespan simulates perm in order. Each operation starts once both its job
// and its machine are free; the result is the latest job completion time.
func (e *Evaluator) Makespan(perm []OpRef) int {
	return e.simulate(perm, nil)
}

// Decode simulates perm and records every operation's start and end.
func (e *Evaluator) Decode(perm []OpRef) Schedule {
	ops := make([]ScheduledOp, 0, len(perm))
	ms := e.simulate(perm, func(ref OpRef, machine, start, end int) {
		ops = append(ops, ScheduledOp{OpRef: ref, Machine: machine, Start: start, End: end})
	})
	return Schedule{Ops: ops, Makespan: ms}
}

func (e *Evaluator) simulate(perm []OpRef, visit func(ref OpRef, machine, start, end int)) int {
	for i := range e.jobReady {
		e.jobReady[i] = 0
	}
	for i := range e.machineReady {
		e.machineReady[i] = 0
	}

	for _, ref := range perm {
		op := e.inst.Ops[ref.Job][ref.Op]
		start := e.jobReady[ref.Job]
		if ready := e.machineReady[op.Machine]; ready > start {
			start = ready
		}
		end := start + op.Duration
		e.jobReady[ref.Job] = end
		e.machineReady[op.Machine] = end
		if visit != nil {
			visit(ref, op.Machine, start, end)
		}
	}

	makespan := 0
	for _, t := range e.jobReady {
		if t > makespan {
			makespan = t
		}
	}
	return makespan
}

// Makespan is a convenience wrapper allocating a fresh Evaluator.
func Makespan(inst *Instance, perm []OpRef) int {
	return NewEvaluator(inst).Makespan(perm)
}

// Decode is a convenience wrapper allocating a fresh Evaluator.
func Decode(inst *Instance, perm []OpRef) Schedule {
	return NewEvaluator(inst).Decode(perm)
}
