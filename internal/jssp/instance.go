// Package jssp models job shop scheduling instances and the decoding of
// continuous DE vectors into operation sequences.
package jssp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedInstance is returned when instance input has the wrong shape or
// carries values that are not non-negative integers.
var ErrMalformedInstance = errors.New("malformed instance")

// Operation is a single processing step of a job.
type Operation struct {
	Machine  int `json:"machine"`
	Duration int `json:"duration"`
}

// OpRef addresses operation Op of job Job.
type OpRef struct {
	Job int `json:"job"`
	Op  int `json:"op"`
}

func (r OpRef) String() string {
	return fmt.Sprintf("(%d,%d)", r.Job, r.Op)
}

// Instance is an immutable JSSP instance. It is shared read-only by every
// component of a run, so callers must not modify Ops.
type Instance struct {
	// Name is informational only.
	Name string
	// Jobs is the number of jobs (n).
	Jobs int
	// Machines is the number of operations per job (m).
	Machines int
	// MachineCount is the number of distinct machine ids, max id + 1.
	MachineCount int
	// Ops[j][o] is operation o of job j.
	Ops [][]Operation
}

// NewInstance builds an instance from n rows of 2*m integers alternating
// machine id and duration.
func NewInstance(n, m int, rows [][]int) (*Instance, error) {
	if n <= 0 || m <= 0 {
		return nil, malformed("jobs and machines must be positive, got %d x %d", n, m)
	}
	if len(rows) != n {
		return nil, malformed("expected %d job rows, got %d", n, len(rows))
	}

	inst := &Instance{
		Jobs:     n,
		Machines: m,
		Ops:      make([][]Operation, n),
	}
	for j, row := range rows {
		if len(row) != 2*m {
			return nil, malformed("job %d: expected %d values, got %d", j, 2*m, len(row))
		}
		ops := make([]Operation, m)
		for o := 0; o < m; o++ {
			machine, duration := row[2*o], row[2*o+1]
			if machine < 0 || duration < 0 {
				return nil, malformed("job %d op %d: negative value (%d, %d)", j, o, machine, duration)
			}
			ops[o] = Operation{Machine: machine, Duration: duration}
			if machine+1 > inst.MachineCount {
				inst.MachineCount = machine + 1
			}
		}
		inst.Ops[j] = ops
	}
	return inst, nil
}

// FromRecords builds an instance from tabular records: the first record holds
// the job and machine counts, each following record one job.
func FromRecords(records [][]string) (*Instance, error) {
	if len(records) == 0 {
		return nil, malformed("empty input")
	}
	header := records[0]
	if len(header) != 2 {
		return nil, malformed("header must hold exactly the job and machine counts, got %q", strings.Join(header, " "))
	}
	n, err := parseNonNegative(header[0])
	if err != nil {
		return nil, malformed("job count: %v", err)
	}
	m, err := parseNonNegative(header[1])
	if err != nil {
		return nil, malformed("machine count: %v", err)
	}

	rows := make([][]int, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := make([]int, len(rec))
		for k, field := range rec {
			v, err := parseNonNegative(field)
			if err != nil {
				return nil, malformed("job %d value %d: %v", i, k, err)
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	return NewInstance(n, m, rows)
}

// TotalOps returns n*m.
func (inst *Instance) TotalOps() int {
	return inst.Jobs * inst.Machines
}

// Op returns the operation addressed by ref.
func (inst *Instance) Op(ref OpRef) Operation {
	return inst.Ops[ref.Job][ref.Op]
}

// JobLength is the total processing time of job j.
func (inst *Instance) JobLength(j int) int {
	total := 0
	for _, op := range inst.Ops[j] {
		total += op.Duration
	}
	return total
}

// LowerBound is the largest single-job processing time, a trivial lower bound
// on any makespan.
func (inst *Instance) LowerBound() int {
	lb := 0
	for j := range inst.Ops {
		if l := inst.JobLength(j); l > lb {
			lb = l
		}
	}
	return lb
}

func parseNonNegative(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%d is negative", v)
	}
	return v, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedInstance, fmt.Sprintf(format, args...))
}
