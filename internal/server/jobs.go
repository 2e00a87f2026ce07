package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	apperrors "github.com/copyleftdev/jobshop-de/internal/errors"
	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
	"github.com/copyleftdev/jobshop-de/internal/optimization/de"
)

var (
	// ErrInvalidParams reports request parameters that cannot be decoded.
	ErrInvalidParams = errors.New("invalid params")
	// ErrJobNotFound reports an unknown schedule id.
	ErrJobNotFound = errors.New("schedule not found")
	// ErrJobFinished reports a cancel on a job that already ended.
	ErrJobFinished = errors.New("schedule already finished")
	// ErrTooManyJobs reports that the active job limit is reached.
	ErrTooManyJobs = errors.New("too many active schedules")
	// ErrServerClosed reports a start after Close was called.
	ErrServerClosed = errors.New("server is shutting down")
)

// JobStatus is the lifecycle state of a schedule job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Active reports whether the job can still be cancelled.
func (s JobStatus) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// ScheduleState tracks one solver run. All fields are guarded by the
// server's jobs lock. A job holds its slot until Done, which is set when
// the solver goroutine returns, even if it was reported cancelled earlier.
type ScheduleState struct {
	ID           string
	Instance     *jssp.Instance
	Status       JobStatus
	StartTime    time.Time
	EndTime      *time.Time
	LastUpdated  time.Time
	Generation   int
	Generations  int
	BestMakespan int
	Result       *optimization.OptimizationResult
	Err          string
	Done         bool
	Optimizer    optimization.Optimizer
	CancelFunc   context.CancelFunc
}

// Progress is the fraction of generations done.
func (st *ScheduleState) Progress() float64 {
	if st.Status == StatusCompleted {
		return 1
	}
	if st.Generations == 0 {
		return 0
	}
	return float64(st.Generation) / float64(st.Generations)
}

// ScheduleStatus is the externally visible view of a job.
type ScheduleStatus struct {
	ID           string                        `json:"schedule_id"`
	Instance     string                        `json:"instance,omitempty"`
	Jobs         int                           `json:"jobs"`
	Machines     int                           `json:"machines"`
	Status       JobStatus                     `json:"status"`
	Progress     float64                       `json:"progress"`
	Generation   int                           `json:"generation"`
	Generations  int                           `json:"generations"`
	BestMakespan int                           `json:"best_makespan,omitempty"`
	StartTime    time.Time                     `json:"start_time"`
	EndTime      *time.Time                    `json:"end_time,omitempty"`
	LastUpdated  time.Time                     `json:"last_update"`
	Error        string                        `json:"error,omitempty"`
	BestSolution *optimization.Solution        `json:"best_solution,omitempty"`
	History      []optimization.GenerationStat `json:"history,omitempty"`
}

// StartSchedule validates the request, registers a job and starts solving it
// in the background.
func (s *Server) StartSchedule(params StartParams) (ScheduleStatus, error) {
	inst, err := params.instance()
	if err != nil {
		return ScheduleStatus{}, err
	}

	cfg := params.solverConfig(s.cfg.Solver())
	cfg.Logger = s.solverLogger
	cfg.Recorder = s.metrics

	id := fmt.Sprintf("sched_%d_%d", time.Now().Unix(), s.seq.Add(1))
	if inst.Name == "" {
		inst.Name = id
	}
	state := &ScheduleState{
		ID:          id,
		Instance:    inst,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Generations: cfg.Generations,
	}
	cfg.OnGeneration = func(gs optimization.GenerationStat) {
		s.jobsMu.Lock()
		state.Generation = gs.Generation
		if state.BestMakespan == 0 || gs.BestMakespan < state.BestMakespan {
			state.BestMakespan = gs.BestMakespan
		}
		state.LastUpdated = time.Now()
		s.jobsMu.Unlock()
	}

	optimizer, err := de.NewOptimizer(cfg)
	if err != nil {
		return ScheduleStatus{}, err
	}
	state.Optimizer = optimizer

	ctx, cancel := context.WithCancel(context.Background())
	state.CancelFunc = cancel

	s.jobsMu.Lock()
	if s.closed {
		s.jobsMu.Unlock()
		cancel()
		return ScheduleStatus{}, ErrServerClosed
	}
	if limit := s.cfg.Optimization.MaxJobs; limit > 0 {
		running := lo.CountBy(lo.Values(s.jobs), func(st *ScheduleState) bool { return !st.Done })
		if running >= limit {
			s.jobsMu.Unlock()
			cancel()
			return ScheduleStatus{}, apperrors.Wrapf(ErrTooManyJobs, "limit %d", limit)
		}
	}
	s.jobs[id] = state
	view := s.viewLocked(state)
	s.wg.Add(1)
	s.jobsMu.Unlock()

	s.metrics.ActiveJobs.Inc()
	s.logger.Info("Schedule started", map[string]interface{}{
		"schedule_id": id,
		"instance":    inst.Name,
		"jobs":        inst.Jobs,
		"machines":    inst.Machines,
		"strategy":    cfg.Strategy,
		"generations": cfg.Generations,
	})

	go s.run(ctx, state)
	return view, nil
}

// run solves the job's instance and records the outcome. A panic in the
// solver fails the job instead of the process.
func (s *Server) run(ctx context.Context, state *ScheduleState) {
	defer s.wg.Done()
	defer s.metrics.ActiveJobs.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			err := apperrors.FromPanic(rec).WithOperation("schedule").WithComponent("server")
			s.logger.Error("Schedule panicked", map[string]interface{}{
				"schedule_id": state.ID,
				"error":       err.Error(),
				"stack":       strings.Join(err.StackTrace(), "\n"),
			})
			s.finish(state, nil, err)
		}
	}()

	s.jobsMu.Lock()
	if state.Status == StatusPending {
		state.Status = StatusRunning
		state.LastUpdated = time.Now()
	}
	optimizer, inst := state.Optimizer, state.Instance
	s.jobsMu.Unlock()

	result, err := optimizer.Optimize(ctx, inst)
	s.finish(state, result, err)
}

func (s *Server) finish(state *ScheduleState, result *optimization.OptimizationResult, err error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if result != nil {
		state.Result = result
		if result.BestSolution != nil {
			state.BestMakespan = result.BestSolution.Makespan
		}
	}
	now := time.Now()
	state.Done = true
	state.LastUpdated = now
	if state.EndTime == nil {
		state.EndTime = &now
	}

	switch {
	case state.Status == StatusCancelled:
	case err == nil:
		state.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	default:
		state.Status = StatusFailed
		state.Err = err.Error()
		s.logger.Error("Schedule failed", map[string]interface{}{
			"schedule_id": state.ID,
			"error":       err.Error(),
		})
		return
	}

	s.logger.Info("Schedule finished", map[string]interface{}{
		"schedule_id":   state.ID,
		"status":        string(state.Status),
		"best_makespan": state.BestMakespan,
	})
}

// Status returns the current view of a job.
func (s *Server) Status(id string) (ScheduleStatus, error) {
	s.jobsMu.RLock()
	state, ok := s.jobs[id]
	if !ok {
		s.jobsMu.RUnlock()
		return ScheduleStatus{}, apperrors.Wrapf(ErrJobNotFound, "schedule %s", id)
	}
	view := s.viewLocked(state)
	optimizer, finished := state.Optimizer, state.Result
	s.jobsMu.RUnlock()

	if finished != nil {
		view.BestSolution = finished.BestSolution
		view.History = finished.History
	} else if optimizer != nil {
		view.BestSolution = optimizer.GetBestSolution()
		view.History = optimizer.GetHistory()
	}
	return view, nil
}

// List returns every known job, oldest first, without solutions or history.
func (s *Server) List() []ScheduleStatus {
	s.jobsMu.RLock()
	views := lo.Map(lo.Values(s.jobs), func(st *ScheduleState, _ int) ScheduleStatus {
		return s.viewLocked(st)
	})
	s.jobsMu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].StartTime.Equal(views[j].StartTime) {
			return views[i].ID < views[j].ID
		}
		return views[i].StartTime.Before(views[j].StartTime)
	})
	return views
}

// Cancel stops a pending or running job. The solver notices at its next
// generation boundary; the job is reported cancelled immediately but keeps
// its slot until the solver returns.
func (s *Server) Cancel(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return apperrors.Wrapf(ErrJobNotFound, "schedule %s", id)
	}
	if !state.Status.Active() {
		return apperrors.Wrapf(ErrJobFinished, "schedule %s is %s", id, state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Schedule cancelled", map[string]interface{}{
		"schedule_id": id,
	})
	return nil
}

func (s *Server) viewLocked(st *ScheduleState) ScheduleStatus {
	return ScheduleStatus{
		ID:           st.ID,
		Instance:     st.Instance.Name,
		Jobs:         st.Instance.Jobs,
		Machines:     st.Instance.Machines,
		Status:       st.Status,
		Progress:     st.Progress(),
		Generation:   st.Generation,
		Generations:  st.Generations,
		BestMakespan: st.BestMakespan,
		StartTime:    st.StartTime,
		EndTime:      st.EndTime,
		LastUpdated:  st.LastUpdated,
		Error:        st.Err,
	}
}
