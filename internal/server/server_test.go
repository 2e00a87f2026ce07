package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/jobshop-de/internal/config"
	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/logging"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

const twoByTwo = "2 2\n0 3 1 2\n1 4 0 1\n"

// testConfig creates a test configuration with small solver defaults
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"

	cfg.DE.PopulationSize = 12
	cfg.DE.Strategy = "rand/1"
	cfg.DE.F = 0.8
	cfg.DE.CR = 0.9
	cfg.DE.Generations = 5
	cfg.DE.Seed = 42
	cfg.DE.Precedence = "enforce"

	cfg.Optimization.WorkerCount = 2
	cfg.Optimization.MaxJobs = 4

	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.ErrorLevel, io.Discard)
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t), nil)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

// ft06Text returns an instance large enough that a long run is still going
// when the test acts on it.
func ft06Text(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../jssp/testdata/ft06.txt")
	require.NoError(t, err)
	return string(data)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	}
	return rr, decoded
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/schedule", true},
		{"GET", "/api/v1/schedules", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/schedule/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			routed := rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed
			if !tt.shouldExist {
				assert.False(t, routed, "route should not exist")
				return
			}
			// Unknown ids answer 404 with a JSON error body from the handler.
			if rr.Code == http.StatusNotFound {
				assert.Contains(t, rr.Body.String(), "schedule not found")
			}
		})
	}
}

func TestScheduleLifecycle(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", map[string]interface{}{
		"name":        "tiny",
		"instance":    twoByTwo,
		"generations": 4,
		"strategy":    "DE/best/1",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id, _ := body["schedule_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "tiny", body["instance"])

	require.Eventually(t, func() bool {
		view, err := srv.Status(id)
		return err == nil && view.Status == StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	rr, body = doJSON(t, r, http.MethodGet, "/api/v1/status/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, 1.0, body["progress"])
	assert.Equal(t, 4.0, body["generation"])
	assert.GreaterOrEqual(t, body["best_makespan"], 6.0)

	history, ok := body["history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 5)

	best, ok := body["best_solution"].(map[string]interface{})
	require.True(t, ok)
	assert.NotNil(t, best["schedule"])
	assert.Len(t, best["permutation"], 4)

	list := srv.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestScheduleFromRows(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", map[string]interface{}{
		"rows":        [][]int{{0, 3, 1, 2}, {1, 4, 0, 1}},
		"generations": 0,
		"precedence":  "sweep",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.EqualValues(t, 2, body["jobs"])
	assert.EqualValues(t, 2, body["machines"])

	id := body["schedule_id"].(string)
	require.Eventually(t, func() bool {
		view, err := srv.Status(id)
		return err == nil && view.Status == StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	view, err := srv.Status(id)
	require.NoError(t, err)
	assert.Len(t, view.History, 1)
	assert.Equal(t, 1.0, view.Progress)
}

func TestScheduleRejectsBadRequests(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"missing instance", map[string]interface{}{}, "instance text or rows are required"},
		{"malformed instance", map[string]interface{}{"instance": "2 2\n0 3 1\n"}, "malformed instance"},
		{"negative duration", map[string]interface{}{"rows": [][]int{{0, -1}}}, "malformed instance"},
		{"unsupported strategy", map[string]interface{}{"instance": twoByTwo, "strategy": "DE/current/1"}, "unsupported strategy"},
		{"population too small", map[string]interface{}{"instance": twoByTwo, "population": 3}, "invalid configuration"},
		{"bad crossover rate", map[string]interface{}{"instance": twoByTwo, "cr": 1.5}, "invalid configuration"},
		{"unknown field", map[string]interface{}{"instance": twoByTwo, "objective": "x"}, "invalid params"},
		{"not an object", []int{1, 2}, "invalid params"},
		{"fractional rows", map[string]interface{}{"rows": [][]float64{{0, 2.7, 1, 3}, {1, 4, 0, 1.9}}}, "malformed instance"},
		{"non-numeric rows", map[string]interface{}{"rows": [][]interface{}{{0, "3"}}}, "malformed instance"},
		{"fractional population", map[string]interface{}{"instance": twoByTwo, "population": 4.9}, "invalid params"},
		{"fractional generations", map[string]interface{}{"instance": twoByTwo, "generations": 2.5}, "invalid params"},
		{"fractional seed", map[string]interface{}{"instance": twoByTwo, "seed": 1.5}, "invalid params"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestScheduleTooManyJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.MaxJobs = 1
	srv, r := newTestServer(t, cfg)

	long := map[string]interface{}{
		"instance":    ft06Text(t),
		"population":  50,
		"generations": 200000,
	}
	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", long)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	first := body["schedule_id"].(string)

	rr, body = doJSON(t, r, http.MethodPost, "/api/v1/schedule", long)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, body["error"], "too many active schedules")

	// The slot frees once the cancelled solver has returned.
	require.NoError(t, srv.Cancel(first))
	require.Eventually(t, func() bool {
		rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/schedule", map[string]interface{}{"instance": twoByTwo})
		return rr.Code == http.StatusAccepted
	}, 10*time.Second, 10*time.Millisecond)
}

func TestCancelledJobHoldsSlotUntilSolverReturns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.MaxJobs = 1
	srv := NewServer(cfg, testLogger(t), nil)
	t.Cleanup(func() { _ = srv.Close() })

	inst, err := jssp.ParseString(twoByTwo)
	require.NoError(t, err)
	state := &ScheduleState{
		ID:        "sched_stopping",
		Instance:  inst,
		Status:    StatusCancelled,
		StartTime: time.Now(),
	}
	srv.jobs[state.ID] = state

	_, err = srv.StartSchedule(StartParams{Instance: twoByTwo})
	assert.ErrorIs(t, err, ErrTooManyJobs)

	srv.finish(state, nil, context.Canceled)
	assert.True(t, state.Done)
	assert.Equal(t, StatusCancelled, state.Status)

	_, err = srv.StartSchedule(StartParams{Instance: twoByTwo})
	assert.NoError(t, err)
}

func TestCloseRejectsNewSchedules(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	require.NoError(t, srv.Close())

	_, err := srv.StartSchedule(StartParams{Instance: twoByTwo})
	assert.ErrorIs(t, err, ErrServerClosed)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", map[string]interface{}{"instance": twoByTwo})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, body["error"], "shutting down")
	assert.Empty(t, srv.List())
}

func TestDecodeStartParams(t *testing.T) {
	p, err := decodeStartParams(map[string]interface{}{
		"rows":       []interface{}{[]interface{}{0.0, 3.0, 1.0, 2.0}},
		"population": 20.0,
		"seed":       7.0,
		"f":          0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 3, 1, 2}}, p.Rows)
	assert.Equal(t, 20, *p.Population)
	assert.Equal(t, int64(7), *p.Seed)
	assert.Equal(t, 0.5, *p.F)

	_, err = decodeStartParams(map[string]interface{}{
		"rows":       []interface{}{[]interface{}{0.0, 2.7, 1.0, 3.0}},
		"population": 4.0,
	})
	assert.ErrorIs(t, err, optimization.ErrMalformedInstance)
	assert.NotErrorIs(t, err, ErrInvalidParams)

	_, err = decodeStartParams(map[string]interface{}{"instance": twoByTwo, "population": 4.9})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = decodeStartParams(map[string]interface{}{"instance": twoByTwo, "rows": []interface{}{}, "objective": "x"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestHandlerErrorsUseRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	srv := NewServer(testConfig(t), testLogger(t), nil)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	r.Use(logging.Middleware(logging.New(logging.DebugLevel, &buf)))
	srv.RegisterRoutes(r)

	rr, _ := doJSON(t, r, http.MethodGet, "/api/v1/status/missing", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	var rejected map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Request rejected" {
			rejected = entry
		}
	}
	require.NotNil(t, rejected, buf.String())
	assert.Equal(t, "/api/v1/status/missing", rejected["path"])
	assert.Equal(t, 404.0, rejected["status"])
	assert.Contains(t, rejected["error"], "schedule not found")
}

func TestScheduleCancel(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/schedule", map[string]interface{}{
		"instance":    ft06Text(t),
		"population":  50,
		"generations": 200000,
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := body["schedule_id"].(string)

	rr, body = doJSON(t, r, http.MethodDelete, "/api/v1/schedule/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", body["status"])

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/schedule/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/schedule/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, srv.Close())
	view, err := srv.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, view.Status)
	assert.NotNil(t, view.EndTime)
	assert.Less(t, view.Progress, 1.0)
}

func rpcCall(t *testing.T, h http.Handler, method string, params interface{}) map[string]interface{} {
	t.Helper()
	rr, body := doJSON(t, h, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	return body
}

func rpcErrorCode(t *testing.T, body map[string]interface{}) int {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "response should contain error object: %v", body)
	return int(errObj["code"].(float64))
}

func TestJSONRPC(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	body := rpcCall(t, r, "schedule.start", []interface{}{map[string]interface{}{
		"instance":    twoByTwo,
		"generations": 2,
	}})
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "%v", body)
	assert.EqualValues(t, 7, body["id"])
	id := result["schedule_id"].(string)

	require.Eventually(t, func() bool {
		view, err := srv.Status(id)
		return err == nil && view.Status == StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	body = rpcCall(t, r, "schedule.status", map[string]interface{}{"schedule_id": id})
	result, ok = body["result"].(map[string]interface{})
	require.True(t, ok, "%v", body)
	assert.Equal(t, "completed", result["status"])

	body = rpcCall(t, r, "schedule.cancel", map[string]interface{}{"schedule_id": id})
	assert.Equal(t, codeConflict, rpcErrorCode(t, body))

	body = rpcCall(t, r, "schedule.list", nil)
	list, ok := body["result"].([]interface{})
	require.True(t, ok, "%v", body)
	assert.Len(t, list, 1)

	tests := []struct {
		name   string
		method string
		params interface{}
		code   int
	}{
		{"unknown method", "optimization.start", nil, codeMethodNotFound},
		{"unknown schedule", "schedule.status", map[string]interface{}{"schedule_id": "nope"}, codeNotFound},
		{"malformed instance", "schedule.start", map[string]interface{}{"instance": "x"}, codeInvalidParams},
		{"wrong param type", "schedule.status", map[string]interface{}{"schedule_id": []int{1}}, codeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, rpcErrorCode(t, rpcCall(t, r, tt.method, tt.params)))
		})
	}
}

func TestJSONRPCInvalidEnvelope(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, codeParseError, rpcErrorCode(t, body))

	_, body = doJSON(t, r, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      1,
		"method":  "schedule.list",
	})
	assert.Equal(t, codeInvalidRequest, rpcErrorCode(t, body))
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), nil)

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{
			name:       "valid error response",
			code:       codeInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
		},
		{
			name:       "nil id",
			code:       codeServerError,
			message:    "server error",
			id:         nil,
			expectedID: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			// JSON-RPC errors travel in a 200 response
			assert.Equal(t, http.StatusOK, rr.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.expectedID, response["id"])
		})
	}
}

type panickingOptimizer struct{}

func (panickingOptimizer) Optimize(context.Context, *jssp.Instance) (*optimization.OptimizationResult, error) {
	panic("solver exploded")
}
func (panickingOptimizer) GetBestSolution() *optimization.Solution   { return nil }
func (panickingOptimizer) GetHistory() []optimization.GenerationStat { return nil }
func (panickingOptimizer) Stop()                                     {}

func TestRunRecoversPanic(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), nil)

	inst, err := jssp.ParseString(twoByTwo)
	require.NoError(t, err)
	state := &ScheduleState{
		ID:        "sched_panic",
		Instance:  inst,
		Status:    StatusPending,
		StartTime: time.Now(),
		Optimizer: panickingOptimizer{},
	}
	srv.jobs[state.ID] = state
	srv.wg.Add(1)
	srv.run(context.Background(), state)

	view, err := srv.Status(state.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Contains(t, view.Error, "solver exploded")
	assert.Contains(t, view.Error, "component=server")
}

func TestClose(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), nil)
	assert.NoError(t, srv.Close())
}
