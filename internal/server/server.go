package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/jobshop-de/internal/config"
	apperrors "github.com/copyleftdev/jobshop-de/internal/errors"
	"github.com/copyleftdev/jobshop-de/internal/logging"
	"github.com/copyleftdev/jobshop-de/internal/metrics"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeTooManyJobs    = -32001
	codeNotFound       = -32004
	codeConflict       = -32009
)

// Server implements the HTTP and JSON-RPC surface of the scheduling service.
// It manages schedule jobs and provides endpoints to start, monitor, and
// cancel them.
type Server struct {
	cfg          *config.Config
	logger       Logger
	solverLogger *zap.Logger
	metrics      *metrics.Metrics

	jobs   map[string]*ScheduleState
	jobsMu sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	seq    atomic.Uint64
}

// NewServer creates a new server instance. A nil m uses unregistered
// collectors.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Server{
		cfg:          cfg,
		logger:       logger,
		solverLogger: logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "de"})),
		metrics:      m,
		jobs:         make(map[string]*ScheduleState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/schedule", s.handleSchedule)
		r.Get("/schedules", s.handleList)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/schedule/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close refuses new jobs, cancels every running one and waits for the
// solvers to return.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	s.closed = true
	for _, state := range s.jobs {
		if state.CancelFunc != nil {
			state.CancelFunc()
		}
	}
	s.jobsMu.Unlock()

	s.wg.Wait()
	return nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be given by name
// or as a one-element positional array holding the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	params := request.Params
	if positional, ok := params.([]interface{}); ok {
		params = nil
		if len(positional) > 0 {
			params = positional[0]
		}
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "schedule.start":
		var p StartParams
		if p, err = decodeStartParams(params); err == nil {
			result, err = s.StartSchedule(p)
		}
	case "schedule.status":
		var p IDParams
		if err = decodeParams(params, &p); err == nil {
			result, err = s.Status(p.ScheduleID)
		}
	case "schedule.cancel":
		var p IDParams
		if err = decodeParams(params, &p); err == nil {
			if err = s.Cancel(p.ScheduleID); err == nil {
				result = map[string]string{"status": string(StatusCancelled)}
			}
		}
	case "schedule.list":
		result = s.List()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Debug("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

// handleSchedule handles POST /api/v1/schedule.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	params, err := decodeStartParams(body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	view, err := s.StartSchedule(params)
	if err != nil {
		s.writeError(w, r, httpStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, view)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, httpStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleList handles GET /api/v1/schedules.
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": s.List(),
	})
}

// handleCancel handles DELETE /api/v1/schedule/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, httpStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": string(StatusCancelled),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// writeError answers with err and logs it on the request's logger.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logger := logging.FromContext(r.Context())
	fields := map[string]interface{}{
		"status": status,
		"error":  err.Error(),
	}
	if status < http.StatusInternalServerError {
		logger.Debug("Request rejected", fields)
	} else {
		var appErr *apperrors.Error
		if apperrors.As(err, &appErr) && len(appErr.StackTrace()) > 0 {
			fields["stack"] = strings.Join(appErr.StackTrace(), "\n")
		}
		logger.Error("Request failed", fields)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// isInvalid reports errors caused by the request content.
func isInvalid(err error) bool {
	return apperrors.Is(err, ErrInvalidParams) ||
		apperrors.Is(err, optimization.ErrMalformedInstance) ||
		apperrors.Is(err, optimization.ErrInvalidConfig) ||
		apperrors.Is(err, optimization.ErrUnsupportedStrategy)
}

func httpStatus(err error) int {
	switch {
	case isInvalid(err):
		return http.StatusBadRequest
	case apperrors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, ErrJobFinished):
		return http.StatusConflict
	case apperrors.Is(err, ErrTooManyJobs):
		return http.StatusTooManyRequests
	case apperrors.Is(err, ErrServerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func rpcCode(err error) int {
	switch {
	case isInvalid(err):
		return codeInvalidParams
	case apperrors.Is(err, ErrJobNotFound):
		return codeNotFound
	case apperrors.Is(err, ErrJobFinished):
		return codeConflict
	case apperrors.Is(err, ErrTooManyJobs):
		return codeTooManyJobs
	default:
		return codeServerError
	}
}
