package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{DebugLevel, []string{"debug", "info", "warn", "error"}},
		{InfoLevel, []string{"info", "warn", "error"}},
		{ErrorLevel, []string{"error"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(tt.level, &buf)
			logger.Debug("debug")
			logger.Info("info")
			logger.Warn("warn")
			logger.Error("error")

			var got []string
			for _, entry := range decodeLines(t, &buf) {
				got = append(got, entry["message"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(InfoLevel, &buf).WithField("service", "jobshop-de")
	base.WithFields(map[string]interface{}{"schedule_id": "sched_1"}).
		WithError(errors.New("boom")).
		Info("Schedule failed", map[string]interface{}{"generation": 3})
	base.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "jobshop-de", entries[0]["service"])
	assert.Equal(t, "sched_1", entries[0]["schedule_id"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, 3.0, entries[0]["generation"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Contains(t, entries[0]["caller"], "logging/logging_test.go")

	// Derived loggers must not leak fields into their parent.
	assert.NotContains(t, entries[1], "schedule_id")
	assert.Equal(t, "jobshop-de", entries[1]["service"])
}

func TestNewLoggerTextFormat(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.output = &buf
	logger.Info("hidden")
	logger.Warn("Generation slow", map[string]interface{}{"generation": 7, "best": 55})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN  Generation slow")
	assert.Contains(t, out, "best=55")
	assert.Contains(t, out, "generation=7")
	assert.Less(t, strings.Index(out, "best="), strings.Index(out, "generation="))
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := NewLogger(&Config{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, parseLevel("debug"))
	assert.Equal(t, WarnLevel, parseLevel("WARN"))
	assert.Equal(t, InfoLevel, parseLevel("verbose"))
}

func TestZapAdapter(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf)).With(zap.String("strategy", "rand/1"))

	zl.Debug("dropped")
	zl.Info("Generation complete",
		zap.Int("generation", 4),
		zap.Float64("mean_makespan", 61.25),
		zap.Duration("duration", 1500*time.Millisecond),
		zap.Error(errors.New("late")),
	)
	zl.Error("Optimization stopped")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	info := entries[0]
	assert.Equal(t, "INFO", info["level"])
	assert.Equal(t, "rand/1", info["strategy"])
	assert.Equal(t, 4.0, info["generation"])
	assert.Equal(t, 61.25, info["mean_makespan"])
	assert.Equal(t, "late", info["error"])
	assert.NotNil(t, info["duration"])
	assert.Contains(t, info["caller"], "logging_test.go")

	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "rand/1", entries[1]["strategy"])
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	r := chi.NewRouter()
	r.Use(Middleware(logger))
	r.Get("/api/v1/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/status/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)

	assert.Equal(t, "inside handler", entries[0]["message"])
	assert.Equal(t, "/api/v1/status/abc", entries[0]["path"])

	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, 404.0, entries[1]["status"])
	assert.Equal(t, "/api/v1/status/{id}", entries[1]["route"])

	assert.Equal(t, "DEBUG", entries[2]["level"])
	assert.Equal(t, 200.0, entries[2]["status"])
}
