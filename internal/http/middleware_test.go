package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pooling/internal/reservation"
)

// newLoggedServer returns a server whose info-level JSON logs land in the
// returned buffer.
func newLoggedServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := NewServer(Deps{
		Reservations: &reservation.Coordinator{Ledger: reservation.NewMemoryLedger()},
	}, logger)
	return s, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func findLog(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["msg"] == msg {
			return l
		}
	}
	return nil
}

func TestRequestIDEchoedOrReplaced(t *testing.T) {
	s, _ := newLoggedServer(t)

	tests := map[string]struct {
		inbound string
		echoed  bool
	}{
		"caller id kept":    {inbound: "trace-42.a:b", echoed: true},
		"missing generated": {inbound: ""},
		"spaces rejected":   {inbound: "two words"},
		"too long rejected": {inbound: strings.Repeat("a", 65)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.inbound != "" {
				req.Header.Set("X-Request-ID", tc.inbound)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			require.NotEmpty(t, got)
			if tc.echoed {
				assert.Equal(t, tc.inbound, got)
			} else {
				assert.NotEqual(t, tc.inbound, got)
				assert.Regexp(t, validRequestID, got)
			}
		})
	}
}

func TestPanicRecoveredAsJSON(t *testing.T) {
	s, buf := newLoggedServer(t)
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-boom")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)

	lines := logLines(t, buf)
	panicLog := findLog(lines, "panic recovered")
	require.NotNil(t, panicLog)
	assert.Equal(t, "req-boom", panicLog["request_id"])
	assert.Equal(t, "/boom", panicLog["route"])

	access := findLog(lines, "http_request")
	require.NotNil(t, access, "access log still written after a panic")
	assert.Equal(t, "ERROR", access["level"])
	assert.Equal(t, float64(http.StatusInternalServerError), access["status"])
}

func TestAccessLogCarriesReservationToken(t *testing.T) {
	s, buf := newLoggedServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reservations/tok-missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	access := findLog(logLines(t, buf), "http_request")
	require.NotNil(t, access)
	assert.Equal(t, "WARN", access["level"])
	assert.Equal(t, "/api/v1/reservations/{token}", access["route"])
	assert.Equal(t, "tok-missing", access["reservation_token"])
	assert.Greater(t, access["bytes"], float64(0))
}

func TestHealthChecksLoggedAtDebug(t *testing.T) {
	s, buf := newLoggedServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.Nil(t, findLog(logLines(t, buf), "http_request"), "info-level logger drops health checks")
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, accessLevel("/ready", http.StatusOK))
	assert.Equal(t, slog.LevelError, accessLevel("/ready", http.StatusServiceUnavailable))
	assert.Equal(t, slog.LevelInfo, accessLevel("/api/v1/matches", http.StatusOK))
	assert.Equal(t, slog.LevelWarn, accessLevel("/api/v1/reservations", http.StatusConflict))
	assert.Equal(t, slog.LevelError, accessLevel("/api/v1/matches", http.StatusInternalServerError))
}
