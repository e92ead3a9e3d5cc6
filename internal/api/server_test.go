package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/convoseg/internal/features"
	"github.com/MikeSquared-Agency/convoseg/internal/normalize"
	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

func newTestServer(t *testing.T, reportPath string) *Server {
	t.Helper()
	ext, err := features.New(nil)
	require.NoError(t, err)
	cfg := Config{Port: 8760, Version: "test", ReportPath: reportPath, Segment: segment.DefaultOptions()}
	return NewServer(cfg, normalize.New(normalize.Options{}), ext, zerolog.Nop())
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := do(newTestServer(t, ""), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl.report.json")
	rep := pipeline.NewReport()
	rep.Records = 7
	require.NoError(t, rep.Save(path))

	w := do(newTestServer(t, path), "GET", "/api/v1/convoseg/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Service      string           `json:"service"`
		GapThreshold string           `json:"gap_threshold"`
		LastRun      *pipeline.Report `json:"last_run"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "convoseg", body.Service)
	assert.Equal(t, "2h0m0s", body.GapThreshold)
	require.NotNil(t, body.LastRun)
	assert.Equal(t, rep.RunID, body.LastRun.RunID)
	assert.Equal(t, 7, body.LastRun.Records)
}

func TestStatusEndpoint_NoReport(t *testing.T) {
	w := do(newTestServer(t, filepath.Join(t.TempDir(), "missing.json")), "GET", "/api/v1/convoseg/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Nil(t, body["last_run"])
}

func TestNormalizeEndpoint(t *testing.T) {
	in := `{"guid":"g1","timestamp":"2024-03-09T09:00:00Z","sender":"Me","contents":"hi"}{bad}` +
		`{"guid":"g2","timestamp":"2024-03-09T09:01:00Z","sender":"+15551234567","contents":"yo"}`

	w := do(newTestServer(t, ""), "POST", "/api/v1/convoseg/normalize", in)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Equal(t, "2", w.Header().Get("X-Convoseg-Records"))
	assert.Equal(t, "1", w.Header().Get("X-Convoseg-Skipped"))
	assert.Equal(t, "1", w.Header().Get("X-Convoseg-Issues"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"sender":{"me":true}`)
	assert.Contains(t, lines[1], `"sender":{"phone":"+15551234567"}`)
}

const canonical = `{"id":"a","timestamp":"2024-03-09T09:00:00Z","sender":{"me":true},"contents":"a"}
{"id":"b","timestamp":"2024-03-09T09:30:00Z","sender":{"me":true},"contents":"b"}
`

func TestSegmentEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	w := do(srv, "POST", "/api/v1/convoseg/segment", canonical)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Convoseg-Segments"))

	w = do(srv, "POST", "/api/v1/convoseg/segment?gap=10m", canonical)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Convoseg-Segments"))

	var seg map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(w.Body.String(), "\n", 2)[0]), &seg))
	assert.EqualValues(t, 1, seg["segment_id"])
	assert.Equal(t, "2024-03-09", seg["date"])
}

func TestSegmentEndpoint_BadParams(t *testing.T) {
	srv := newTestServer(t, "")

	assert.Equal(t, http.StatusBadRequest, do(srv, "POST", "/api/v1/convoseg/segment?gap=soon", canonical).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, "POST", "/api/v1/convoseg/segment?gap=0s", canonical).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, "POST", "/api/v1/convoseg/segment?gap=-5m", canonical).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, "POST", "/api/v1/convoseg/segment?sort=maybe", canonical).Code)
}

func TestSegmentEndpoint_UnsortedStrict(t *testing.T) {
	unsorted := `{"id":"b","timestamp":"2024-03-09T09:30:00Z","sender":{"me":true},"contents":"b"}
{"id":"a","timestamp":"2024-03-09T09:00:00Z","sender":{"me":true},"contents":"a"}
`
	w := do(newTestServer(t, ""), "POST", "/api/v1/convoseg/segment?sort=false", unsorted)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestNotFoundEndpoint(t *testing.T) {
	w := do(newTestServer(t, ""), "GET", "/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
