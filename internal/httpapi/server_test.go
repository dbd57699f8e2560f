package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhound/voxhound/pkg/engine"
	"github.com/voxhound/voxhound/pkg/session"
	"github.com/voxhound/voxhound/pkg/storage"
)

func newTestServer(t *testing.T, backend *storage.MemoryBackend) (*httptest.Server, *engine.Engine) {
	t.Helper()

	eng := engine.New(engine.Config{
		Backend:       backend,
		BasePrefix:    "sessions",
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
		ShutdownGrace: 5 * time.Second,
	})
	require.NoError(t, eng.Start())
	t.Cleanup(func() { _ = eng.Close() })

	s, err := NewServer(Config{
		Host:   "127.0.0.1",
		Port:   8321,
		Engine: eng,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func finalizeSession(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	_, err := eng.Append(id, session.Record{
		Type:    session.RecordTrace,
		Payload: json.RawMessage(`{"name":"turn","start_time_unix_nano":100,"end_time_unix_nano":200}`),
	})
	require.NoError(t, err)
	require.NoError(t, eng.EndSession(id))
	require.Eventually(t, func() bool {
		state, known := eng.State(id)
		return known && state == session.StateFinalized
	}, 5*time.Second, 10*time.Millisecond)
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryBackend())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListSessionsEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, storage.NewMemoryBackend())
	finalizeSession(t, eng, "s1")

	var body struct {
		Sessions      []session.SessionSummary `json:"sessions"`
		NextPageToken string                   `json:"next_page_token"`
	}
	status := getJSON(t, srv.URL+"/api/sessions", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "s1", body.Sessions[0].SessionID)
	assert.Empty(t, body.NextPageToken)
}

func TestListSessionsBadParams(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryBackend())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/sessions?page_size=nope", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/sessions?page_token=!!!", nil))
}

func TestGetSessionEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, storage.NewMemoryBackend())
	finalizeSession(t, eng, "s1")

	var manifest session.Manifest
	status := getJSON(t, srv.URL+"/api/sessions/s1", &manifest)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s1", manifest.SessionID)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/sessions/ghost", nil))
}

func TestGetArtifactEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, storage.NewMemoryBackend())
	finalizeSession(t, eng, "s1")

	resp, err := http.Get(srv.URL + "/api/sessions/s1/artifacts/trace_s1.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"turn"`)

	assert.Equal(t, http.StatusNotFound,
		getJSON(t, srv.URL+"/api/sessions/s1/artifacts/logs_s1.jsonl", nil))
}

func TestFailedSessionsEndpoint(t *testing.T) {
	backend := storage.NewMemoryBackend()
	backend.PutHook = func(key string) error {
		if strings.Contains(key, "/bad/") {
			return errors.New("disk full")
		}
		return nil
	}
	srv, eng := newTestServer(t, backend)

	_, err := eng.Append("bad", session.Record{
		Type:    session.RecordTrace,
		Payload: json.RawMessage(`{"name":"turn"}`),
	})
	require.NoError(t, err)
	require.NoError(t, eng.EndSession("bad"))
	require.Eventually(t, func() bool {
		state, ok := eng.State("bad")
		return ok && state == session.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	var body struct {
		Failed []session.FailureRecord `json:"failed"`
	}
	status := getJSON(t, srv.URL+"/api/sessions/failed", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Failed, 1)
	assert.Equal(t, "bad", body.Failed[0].SessionID)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryBackend())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "active_sessions")
}
