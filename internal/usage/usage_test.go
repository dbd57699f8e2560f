package usage

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReporterPostsEvents(t *testing.T) {
	var mu sync.Mutex
	events := map[string]event{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var e event
		require.NoError(t, json.Unmarshal(body, &e))
		mu.Lock()
		events[e.Event] = e
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL)
	r.SessionIngested("s1")
	r.SessionFinalized("s1", 42)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s1", events["session_ingested"].SessionID)
	assert.Equal(t, "s1", events["session_finalized"].SessionID)
	assert.Equal(t, 42, events["session_finalized"].RecordCount)
}

func TestHTTPReporterDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	r := NewHTTPReporter(srv.URL)

	start := time.Now()
	r.SessionIngested("s1")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("usage event never reached the endpoint")
	}
}

func TestHTTPReporterSwallowsFailures(t *testing.T) {
	// Nothing is listening here; the reporter must not panic or block.
	r := NewHTTPReporter("http://127.0.0.1:1/unreachable")

	assert.NotPanics(t, func() {
		r.SessionIngested("s1")
		r.SessionFinalized("s1", 1)
	})
}

func TestNoopReporter(t *testing.T) {
	var r Reporter = NoopReporter{}

	assert.NotPanics(t, func() {
		r.SessionIngested("s1")
		r.SessionFinalized("s1", 1)
	})
}
