// Package usage reports anonymous usage counters to a configured endpoint.
// Reporting is best effort: failures are logged at debug level and never
// affect ingestion or finalization.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter receives lifecycle notifications
type Reporter interface {
	SessionIngested(sessionID string)
	SessionFinalized(sessionID string, recordCount int)
}

// NoopReporter discards all notifications; used when reporting is disabled
type NoopReporter struct{}

func (NoopReporter) SessionIngested(string)       {}
func (NoopReporter) SessionFinalized(string, int) {}

type event struct {
	Event       string    `json:"event"`
	SessionID   string    `json:"session_id"`
	RecordCount int       `json:"record_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HTTPReporter posts events to an HTTP endpoint. Posts run in their own
// goroutine with a short timeout so a slow collector cannot stall the
// ingestion path.
type HTTPReporter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReporter creates a reporter posting to endpoint.
func NewHTTPReporter(endpoint string) *HTTPReporter {
	return &HTTPReporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 3 * time.Second},
	}
}

func (r *HTTPReporter) SessionIngested(sessionID string) {
	go r.post(event{Event: "session_ingested", SessionID: sessionID, Timestamp: time.Now().UTC()})
}

func (r *HTTPReporter) SessionFinalized(sessionID string, recordCount int) {
	go r.post(event{
		Event:       "session_finalized",
		SessionID:   sessionID,
		RecordCount: recordCount,
		Timestamp:   time.Now().UTC(),
	})
}

func (r *HTTPReporter) post(e event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Str("event", e.Event).Err(err).Msg("Usage report failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Debug().Str("event", e.Event).Int("status", resp.StatusCode).Msg("Usage report rejected")
	}
}
