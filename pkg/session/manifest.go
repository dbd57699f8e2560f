package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestSchemaVersion is bumped when the manifest layout changes
// incompatibly.
const ManifestSchemaVersion = 1

// ErrCorruptManifest is returned when a manifest object exists but cannot be
// decoded. Callers distinguish it from NotFound so a present-but-unreadable
// session is reported rather than silently hidden.
var ErrCorruptManifest = errors.New("corrupt manifest")

// Manifest summarizes a finalized session. It is derived from the session's
// buffered telemetry at finalize time and written strictly after every other
// artifact, making it the completion marker: a session without a manifest is
// invisible to listing.
type Manifest struct {
	SchemaVersion  int            `json:"schema_version"`
	SessionID      string         `json:"session_id"`
	ServiceName    string         `json:"service_name,omitempty"`
	StartTime      *float64       `json:"start_time"`
	EndTime        *float64       `json:"end_time"`
	DurationMS     *float64       `json:"duration_ms"`
	RecordCounts   map[string]int `json:"record_counts"`
	Artifacts      []string       `json:"artifacts"`
	HasEnvironment bool           `json:"has_environment"`
	TurnCount      int            `json:"turn_count"`
	AudioSizeBytes int64          `json:"audio_size_bytes,omitempty"`
	FinalizedAt    float64        `json:"finalized_at"`
}

const manifestSchema = `{
  "type": "object",
  "required": ["schema_version", "session_id", "record_counts", "artifacts", "has_environment", "start_time", "end_time"],
  "properties": {
    "schema_version": {"type": "integer", "minimum": 1},
    "session_id": {"type": "string", "minLength": 1},
    "service_name": {"type": "string"},
    "start_time": {"type": ["number", "null"]},
    "end_time": {"type": ["number", "null"]},
    "duration_ms": {"type": ["number", "null"]},
    "record_counts": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    },
    "artifacts": {"type": "array", "items": {"type": "string"}},
    "has_environment": {"type": "boolean"},
    "turn_count": {"type": "integer", "minimum": 0},
    "audio_size_bytes": {"type": "integer", "minimum": 0},
    "finalized_at": {"type": "number"}
  }
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// DecodeManifest parses and schema-validates manifest bytes. Invalid input
// yields ErrCorruptManifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrCorruptManifest, result.Errors()[0].String())
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	return &m, nil
}

// Encode serializes the manifest to JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// buildManifest derives a session's manifest from its drained buffer.
// Timing prefers span timestamps; when the trace carries none, the buffer's
// own lifecycle times are used so every manifest has a usable position in
// time.
func buildManifest(buf *Buffer, records []Record, artifacts []string, finalizedAt time.Time) *Manifest {
	traces := filterRecords(records, RecordTrace)
	meta := scanSpans(traces)

	counts := make(map[string]int)
	for _, r := range records {
		counts[string(r.Type)]++
	}

	m := &Manifest{
		SchemaVersion:  ManifestSchemaVersion,
		SessionID:      buf.SessionID(),
		ServiceName:    meta.serviceName,
		RecordCounts:   counts,
		Artifacts:      artifacts,
		HasEnvironment: buf.Environment() != nil,
		TurnCount:      meta.turnCount,
		AudioSizeBytes: int64(len(buf.Audio())),
		FinalizedAt:    unixSeconds(finalizedAt),
	}

	if meta.minStartNano > 0 {
		start := float64(meta.minStartNano) / 1e9
		m.StartTime = &start
	} else {
		start := unixSeconds(buf.StartedAt())
		m.StartTime = &start
	}

	if meta.maxEndNano > 0 {
		end := float64(meta.maxEndNano) / 1e9
		m.EndTime = &end
	} else if ended := buf.EndedAt(); !ended.IsZero() {
		end := unixSeconds(ended)
		m.EndTime = &end
	} else {
		end := unixSeconds(buf.LastAppend())
		m.EndTime = &end
	}

	if m.StartTime != nil && m.EndTime != nil {
		dur := (*m.EndTime - *m.StartTime) * 1000
		if dur >= 0 {
			m.DurationMS = &dur
		}
	}
	return m
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
