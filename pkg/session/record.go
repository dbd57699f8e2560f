package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RecordType tags a telemetry record with the artifact it belongs to.
type RecordType string

const (
	RecordTrace     RecordType = "trace"
	RecordLog       RecordType = "log"
	RecordException RecordType = "exception"
)

// Record is one parsed telemetry entry delivered by the collector front end.
// The payload stays opaque; insertion order within a session is preserved in
// the persisted JSONL artifact.
type Record struct {
	Type         RecordType
	TimeUnixNano int64
	Payload      json.RawMessage
}

// Validate checks that the record is well-formed enough to buffer.
func (r Record) Validate() error {
	switch r.Type {
	case RecordTrace, RecordLog, RecordException:
	default:
		return fmt.Errorf("unknown record type %q", r.Type)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("record payload cannot be empty")
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("record payload is not valid JSON")
	}
	return nil
}

// Artifact names inside a session's key prefix. The layout is fixed for
// compatibility with existing session bundles.
const (
	ManifestArtifact = "manifest.json"
	AudioArtifact    = "audio.opus"
)

// TraceArtifactName returns the span artifact name for a session.
func TraceArtifactName(sessionID string) string {
	return "trace_" + sessionID + ".jsonl"
}

// LogsArtifactName returns the log artifact name for a session.
func LogsArtifactName(sessionID string) string {
	return "logs_" + sessionID + ".jsonl"
}

// ExceptionsArtifactName returns the exception artifact name for a session.
func ExceptionsArtifactName(sessionID string) string {
	return "exceptions_" + sessionID + ".jsonl"
}

// EnvironmentArtifactName returns the environment artifact name for a
// session.
func EnvironmentArtifactName(sessionID string) string {
	return "environment_" + sessionID + ".json"
}

// encodeJSONL serializes records as one JSON object per line, preserving
// insertion order.
func encodeJSONL(records []Record) []byte {
	var sb strings.Builder
	for _, r := range records {
		sb.Write(r.Payload)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// filterRecords returns the records of one type, in insertion order.
func filterRecords(records []Record, t RecordType) []Record {
	var out []Record
	for _, r := range records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}
