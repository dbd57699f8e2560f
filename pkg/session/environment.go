package session

import (
	"encoding/json"
	"os"
	"runtime"
	"time"
)

// EnvironmentSnapshot is a point-in-time capture of host and runtime
// metadata. At most one exists per session; it is written once and immutable
// afterward. Sessions ingested from remote pipelines carry their own
// snapshot document, which is stored verbatim.
type EnvironmentSnapshot struct {
	OS         OSInfo      `json:"os"`
	Runtime    RuntimeInfo `json:"runtime"`
	Hostname   string      `json:"hostname,omitempty"`
	CapturedAt string      `json:"captured_at"`
}

// OSInfo describes the host operating system.
type OSInfo struct {
	System  string `json:"system"`
	Machine string `json:"machine"`
}

// RuntimeInfo describes the collector runtime.
type RuntimeInfo struct {
	Version string `json:"version"`
	NumCPU  int    `json:"num_cpu"`
}

// CaptureEnvironment snapshots the local host, for pipelines running in the
// same process as the collector.
func CaptureEnvironment() json.RawMessage {
	hostname, _ := os.Hostname()

	snap := EnvironmentSnapshot{
		OS: OSInfo{
			System:  runtime.GOOS,
			Machine: runtime.GOARCH,
		},
		Runtime: RuntimeInfo{
			Version: runtime.Version(),
			NumCPU:  runtime.NumCPU(),
		},
		Hostname:   hostname,
		CapturedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return data
}
