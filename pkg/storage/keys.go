package storage

import (
	"fmt"
	"strings"
	"time"
)

// Session artifacts live under {prefix}/{YYYY}/{MM}/{DD}/{session_id}/.
// The date partition reflects finalization time, so in-progress sessions
// never appear under a completed day until they actually complete.

// SessionPrefix returns the key prefix for a session finalized at t.
func SessionPrefix(base string, t time.Time, sessionID string) string {
	return fmt.Sprintf("%s/%s/%s", base, DayPartition(t), sessionID)
}

// ArtifactKey returns the full key for one artifact of a session finalized
// at t.
func ArtifactKey(base string, t time.Time, sessionID, artifact string) string {
	return SessionPrefix(base, t, sessionID) + "/" + artifact
}

// DayPartition formats t (in UTC) as the zero-padded YYYY/MM/DD partition.
func DayPartition(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}

// ValidateKey rejects keys that could escape the backend namespace when
// mapped to filesystem paths.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q has a leading or trailing slash", ErrInvalidKey, key)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("%w: %q contains a null byte", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q contains an empty or relative segment", ErrInvalidKey, key)
		}
	}
	return nil
}
