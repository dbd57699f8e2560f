package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesSessionOnFirstAppend(t *testing.T) {
	r := NewRegistry()

	id, created, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.True(t, created)

	id, created, err = r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.False(t, created)

	assert.Equal(t, 1, r.ActiveCount())
}

func TestRegistryGeneratesID(t *testing.T) {
	r := NewRegistry()

	id, created, err := r.Append("", traceRec(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, created)
}

func TestRegistryClaimExactlyOnce(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)

	var claims int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim("s1"); ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)

	state, ok := r.State("s1")
	require.True(t, ok)
	assert.Equal(t, StateFinalizing, state)
}

func TestRegistryClaimUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Claim("nope")
	assert.False(t, ok)
}

func TestRegistryLateArrivalAfterFreeze(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)

	buf, ok := r.Claim("s1")
	require.True(t, ok)

	// Until the drain freezes the buffer, appends still land.
	_, _, err = r.Append("s1", logRec(`{}`))
	require.NoError(t, err)

	buf.Freeze()

	_, _, err = r.Append("s1", logRec(`{}`))
	assert.ErrorIs(t, err, ErrLateArrival)
	_, _, err = r.SetEnvironment("s1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrLateArrival)
	_, _, err = r.AttachAudio("s1", []byte{1})
	assert.ErrorIs(t, err, ErrLateArrival)
}

func TestRegistryFailedSessionRejectsTelemetry(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)

	_, ok := r.Claim("s1")
	require.True(t, ok)
	r.FailFinalize("s1", errors.New("storage unavailable"))

	_, _, err = r.Append("s1", traceRec(`{}`))
	assert.ErrorIs(t, err, ErrLateArrival)

	state, ok := r.State("s1")
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)

	rec, ok := r.FailureReason("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Contains(t, rec.Reason, "storage unavailable")

	failed := r.FailedSessions()
	require.Len(t, failed, 1)
	assert.Equal(t, "s1", failed[0].SessionID)
}

func TestRegistryCompleteFinalizeReleases(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)

	_, ok := r.Claim("s1")
	require.True(t, ok)
	r.CompleteFinalize("s1")

	assert.Equal(t, 0, r.ActiveCount())
	state, known := r.State("s1")
	require.True(t, known)
	assert.Equal(t, StateFinalized, state)
}

func TestRegistryFinalizedSessionRejectsTelemetry(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("s1", traceRec(`{}`))
	require.NoError(t, err)

	_, ok := r.Claim("s1")
	require.True(t, ok)
	r.CompleteFinalize("s1")

	// A reappearing finalized id must never start a fresh session.
	_, created, err := r.Append("s1", traceRec(`{}`))
	assert.ErrorIs(t, err, ErrLateArrival)
	assert.False(t, created)
	_, _, err = r.SetEnvironment("s1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrLateArrival)
	_, _, err = r.AttachAudio("s1", []byte{1})
	assert.ErrorIs(t, err, ErrLateArrival)

	assert.Equal(t, 0, r.ActiveCount())

	// Claims of a finalized id fail too; there is nothing left to drain.
	_, ok = r.Claim("s1")
	assert.False(t, ok)
}

func TestRegistryIdleSessions(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Append("old", traceRec(`{}`))
	require.NoError(t, err)
	_, _, err = r.Append("fresh", traceRec(`{}`))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, _, err = r.Append("fresh", traceRec(`{}`))
	require.NoError(t, err)

	idle := r.IdleSessions(10 * time.Millisecond)
	assert.Equal(t, []string{"old"}, idle)

	// FINALIZING sessions never show up as idle.
	_, ok := r.Claim("old")
	require.True(t, ok)
	assert.Empty(t, r.IdleSessions(10*time.Millisecond))
}
