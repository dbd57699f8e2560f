package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhound/voxhound/pkg/storage"
)

func putManifest(t *testing.T, backend *storage.MemoryBackend, day, sessionID string) {
	t.Helper()
	start := 1756000000.0
	end := start + 10
	m := &Manifest{
		SchemaVersion:  ManifestSchemaVersion,
		SessionID:      sessionID,
		StartTime:      &start,
		EndTime:        &end,
		RecordCounts:   map[string]int{"trace": 1},
		Artifacts:      []string{TraceArtifactName(sessionID), ManifestArtifact},
		HasEnvironment: false,
		FinalizedAt:    end,
	}
	data, err := m.Encode()
	require.NoError(t, err)

	prefix := fmt.Sprintf("sessions/%s/%s", day, sessionID)
	require.NoError(t, backend.Put(context.Background(), prefix+"/"+TraceArtifactName(sessionID), []byte("{}\n")))
	require.NoError(t, backend.Put(context.Background(), prefix+"/"+ManifestArtifact, data))
}

func TestListSessionsDescendingAcrossDays(t *testing.T) {
	backend := storage.NewMemoryBackend()
	putManifest(t, backend, "2026/08/21", "a1")
	putManifest(t, backend, "2026/08/22", "b1")
	putManifest(t, backend, "2026/08/22", "b2")
	putManifest(t, backend, "2026/08/23", "c1")

	l := NewLister(backend, "sessions")
	sessions, next, err := l.ListSessions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)

	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"c1", "b2", "b1", "a1"}, ids)
	for _, s := range sessions {
		assert.NotNil(t, s.Manifest)
		assert.Empty(t, s.Error)
	}
}

func TestListSessionsPaginationVisitsEachExactlyOnce(t *testing.T) {
	backend := storage.NewMemoryBackend()
	days := []string{"2026/08/20", "2026/08/21", "2026/08/22"}
	total := 0
	for d, day := range days {
		for i := 0; i < 4; i++ {
			putManifest(t, backend, day, fmt.Sprintf("s%d%d", d, i))
			total++
		}
	}

	l := NewLister(backend, "sessions")
	for _, pageSize := range []int{1, 2, 3, 5, 7, 12, 50} {
		t.Run(fmt.Sprintf("page_size_%d", pageSize), func(t *testing.T) {
			seen := make(map[string]int)
			token := ""
			pages := 0
			for {
				sessions, next, err := l.ListSessions(context.Background(), token, pageSize)
				require.NoError(t, err)
				for _, s := range sessions {
					seen[s.SessionID]++
				}
				pages++
				require.Less(t, pages, 100)
				if next == "" {
					break
				}
				token = next
			}

			assert.Len(t, seen, total)
			for id, count := range seen {
				assert.Equal(t, 1, count, "session %s listed %d times", id, count)
			}
		})
	}
}

func TestListSessionsSkipsManifestlessGroups(t *testing.T) {
	backend := storage.NewMemoryBackend()
	putManifest(t, backend, "2026/08/23", "done")
	// An in-flight session has artifacts but no manifest yet.
	require.NoError(t, backend.Put(context.Background(),
		"sessions/2026/08/23/inflight/trace_inflight.jsonl", []byte("{}\n")))

	l := NewLister(backend, "sessions")
	sessions, _, err := l.ListSessions(context.Background(), "", 10)
	require.NoError(t, err)

	require.Len(t, sessions, 1)
	assert.Equal(t, "done", sessions[0].SessionID)
}

func TestListSessionsReportsCorruptManifest(t *testing.T) {
	backend := storage.NewMemoryBackend()
	putManifest(t, backend, "2026/08/23", "good")
	require.NoError(t, backend.Put(context.Background(),
		"sessions/2026/08/23/bad/"+ManifestArtifact, []byte(`{"truncated`)))

	l := NewLister(backend, "sessions")
	sessions, _, err := l.ListSessions(context.Background(), "", 10)
	require.NoError(t, err)

	require.Len(t, sessions, 2)
	byID := make(map[string]SessionSummary)
	for _, s := range sessions {
		byID[s.SessionID] = s
	}
	assert.NotNil(t, byID["good"].Manifest)
	assert.Nil(t, byID["bad"].Manifest)
	assert.NotEmpty(t, byID["bad"].Error)
}

func TestListSessionsInvalidToken(t *testing.T) {
	l := NewLister(storage.NewMemoryBackend(), "sessions")

	_, _, err := l.ListSessions(context.Background(), "%%%not-base64%%%", 10)
	assert.Error(t, err)
}

func TestListSessionsEmptyStore(t *testing.T) {
	l := NewLister(storage.NewMemoryBackend(), "sessions")

	sessions, next, err := l.ListSessions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Empty(t, next)
}

func TestFindSessionPrefix(t *testing.T) {
	backend := storage.NewMemoryBackend()
	putManifest(t, backend, "2026/08/22", "s1")

	l := NewLister(backend, "sessions")
	prefix, err := l.FindSessionPrefix(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "sessions/2026/08/22/s1", prefix)

	_, err = l.FindSessionPrefix(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
