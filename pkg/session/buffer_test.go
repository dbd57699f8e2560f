package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceRec(payload string) Record {
	return Record{Type: RecordTrace, Payload: json.RawMessage(payload)}
}

func logRec(payload string) Record {
	return Record{Type: RecordLog, Payload: json.RawMessage(payload)}
}

func TestBufferAppendPreservesOrder(t *testing.T) {
	b := NewBuffer("s1")

	require.NoError(t, b.Append(traceRec(`{"n":1}`)))
	require.NoError(t, b.Append(logRec(`{"n":2}`)))
	require.NoError(t, b.Append(traceRec(`{"n":3}`)))

	records := b.Freeze()
	require.Len(t, records, 3)
	assert.Equal(t, `{"n":1}`, string(records[0].Payload))
	assert.Equal(t, `{"n":2}`, string(records[1].Payload))
	assert.Equal(t, `{"n":3}`, string(records[2].Payload))
}

func TestBufferRejectsInvalidRecord(t *testing.T) {
	b := NewBuffer("s1")

	assert.Error(t, b.Append(Record{Type: "bogus", Payload: json.RawMessage(`{}`)}))
	assert.Error(t, b.Append(Record{Type: RecordTrace}))
	assert.Error(t, b.Append(Record{Type: RecordTrace, Payload: json.RawMessage(`{not json`)}))
	assert.Equal(t, 0, b.Len())
}

func TestBufferFreezeStopsAppends(t *testing.T) {
	b := NewBuffer("s1")
	require.NoError(t, b.Append(traceRec(`{}`)))

	first := b.Freeze()
	assert.True(t, b.Frozen())

	assert.ErrorIs(t, b.Append(traceRec(`{}`)), ErrBufferFrozen)
	assert.ErrorIs(t, b.SetEnvironment(json.RawMessage(`{}`)), ErrBufferFrozen)
	assert.ErrorIs(t, b.AttachAudio([]byte{1}), ErrBufferFrozen)

	// Repeated freezes return the same snapshot.
	assert.Equal(t, first, b.Freeze())
}

func TestBufferEnvironmentWriteOnce(t *testing.T) {
	b := NewBuffer("s1")

	require.NoError(t, b.SetEnvironment(json.RawMessage(`{"os":"linux"}`)))
	assert.ErrorIs(t, b.SetEnvironment(json.RawMessage(`{"os":"darwin"}`)), ErrEnvironmentSet)
	assert.JSONEq(t, `{"os":"linux"}`, string(b.Environment()))

	assert.Error(t, NewBuffer("s2").SetEnvironment(json.RawMessage(`not json`)))
}

func TestBufferConcurrentAppendAndFreeze(t *testing.T) {
	b := NewBuffer("s1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Append(traceRec(`{}`))
			}
		}()
	}

	records := b.Freeze()
	wg.Wait()

	// Whatever landed before the freeze is exactly what the snapshot holds.
	assert.Equal(t, len(records), b.Len())
	assert.LessOrEqual(t, len(records), 400)
}

func TestBufferMarkEnded(t *testing.T) {
	b := NewBuffer("s1")
	assert.True(t, b.EndedAt().IsZero())

	b.MarkEnded()
	first := b.EndedAt()
	assert.False(t, first.IsZero())

	b.MarkEnded()
	assert.Equal(t, first, b.EndedAt())
}
