package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func span(payload string) Record {
	return Record{Type: RecordTrace, Payload: json.RawMessage(payload)}
}

func TestScanSpansTimingAndService(t *testing.T) {
	meta := scanSpans([]Record{
		span(`{"start_time_unix_nano": 200, "end_time_unix_nano": 300}`),
		span(`{"start_time_unix_nano": "100", "end_time_unix_nano": "250",
			"resource": {"attributes": [{"key": "service.name", "value": {"string_value": "bot"}}]}}`),
	})

	assert.Equal(t, int64(100), meta.minStartNano)
	assert.Equal(t, int64(300), meta.maxEndNano)
	assert.Equal(t, "bot", meta.serviceName)
}

func TestScanSpansIgnoresMalformedPayloads(t *testing.T) {
	meta := scanSpans([]Record{
		span(`"just a string"`),
		span(`{"start_time_unix_nano": "not a number"}`),
		span(`{"start_time_unix_nano": 50, "end_time_unix_nano": 60}`),
	})

	assert.Equal(t, int64(50), meta.minStartNano)
	assert.Equal(t, int64(60), meta.maxEndNano)
}

func TestTurnCountPipecat(t *testing.T) {
	meta := scanSpans([]Record{
		span(`{"name": "turn"}`),
		span(`{"name": "turn"}`),
		span(`{"name": "tts"}`),
		span(`{"name": "agent_turn"}`),
	})

	// Without livekit markers the pipeline counts "turn" spans.
	assert.Equal(t, 2, meta.turnCount)
}

func TestTurnCountLiveKitByScope(t *testing.T) {
	meta := scanSpans([]Record{
		span(`{"name": "agent_turn", "instrumentation_scope": {"name": "livekit-agents"}}`),
		span(`{"name": "agent_turn"}`),
		span(`{"name": "turn"}`),
	})

	assert.Equal(t, 2, meta.turnCount)
}

func TestTurnCountLiveKitByAttributePrefix(t *testing.T) {
	meta := scanSpans([]Record{
		span(`{"name": "tts", "attributes": [{"key": "lk.room", "value": {"string_value": "r1"}}]}`),
		span(`{"name": "agent_turn"}`),
	})

	assert.Equal(t, 1, meta.turnCount)
}
