package session

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Span timing and identity metadata is derived by scanning the buffered
// trace payloads, which are OTLP-shaped JSON objects. Numeric nano
// timestamps arrive either as JSON numbers or as strings depending on the
// exporter.

type spanMeta struct {
	serviceName  string
	minStartNano int64
	maxEndNano   int64
	turnCount    int
}

// Voice pipeline platforms name their turn spans differently; the platform
// is detected from the spans themselves.
const (
	platformPipecat = "pipecat"
	platformLiveKit = "livekit"
)

func scanSpans(records []Record) spanMeta {
	var meta spanMeta

	spans := make([]map[string]any, 0, len(records))
	for _, r := range records {
		var span map[string]any
		if err := json.Unmarshal(r.Payload, &span); err != nil {
			continue
		}
		spans = append(spans, span)

		if start, ok := asInt64(span["start_time_unix_nano"]); ok {
			if meta.minStartNano == 0 || start < meta.minStartNano {
				meta.minStartNano = start
			}
		}
		if end, ok := asInt64(span["end_time_unix_nano"]); ok {
			if end > meta.maxEndNano {
				meta.maxEndNano = end
			}
		}
		if meta.serviceName == "" {
			meta.serviceName = serviceName(span)
		}
	}

	turnNames := turnSpanNames(detectPlatform(spans))
	for _, span := range spans {
		name, _ := span["name"].(string)
		if turnNames[name] {
			meta.turnCount++
		}
	}
	return meta
}

// detectPlatform distinguishes LiveKit traces (instrumentation scope
// "livekit-agents" or "lk."-prefixed attribute keys) from Pipecat, the
// default.
func detectPlatform(spans []map[string]any) string {
	for _, span := range spans {
		if scope, ok := span["instrumentation_scope"].(map[string]any); ok {
			if name, _ := scope["name"].(string); name == "livekit-agents" {
				return platformLiveKit
			}
		}
		for _, attr := range attributes(span) {
			if key, _ := attr["key"].(string); strings.HasPrefix(key, "lk.") {
				return platformLiveKit
			}
		}
	}
	return platformPipecat
}

func turnSpanNames(platform string) map[string]bool {
	if platform == platformLiveKit {
		return map[string]bool{"agent_turn": true}
	}
	return map[string]bool{"turn": true}
}

// serviceName extracts the service.name resource attribute, if present.
func serviceName(span map[string]any) string {
	resource, ok := span["resource"].(map[string]any)
	if !ok {
		return ""
	}
	attrs, ok := resource["attributes"].([]any)
	if !ok {
		return ""
	}
	for _, a := range attrs {
		attr, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if key, _ := attr["key"].(string); key != "service.name" {
			continue
		}
		if value, ok := attr["value"].(map[string]any); ok {
			if s, _ := value["string_value"].(string); s != "" {
				return s
			}
		}
	}
	return ""
}

func attributes(span map[string]any) []map[string]any {
	raw, ok := span["attributes"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, a := range raw {
		if attr, ok := a.(map[string]any); ok {
			out = append(out, attr)
		}
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
