package toolprovider

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultResultLimit bounds normalized tool output, in runes.
	DefaultResultLimit = 8000

	// TruncationMarker is appended whenever output was cut so downstream
	// consumers (including the model) know the data is incomplete.
	TruncationMarker = "… [truncated]"
)

// Normalizer converts arbitrary tool results into bounded text that is safe
// to transmit and to feed back into the model. It is deterministic and never
// fails: serialization problems degrade to a fmt representation.
type Normalizer struct {
	limit  int
	marker string
}

func NewNormalizer() Normalizer {
	return Normalizer{
		limit:  DefaultResultLimit,
		marker: TruncationMarker,
	}
}

// WithLimit sets the maximum output length in runes.
func (n Normalizer) WithLimit(limit int) Normalizer {
	n.limit = limit
	return n
}

// WithMarker sets the marker appended to truncated output.
func (n Normalizer) WithMarker(marker string) Normalizer {
	n.marker = marker
	return n
}

// Normalize renders the value as text and truncates it to the configured
// limit. Strings and []byte pass through unchanged, structured values are
// serialized to compact JSON, everything else falls back to fmt.
func (n Normalizer) Normalize(v interface{}) string {
	return n.truncate(stringify(v))
}

// NormalizeError renders a tool execution failure as result text so the
// model can see the failure and react instead of the run aborting.
func (n Normalizer) NormalizeError(name string, err error) string {
	return n.truncate(fmt.Sprintf("tool %s failed: %s", name, err.Error()))
}

func (n Normalizer) truncate(s string) string {
	limit := n.limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + n.marker
}

func stringify(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case []byte:
		return string(tv)
	case error:
		return tv.Error()
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
