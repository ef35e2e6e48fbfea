package agui

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// FrameTerminator separates SSE frames on the wire. Every encoded event must
// end with it exactly once.
const FrameTerminator = "\n\n"

// EventEncoder maps one event to one SSE frame. It is stateless and safe for
// concurrent use.
type EventEncoder struct{}

func NewEventEncoder() *EventEncoder {
	return &EventEncoder{}
}

// Encode serializes the event and wraps it into an SSE data frame.
func (e *EventEncoder) Encode(ev Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s event", ev.Type())
	}
	return e.EncodeJSON(b), nil
}

// EncodeJSON wraps an already-serialized event payload into an SSE data frame.
func (e *EventEncoder) EncodeJSON(payload []byte) string {
	return "data: " + string(payload) + FrameTerminator
}

// EnsureFrameTerminator normalizes a frame that is missing the double
// line-break sentinel. Handlers call this on every outgoing frame instead of
// trusting the encoder version in use.
func EnsureFrameTerminator(frame string) string {
	if strings.HasSuffix(frame, FrameTerminator) {
		return frame
	}
	if strings.HasSuffix(frame, "\n") {
		return frame + "\n"
	}
	return frame + FrameTerminator
}
