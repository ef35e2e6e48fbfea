package llm

import (
	"context"

	"github.com/go-go-golems/stromboli/pkg/toolprovider"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a run's conversation state. The sequence is
// append-only: messages are never rewritten or reordered once added.
type Message struct {
	Role    string
	Content string

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string

	// ToolCalls records the calls requested by an assistant message.
	ToolCalls []ToolCall
}

// ToolCall is a model-issued request to invoke a tool. Arguments is the raw
// JSON payload exactly as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Decision is the outcome of one decision-mode call: either the model wants
// tools executed, or it is ready to answer.
type Decision struct {
	ToolCalls []ToolCall
	Content   string
}

// WantsTools reports whether the model requested at least one tool call.
func (d *Decision) WantsTools() bool {
	return len(d.ToolCalls) > 0
}

// Engine wraps one chat-completion capability in two modes. Decide is the
// non-streaming call used to find out whether the model wants tools;
// StreamAnswer delivers the final answer as ordered fragments with tool use
// disabled. StreamAnswer hides its transport fallback: callers observe one
// ordered fragment sequence regardless of how it was produced.
type Engine interface {
	Decide(ctx context.Context, messages []Message, tools []toolprovider.Descriptor) (*Decision, error)
	StreamAnswer(ctx context.Context, messages []Message, tools []toolprovider.Descriptor, onDelta func(delta string) error) error
}
