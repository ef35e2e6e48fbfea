package agui

import (
	"github.com/rs/zerolog"
)

// EventType is the AG-UI wire discriminator carried in every frame.
type EventType string

const (
	EventTypeRunStarted         EventType = "RUN_STARTED"
	EventTypeRunFinished        EventType = "RUN_FINISHED"
	EventTypeRunError           EventType = "RUN_ERROR"
	EventTypeTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTypeTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventTypeToolCallStart      EventType = "TOOL_CALL_START"
	EventTypeToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventTypeToolCallResult     EventType = "TOOL_CALL_RESULT"

	// EventTypeRunWarning is a local extension to the AG-UI vocabulary: a
	// non-fatal notice (malformed tool arguments and the like). RUN_ERROR
	// stays strictly terminal.
	EventTypeRunWarning EventType = "RUN_WARNING"
)

type Event interface {
	Type() EventType
}

type EventImpl struct {
	Type_ EventType `json:"type"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
}

var _ Event = &EventImpl{}

type EventRunStarted struct {
	EventImpl
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

func NewRunStartedEvent(threadID, runID string) *EventRunStarted {
	return &EventRunStarted{
		EventImpl: EventImpl{Type_: EventTypeRunStarted},
		ThreadID:  threadID,
		RunID:     runID,
	}
}

var _ Event = &EventRunStarted{}

type EventRunFinished struct {
	EventImpl
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

func NewRunFinishedEvent(threadID, runID string) *EventRunFinished {
	return &EventRunFinished{
		EventImpl: EventImpl{Type_: EventTypeRunFinished},
		ThreadID:  threadID,
		RunID:     runID,
	}
}

var _ Event = &EventRunFinished{}

type EventRunError struct {
	EventImpl
	Message string `json:"message"`
}

func NewRunErrorEvent(err error) *EventRunError {
	return &EventRunError{
		EventImpl: EventImpl{Type_: EventTypeRunError},
		Message:   err.Error(),
	}
}

var _ Event = &EventRunError{}

type EventRunWarning struct {
	EventImpl
	Message string `json:"message"`
}

func NewRunWarningEvent(message string) *EventRunWarning {
	return &EventRunWarning{
		EventImpl: EventImpl{Type_: EventTypeRunWarning},
		Message:   message,
	}
}

var _ Event = &EventRunWarning{}

type EventTextMessageStart struct {
	EventImpl
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

func NewTextMessageStartEvent(messageID string) *EventTextMessageStart {
	return &EventTextMessageStart{
		EventImpl: EventImpl{Type_: EventTypeTextMessageStart},
		MessageID: messageID,
		Role:      "assistant",
	}
}

var _ Event = &EventTextMessageStart{}

type EventTextMessageContent struct {
	EventImpl
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

func NewTextMessageContentEvent(messageID, delta string) *EventTextMessageContent {
	return &EventTextMessageContent{
		EventImpl: EventImpl{Type_: EventTypeTextMessageContent},
		MessageID: messageID,
		Delta:     delta,
	}
}

var _ Event = &EventTextMessageContent{}

type EventTextMessageEnd struct {
	EventImpl
	MessageID string `json:"messageId"`
}

func NewTextMessageEndEvent(messageID string) *EventTextMessageEnd {
	return &EventTextMessageEnd{
		EventImpl: EventImpl{Type_: EventTypeTextMessageEnd},
		MessageID: messageID,
	}
}

var _ Event = &EventTextMessageEnd{}

type EventToolCallStart struct {
	EventImpl
	ToolCallID   string `json:"toolCallId"`
	ToolCallName string `json:"toolCallName"`
}

func NewToolCallStartEvent(toolCallID, toolCallName string) *EventToolCallStart {
	return &EventToolCallStart{
		EventImpl:    EventImpl{Type_: EventTypeToolCallStart},
		ToolCallID:   toolCallID,
		ToolCallName: toolCallName,
	}
}

var _ Event = &EventToolCallStart{}

type EventToolCallArgs struct {
	EventImpl
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

func NewToolCallArgsEvent(toolCallID, delta string) *EventToolCallArgs {
	return &EventToolCallArgs{
		EventImpl:  EventImpl{Type_: EventTypeToolCallArgs},
		ToolCallID: toolCallID,
		Delta:      delta,
	}
}

var _ Event = &EventToolCallArgs{}

type EventToolCallResult struct {
	EventImpl
	MessageID  string `json:"messageId"`
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	Role       string `json:"role"`
}

func NewToolCallResultEvent(messageID, toolCallID, content string) *EventToolCallResult {
	return &EventToolCallResult{
		EventImpl:  EventImpl{Type_: EventTypeToolCallResult},
		MessageID:  messageID,
		ToolCallID: toolCallID,
		Content:    content,
		Role:       "tool",
	}
}

var _ Event = &EventToolCallResult{}
