package chat

import "github.com/trendchat/trendchat/core"

// StreamEvent types, in emission order: zero or more chunk and tool_start
// events, then exactly one terminal done or error event.
const (
	EventChunk     = "chunk"
	EventToolStart = "tool_start"
	EventDone      = "done"
	EventError     = "error"
)

// StreamEvent is one frame of a streamed chat turn. Only the fields relevant
// to the event type are populated.
type StreamEvent struct {
	Type           string        `json:"type"`
	Content        string        `json:"content,omitempty"`
	Tool           string        `json:"tool,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	Message        *core.Message `json:"message,omitempty"`
	Detail         string        `json:"detail,omitempty"`
}

func chunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

func toolStartEvent(tool string) StreamEvent {
	return StreamEvent{Type: EventToolStart, Tool: tool}
}

func doneEvent(conversationID string, msg *core.Message) StreamEvent {
	return StreamEvent{
		Type:           EventDone,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Message:        msg,
	}
}

func errorEvent(detail string) StreamEvent {
	return StreamEvent{Type: EventError, Detail: detail}
}
