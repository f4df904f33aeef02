package types

import "time"

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleSystem     MessageRole = "system"
	RoleToolUse    MessageRole = "tool_use"
	RoleToolResult MessageRole = "tool_result"
)

// BlockType identifies the kind of content a block carries.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a typed fragment of a message. For tool blocks the
// ToolID/ToolName pair correlates streamed deltas with the final record.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Content  any       `json:"content"`
	ToolID   string    `json:"toolID,omitempty"`
	ToolName string    `json:"toolName,omitempty"`
	IsError  bool      `json:"isError,omitempty"`
}

// Message is one turn's content. Messages are immutable once appended to
// a session's history; only the in-flight assistant message accumulates
// blocks while a run is streaming.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Text concatenates the message's text blocks.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			if s, ok := b.Content.(string); ok {
				out += s
			}
		}
	}
	return out
}
