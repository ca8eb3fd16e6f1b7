package types

import "time"

// Conversation is one ingested chat transcript (spec §4.11).
type Conversation struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Source      string    `json:"source"`
	ContentHash string    `json:"content_hash"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageRole is the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn within an ingested Conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Seq            int         `json:"seq"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ToolUse is one tool invocation recorded inside a Message (spec §4.11).
type ToolUse struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ToolName  string    `json:"tool_name"`
	Input     string    `json:"input"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MemorySource links a Memory back to the Message it was extracted from,
// with the fact-quality classifier's score at extraction time (spec §4.11).
type MemorySource struct {
	MemoryID  string    `json:"memory_id"`
	MessageID string    `json:"message_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is an extractive summary of a Conversation.
type Summary struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	ConversationID *string   `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	MemoryIDs      []string  `json:"memory_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Topic is a named cluster of related memories surfaced during consolidation.
type Topic struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Label     string    `json:"label"`
	MemoryIDs []string  `json:"memory_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
