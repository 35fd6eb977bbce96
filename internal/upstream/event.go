// Package upstream talks to the chat backend: it acquires credentials,
// opens completion streams and decodes the backend's line-delimited
// event format.
package upstream

// Phases reported by the backend for each event
const (
	PhaseThinking = "thinking"
	PhaseAnswer   = "answer"
)

// Event is one decoded upstream stream event
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData is the payload of an upstream event. DeltaContent carries
// incremental text; EditContent carries replacement text; Done marks the
// terminal event of a stream.
type EventData struct {
	Phase        string      `json:"phase"`
	DeltaContent string      `json:"delta_content"`
	EditContent  string      `json:"edit_content"`
	Done         bool        `json:"done"`
	Usage        *EventUsage `json:"usage,omitempty"`
	Error        *EventError `json:"error,omitempty"`
}

// EventUsage is the backend's own token accounting, when present
type EventUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EventError is an in-band error reported by the backend
type EventError struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

// ChatMessage is a message in the upstream request payload
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload posted to the upstream completion endpoint
type ChatRequest struct {
	Stream   bool           `json:"stream"`
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	ChatID   string         `json:"chat_id,omitempty"`
	ID       string         `json:"id,omitempty"`
	Features map[string]any `json:"features,omitempty"`
}
