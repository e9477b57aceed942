package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message sent to or received from a model.
// ImageURL, when set, is a data URL attached to the message.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatRequest is sent to a model provider.
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	// JSONMode asks the provider for a JSON object reply.
	JSONMode bool `json:"json_mode,omitempty"`
}

// ChatResponse is returned from a model provider.
type ChatResponse struct {
	ID        string      `json:"id"`
	Model     string      `json:"model"`
	Message   ChatMessage `json:"message"`
	Usage     Usage       `json:"usage"`
	CreatedAt time.Time   `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is one turn of a conversation. Images and Documents hold the ids
// of attachments shared with the turn.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Images    []string       `json:"images,omitempty"`
	Documents []string       `json:"documents,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HasAttachments reports whether the message carries images or documents.
func (m Message) HasAttachments() bool {
	return len(m.Images) > 0 || len(m.Documents) > 0
}

// Conversation is the persisted form of a session.
type Conversation struct {
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Messages    []Message      `json:"messages"`
	PatientData *PatientData   `json:"patient_data,omitempty"`
}
