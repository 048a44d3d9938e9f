package types

// Turn is one role-tagged message in the buffered conversation window.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Candidate is unvalidated extraction output before it becomes a persisted
// MemoryRecord. Category and Importance are optional; the orchestrator
// defaults them to CategoryContext and DefaultImportance.
type Candidate struct {
	Content    string `json:"content"`
	Category   string `json:"category,omitempty"`
	Importance *int   `json:"importance,omitempty"`
}

// ExtractionStatus classifies the outcome of one extraction attempt.
type ExtractionStatus string

const (
	// ExtractionEmpty means the call succeeded but nothing was memorable.
	// This is the common, expected case.
	ExtractionEmpty ExtractionStatus = "empty"

	// ExtractionExtracted means at least one candidate was persisted.
	ExtractionExtracted ExtractionStatus = "extracted"

	// ExtractionError means the external call failed or returned
	// unparseable output.
	ExtractionError ExtractionStatus = "error"
)

// ExtractionResult is the observability record of one orchestration attempt.
// It is never persisted; it is delivered only to a caller-supplied
// completion callback.
type ExtractionResult struct {
	AttemptID string           `json:"attempt_id"`
	Status    ExtractionStatus `json:"status"`

	// Timing
	DurationMS int64 `json:"duration_ms"`

	// Model and bucket identity, for logging and analytics
	Model   string `json:"model,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`

	// Input context: the exact window and prompt sent to the service
	Window          []Turn `json:"window,omitempty"`
	FormattedPrompt string `json:"formatted_prompt,omitempty"`

	// Response details
	ToolCalled   bool   `json:"tool_called"`
	RawResponse  string `json:"raw_response,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	// Validated candidates (empty unless status is "extracted")
	Candidates []Candidate `json:"candidates,omitempty"`

	// Error info when status is "error"
	ErrorMessage string `json:"error_message,omitempty"`

	// Session linkage and the message count that fired the trigger
	SessionID           string `json:"session_id,omitempty"`
	TriggerMessageCount int    `json:"trigger_message_count,omitempty"`
}
