package types

// StepEventType discriminates the streamed progress frames.
type StepEventType string

const (
	StepThought        StepEventType = "thought"
	StepActionStart    StepEventType = "action_start"
	StepActionComplete StepEventType = "action_complete"
	StepActionError    StepEventType = "action_error"
	StepObservation    StepEventType = "observation"
	StepFinalAnswer    StepEventType = "final_answer"
	StepError          StepEventType = "error"
)

// StepEvent is one streamed progress frame. Timestamp is ISO-8601 and is
// stamped by the broadcaster when left empty. Only the fields relevant to
// the variant are populated.
type StepEvent struct {
	Type        StepEventType `json:"type"`
	SessionID   string        `json:"session_id"`
	Timestamp   string        `json:"timestamp,omitempty"`
	Thought     string        `json:"thought,omitempty"`
	Tool        string        `json:"tool,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	DurationMs  int64         `json:"duration_ms,omitempty"`
	Payload     interface{}   `json:"payload,omitempty"`
	Code        string        `json:"code,omitempty"`
	Message     string        `json:"message,omitempty"`
}
