package store

import "time"

// Message sources. External sources use the "external:<name>" form and are
// validated at the gateway, not here.
const (
	SourceUser       = "user"
	SourceAssistant  = "assistant"
	SourceSystem     = "system"
	SourceReasoning  = "reasoning"
	SourceToolCall   = "tool_call"
	SourceToolResult = "tool_result"
)

// Background task statuses. Transitions are strictly running → completed or
// running → failed; terminal states are final.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Reserved KV state keys.
const (
	StateKeyMode  = "mode"
	StateKeyDelay = "delay"
)

// Mode values for the reserved "mode" key.
const (
	ModeConversational = "conversational"
	ModeAutonomous     = "autonomous"
)

// DelayInfinite is the sentinel delay value meaning "wait for manual step".
const DelayInfinite = "infinite"

// Message is one entry in the durable conversation log. Messages are
// append-only and never mutated after insertion.
type Message struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolInput string    `json:"tool_input,omitempty"` // JSON text
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Notable is a curated highlight surfaced by the agent.
type Notable struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	MessageID int64     `json:"message_id,omitempty"`
}

// BackgroundTask is a long-running tool invocation polled through the task
// tools instead of returned inline.
type BackgroundTask struct {
	ID          string     `json:"id"`
	ToolName    string     `json:"tool_name"`
	Input       string     `json:"input"` // JSON text
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Session delimits the conversation horizon visible in the working window.
// At most one session has a nil EndedAt at any time.
type Session struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	HandoffSummary string     `json:"handoff_summary,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}
