package protocol

// ProtocolVersion is bumped on breaking changes to the wire format.
const ProtocolVersion = 1

// Event names pushed from server to observers.
const (
	EventMessage         = "message"
	EventToken           = "token"
	EventReasoning       = "reasoning"
	EventState           = "state"
	EventNotable         = "notable"
	EventContextPressure = "context_pressure"
	EventFSMState        = "fsm_state"
)

// EventFrame is the broadcast envelope shipped to every observer.
type EventFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// TokenPayload carries one streamed content fragment.
type TokenPayload struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// ReasoningPayload carries one streamed reasoning fragment.
type ReasoningPayload struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// MessagePayload is a completed transcript message.
type MessagePayload struct {
	Source    string `json:"source"`
	Content   string `json:"content"`
	ToolName  string `json:"tool_name,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NotablePayload announces a recorded notable event.
type NotablePayload struct {
	Label     string `json:"label"`
	Content   string `json:"content"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatePayload is the mode+delay snapshot.
type StatePayload struct {
	Mode  string `json:"mode"`
	Delay string `json:"delay"`
}

// ContextPressurePayload reports the current window pressure.
type ContextPressurePayload struct {
	Tokens int     `json:"tokens"`
	Max    int     `json:"max"`
	Ratio  float64 `json:"ratio"`
	Level  string  `json:"level"`
}

// FSMStatePayload reports the coordinator's current state tag.
type FSMStatePayload struct {
	State      string `json:"state"`
	TurnNumber int    `json:"turn_number"`
}
