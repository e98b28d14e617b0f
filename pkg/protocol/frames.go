package protocol

// Control frame types accepted on the WebSocket from clients.
const (
	FrameUserMessage = "user_message"
	FrameSetMode     = "set_mode"
	FrameSetDelay    = "set_delay"
	FrameStep        = "step"
)

// ControlFrame is one incoming client frame.
// Exactly one of the optional fields is meaningful per Type.
type ControlFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"` // user_message
	Mode    string `json:"mode,omitempty"`    // set_mode: conversational|autonomous
	Delay   string `json:"delay,omitempty"`   // set_delay: seconds or "infinite"
}

// InjectRequest is the external injection contract: source must match
// ^external:[^\s]+$.
type InjectRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// RawFrame is used by clients that need to sniff the type before decoding.
type RawFrame struct {
	Type string `json:"type"`
}
