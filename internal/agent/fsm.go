package agent

import (
	"fmt"
	"strconv"

	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
)

// maxConsecutiveErrors is the retry ladder height: two recovery retries, then
// the loop pauses until the next input event.
const maxConsecutiveErrors = 3

// State tags.
const (
	StateIdle           = "idle"
	StateStreaming      = "streaming"
	StateExecutingTools = "executing_tools"
	StateWaitingDelay   = "waiting_delay"
	StateWaitingStep    = "waiting_step"
)

// State is the FSM state. Tag selects the variant; the other fields are only
// meaningful for the variant that carries them.
type State struct {
	Tag      string
	StreamID string               // streaming
	Calls    []providers.ToolCall // executing_tools
	Cursor   int                  // executing_tools
	DelayMS  int                  // waiting_delay
}

// Idle is the initial state.
func Idle() State { return State{Tag: StateIdle} }

// Context is the FSM working memory. Transition treats it as a value: the
// returned Context shares no mutable backing arrays with the input.
type Context struct {
	Window []providers.Message
	Mode   string
	Delay  string // seconds as decimal text, or "infinite"

	Queued            []string // user messages deferred while busy
	ConsecutiveErrors int
	TurnNumber        int

	CurrentContent   string // accumulator for the in-flight stream
	CurrentReasoning string

	SystemPrompt     string
	AutonomousPrompt string
}

// MessageDraft is the persistable shape of a message produced by a
// transition. The executor assigns id and timestamp on save.
type MessageDraft struct {
	Source    string
	Content   string
	ToolName  string
	ToolInput string
}

// Events.

type Event interface{ isEvent() }

type EvUserMessage struct{ Content string }
type EvExternalMessage struct{ Source, Content string }
type EvAutonomousTick struct{}
type EvStreamChunk struct{ Content, Reasoning string }
type EvStreamEnd struct {
	Content      string
	Reasoning    string
	ToolCalls    []providers.ToolCall
	PromptTokens int // 0 when the model reported no usage
}
type EvStreamError struct{ Err string }
type EvToolResult struct{ CallID, Result string }
type EvModeChanged struct{ Mode string }
type EvDelayChanged struct{ Delay string }
type EvStep struct{}
type EvDelayElapsed struct{}
type EvCompactionDue struct{}

func (EvUserMessage) isEvent()     {}
func (EvExternalMessage) isEvent() {}
func (EvAutonomousTick) isEvent()  {}
func (EvStreamChunk) isEvent()     {}
func (EvStreamEnd) isEvent()       {}
func (EvStreamError) isEvent()     {}
func (EvToolResult) isEvent()      {}
func (EvModeChanged) isEvent()     {}
func (EvDelayChanged) isEvent()    {}
func (EvStep) isEvent()            {}
func (EvDelayElapsed) isEvent()    {}
func (EvCompactionDue) isEvent()   {}

// Effects. The executor performs these in order; the transition that emitted
// them never observes their outcome except through later events.

type Effect interface{ isEffect() }

type EffStartStream struct{ StreamID string }
type EffEmitToken struct{ StreamID, Text string }
type EffEmitReasoning struct{ StreamID, Text string }
type EffExecuteTool struct{ Call providers.ToolCall }
type EffSaveMessage struct{ Draft MessageDraft }
type EffBroadcastMessage struct{ Draft MessageDraft }
type EffUpdateContextPressure struct{ PromptTokens int } // 0 = estimate from window
type EffScheduleDelay struct{ MS int }
type EffWaitForStep struct{}
type EffCheckContextPressure struct{}
type EffHardCompact struct{}
type EffLogError struct{ Err string }
type EffBroadcastFSMState struct{}

func (EffStartStream) isEffect()           {}
func (EffEmitToken) isEffect()             {}
func (EffEmitReasoning) isEffect()         {}
func (EffExecuteTool) isEffect()           {}
func (EffSaveMessage) isEffect()           {}
func (EffBroadcastMessage) isEffect()      {}
func (EffUpdateContextPressure) isEffect() {}
func (EffScheduleDelay) isEffect()         {}
func (EffWaitForStep) isEffect()           {}
func (EffCheckContextPressure) isEffect()  {}
func (EffHardCompact) isEffect()           {}
func (EffLogError) isEffect()              {}
func (EffBroadcastFSMState) isEffect()     {}

// Transition is the pure core: (state, context, event) -> (state', context',
// effects). No I/O, no clocks, no randomness; stream ids derive from the
// turn counter so replaying an event sequence reproduces everything.
func Transition(s State, c Context, ev Event) (State, Context, []Effect) {
	c = cloneContext(c)

	switch ev := ev.(type) {
	case EvUserMessage:
		switch s.Tag {
		case StateIdle, StateWaitingDelay, StateWaitingStep:
			// Waiting states drop their timer/wait and take the message now.
			return startTurn(s, c, store.SourceUser, ev.Content, ev.Content)
		default:
			c.Queued = append(c.Queued, ev.Content)
			return s, c, nil
		}

	case EvExternalMessage:
		wrapped := fmt.Sprintf("[External message from %s]\n%s", trimExternalPrefix(ev.Source), ev.Content)
		switch s.Tag {
		case StateIdle, StateWaitingDelay, StateWaitingStep:
			return startTurn(s, c, ev.Source, ev.Content, wrapped)
		default:
			c.Queued = append(c.Queued, wrapped)
			return s, c, nil
		}

	case EvAutonomousTick:
		if s.Tag != StateIdle && s.Tag != StateWaitingDelay && s.Tag != StateWaitingStep {
			return s, c, nil
		}
		if len(c.Queued) > 0 {
			var content string
			content, c.Queued = c.Queued[0], c.Queued[1:]
			return startTurn(s, c, store.SourceUser, content, content)
		}
		if c.Mode != store.ModeAutonomous {
			return s, c, nil
		}
		return startTurn(s, c, store.SourceSystem, c.AutonomousPrompt, c.AutonomousPrompt)

	case EvStreamChunk:
		if s.Tag != StateStreaming {
			return s, c, nil
		}
		var effects []Effect
		if ev.Reasoning != "" {
			c.CurrentReasoning += ev.Reasoning
			effects = append(effects, EffEmitReasoning{StreamID: s.StreamID, Text: ev.Reasoning})
		}
		if ev.Content != "" {
			c.CurrentContent += ev.Content
			effects = append(effects, EffEmitToken{StreamID: s.StreamID, Text: ev.Content})
		}
		return s, c, effects

	case EvStreamEnd:
		if s.Tag != StateStreaming {
			return s, c, nil
		}
		return streamEnd(c, ev)

	case EvStreamError:
		if s.Tag != StateStreaming {
			return s, c, nil
		}
		return streamError(s, c, ev.Err)

	case EvToolResult:
		if s.Tag != StateExecutingTools {
			return s, c, nil
		}
		return toolResult(s, c, ev)

	case EvModeChanged:
		c.Mode = ev.Mode
		switch {
		case ev.Mode == store.ModeConversational && (s.Tag == StateWaitingDelay || s.Tag == StateWaitingStep):
			return Idle(), c, []Effect{EffBroadcastFSMState{}}
		case ev.Mode == store.ModeAutonomous && s.Tag == StateIdle:
			return Transition(s, c, EvAutonomousTick{})
		}
		return s, c, nil

	case EvDelayChanged:
		c.Delay = ev.Delay
		if s.Tag == StateWaitingStep && ev.Delay != store.DelayInfinite {
			if ms := delayMS(c); ms > 0 {
				return State{Tag: StateWaitingDelay, DelayMS: ms}, c,
					[]Effect{EffScheduleDelay{MS: ms}, EffBroadcastFSMState{}}
			}
			return Transition(Idle(), c, EvAutonomousTick{})
		}
		return s, c, nil

	case EvStep:
		if s.Tag != StateWaitingStep {
			return s, c, nil
		}
		return Transition(Idle(), c, EvAutonomousTick{})

	case EvDelayElapsed:
		if s.Tag != StateWaitingDelay {
			return s, c, nil
		}
		return Transition(Idle(), c, EvAutonomousTick{})

	case EvCompactionDue:
		// Resetting the window now would orphan the tool results still
		// pending for this turn; the pressure check on tool resume
		// performs the rollover instead.
		if s.Tag == StateExecutingTools {
			return s, c, nil
		}
		return s, c, []Effect{EffHardCompact{}}
	}

	return s, c, nil
}

// startTurn appends the input to the window and opens a stream. Used from
// idle and from the cancellable waiting states.
func startTurn(s State, c Context, source, logContent, windowContent string) (State, Context, []Effect) {
	c.ConsecutiveErrors = 0
	c.TurnNumber++
	c.CurrentContent = ""
	c.CurrentReasoning = ""
	c.Window = append(c.Window, providers.Message{Role: "user", Content: windowContent})

	draft := MessageDraft{Source: source, Content: logContent}
	return State{Tag: StateStreaming, StreamID: streamID(c.TurnNumber, 0)}, c, []Effect{
		EffSaveMessage{Draft: draft},
		EffBroadcastMessage{Draft: draft},
		EffCheckContextPressure{},
		EffBroadcastFSMState{},
		EffStartStream{StreamID: streamID(c.TurnNumber, 0)},
	}
}

func streamEnd(c Context, ev EvStreamEnd) (State, Context, []Effect) {
	var effects []Effect

	if ev.Reasoning != "" {
		draft := MessageDraft{Source: store.SourceReasoning, Content: ev.Reasoning}
		effects = append(effects, EffSaveMessage{Draft: draft}, EffBroadcastMessage{Draft: draft})
	}
	if ev.Content != "" {
		draft := MessageDraft{Source: store.SourceAssistant, Content: ev.Content}
		effects = append(effects, EffSaveMessage{Draft: draft}, EffBroadcastMessage{Draft: draft})
	}

	c.Window = append(c.Window, providers.Message{
		Role:      "assistant",
		Content:   ev.Content,
		ToolCalls: ev.ToolCalls,
	})
	c.CurrentContent = ""
	c.CurrentReasoning = ""
	c.ConsecutiveErrors = 0

	if ev.PromptTokens > 0 {
		effects = append(effects, EffUpdateContextPressure{PromptTokens: ev.PromptTokens})
	}

	if len(ev.ToolCalls) > 0 {
		next := State{Tag: StateExecutingTools, Calls: ev.ToolCalls, Cursor: 0}
		effects = append(effects, EffBroadcastFSMState{}, EffExecuteTool{Call: ev.ToolCalls[0]})
		return next, c, effects
	}

	next, c, routeEffects := routeAfterTurn(c)
	return next, c, append(effects, routeEffects...)
}

func streamError(s State, c Context, errMsg string) (State, Context, []Effect) {
	c.ConsecutiveErrors++
	c.CurrentContent = ""
	c.CurrentReasoning = ""

	errDraft := MessageDraft{Source: store.SourceSystem, Content: "Stream error: " + errMsg}
	effects := []Effect{
		EffLogError{Err: errMsg},
		EffSaveMessage{Draft: errDraft},
		EffBroadcastMessage{Draft: errDraft},
	}

	if c.ConsecutiveErrors < maxConsecutiveErrors {
		recovery := RecoveryPrompt(errMsg)
		c.Window = append(c.Window, providers.Message{Role: "user", Content: recovery})
		id := streamID(c.TurnNumber, c.ConsecutiveErrors)
		effects = append(effects, EffStartStream{StreamID: id})
		return State{Tag: StateStreaming, StreamID: id}, c, effects
	}

	pause := MessageDraft{
		Source:  store.SourceSystem,
		Content: fmt.Sprintf("Pausing after %d consecutive stream errors. Send a message to resume.", maxConsecutiveErrors),
	}
	c.ConsecutiveErrors = 0
	effects = append(effects, EffSaveMessage{Draft: pause}, EffBroadcastMessage{Draft: pause}, EffBroadcastFSMState{})
	return Idle(), c, effects
}

func toolResult(s State, c Context, ev EvToolResult) (State, Context, []Effect) {
	c.Window = append(c.Window, providers.Message{
		Role:       "tool",
		Content:    ev.Result,
		ToolCallID: ev.CallID,
	})

	s.Cursor++
	if s.Cursor < len(s.Calls) {
		return s, c, []Effect{EffExecuteTool{Call: s.Calls[s.Cursor]}}
	}

	// All tool responses are in; the agent continues its turn.
	id := streamID(c.TurnNumber, 0)
	next := State{Tag: StateStreaming, StreamID: id}
	return next, c, []Effect{EffCheckContextPressure{}, EffBroadcastFSMState{}, EffStartStream{StreamID: id}}
}

// routeAfterTurn decides what happens when a turn closes without tool calls:
// drain the queue, rest in idle, wait for a step, schedule a delay, or tick
// straight away.
func routeAfterTurn(c Context) (State, Context, []Effect) {
	if len(c.Queued) > 0 {
		var content string
		content, c.Queued = c.Queued[0], c.Queued[1:]
		return startTurn(Idle(), c, store.SourceUser, content, content)
	}
	if c.Mode == store.ModeConversational {
		return Idle(), c, []Effect{EffBroadcastFSMState{}}
	}
	if c.Delay == store.DelayInfinite {
		return State{Tag: StateWaitingStep}, c, []Effect{EffWaitForStep{}, EffBroadcastFSMState{}}
	}
	if ms := delayMS(c); ms > 0 {
		return State{Tag: StateWaitingDelay, DelayMS: ms}, c,
			[]Effect{EffScheduleDelay{MS: ms}, EffBroadcastFSMState{}}
	}
	return Transition(Idle(), c, EvAutonomousTick{})
}

func delayMS(c Context) int {
	if c.Delay == store.DelayInfinite {
		return 0
	}
	secs, err := strconv.Atoi(c.Delay)
	if err != nil || secs <= 0 {
		return 0
	}
	return secs * 1000
}

func streamID(turn, retry int) string {
	if retry > 0 {
		return fmt.Sprintf("stream-%d-retry-%d", turn, retry)
	}
	return fmt.Sprintf("stream-%d", turn)
}

func trimExternalPrefix(source string) string {
	const prefix = "external:"
	if len(source) > len(prefix) && source[:len(prefix)] == prefix {
		return source[len(prefix):]
	}
	return source
}

func cloneContext(c Context) Context {
	c.Window = append([]providers.Message(nil), c.Window...)
	c.Queued = append([]string(nil), c.Queued...)
	return c
}
