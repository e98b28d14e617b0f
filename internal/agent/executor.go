package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
	"github.com/everloop-ai/everloop/internal/tools"
	"github.com/everloop-ai/everloop/internal/window"
	"github.com/everloop-ai/everloop/pkg/protocol"
)

// compactionGrace is the budget between the pressure warning and the session
// rollover. The coordinator keeps processing events during the grace, so the
// agent gets at least one turn to persist state before the window resets.
const compactionGrace = 5 * time.Second

// ModelParams is what the executor needs to drive the chat endpoint.
type ModelParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
	ContextSize int
}

// Executor performs the effects emitted by Transition. It is the only impure
// part of the agent: store writes, broadcasts, model streaming, tool
// invocation, and timers all happen here. Fast effects run inline on the
// coordinator goroutine; streaming and tool execution run detached and feed
// their outcome back through the event queue.
type Executor struct {
	store      store.Store
	bus        bus.EventPublisher
	provider   providers.Provider
	dispatcher *tools.Dispatcher
	params     ModelParams
	log        *slog.Logger
	tracer     trace.Tracer

	// post delivers an event to the coordinator queue.
	post func(Event)
	// pendingInput is the interrupt probe handed to tools.
	pendingInput func() bool

	mu         sync.Mutex
	lastSaved  *store.Message
	delayTimer *time.Timer

	// Hard-compaction phase. Touched only from Apply on the coordinator
	// goroutine; the grace timer just posts an event.
	compactPending  bool
	compactWarnedAt time.Time
}

func NewExecutor(st store.Store, publisher bus.EventPublisher, provider providers.Provider,
	dispatcher *tools.Dispatcher, params ModelParams, tracer trace.Tracer, log *slog.Logger,
	post func(Event), pendingInput func() bool) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:        st,
		bus:          publisher,
		provider:     provider,
		dispatcher:   dispatcher,
		params:       params,
		log:          log,
		tracer:       tracer,
		post:         post,
		pendingInput: pendingInput,
	}
}

// Apply runs one transition's effects in order. The Context pointer is the
// coordinator's live context; compaction rewrites its window in place.
// A non-nil error means the durable store failed and the process must stop.
func (e *Executor) Apply(ctx context.Context, state State, c *Context, effects []Effect) error {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case EffSaveMessage:
			if err := e.saveMessage(ctx, eff.Draft); err != nil {
				return fmt.Errorf("save message: %w", err)
			}
		case EffBroadcastMessage:
			e.broadcastMessage(eff.Draft)
		case EffEmitToken:
			e.bus.Broadcast(protocol.EventFrame{
				Type: protocol.EventToken,
				Data: protocol.TokenPayload{StreamID: eff.StreamID, Text: eff.Text},
			})
		case EffEmitReasoning:
			e.bus.Broadcast(protocol.EventFrame{
				Type: protocol.EventReasoning,
				Data: protocol.ReasoningPayload{StreamID: eff.StreamID, Text: eff.Text},
			})
		case EffStartStream:
			e.startStream(ctx, eff.StreamID, c)
		case EffExecuteTool:
			e.executeTool(ctx, eff.Call)
		case EffUpdateContextPressure:
			e.broadcastPressure(eff.PromptTokens, c.Window)
		case EffCheckContextPressure:
			e.checkPressure(ctx, c)
		case EffHardCompact:
			e.compactionDue(ctx, c)
		case EffScheduleDelay:
			e.scheduleDelay(eff.MS)
		case EffWaitForStep:
			e.log.Info("waiting for manual step")
		case EffLogError:
			e.log.Error("stream error", "error", eff.Err)
		case EffBroadcastFSMState:
			e.bus.Broadcast(protocol.EventFrame{
				Type: protocol.EventFSMState,
				Data: protocol.FSMStatePayload{State: state.Tag, TurnNumber: c.TurnNumber},
			})
		}
	}
	return nil
}

func (e *Executor) saveMessage(ctx context.Context, d MessageDraft) error {
	saved, err := e.store.AppendMessage(ctx, store.Message{
		Source:    d.Source,
		Content:   d.Content,
		ToolName:  d.ToolName,
		ToolInput: d.ToolInput,
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.lastSaved = saved
	e.mu.Unlock()
	return nil
}

// broadcastMessage ships the draft's persisted form when the preceding save
// matches, otherwise an ephemeral record.
func (e *Executor) broadcastMessage(d MessageDraft) {
	e.mu.Lock()
	saved := e.lastSaved
	e.mu.Unlock()

	payload := protocol.MessagePayload{
		Source:    d.Source,
		Content:   d.Content,
		ToolName:  d.ToolName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if saved != nil && saved.Source == d.Source && saved.Content == d.Content {
		payload.Timestamp = saved.Timestamp.UTC().Format(time.RFC3339)
	}
	e.bus.Broadcast(protocol.EventFrame{Type: protocol.EventMessage, Data: payload})
}

// startStream snapshots the window and streams the chat completion on its
// own goroutine. Outcomes return as stream events; a panic is reported as a
// stream error.
func (e *Executor) startStream(ctx context.Context, streamID string, c *Context) {
	e.cancelDelay()

	msgs := append([]providers.Message(nil), c.Window...)
	req := providers.ChatRequest{
		Messages:    msgs,
		Tools:       e.dispatcher.Defs(),
		Model:       e.params.Model,
		MaxTokens:   e.params.MaxTokens,
		Temperature: e.params.Temperature,
	}
	turn := c.TurnNumber

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.log.Error("stream panicked", "stream_id", streamID, "panic", rec)
				e.post(EvStreamError{Err: fmt.Sprintf("internal: %v", rec)})
			}
		}()

		streamCtx, cancel := context.WithTimeout(ctx, providers.StreamIdleTimeout)
		defer cancel()
		streamCtx, span := e.tracer.Start(streamCtx, "agent.stream",
			trace.WithAttributes(attribute.String("stream.id", streamID), attribute.Int("turn", turn)))
		defer span.End()

		resp, err := e.provider.ChatStream(streamCtx, req, func(chunk providers.StreamChunk) {
			if chunk.Done {
				return
			}
			e.post(EvStreamChunk{Content: chunk.Content, Reasoning: chunk.Reasoning})
		})
		if err != nil {
			e.post(EvStreamError{Err: err.Error()})
			return
		}

		promptTokens := 0
		if resp.Usage != nil {
			promptTokens = resp.Usage.PromptTokens
		}
		content, inlineThinking := SplitThinking(resp.Content)
		reasoning := resp.Reasoning
		if inlineThinking != "" {
			if reasoning != "" {
				reasoning += "\n\n"
			}
			reasoning += inlineThinking
		}
		e.post(EvStreamEnd{
			Content:      content,
			Reasoning:    reasoning,
			ToolCalls:    resp.ToolCalls,
			PromptTokens: promptTokens,
		})
	}()
}

// executeTool persists the call record, dispatches, persists the result, and
// feeds the outcome back as a tool_result event. Calls within a turn run
// strictly one at a time: the next EffExecuteTool is only emitted once this
// one's result event has gone through the FSM.
func (e *Executor) executeTool(ctx context.Context, call providers.ToolCall) {
	callDraft := MessageDraft{
		Source:    store.SourceToolCall,
		Content:   "Calling " + call.Name,
		ToolName:  call.Name,
		ToolInput: call.Arguments,
	}
	if err := e.saveMessage(ctx, callDraft); err != nil {
		e.log.Error("save tool call", "tool", call.Name, "error", err)
	}
	e.broadcastMessage(callDraft)

	go func() {
		var result string
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					result = fmt.Sprintf("Error: tool execution panicked: %v", rec)
				}
			}()
			toolCtx, span := e.tracer.Start(ctx, "agent.tool",
				trace.WithAttributes(attribute.String("tool.name", call.Name)))
			defer span.End()
			toolCtx = tools.WithInterruptProbe(toolCtx, tools.InterruptProbe(e.pendingInput))
			result = e.dispatcher.Dispatch(toolCtx, call)
		}()

		// tool_name carries the call id: that is the correlation key the
		// window needs to pair results with the assistant's tool calls.
		resultDraft := MessageDraft{
			Source:   store.SourceToolResult,
			Content:  result,
			ToolName: call.ID,
		}
		if err := e.saveMessage(context.Background(), resultDraft); err != nil {
			e.log.Error("save tool result", "tool", call.Name, "error", err)
		}
		e.broadcastMessage(resultDraft)

		e.post(EvToolResult{CallID: call.ID, Result: result})
	}()
}

// checkPressure estimates the window, broadcasts the level, and runs the
// compaction ladder: soft rewrites old tool results in place, hard starts
// the warn-then-handoff sequence.
func (e *Executor) checkPressure(ctx context.Context, c *Context) {
	tokens := window.EstimateWindow(c.Window)
	ratio, level := window.Classify(tokens, e.params.ContextSize)
	e.publishPressure(tokens, ratio, level)

	switch level {
	case window.LevelSoft:
		c.Window = window.SoftCompact(c.Window)
	case window.LevelHard, window.LevelOverflow:
		e.hardPressure(ctx, c)
	}
}

func (e *Executor) broadcastPressure(promptTokens int, msgs []providers.Message) {
	tokens := promptTokens
	if tokens <= 0 {
		tokens = window.EstimateWindow(msgs)
	}
	ratio, level := window.Classify(tokens, e.params.ContextSize)
	e.publishPressure(tokens, ratio, level)
}

func (e *Executor) publishPressure(tokens int, ratio float64, level window.Level) {
	e.bus.Broadcast(protocol.EventFrame{
		Type: protocol.EventContextPressure,
		Data: protocol.ContextPressurePayload{
			Tokens: tokens,
			Max:    e.params.ContextSize,
			Ratio:  ratio,
			Level:  level.String(),
		},
	})
}

// hardPressure drives the handoff sequence. First detection injects the
// warning and arms the grace timer; the coordinator keeps running, so the
// agent can still persist state through its tools before the rollover. Once
// the grace has elapsed, any later pressure check that still sees hard
// pressure performs the rollover itself (this is also the retry path when a
// rollover failed or was deferred mid-turn).
func (e *Executor) hardPressure(ctx context.Context, c *Context) {
	if !e.compactPending {
		e.compactPending = true
		e.compactWarnedAt = time.Now()
		warn := MessageDraft{Source: store.SourceSystem, Content: CompactionWarning}
		if err := e.saveMessage(ctx, warn); err != nil {
			e.log.Error("save compaction warning", "error", err)
		}
		e.broadcastMessage(warn)
		c.Window = append(c.Window, providers.Message{Role: "system", Content: CompactionWarning})
		time.AfterFunc(compactionGrace, func() { e.post(EvCompactionDue{}) })
		return
	}
	if time.Since(e.compactWarnedAt) >= compactionGrace {
		e.rollSession(ctx, c)
	}
}

// compactionDue handles the grace timer firing. Pressure is re-checked
// first: the agent may have relieved it during the grace turn, in which
// case the handoff is skipped.
func (e *Executor) compactionDue(ctx context.Context, c *Context) {
	if !e.compactPending {
		return
	}
	tokens := window.EstimateWindow(c.Window)
	_, level := window.Classify(tokens, e.params.ContextSize)
	if level < window.LevelHard {
		e.compactPending = false
		e.log.Info("context pressure relieved during grace, handoff skipped")
		return
	}
	e.rollSession(ctx, c)
}

// rollSession performs the handoff: summarize, roll the session, reset the
// window, announce the divider. A failure is logged and the handoff stays
// pending so a later pressure check retries it.
func (e *Executor) rollSession(ctx context.Context, c *Context) {
	summary := window.HandoffSummary(c.Window)
	if err := e.store.EndCurrentSession(ctx); err != nil {
		e.log.Error("hard compaction failed", "error", err)
		return
	}
	session, err := e.store.StartSession(ctx, summary)
	if err != nil {
		e.log.Error("hard compaction failed", "error", err)
		return
	}

	c.Window = []providers.Message{
		{Role: "system", Content: c.SystemPrompt},
		window.FormatHandoff(summary),
	}
	e.compactPending = false

	divider := MessageDraft{Source: store.SourceSystem, Content: SessionDivider(session.ID)}
	if err := e.saveMessage(ctx, divider); err != nil {
		e.log.Error("save session divider", "error", err)
	}
	e.broadcastMessage(divider)
	e.log.Info("hard compaction complete", "session_id", session.ID)
}

func (e *Executor) scheduleDelay(ms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.delayTimer != nil {
		e.delayTimer.Stop()
	}
	e.delayTimer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		e.post(EvDelayElapsed{})
	})
}

// cancelDelay stops any armed wake-up timer. Called when a new stream starts
// so a stale delay cannot fire into a later waiting state.
func (e *Executor) cancelDelay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.delayTimer != nil {
		e.delayTimer.Stop()
		e.delayTimer = nil
	}
}
