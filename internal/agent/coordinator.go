package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
	"github.com/everloop-ai/everloop/pkg/protocol"
)

const (
	eventQueueSize = 256
	// inputGrace is how long the pending-input flag stays set after a user
	// message arrives; blocking tools poll it through the interrupt probe.
	inputGrace = 100 * time.Millisecond
	cronPoll   = 30 * time.Second
)

// PromptSource yields the current prompt texts. Implemented by the config
// layer, which re-reads prompt files when they change on disk.
type PromptSource interface {
	SystemPrompt() string
	AutonomousPrompt() string
}

// Coordinator owns the FSM state and context. All transitions are serialized
// through its single run goroutine; everything else talks to it by posting
// events.
type Coordinator struct {
	state  State
	fsmCtx Context

	events  chan Event
	store   store.Store
	bus     bus.EventPublisher
	exec    *Executor
	prompts PromptSource
	log     *slog.Logger

	wakeCron string
	pending  atomic.Bool
}

func NewCoordinator(st store.Store, publisher bus.EventPublisher, prompts PromptSource,
	wakeCron string, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		state:    Idle(),
		events:   make(chan Event, eventQueueSize),
		store:    st,
		bus:      publisher,
		prompts:  prompts,
		wakeCron: wakeCron,
		log:      log,
	}
}

// SetExecutor wires the executor after construction; the executor needs the
// coordinator's Post and PendingInput, so the two are built in two steps.
func (co *Coordinator) SetExecutor(exec *Executor) { co.exec = exec }

// Post enqueues an event for the run loop. When the queue is full the event
// is dropped with a log line; only a wedged executor can cause that.
func (co *Coordinator) Post(ev Event) {
	select {
	case co.events <- ev:
	default:
		co.log.Error("event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// PendingInput is the interrupt probe: true briefly after each user message.
func (co *Coordinator) PendingInput() bool { return co.pending.Load() }

// UserMessage posts a user message and arms the pending-input flag for the
// grace window.
func (co *Coordinator) UserMessage(content string) {
	co.pending.Store(true)
	time.AfterFunc(inputGrace, func() { co.pending.Store(false) })
	co.Post(EvUserMessage{Content: content})
}

// Inject posts an external message. Source validation happens at the gateway.
func (co *Coordinator) Inject(source, content string) {
	co.Post(EvExternalMessage{Source: source, Content: content})
}

// SetMode persists the mode, announces the new state snapshot, and surfaces
// the change to the FSM.
func (co *Coordinator) SetMode(ctx context.Context, mode string) error {
	if mode != store.ModeConversational && mode != store.ModeAutonomous {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err := co.store.SetState(ctx, store.StateKeyMode, mode); err != nil {
		return err
	}
	_, delay := co.Snapshot(ctx)
	co.broadcastState(mode, delay)
	co.Post(EvModeChanged{Mode: mode})
	return nil
}

// SetDelay persists the autonomous delay ("infinite" or positive seconds).
func (co *Coordinator) SetDelay(ctx context.Context, delay string) error {
	if delay != store.DelayInfinite {
		if ms := delayMS(Context{Delay: delay}); ms <= 0 {
			return fmt.Errorf("delay must be positive seconds or %q", store.DelayInfinite)
		}
	}
	if err := co.store.SetState(ctx, store.StateKeyDelay, delay); err != nil {
		return err
	}
	mode, _ := co.Snapshot(ctx)
	co.broadcastState(mode, delay)
	co.Post(EvDelayChanged{Delay: delay})
	return nil
}

// Step releases a waiting_step pause.
func (co *Coordinator) Step() { co.Post(EvStep{}) }

// Snapshot returns the persisted mode and delay for the gateway's state
// view. It reads the store rather than the FSM context, which only the run
// loop may touch.
func (co *Coordinator) Snapshot(ctx context.Context) (mode, delay string) {
	mode, _ = co.store.GetState(ctx, store.StateKeyMode, store.ModeConversational)
	delay, _ = co.store.GetState(ctx, store.StateKeyDelay, "0")
	return mode, delay
}

// Run is the coordinator loop. It initializes the FSM context from the
// store, then serializes transitions until ctx is cancelled or the store
// fails.
func (co *Coordinator) Run(ctx context.Context) error {
	if err := co.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if co.wakeCron != "" {
		go co.runCron(ctx)
	}
	if co.fsmCtx.Mode == store.ModeAutonomous {
		co.Post(EvAutonomousTick{})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-co.events:
			co.refreshPrompts()
			state, fsmCtx, effects := Transition(co.state, co.fsmCtx, ev)
			co.state, co.fsmCtx = state, fsmCtx
			if err := co.exec.Apply(ctx, state, &co.fsmCtx, effects); err != nil {
				co.log.Error("store failure, stopping", "error", err)
				return err
			}
		}
	}
}

// bootstrap loads mode/delay, ensures one open session, and seeds the window
// with the system prompt plus any handoff the open session carries. Earlier
// log content is not replayed into the window: the handoff summary and the
// agent's own workspace notes are the cross-restart memory.
func (co *Coordinator) bootstrap(ctx context.Context) error {
	mode, err := co.store.GetState(ctx, store.StateKeyMode, store.ModeConversational)
	if err != nil {
		return err
	}
	delay, err := co.store.GetState(ctx, store.StateKeyDelay, "0")
	if err != nil {
		return err
	}

	session, err := co.store.CurrentSession(ctx)
	if errors.Is(err, store.ErrNotFound) || (err == nil && session == nil) {
		if session, err = co.store.StartSession(ctx, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	co.fsmCtx = Context{
		Mode:             mode,
		Delay:            delay,
		SystemPrompt:     co.prompts.SystemPrompt(),
		AutonomousPrompt: co.prompts.AutonomousPrompt(),
	}
	co.fsmCtx.Window = []providers.Message{{Role: "system", Content: co.fsmCtx.SystemPrompt}}
	if session.HandoffSummary != "" {
		co.fsmCtx.Window = append(co.fsmCtx.Window, providers.Message{
			Role:    "system",
			Content: "[Session handoff]\n" + session.HandoffSummary,
		})
	}

	co.broadcastState(mode, delay)
	co.log.Info("coordinator ready", "mode", mode, "delay", delay, "session_id", session.ID)
	return nil
}

// refreshPrompts pulls the current prompt texts into the FSM context on
// every event, so prompt file edits take effect on the next turn. Window[0]
// follows the system prompt when the window has no conversation yet.
func (co *Coordinator) refreshPrompts() {
	sys := co.prompts.SystemPrompt()
	co.fsmCtx.AutonomousPrompt = co.prompts.AutonomousPrompt()
	if sys != co.fsmCtx.SystemPrompt {
		co.fsmCtx.SystemPrompt = sys
		if len(co.fsmCtx.Window) > 0 && co.fsmCtx.Window[0].Role == "system" {
			co.fsmCtx.Window[0].Content = sys
		}
	}
}

// runCron posts autonomous ticks on the wake_cron schedule. Ticks landing
// while the FSM is busy are no-ops by the transition rules.
func (co *Coordinator) runCron(ctx context.Context) {
	g := gronx.New()
	if !g.IsValid(co.wakeCron) {
		co.log.Error("invalid wake_cron expression", "expr", co.wakeCron)
		return
	}

	ticker := time.NewTicker(cronPoll)
	defer ticker.Stop()
	var lastFired time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute)
			if minute.Equal(lastFired) {
				continue
			}
			due, err := g.IsDue(co.wakeCron, now)
			if err != nil || !due {
				continue
			}
			lastFired = minute
			co.log.Info("cron wake", "expr", co.wakeCron)
			co.Post(EvAutonomousTick{})
		}
	}
}

func (co *Coordinator) broadcastState(mode, delay string) {
	co.bus.Broadcast(protocol.EventFrame{
		Type: protocol.EventState,
		Data: protocol.StatePayload{Mode: mode, Delay: delay},
	})
}
