package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
	"github.com/everloop-ai/everloop/pkg/protocol"
)

// fakeStore records messages and session rollovers; everything else is inert.
type fakeStore struct {
	mu       sync.Mutex
	messages []store.Message
	started  int
	ended    int
}

func (f *fakeStore) AppendMessage(ctx context.Context, m store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = int64(len(f.messages) + 1)
	m.Timestamp = time.Now()
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeStore) ListMessages(ctx context.Context) ([]store.Message, error) { return nil, nil }
func (f *fakeStore) AppendNotable(ctx context.Context, n store.Notable) (*store.Notable, error) {
	return &n, nil
}
func (f *fakeStore) ListNotables(ctx context.Context) ([]store.Notable, error) { return nil, nil }
func (f *fakeStore) CreateTask(ctx context.Context, toolName, input string) (string, error) {
	return "", nil
}
func (f *fakeStore) CompleteTask(ctx context.Context, id, result string) error { return nil }
func (f *fakeStore) FailTask(ctx context.Context, id, errMsg string) error     { return nil }
func (f *fakeStore) GetTask(ctx context.Context, id string) (*store.BackgroundTask, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) GetState(ctx context.Context, key, def string) (string, error) { return def, nil }
func (f *fakeStore) SetState(ctx context.Context, key, value string) error         { return nil }

func (f *fakeStore) StartSession(ctx context.Context, handoff string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return &store.Session{
		ID:             fmt.Sprintf("session-%d", f.started+1),
		StartedAt:      time.Now(),
		HandoffSummary: handoff,
	}, nil
}

func (f *fakeStore) EndCurrentSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return nil
}

func (f *fakeStore) CurrentSession(ctx context.Context) (*store.Session, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) countContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if strings.Contains(m.Content, substr) {
			n++
		}
	}
	return n
}

func (f *fakeStore) sessionsStarted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type nopBus struct{}

func (nopBus) Subscribe(string, bus.EventHandler) {}
func (nopBus) Unsubscribe(string)                 {}
func (nopBus) Broadcast(protocol.EventFrame)      {}

func newPressureExecutor(t *testing.T, contextSize int) (*Executor, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	ex := NewExecutor(st, nopBus{}, nil, nil, ModelParams{ContextSize: contextSize},
		noop.NewTracerProvider().Tracer("test"), nil, func(Event) {}, func() bool { return false })
	return ex, st
}

// hardWindow builds a window whose estimate lands well past the hard
// threshold for a context size of 100.
func hardWindow() []providers.Message {
	return []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: strings.Repeat("x", 400)},
	}
}

func TestExecutor_HardPressureWarnsWithoutBlocking(t *testing.T) {
	ex, st := newPressureExecutor(t, 100)
	c := Context{Window: hardWindow(), SystemPrompt: "sys", TurnNumber: 1}

	start := time.Now()
	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffCheckContextPressure{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("pressure check blocked for %s", elapsed)
	}

	tail := c.Window[len(c.Window)-1]
	if tail.Role != "system" || tail.Content != CompactionWarning {
		t.Errorf("window tail = %+v, want the compaction warning", tail)
	}
	if got := st.countContaining("context pressure is high"); got != 1 {
		t.Errorf("saved %d warnings, want 1", got)
	}
	if st.sessionsStarted() != 0 {
		t.Error("session rolled before the grace elapsed")
	}

	// A second check inside the grace neither re-warns nor rolls over.
	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffCheckContextPressure{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := st.countContaining("context pressure is high"); got != 1 {
		t.Errorf("saved %d warnings after re-check, want 1", got)
	}
	if st.sessionsStarted() != 0 {
		t.Error("session rolled inside the grace")
	}
}

func TestExecutor_CompactionDueRollsSession(t *testing.T) {
	ex, st := newPressureExecutor(t, 100)
	c := Context{Window: hardWindow(), SystemPrompt: "sys", TurnNumber: 1}

	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffCheckContextPressure{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffHardCompact{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if st.sessionsStarted() != 1 || st.ended != 1 {
		t.Fatalf("sessions started %d ended %d, want 1/1", st.sessionsStarted(), st.ended)
	}
	if len(c.Window) != 2 {
		t.Fatalf("window after handoff = %d messages, want 2", len(c.Window))
	}
	if c.Window[0].Role != "system" || c.Window[0].Content != "sys" {
		t.Errorf("window head = %+v", c.Window[0])
	}
	if !strings.HasPrefix(c.Window[1].Content, "[Session handoff]") {
		t.Errorf("window[1] = %q, want the handoff summary", c.Window[1].Content)
	}
	if got := st.countContaining("new session"); got != 1 {
		t.Errorf("saved %d dividers, want 1", got)
	}
	if ex.compactPending {
		t.Error("handoff still pending after rollover")
	}
}

func TestExecutor_CompactionSkippedWhenPressureRelieved(t *testing.T) {
	ex, st := newPressureExecutor(t, 100)
	c := Context{Window: hardWindow(), SystemPrompt: "sys", TurnNumber: 1}

	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffCheckContextPressure{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The agent relieved the pressure during the grace turn.
	c.Window = []providers.Message{{Role: "system", Content: "sys"}}
	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffHardCompact{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if st.sessionsStarted() != 0 {
		t.Error("session rolled despite relieved pressure")
	}
	if ex.compactPending {
		t.Error("handoff still pending after relief")
	}
}

func TestExecutor_StaleCompactionDueIgnored(t *testing.T) {
	ex, st := newPressureExecutor(t, 100)
	c := Context{Window: []providers.Message{{Role: "system", Content: "sys"}}, SystemPrompt: "sys"}

	if err := ex.Apply(context.Background(), Idle(), &c, []Effect{EffHardCompact{}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.sessionsStarted() != 0 {
		t.Error("stale compaction event rolled a session")
	}
	if len(c.Window) != 1 {
		t.Errorf("window mutated: %d messages", len(c.Window))
	}
}
