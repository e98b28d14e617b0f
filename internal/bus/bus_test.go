package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/everloop-ai/everloop/pkg/protocol"
)

func collect(t *testing.T, ch <-chan protocol.EventFrame, n int) []protocol.EventFrame {
	t.Helper()
	var got []protocol.EventFrame
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", len(got), n)
		}
	}
	return got
}

func TestBroadcast_PerObserverOrder(t *testing.T) {
	b := New(16)
	received := make(chan protocol.EventFrame, 16)
	b.Subscribe("obs", func(ev protocol.EventFrame) { received <- ev })

	for i := 0; i < 5; i++ {
		b.Broadcast(protocol.EventFrame{Type: protocol.EventToken, Data: i})
	}

	got := collect(t, received, 5)
	for i, ev := range got {
		if ev.Data != i {
			t.Fatalf("event %d carried %v", i, ev.Data)
		}
	}
}

func TestBroadcast_FanOut(t *testing.T) {
	b := New(16)
	chans := make([]chan protocol.EventFrame, 3)
	for i := range chans {
		ch := make(chan protocol.EventFrame, 4)
		chans[i] = ch
		b.Subscribe(fmt.Sprintf("obs-%d", i), func(ev protocol.EventFrame) { ch <- ev })
	}

	b.Broadcast(protocol.EventFrame{Type: protocol.EventState})

	for i, ch := range chans {
		got := collect(t, ch, 1)
		if got[0].Type != protocol.EventState {
			t.Errorf("observer %d got %q", i, got[0].Type)
		}
	}
}

func TestBroadcast_DropOldestWhenFull(t *testing.T) {
	b := New(2)
	release := make(chan struct{})
	received := make(chan protocol.EventFrame, 16)
	b.Subscribe("slow", func(ev protocol.EventFrame) {
		<-release
		received <- ev
	})

	// First event is taken by the delivery goroutine and blocks in the
	// handler; the next two fill the queue; the rest push older ones out.
	for i := 0; i < 6; i++ {
		b.Broadcast(protocol.EventFrame{Type: protocol.EventToken, Data: i})
		time.Sleep(10 * time.Millisecond)
	}
	close(release)

	got := collect(t, received, 3)
	if got[0].Data != 0 {
		t.Errorf("in-flight event = %v, want 0", got[0].Data)
	}
	// The queue kept the newest two; everything older was dropped.
	if got[1].Data != 4 || got[2].Data != 5 {
		t.Errorf("surviving events = %v, %v, want 4, 5", got[1].Data, got[2].Data)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New(16)
	received := make(chan protocol.EventFrame, 16)
	b.Subscribe("obs", func(ev protocol.EventFrame) { received <- ev })

	b.Broadcast(protocol.EventFrame{Type: protocol.EventToken, Data: "before"})
	collect(t, received, 1)

	b.Unsubscribe("obs")
	b.Broadcast(protocol.EventFrame{Type: protocol.EventToken, Data: "after"})

	select {
	case ev := <-received:
		t.Errorf("received %v after unsubscribe", ev.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_ReplacesExisting(t *testing.T) {
	b := New(16)
	first := make(chan protocol.EventFrame, 16)
	second := make(chan protocol.EventFrame, 16)

	b.Subscribe("obs", func(ev protocol.EventFrame) { first <- ev })
	b.Subscribe("obs", func(ev protocol.EventFrame) { second <- ev })

	b.Broadcast(protocol.EventFrame{Type: protocol.EventToken})

	collect(t, second, 1)
	select {
	case <-first:
		t.Error("replaced subscription still received events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribe_UnknownIDIsNoOp(t *testing.T) {
	b := New(0)
	b.Unsubscribe("never-registered")
	b.Broadcast(protocol.EventFrame{Type: protocol.EventToken})
}

func TestBroadcast_NewestSurvivesSlowObserver(t *testing.T) {
	b := New(1)
	done := make(chan struct{})
	b.Subscribe("slow", func(ev protocol.EventFrame) {
		time.Sleep(time.Millisecond)
		if ev.Data == 199 {
			close(done)
		}
	})

	// Flooding a one-slot queue races the producer against the delivery
	// goroutine for freed slots. Drop-oldest means the event being
	// broadcast is never the casualty, so the final event must arrive.
	for i := 0; i < 200; i++ {
		b.Broadcast(protocol.EventFrame{Type: protocol.EventToken, Data: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("newest event never delivered")
	}
}
