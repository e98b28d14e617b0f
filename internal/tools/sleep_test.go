package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSleep_InterruptedByPendingInput(t *testing.T) {
	tool := NewSleepTool()
	ctx := WithInterruptProbe(context.Background(), func() bool { return true })

	start := time.Now()
	res := tool.Execute(ctx, map[string]interface{}{"seconds": 30.0})
	elapsed := time.Since(start)

	if res.IsError {
		t.Fatalf("unexpected error: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "interrupted by new input") {
		t.Errorf("result = %q", res.ForLLM)
	}
	// One probe interval, not thirty seconds.
	if elapsed > time.Second {
		t.Errorf("sleep took %v despite pending input", elapsed)
	}
}

func TestSleep_CompletesShortSleep(t *testing.T) {
	tool := NewSleepTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"seconds": 0.15})
	if res.IsError {
		t.Fatalf("unexpected error: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Slept for") {
		t.Errorf("result = %q", res.ForLLM)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	tool := NewSleepTool()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := tool.Execute(ctx, map[string]interface{}{"seconds": 30.0})
	if !strings.Contains(res.ForLLM, "cancelled") {
		t.Errorf("result = %q", res.ForLLM)
	}
}

func TestSleep_RejectsBadSeconds(t *testing.T) {
	tool := NewSleepTool()
	for _, args := range []map[string]interface{}{
		{},
		{"seconds": -1.0},
		{"seconds": "soon"},
	} {
		res := tool.Execute(context.Background(), args)
		if !res.IsError {
			t.Errorf("args %v accepted", args)
		}
	}
}
