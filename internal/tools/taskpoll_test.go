package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTaskWait_TimeoutMS(t *testing.T) {
	st := newMemStore()
	id, _ := st.CreateTask(context.Background(), "slow", "{}")
	tool := NewTaskWaitTool(st)

	start := time.Now()
	res := tool.Execute(context.Background(), map[string]interface{}{
		"task_id":    id,
		"timeout_ms": float64(150),
	})
	elapsed := time.Since(start)

	if res.IsError {
		t.Fatalf("wait errored: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "still running") {
		t.Errorf("result = %q, want a still-running notice", res.ForLLM)
	}
	if elapsed >= 2*time.Second {
		t.Errorf("timeout_ms ignored, waited %s", elapsed)
	}
}

func TestTaskWait_MaxSecondsStillHonored(t *testing.T) {
	st := newMemStore()
	id, _ := st.CreateTask(context.Background(), "slow", "{}")
	tool := NewTaskWaitTool(st)

	start := time.Now()
	res := tool.Execute(context.Background(), map[string]interface{}{
		"task_id":     id,
		"max_seconds": float64(0.15),
	})
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("max_seconds ignored, waited %s", elapsed)
	}
	if !strings.Contains(res.ForLLM, "still running") {
		t.Errorf("result = %q", res.ForLLM)
	}
}

func TestTaskWait_ReturnsFinishedTask(t *testing.T) {
	st := newMemStore()
	id, _ := st.CreateTask(context.Background(), "quick", "{}")
	if err := st.CompleteTask(context.Background(), id, "all done"); err != nil {
		t.Fatal(err)
	}
	tool := NewTaskWaitTool(st)

	res := tool.Execute(context.Background(), map[string]interface{}{"task_id": id})
	if res.IsError {
		t.Fatalf("wait errored: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "all done") || !strings.Contains(res.ForLLM, "completed") {
		t.Errorf("result = %q", res.ForLLM)
	}
}

func TestTaskWait_UnknownTask(t *testing.T) {
	tool := NewTaskWaitTool(newMemStore())
	res := tool.Execute(context.Background(), map[string]interface{}{"task_id": "task-99"})
	if !res.IsError {
		t.Errorf("unknown task accepted: %q", res.ForLLM)
	}
}
