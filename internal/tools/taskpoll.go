package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/everloop-ai/everloop/internal/store"
)

const (
	taskPollInterval  = 100 * time.Millisecond
	defaultWaitBudget = 30 * time.Second
)

// TaskStatusTool reports the current state of a background task.
type TaskStatusTool struct {
	store store.Store
}

func NewTaskStatusTool(st store.Store) *TaskStatusTool {
	return &TaskStatusTool{store: st}
}

func (t *TaskStatusTool) Name() string { return "task_status" }

func (t *TaskStatusTool) Description() string {
	return "Check the status of a background task by id"
}

func (t *TaskStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task id returned by a backgrounded tool call",
			},
		},
		"required": []string{"task_id"},
	}
}

func (t *TaskStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := argString(args, "task_id")
	if id == "" {
		return ErrorResult("task_id is required")
	}

	task, err := t.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrorResult(fmt.Sprintf("no task with id %s", id))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("look up task: %v", err))
	}
	return NewResult(renderTask(task))
}

// TaskWaitTool blocks until a background task finishes, up to a budget. It
// respects the interrupt probe so a waiting agent can still be reached.
type TaskWaitTool struct {
	store store.Store
}

func NewTaskWaitTool(st store.Store) *TaskWaitTool {
	return &TaskWaitTool{store: st}
}

func (t *TaskWaitTool) Name() string { return "task_wait" }

func (t *TaskWaitTool) Description() string {
	return "Wait for a background task to finish and return its result"
}

func (t *TaskWaitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task id to wait for",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "number",
				"description": "Longest time to wait in milliseconds, default 30000",
			},
		},
		"required": []string{"task_id"},
	}
}

func (t *TaskWaitTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := argString(args, "task_id")
	if id == "" {
		return ErrorResult("task_id is required")
	}

	budget := defaultWaitBudget
	if ms, ok := argInt(args, "timeout_ms"); ok && ms > 0 {
		budget = time.Duration(ms) * time.Millisecond
	} else if secs, ok := argFloat(args, "max_seconds"); ok && secs > 0 {
		// Older transcripts carry the seconds form.
		budget = time.Duration(secs * float64(time.Second))
	}

	probe := ProbeFromCtx(ctx)
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()

	for {
		task, err := t.store.GetTask(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("no task with id %s", id))
		}
		if err != nil {
			return ErrorResult(fmt.Sprintf("look up task: %v", err))
		}
		if task.Status != store.TaskRunning {
			return NewResult(renderTask(task))
		}

		if probe() {
			return NewResult(fmt.Sprintf("Wait interrupted by new input; task %s still running", id))
		}
		if time.Now().After(deadline) {
			return NewResult(fmt.Sprintf("Task %s still running after %s; check again with task_status", id, budget))
		}

		select {
		case <-ctx.Done():
			return ErrorResult(fmt.Sprintf("wait cancelled: %v", ctx.Err()))
		case <-ticker.C:
		}
	}
}

func renderTask(task *store.BackgroundTask) string {
	out := map[string]interface{}{
		"task_id": task.ID,
		"tool":    task.ToolName,
		"status":  task.Status,
	}
	switch task.Status {
	case store.TaskCompleted:
		out["result"] = task.Result
	case store.TaskFailed:
		out["error"] = task.Error
	}
	if task.CompletedAt != nil {
		out["completed_at"] = task.CompletedAt.UTC().Format(time.RFC3339)
	}
	data, _ := json.Marshal(out)
	return string(data)
}
