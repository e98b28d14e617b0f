package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
)

// Dispatcher resolves tool calls against the registry and the background
// task registry. Every call supports three invocation modes, selected by
// reserved argument keys that are stripped before the tool sees its args:
//
//	(none)          run in the foreground, return the result text
//	background:true create a task row, run detached, return {"task_id"}
//	timeout:<ms>    run with a deadline; on expiry the work keeps running
//	                detached and the model gets the task id instead
type Dispatcher struct {
	registry *Registry
	store    store.Store
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, st store.Store, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, store: st, log: log}
}

// Defs exposes the registry schemas for the chat request.
func (d *Dispatcher) Defs() []providers.ToolDefinition {
	return d.registry.Defs()
}

// Dispatch executes one tool call and returns the text recorded as the tool
// result message. It never returns an error: failures become "Error: ..."
// strings so the model can react to them.
func (d *Dispatcher) Dispatch(ctx context.Context, call providers.ToolCall) string {
	tool := d.registry.Get(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool: %s", call.Name)
	}

	args := RepairArgs(call.Arguments)

	background := argBool(args, "background")
	delete(args, "background")
	timeoutMS, hasTimeout := argInt(args, "timeout")
	delete(args, "timeout")

	if background {
		return d.runBackground(ctx, tool, args, call.Arguments)
	}
	if hasTimeout && timeoutMS > 0 {
		return d.runTimed(ctx, tool, args, call.Arguments, time.Duration(timeoutMS)*time.Millisecond)
	}

	return renderResult(d.registry.execute(ctx, tool, args))
}

// runBackground creates a task row and runs the tool detached from the turn.
// Detached work must not inherit the turn's cancellation or its interrupt
// probe.
func (d *Dispatcher) runBackground(ctx context.Context, tool Tool, args map[string]interface{}, rawInput string) string {
	taskID, err := d.store.CreateTask(ctx, tool.Name(), rawInput)
	if err != nil {
		return fmt.Sprintf("Error: create background task: %v", err)
	}

	go d.runTask(taskID, tool, args)

	return taskEnvelope(taskID, "")
}

// runTimed races the tool against a deadline. The task row exists up front
// so the detached half has somewhere to record its outcome either way.
func (d *Dispatcher) runTimed(ctx context.Context, tool Tool, args map[string]interface{}, rawInput string, timeout time.Duration) string {
	taskID, err := d.store.CreateTask(ctx, tool.Name(), rawInput)
	if err != nil {
		return fmt.Sprintf("Error: create background task: %v", err)
	}

	done := make(chan *Result, 1)
	go func() {
		res := d.registry.execute(detachedContext(), tool, args)
		d.recordResult(taskID, tool.Name(), res)
		done <- res
	}()

	select {
	case res := <-done:
		return renderResult(res)
	case <-time.After(timeout):
		return taskEnvelope(taskID, "Timeout exceeded, backgrounded")
	case <-ctx.Done():
		return taskEnvelope(taskID, "Interrupted, backgrounded")
	}
}

func (d *Dispatcher) runTask(taskID string, tool Tool, args map[string]interface{}) {
	res := d.registry.execute(detachedContext(), tool, args)
	d.recordResult(taskID, tool.Name(), res)
}

func (d *Dispatcher) recordResult(taskID, toolName string, res *Result) {
	ctx := context.Background()
	var err error
	if res.IsError {
		err = d.store.FailTask(ctx, taskID, res.ForLLM)
	} else {
		err = d.store.CompleteTask(ctx, taskID, res.ForLLM)
	}
	if err != nil {
		d.log.Error("record task result", "task_id", taskID, "tool", toolName, "error", err)
		return
	}
	d.log.Info("background task finished", "task_id", taskID, "tool", toolName, "is_error", res.IsError)
}

// detachedContext is what background work runs under: no deadline, no
// interrupt probe.
func detachedContext() context.Context {
	return context.Background()
}

func renderResult(res *Result) string {
	if res.IsError && !strings.HasPrefix(res.ForLLM, "Error:") {
		return "Error: " + res.ForLLM
	}
	return res.ForLLM
}

func taskEnvelope(taskID, message string) string {
	env := map[string]string{"task_id": taskID}
	if message != "" {
		env["message"] = message
	}
	data, _ := json.Marshal(env)
	return string(data)
}
