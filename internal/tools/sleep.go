package tools

import (
	"context"
	"fmt"
	"time"
)

const sleepProbeInterval = 100 * time.Millisecond

// SleepTool pauses the agent for a given duration. It wakes early when the
// interrupt probe reports pending input so a sleeping agent stays responsive.
type SleepTool struct{}

func NewSleepTool() *SleepTool { return &SleepTool{} }

func (t *SleepTool) Name() string { return "sleep" }

func (t *SleepTool) Description() string {
	return "Pause for a number of seconds; wakes early if a new message arrives"
}

func (t *SleepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"seconds": map[string]interface{}{
				"type":        "number",
				"description": "Seconds to sleep",
			},
		},
		"required": []string{"seconds"},
	}
}

func (t *SleepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	seconds, ok := argFloat(args, "seconds")
	if !ok || seconds <= 0 {
		return ErrorResult("seconds must be a positive number")
	}

	total := time.Duration(seconds * float64(time.Second))
	probe := ProbeFromCtx(ctx)
	start := time.Now()
	deadline := start.Add(total)

	ticker := time.NewTicker(sleepProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return NewResult(fmt.Sprintf("Sleep cancelled after %.1fs of %.1fs", time.Since(start).Seconds(), seconds))
		case now := <-ticker.C:
			if probe() {
				return NewResult(fmt.Sprintf("Sleep interrupted by new input after %.1fs of %.1fs", time.Since(start).Seconds(), seconds))
			}
			if !now.Before(deadline) {
				return NewResult(fmt.Sprintf("Slept for %.1fs", seconds))
			}
		}
	}
}
