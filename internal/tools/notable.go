package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/internal/store"
	"github.com/everloop-ai/everloop/pkg/protocol"
)

// NotableTool lets the agent flag moments worth surfacing to observers. The
// entry is persisted and announced on the bus in one step.
type NotableTool struct {
	store store.Store
	bus   bus.EventPublisher
}

func NewNotableTool(st store.Store, publisher bus.EventPublisher) *NotableTool {
	return &NotableTool{store: st, bus: publisher}
}

func (t *NotableTool) Name() string { return "record_notable" }

func (t *NotableTool) Description() string {
	return "Record a notable event or insight worth surfacing to observers"
}

func (t *NotableTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short label for the event",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "What happened",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why it matters",
			},
		},
		"required": []string{"label", "content"},
	}
}

func (t *NotableTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	label := argString(args, "label")
	content := argString(args, "content")
	if label == "" || content == "" {
		return ErrorResult("label and content are required")
	}

	saved, err := t.store.AppendNotable(ctx, store.Notable{
		Label:   label,
		Content: content,
		Reason:  argString(args, "reason"),
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("save notable: %v", err))
	}

	t.bus.Broadcast(protocol.EventFrame{
		Type: protocol.EventNotable,
		Data: protocol.NotablePayload{
			Label:     saved.Label,
			Content:   saved.Content,
			Reason:    saved.Reason,
			Timestamp: saved.Timestamp.UTC().Format(time.RFC3339),
		},
	})

	return NewResult(fmt.Sprintf("Recorded notable #%d: %s", saved.ID, saved.Label))
}
