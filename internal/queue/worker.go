package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// ItemPublisher publishes a single item if it is still due.
type ItemPublisher interface {
	PublishOne(ctx context.Context, itemID string) error
}

func NewServeMux(p ItemPublisher) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishItem, func(ctx context.Context, task *asynq.Task) error {
		return HandlePublishItemTask(ctx, task, p)
	})
	return mux
}

func HandlePublishItemTask(ctx context.Context, task *asynq.Task, p ItemPublisher) error {
	var payload PublishItemPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypePublishItem, err, asynq.SkipRetry)
	}
	if payload.ItemID == "" {
		return fmt.Errorf("empty item id: %w", asynq.SkipRetry)
	}
	return p.PublishOne(ctx, payload.ItemID)
}
