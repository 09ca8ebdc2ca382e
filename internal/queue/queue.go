package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePublish wakes the publisher at the item's due instant. The cron
// sweep still catches items whose task was lost.
func (d *asynqDispatcher) EnqueuePublish(ctx context.Context, itemID string, at time.Time) error {
	taskPayload, err := json.Marshal(PublishItemPayload{ItemID: itemID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishItem, taskPayload)
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.TaskID(TaskTypePublishItem+":"+itemID+":"+at.UTC().Format(time.RFC3339)),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Info("publish task scheduled", "item_id", itemID, "at", at.UTC())
	return nil
}

// EnqueueMirror is keyed by item id so a re-delivered completion does not
// mirror twice.
func (d *asynqDispatcher) EnqueueMirror(ctx context.Context, payload MirrorPayload) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeMirrorCrossPost, taskPayload)
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueMirror),
		asynq.TaskID(TaskTypeMirrorCrossPost+":"+payload.ItemID),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Info("cross-post mirror enqueued", "item_id", payload.ItemID, "targets", payload.Targets)
	return nil
}
