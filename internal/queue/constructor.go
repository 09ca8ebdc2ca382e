package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePublishItem     = "item:publish"
	TaskTypeMirrorCrossPost = "crosspost:mirror"

	// QueueMirror is consumed by the mirroring worker, not by this service.
	QueueMirror = "crosspost"
)

type PublishItemPayload struct {
	ItemID string `json:"item_id"`
}

type MirrorRoute struct {
	TargetAccountID string `json:"target_account_id"`
	TargetLabel     string `json:"target_label,omitempty"`
}

// MirrorPayload carries a published item to the mirroring worker.
type MirrorPayload struct {
	ItemID         string                 `json:"item_id"`
	OwnerUserID    int64                  `json:"owner_user_id"`
	OwnerAccountID *string                `json:"owner_account_id,omitempty"`
	PlatformPostID string                 `json:"platform_post_id"`
	Content        string                 `json:"content"`
	MediaRefs      []string               `json:"media_refs,omitempty"`
	Targets        []string               `json:"targets"`
	Routing        map[string]MirrorRoute `json:"routing,omitempty"`
	Optimize       bool                   `json:"optimize"`
}

// Dispatcher hands work to asynq.
type Dispatcher interface {
	EnqueuePublish(ctx context.Context, itemID string, at time.Time) error
	EnqueueMirror(ctx context.Context, payload MirrorPayload) error
}

type asynqDispatcher struct {
	client *asynq.Client
}

func NewDispatcher(client *asynq.Client) Dispatcher {
	return &asynqDispatcher{client: client}
}
