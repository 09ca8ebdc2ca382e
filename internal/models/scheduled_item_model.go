package models

import "time"

const (
	ItemStatusScheduled = "scheduled"
	ItemStatusCancelled = "cancelled"
	ItemStatusFailed    = "failed"
	ItemStatusCompleted = "completed"
)

const (
	PostKindText     = "text"
	PostKindImage    = "image"
	PostKindVideo    = "video"
	PostKindCarousel = "carousel"
)

type ScheduledItem struct {
	ID                string             `db:"id" json:"id"`
	OwnerUserID       int64              `db:"owner_user_id" json:"owner_user_id"`
	OwnerAccountID    *string            `db:"owner_account_id" json:"owner_account_id,omitempty"`
	Content           string             `db:"content" json:"content"`
	MediaRefs         []string           `db:"media_refs" json:"media_refs"`
	PostKind          string             `db:"post_kind" json:"post_kind"`
	ScheduledAt       time.Time          `db:"scheduled_at" json:"scheduled_at"`
	TimezoneLabel     string             `db:"timezone_label" json:"timezone_label,omitempty"`
	Status            string             `db:"status" json:"status"` // scheduled, cancelled, failed, completed
	RetryCount        int                `db:"retry_count" json:"retry_count"`
	NextRetryAt       *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ErrorMessage      *string            `db:"error_message" json:"error_message,omitempty"`
	CrossPostMetadata *CrossPostMetadata `db:"cross_post_metadata" json:"cross_post_metadata,omitempty"`
	PostedAt          *time.Time         `db:"posted_at" json:"posted_at,omitempty"`
	PlatformPostID    *string            `db:"platform_post_id" json:"platform_post_id,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`

	// Set only on rows projected from a foreign scheduler.
	IsExternal     bool   `db:"-" json:"is_external,omitempty"`
	ExternalSource string `db:"-" json:"external_source,omitempty"`
	ExternalRefID  string `db:"-" json:"external_ref_id,omitempty"`
}

// NextAttemptAt is the instant the worker considers the item due.
func (i *ScheduledItem) NextAttemptAt() time.Time {
	if i.NextRetryAt != nil {
		return *i.NextRetryAt
	}
	return i.ScheduledAt
}

// AccountKey returns the scoping key of the item, or "" for personal rows.
func (i *ScheduledItem) AccountKey() string {
	if i.OwnerAccountID == nil {
		return ""
	}
	return *i.OwnerAccountID
}

type RouteTarget struct {
	TargetAccountID string `json:"targetAccountId"`
	TargetLabel     string `json:"targetLabel,omitempty"`
}

type CrossPostMetadata struct {
	Targets  map[string]bool        `json:"targets"`
	Routing  map[string]RouteTarget `json:"routing,omitempty"`
	Optimize bool                   `json:"optimize"`
	Media    []string               `json:"media,omitempty"`
}

// EnabledTargets lists the platforms the item should be mirrored to.
func (m *CrossPostMetadata) EnabledTargets() []string {
	if m == nil {
		return nil
	}
	var out []string
	for platform, on := range m.Targets {
		if on {
			out = append(out, platform)
		}
	}
	return out
}

var transitions = map[string][]string{
	ItemStatusScheduled: {ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled},
	ItemStatusFailed:    {ItemStatusScheduled},
}

// CanTransition reports whether an item may move from one status to another.
// Re-applying the current status is always allowed and is a no-op.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses an item may leave to reach to.
func SourcesFor(to string) []string {
	var out []string
	for from, targets := range transitions {
		for _, next := range targets {
			if next == to {
				out = append(out, from)
			}
		}
	}
	return out
}

func ValidStatus(status string) bool {
	switch status {
	case ItemStatusScheduled, ItemStatusCancelled, ItemStatusFailed, ItemStatusCompleted:
		return true
	}
	return false
}
