package models

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ComposerCrossPost is a row of the composer application's own
// composer_cross_posts table. ScheduledAt is stored without a zone.
type ComposerCrossPost struct {
	ID          int64           `db:"id"`
	UserID      int64           `db:"user_id"`
	TeamID      *string         `db:"team_id"`
	Content     string          `db:"content"`
	MediaURLs   []string        `db:"media_urls"`
	ScheduledAt time.Time       `db:"scheduled_at"`
	Timezone    string          `db:"timezone"`
	Status      string          `db:"status"`
	Platforms   json.RawMessage `db:"platforms"`
	Results     json.RawMessage `db:"results"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// CampaignPost is a document of the campaigns application.
type CampaignPost struct {
	ID          primitive.ObjectID         `bson:"_id"`
	UserID      int64                      `bson:"user_id"`
	WorkspaceID string                     `bson:"workspace_id,omitempty"`
	Body        string                     `bson:"body"`
	Media       []string                   `bson:"media,omitempty"`
	SendAt      any                        `bson:"send_at"`
	Timezone    string                     `bson:"timezone,omitempty"`
	Status      string                     `bson:"status"`
	Channels    map[string]CampaignChannel `bson:"channels,omitempty"`
	Delivery    map[string]CampaignResult  `bson:"delivery,omitempty"`
	CreatedAt   time.Time                  `bson:"created_at"`
	UpdatedAt   time.Time                  `bson:"updated_at"`
}

type CampaignChannel struct {
	AccountID   string `bson:"account_id,omitempty"`
	DisplayName string `bson:"display_name,omitempty"`
}

type CampaignResult struct {
	Outcome  string `bson:"outcome,omitempty"`
	Message  string `bson:"message,omitempty"`
	RemoteID string `bson:"remote_id,omitempty"`
}
