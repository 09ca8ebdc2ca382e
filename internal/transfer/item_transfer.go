package transfer

import (
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

type RouteTarget struct {
	TargetAccountID string `json:"targetAccountId" validate:"required"`
	TargetLabel     string `json:"targetLabel"`
}

type CrossPost struct {
	Targets  map[string]bool        `json:"targets" validate:"required,min=1"`
	Routing  map[string]RouteTarget `json:"routing" validate:"omitempty,dive"`
	Optimize bool                   `json:"optimize"`
	Media    []string               `json:"media" validate:"omitempty,dive,url"`
}

func (c *CrossPost) Model() *models.CrossPostMetadata {
	if c == nil {
		return nil
	}
	routing := make(map[string]models.RouteTarget, len(c.Routing))
	for platform, r := range c.Routing {
		routing[platform] = models.RouteTarget{TargetAccountID: r.TargetAccountID, TargetLabel: r.TargetLabel}
	}
	return &models.CrossPostMetadata{Targets: c.Targets, Routing: routing, Optimize: c.Optimize, Media: c.Media}
}

// CreateItemRequest schedules one item. ScheduledAt is epoch millis or a
// timestamp string; strings without a zone are read as UTC.
type CreateItemRequest struct {
	AccountID   string     `json:"account_id"`
	Content     string     `json:"content" validate:"required_without=MediaRefs,max=500"`
	MediaRefs   []string   `json:"media_refs" validate:"omitempty,max=20,dive,url"`
	PostKind    string     `json:"post_kind" validate:"omitempty,oneof=text image video carousel"`
	ScheduledAt any        `json:"scheduled_at" validate:"required"`
	Timezone    string     `json:"timezone" validate:"omitempty,timezone"`
	CrossPost   *CrossPost `json:"cross_post" validate:"omitempty"`
}

type BulkEntry struct {
	Content   string   `json:"content" validate:"required_without=MediaRefs,max=500"`
	MediaRefs []string `json:"media_refs" validate:"omitempty,max=20,dive,url"`
	PostKind  string   `json:"post_kind" validate:"omitempty,oneof=text image video carousel"`
}

type BulkScheduleRequest struct {
	AccountID   string      `json:"account_id"`
	Items       []BulkEntry `json:"items" validate:"required,min=1,max=200,dive"`
	Frequency   string      `json:"frequency"`
	StartDate   string      `json:"start_date" validate:"required"`
	Timezone    string      `json:"timezone"`
	PostsPerDay int         `json:"posts_per_day" validate:"omitempty,min=1,max=24"`
	DailyTimes  []string    `json:"daily_times" validate:"required,min=1,max=24"`
	DaysOfWeek  []int       `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	CrossPost   *CrossPost  `json:"cross_post" validate:"omitempty"`
}

type TimelineQuery struct {
	Status    string `query:"status" validate:"omitempty,oneof=scheduled cancelled failed completed"`
	Limit     int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset    int    `query:"offset" validate:"omitempty,min=0"`
	AccountID string `query:"account_id"`
}

type TimelinePage struct {
	Items  []*models.ScheduledItem `json:"items"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

type StatusSummary struct {
	AccountID   *string        `json:"account_id,omitempty"`
	Counts      map[string]int `json:"counts"`
	DueNow      int            `json:"due_now"`
	GeneratedAt time.Time      `json:"generated_at"`
}
