package crosspost

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/schedule"
)

const SourceComposer = "composer"

type composerRoute struct {
	TargetAccountID string `json:"target_account_id"`
	TargetLabel     string `json:"target_label"`
}

type composerResult struct {
	Status string `json:"status"`
	PostID string `json:"post_id"`
	Error  string `json:"error"`
}

type ComposerAdapter struct {
	repo     repository.ComposerRepository
	platform string
	metrics  *metrics.Registry
}

func NewComposerAdapter(repo repository.ComposerRepository, platform string, m *metrics.Registry) *ComposerAdapter {
	return &ComposerAdapter{repo: repo, platform: platform, metrics: m}
}

func (a *ComposerAdapter) Source() string { return SourceComposer }

func (a *ComposerAdapter) ListExternalItems(ctx context.Context, userID int64, q ExternalQuery) ([]*models.ScheduledItem, error) {
	filter := repository.ForeignPostFilter{
		UserID:           userID,
		Platform:         a.platform,
		TargetAccountIDs: q.ScopedAccountIDs,
		Statuses:         composerStatuses.primariesFor(q.Status),
		Limit:            q.Limit,
	}
	return collect(q.Limit, func(offset int) (int, []*models.ScheduledItem, error) {
		filter.Offset = offset
		rows, err := a.repo.ListForUser(ctx, filter)
		if err != nil {
			return 0, nil, fmt.Errorf("list composer cross posts: %w", err)
		}
		return len(rows), a.keep(rows, userID, q), nil
	})
}

func (a *ComposerAdapter) keep(rows []*models.ComposerCrossPost, userID int64, q ExternalQuery) []*models.ScheduledItem {
	items := make([]*models.ScheduledItem, 0, len(rows))
	for _, row := range rows {
		ref := strconv.FormatInt(row.ID, 10)
		item, err := a.project(row)
		if err != nil {
			reportUnknown(a.metrics, SourceComposer, ref, err)
			continue
		}
		if !visible(item.OwnerAccountID, row.UserID, userID, q.ScopedAccountIDs) {
			continue
		}
		if q.Status != "" && item.Status != q.Status {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (a *ComposerAdapter) project(row *models.ComposerCrossPost) (*models.ScheduledItem, error) {
	var routes map[string]composerRoute
	if len(row.Platforms) > 0 {
		if err := json.Unmarshal(row.Platforms, &routes); err != nil {
			return nil, fmt.Errorf("decode platforms: %w", err)
		}
	}
	var results map[string]composerResult
	if len(row.Results) > 0 {
		if err := json.Unmarshal(row.Results, &results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}

	result := results[a.platform]
	status, err := MapComposerStatus(row.Status, result.Status)
	if err != nil {
		return nil, err
	}

	scheduledAt, ok := schedule.ToUTCInstant(row.ScheduledAt, schedule.TimeContext{NaiveStorage: true})
	if !ok {
		return nil, fmt.Errorf("invalid scheduled_at on composer row %d", row.ID)
	}

	ref := strconv.FormatInt(row.ID, 10)
	route := routes[a.platform]
	return &models.ScheduledItem{
		ID:             ExternalID(SourceComposer, ref),
		OwnerUserID:    row.UserID,
		OwnerAccountID: optionalString(route.TargetAccountID),
		Content:        row.Content,
		MediaRefs:      row.MediaURLs,
		PostKind:       kindFor(row.MediaURLs),
		ScheduledAt:    scheduledAt,
		TimezoneLabel:  row.Timezone,
		Status:         status,
		ErrorMessage:   optionalString(result.Error),
		PlatformPostID: optionalString(result.PostID),
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
		IsExternal:     true,
		ExternalSource: SourceComposer,
		ExternalRefID:  ref,
	}, nil
}
