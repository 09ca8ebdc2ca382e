package crosspost

import (
	"context"
	"fmt"

	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const SourceCampaigns = "campaigns"

type CampaignAdapter struct {
	repo     repository.CampaignRepository
	platform string
	metrics  *metrics.Registry
}

func NewCampaignAdapter(repo repository.CampaignRepository, platform string, m *metrics.Registry) *CampaignAdapter {
	return &CampaignAdapter{repo: repo, platform: platform, metrics: m}
}

func (a *CampaignAdapter) Source() string { return SourceCampaigns }

func (a *CampaignAdapter) ListExternalItems(ctx context.Context, userID int64, q ExternalQuery) ([]*models.ScheduledItem, error) {
	filter := repository.ForeignPostFilter{
		UserID:           userID,
		Platform:         a.platform,
		TargetAccountIDs: q.ScopedAccountIDs,
		Statuses:         campaignStatuses.primariesFor(q.Status),
		Limit:            q.Limit,
	}
	return collect(q.Limit, func(offset int) (int, []*models.ScheduledItem, error) {
		filter.Offset = offset
		posts, err := a.repo.ListForUser(ctx, filter)
		if err != nil {
			return 0, nil, fmt.Errorf("list campaign posts: %w", err)
		}
		return len(posts), a.keep(posts, userID, q), nil
	})
}

func (a *CampaignAdapter) keep(posts []*models.CampaignPost, userID int64, q ExternalQuery) []*models.ScheduledItem {
	items := make([]*models.ScheduledItem, 0, len(posts))
	for _, post := range posts {
		item, err := a.project(post)
		if err != nil {
			reportUnknown(a.metrics, SourceCampaigns, post.ID.Hex(), err)
			continue
		}
		if !visible(item.OwnerAccountID, post.UserID, userID, q.ScopedAccountIDs) {
			continue
		}
		if q.Status != "" && item.Status != q.Status {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (a *CampaignAdapter) project(post *models.CampaignPost) (*models.ScheduledItem, error) {
	delivery := post.Delivery[a.platform]
	status, err := MapCampaignStatus(post.Status, delivery.Outcome)
	if err != nil {
		return nil, err
	}

	raw := post.SendAt
	switch v := raw.(type) {
	case primitive.DateTime:
		raw = v.Time()
	case int32:
		raw = int64(v)
	}
	sendAt, ok := schedule.ToUTCInstant(raw, schedule.TimeContext{})
	if !ok {
		return nil, fmt.Errorf("invalid send_at on campaign post %s", post.ID.Hex())
	}

	ref := post.ID.Hex()
	channel := post.Channels[a.platform]
	return &models.ScheduledItem{
		ID:             ExternalID(SourceCampaigns, ref),
		OwnerUserID:    post.UserID,
		OwnerAccountID: optionalString(channel.AccountID),
		Content:        post.Body,
		MediaRefs:      post.Media,
		PostKind:       kindFor(post.Media),
		ScheduledAt:    sendAt,
		TimezoneLabel:  post.Timezone,
		Status:         status,
		ErrorMessage:   optionalString(delivery.Message),
		PlatformPostID: optionalString(delivery.RemoteID),
		CreatedAt:      post.CreatedAt.UTC(),
		UpdatedAt:      post.UpdatedAt.UTC(),
		IsExternal:     true,
		ExternalSource: SourceCampaigns,
		ExternalRefID:  ref,
	}, nil
}
