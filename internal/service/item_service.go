package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/queue"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/schedule"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
)

type ItemService interface {
	Create(ctx context.Context, requester Requester, req *transfer.CreateItemRequest) (*models.ScheduledItem, error)
	CreateBulk(ctx context.Context, requester Requester, req *transfer.BulkScheduleRequest) ([]*models.ScheduledItem, error)
	Cancel(ctx context.Context, requester Requester, id string) (*models.ScheduledItem, error)
	Retry(ctx context.Context, requester Requester, id string) (*models.ScheduledItem, error)
	Delete(ctx context.Context, requester Requester, id string, remote bool) error
	Summary(ctx context.Context, requester Requester, accountID string) (*transfer.StatusSummary, error)
}

type ItemServiceConfig struct {
	Platform       string
	ScheduleWindow time.Duration
	TokenKey       []byte
}

type itemService struct {
	items      repository.ScheduledItemRepository
	uow        repository.TxRunner
	scope      ScopeService
	accounts   repository.SocialAccountRepository
	publisher  Publisher
	dispatcher queue.Dispatcher
	cfg        ItemServiceConfig
	now        func() time.Time
}

func NewItemService(
	items repository.ScheduledItemRepository,
	uow repository.TxRunner,
	scope ScopeService,
	accounts repository.SocialAccountRepository,
	publisher Publisher,
	dispatcher queue.Dispatcher,
	cfg ItemServiceConfig,
	now func() time.Time) ItemService {
	if now == nil {
		now = time.Now
	}
	return &itemService{
		items:      items,
		uow:        uow,
		scope:      scope,
		accounts:   accounts,
		publisher:  publisher,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        now,
	}
}

func (s *itemService) Create(ctx context.Context, requester Requester, req *transfer.CreateItemRequest) (*models.ScheduledItem, error) {
	if req == nil {
		return nil, apperr.Invalid("", "request body is empty")
	}

	scheduledAt, ok := schedule.ToUTCInstant(req.ScheduledAt, schedule.TimeContext{})
	if !ok {
		return nil, apperr.Invalid("scheduled_at", "unparseable timestamp")
	}
	if ceiling := s.now().Add(s.cfg.ScheduleWindow); scheduledAt.After(ceiling) {
		return nil, apperr.Invalid("scheduled_at", "%s is beyond the scheduling window ending %s",
			scheduledAt.Format(time.RFC3339), ceiling.UTC().Format(time.RFC3339))
	}
	label := "UTC"
	if req.Timezone != "" {
		if _, err := schedule.LoadZone(req.Timezone); err != nil {
			return nil, apperr.Invalid("timezone", "unknown timezone %q", req.Timezone)
		}
		label = req.Timezone
	}

	binding, err := s.scope.Resolve(ctx, ScopeRequest{
		UserID:             requester.UserID,
		RequestedAccountID: req.AccountID,
		AllowedRoles:       writerRoles,
		TeamHints:          requester.TeamHints,
		Fresh:              true,
	})
	if err != nil {
		return nil, err
	}

	item := newItem(requester.UserID, binding, req.Content, req.MediaRefs, req.PostKind, scheduledAt, label, req.CrossPost)
	if _, err := s.items.Create(ctx, nil, item); err != nil {
		return nil, fmt.Errorf("error creating item: %w", err)
	}

	s.wake(ctx, item)
	return item, nil
}

// CreateBulk plans every entry first and writes them in one transaction, so
// an invalid plan stores nothing.
func (s *itemService) CreateBulk(ctx context.Context, requester Requester, req *transfer.BulkScheduleRequest) ([]*models.ScheduledItem, error) {
	if req == nil {
		return nil, apperr.Invalid("", "request body is empty")
	}

	planned, err := schedule.Plan(req.Items, schedule.PlanOptions{
		Frequency:   req.Frequency,
		StartDate:   req.StartDate,
		Timezone:    req.Timezone,
		PostsPerDay: req.PostsPerDay,
		DailyTimes:  req.DailyTimes,
		DaysOfWeek:  req.DaysOfWeek,
		Window:      s.cfg.ScheduleWindow,
	}, s.now())
	if err != nil {
		return nil, err
	}

	binding, err := s.scope.Resolve(ctx, ScopeRequest{
		UserID:             requester.UserID,
		RequestedAccountID: req.AccountID,
		AllowedRoles:       writerRoles,
		TeamHints:          requester.TeamHints,
		Fresh:              true,
	})
	if err != nil {
		return nil, err
	}

	label := req.Timezone
	if label == "" {
		label = "UTC"
	}

	items := make([]*models.ScheduledItem, 0, len(planned))
	for _, p := range planned {
		items = append(items, newItem(requester.UserID, binding, p.Item.Content, p.Item.MediaRefs, p.Item.PostKind, p.ScheduledAt, label, req.CrossPost))
	}

	err = s.uow.WithinTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if _, err := s.items.Create(ctx, tx, item); err != nil {
				return fmt.Errorf("error creating item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		s.wake(ctx, item)
	}
	return items, nil
}

func (s *itemService) Cancel(ctx context.Context, requester Requester, id string) (*models.ScheduledItem, error) {
	return s.transition(ctx, requester, id, models.ItemStatusCancelled)
}

// Retry moves a failed item back to scheduled with a zero retry count so the
// next due-tick picks it up.
func (s *itemService) Retry(ctx context.Context, requester Requester, id string) (*models.ScheduledItem, error) {
	item, err := s.transition(ctx, requester, id, models.ItemStatusScheduled)
	if err != nil {
		return nil, err
	}
	s.wake(ctx, item)
	return item, nil
}

func (s *itemService) transition(ctx context.Context, requester Requester, id, status string) (*models.ScheduledItem, error) {
	item, err := s.authorize(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(item.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", apperr.ErrInvalidTransition, item.Status, status)
	}

	changed, err := s.items.UpdateStatus(ctx, id, status, nil)
	if err != nil {
		return nil, fmt.Errorf("error updating item status: %w", err)
	}

	current, err := s.items.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.ErrNotFound
	}
	// Lost a race with the worker or another request.
	if !changed && current.Status != status {
		return nil, fmt.Errorf("%w: %s to %s", apperr.ErrInvalidTransition, current.Status, status)
	}
	return current, nil
}

// Delete removes the item. With remote set, a completed item is also
// removed from the platform first.
func (s *itemService) Delete(ctx context.Context, requester Requester, id string, remote bool) error {
	item, err := s.authorize(ctx, requester, id)
	if err != nil {
		return err
	}

	if remote && item.Status == models.ItemStatusCompleted && item.PlatformPostID != nil {
		if err := s.deleteRemote(ctx, item); err != nil {
			return err
		}
	}

	deleted, err := s.items.Delete(ctx, id, item.OwnerUserID)
	if err != nil {
		return fmt.Errorf("error deleting item: %w", err)
	}
	if !deleted {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *itemService) deleteRemote(ctx context.Context, item *models.ScheduledItem) error {
	account, err := s.accounts.FindPublishingAccount(ctx, s.cfg.Platform, item.OwnerUserID, item.OwnerAccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return apperr.Invalid("remote", "no connected %s account to delete from", s.cfg.Platform)
	}
	credential, err := utils.DecryptToken(account.AccessToken, s.cfg.TokenKey)
	if err != nil {
		return fmt.Errorf("decrypt credential: %w", err)
	}
	if err := s.publisher.Delete(ctx, credential, *item.PlatformPostID); err != nil {
		return fmt.Errorf("delete remote post: %w", err)
	}
	return nil
}

// authorize loads a first-party item and checks the write rule against a
// fresh membership lookup.
func (s *itemService) authorize(ctx context.Context, requester Requester, id string) (*models.ScheduledItem, error) {
	if crosspost.IsExternalID(id) {
		return nil, apperr.ErrExternalReadOnly
	}

	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.ErrNotFound
	}

	var binding *models.TeamAccountBinding
	if item.OwnerAccountID != nil {
		binding, err = s.scope.Resolve(ctx, ScopeRequest{
			UserID:             requester.UserID,
			RequestedAccountID: *item.OwnerAccountID,
			Fresh:              true,
		})
		if err != nil && !errors.Is(err, apperr.ErrForbidden) && !apperr.IsValidation(err) {
			return nil, err
		}
	}

	if !s.scope.CanMutate(item, requester.UserID, binding) {
		return nil, apperr.ErrForbidden
	}
	return item, nil
}

func (s *itemService) Summary(ctx context.Context, requester Requester, accountID string) (*transfer.StatusSummary, error) {
	binding, err := s.scope.Resolve(ctx, ScopeRequest{
		UserID:             requester.UserID,
		RequestedAccountID: accountID,
		TeamHints:          requester.TeamHints,
	})
	if err != nil {
		return nil, err
	}

	scoped := scopedIDs(binding)
	counts, err := s.items.CountByStatus(ctx, requester.UserID, scoped)
	if err != nil {
		return nil, err
	}
	now := s.now()
	due, err := s.items.CountDue(ctx, requester.UserID, scoped, now)
	if err != nil {
		return nil, err
	}

	summary := &transfer.StatusSummary{Counts: counts, DueNow: due, GeneratedAt: now.UTC()}
	if binding != nil {
		summary.AccountID = &binding.AccountID
	}
	return summary, nil
}

// wake schedules an early publish task. Failure only delays the item to the
// next sweep.
func (s *itemService) wake(ctx context.Context, item *models.ScheduledItem) {
	if s.dispatcher == nil || item.Status != models.ItemStatusScheduled {
		return
	}
	if err := s.dispatcher.EnqueuePublish(ctx, item.ID, item.NextAttemptAt()); err != nil {
		slog.Warn("publish task not scheduled", "item_id", item.ID, "error", err)
	}
}

func newItem(userID int64, binding *models.TeamAccountBinding, content string, media []string, kind string, at time.Time, timezone string, cp *transfer.CrossPost) *models.ScheduledItem {
	var account *string
	if binding != nil {
		id := binding.AccountID
		account = &id
	}
	if kind == "" {
		kind = inferKind(media)
	}
	if media == nil {
		media = []string{}
	}
	return &models.ScheduledItem{
		OwnerUserID:       userID,
		OwnerAccountID:    account,
		Content:           content,
		MediaRefs:         media,
		PostKind:          kind,
		ScheduledAt:       at.UTC(),
		TimezoneLabel:     timezone,
		Status:            models.ItemStatusScheduled,
		CrossPostMetadata: cp.Model(),
	}
}

func inferKind(media []string) string {
	switch len(media) {
	case 0:
		return models.PostKindText
	case 1:
		return mediaKindOf(media[0])
	default:
		return models.PostKindCarousel
	}
}
