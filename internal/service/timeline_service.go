package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type TimelineService interface {
	List(ctx context.Context, requester Requester, q transfer.TimelineQuery) (*transfer.TimelinePage, error)
}

type timelineService struct {
	items     repository.ScheduledItemRepository
	scope     ScopeService
	adapters  []crosspost.Adapter
	rowBudget int
	metrics   *metrics.Registry
}

// NewTimelineService merges first-party items with every adapter. rowBudget
// is the extra number of first-party rows read past the requested page so
// that foreign rows interleave correctly.
func NewTimelineService(items repository.ScheduledItemRepository, scope ScopeService, adapters []crosspost.Adapter, rowBudget int, m *metrics.Registry) TimelineService {
	return &timelineService{
		items:     items,
		scope:     scope,
		adapters:  adapters,
		rowBudget: rowBudget,
		metrics:   m,
	}
}

func (s *timelineService) List(ctx context.Context, requester Requester, q transfer.TimelineQuery) (*transfer.TimelinePage, error) {
	limit, offset := normalizePage(q.Limit, q.Offset)

	binding, err := s.scope.Resolve(ctx, ScopeRequest{
		UserID:             requester.UserID,
		RequestedAccountID: q.AccountID,
		TeamHints:          requester.TeamHints,
	})
	if err != nil {
		return nil, err
	}
	scoped := scopedIDs(binding)
	window := offset + limit + s.rowBudget

	firstParty, err := s.items.FindByOwner(ctx, requester.UserID, repository.ItemFilter{
		Status:           q.Status,
		Limit:            window,
		ScopedAccountIDs: scoped,
	})
	if err != nil {
		return nil, err
	}

	var teamID string
	if binding != nil {
		teamID = binding.TeamID
	}
	external := s.fetchExternal(ctx, requester.UserID, crosspost.ExternalQuery{
		Status:           q.Status,
		Limit:            window,
		TeamID:           teamID,
		ScopedAccountIDs: scoped,
	})

	merged := mergeTimeline(append(firstParty, external...))
	return &transfer.TimelinePage{
		Items:  pageOf(merged, offset, limit),
		Limit:  limit,
		Offset: offset,
	}, nil
}

// fetchExternal reads every adapter concurrently. A failing adapter
// contributes nothing.
func (s *timelineService) fetchExternal(ctx context.Context, userID int64, q crosspost.ExternalQuery) []*models.ScheduledItem {
	results := make([][]*models.ScheduledItem, len(s.adapters))

	var wg sync.WaitGroup
	for i, adapter := range s.adapters {
		wg.Add(1)
		go func(i int, adapter crosspost.Adapter) {
			defer wg.Done()

			start := time.Now()
			rows, err := adapter.ListExternalItems(ctx, userID, q)
			if s.metrics != nil {
				s.metrics.ExternalFetchDuration.WithLabelValues(adapter.Source()).Observe(time.Since(start).Seconds())
			}
			if err != nil {
				slog.Warn("external source unavailable", "source", adapter.Source(), "user_id", userID, "error", err)
				if s.metrics != nil {
					s.metrics.ExternalFailures.WithLabelValues(adapter.Source()).Inc()
				}
				return
			}
			results[i] = rows
		}(i, adapter)
	}
	wg.Wait()

	var out []*models.ScheduledItem
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out
}

// mergeTimeline drops repeated ids, keeping the first occurrence, and orders
// the rest newest first with ties broken by id descending.
func mergeTimeline(items []*models.ScheduledItem) []*models.ScheduledItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]*models.ScheduledItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ScheduledAt, out[j].ScheduledAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func pageOf(items []*models.ScheduledItem, offset, limit int) []*models.ScheduledItem {
	if offset >= len(items) {
		return []*models.ScheduledItem{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
