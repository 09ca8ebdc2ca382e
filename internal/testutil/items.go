// Package testutil holds in-memory stand-ins for the stores and clients the
// services depend on. They follow the same rules as the SQL implementations.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
)

// ItemStore is an in-memory repository.ScheduledItemRepository.
type ItemStore struct {
	mu    sync.Mutex
	items map[string]*models.ScheduledItem
	seq   int

	Caps repository.SchemaCapabilities

	// CreateErr fails every Create after FailCreateAfter successful ones.
	CreateErr       error
	FailCreateAfter int
	creates         int

	ListErr error

	// leases holds the updated_at lease used when retry columns are missing.
	leases map[string]time.Time
}

func NewItemStore() *ItemStore {
	return &ItemStore{
		items:  map[string]*models.ScheduledItem{},
		leases: map[string]time.Time{},
		Caps:   repository.FullSchema(),
	}
}

var _ repository.ScheduledItemRepository = (*ItemStore)(nil)

// Put stores a copy of item as is, assigning an id when empty.
func (s *ItemStore) Put(item *models.ScheduledItem) *models.ScheduledItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		s.seq++
		item.ID = fmt.Sprintf("item-%03d", s.seq)
	}
	s.items[item.ID] = clone(item)
	return item
}

// Get returns a copy of the stored item or nil.
func (s *ItemStore) Get(id string) *models.ScheduledItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		return clone(item)
	}
	return nil
}

func (s *ItemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *ItemStore) Create(_ context.Context, _ *sql.Tx, item *models.ScheduledItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil && s.creates >= s.FailCreateAfter {
		return "", s.CreateErr
	}
	s.creates++
	if item.ID == "" {
		s.seq++
		item.ID = fmt.Sprintf("item-%03d", s.seq)
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	s.items[item.ID] = clone(item)
	return item.ID, nil
}

func (s *ItemStore) FindByID(_ context.Context, id string) (*models.ScheduledItem, error) {
	return s.Get(id), nil
}

func (s *ItemStore) FindByOwner(_ context.Context, userID int64, filter repository.ItemFilter) ([]*models.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	var out []*models.ScheduledItem
	for _, item := range s.items {
		if !inScope(item, userID, filter.ScopedAccountIDs) {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, clone(item))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset >= len(out) {
		return []*models.ScheduledItem{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *ItemStore) UpdateStatus(_ context.Context, id, status string, errorMessage *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status == status || !contains(models.SourcesFor(status), item.Status) {
		return false, nil
	}
	item.Status = status
	delete(s.leases, id)
	if status == models.ItemStatusScheduled {
		item.ErrorMessage = nil
		if s.Caps.RetryColumns {
			item.RetryCount = 0
			item.NextRetryAt = nil
		}
	} else {
		item.ErrorMessage = errorMessage
	}
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *ItemStore) Delete(_ context.Context, id string, ownerUserID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.OwnerUserID != ownerUserID {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

func (s *ItemStore) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	var out []*models.ScheduledItem
	for _, item := range s.items {
		if item.Status == models.ItemStatusScheduled && !s.dueAt(item).After(now) {
			out = append(out, clone(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := s.dueAt(out[i]), s.dueAt(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *ItemStore) Claim(_ context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != models.ItemStatusScheduled || s.dueAt(item).After(now) {
		return false, nil
	}
	lease := leaseUntil.UTC()
	if s.Caps.RetryColumns {
		item.NextRetryAt = &lease
	} else {
		s.leases[id] = lease
	}
	return true, nil
}

func (s *ItemStore) MarkCompleted(_ context.Context, id string, postedAt time.Time, platformPostID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != models.ItemStatusScheduled {
		return false, nil
	}
	posted := postedAt.UTC()
	delete(s.leases, id)
	item.Status = models.ItemStatusCompleted
	item.PostedAt = &posted
	item.PlatformPostID = &platformPostID
	item.ErrorMessage = nil
	return true, nil
}

func (s *ItemStore) RecordAttempt(_ context.Context, attempt repository.AttemptResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Caps.RetryColumns {
		return repository.ErrRetryColumnsUnavailable
	}
	item, ok := s.items[attempt.ID]
	if !ok || item.Status != models.ItemStatusScheduled {
		return nil
	}
	msg := attempt.ErrorMessage
	item.Status = attempt.Status
	item.RetryCount = attempt.RetryCount
	item.NextRetryAt = attempt.NextRetryAt
	item.ErrorMessage = &msg
	return nil
}

func (s *ItemStore) CountByStatus(_ context.Context, userID int64, scoped []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{
		models.ItemStatusScheduled: 0,
		models.ItemStatusCancelled: 0,
		models.ItemStatusFailed:    0,
		models.ItemStatusCompleted: 0,
	}
	for _, item := range s.items {
		if inScope(item, userID, scoped) {
			counts[item.Status]++
		}
	}
	return counts, nil
}

func (s *ItemStore) CountDue(_ context.Context, userID int64, scoped []string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if inScope(item, userID, scoped) && item.Status == models.ItemStatusScheduled && !s.dueAt(item).After(now) {
			n++
		}
	}
	return n, nil
}

func (s *ItemStore) Capabilities() repository.SchemaCapabilities {
	return s.Caps
}

func (s *ItemStore) dueAt(item *models.ScheduledItem) time.Time {
	if s.Caps.RetryColumns {
		return item.NextAttemptAt()
	}
	if lease, ok := s.leases[item.ID]; ok && lease.After(item.ScheduledAt) {
		return lease
	}
	return item.ScheduledAt
}

func inScope(item *models.ScheduledItem, userID int64, scoped []string) bool {
	if item.OwnerAccountID == nil {
		return item.OwnerUserID == userID
	}
	return contains(scoped, *item.OwnerAccountID)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func clone(item *models.ScheduledItem) *models.ScheduledItem {
	cp := *item
	cp.MediaRefs = append([]string(nil), item.MediaRefs...)
	if item.OwnerAccountID != nil {
		v := *item.OwnerAccountID
		cp.OwnerAccountID = &v
	}
	if item.NextRetryAt != nil {
		v := *item.NextRetryAt
		cp.NextRetryAt = &v
	}
	if item.ErrorMessage != nil {
		v := *item.ErrorMessage
		cp.ErrorMessage = &v
	}
	return &cp
}

// TxRunner runs fn without a real transaction.
type TxRunner struct {
	Calls int
}

func (r *TxRunner) WithinTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	r.Calls++
	return fn(nil)
}
