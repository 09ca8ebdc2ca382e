package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/queue"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
)

// Teams is an in-memory repository.TeamRepository that counts lookups.
type Teams struct {
	mu          sync.Mutex
	Accounts    []*models.TeamAccount
	Memberships []*models.TeamMembership
	Lookups     int
}

var _ repository.TeamRepository = (*Teams)(nil)

func (t *Teams) FindAccount(_ context.Context, id string) (*models.TeamAccount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Lookups++
	for _, a := range t.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	for _, a := range t.Accounts {
		if a.TeamID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (t *Teams) ListAccountsForMember(_ context.Context, userID int64) ([]*models.TeamAccount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Lookups++
	var out []*models.TeamAccount
	for _, a := range t.Accounts {
		if a.OwnerUserID == userID {
			out = append(out, a)
			continue
		}
		for _, m := range t.Memberships {
			if m.TeamID == a.TeamID && m.UserID == userID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (t *Teams) GetActiveMembership(_ context.Context, teamID string, userID int64) (*models.TeamMembership, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Lookups++
	for _, m := range t.Memberships {
		if m.TeamID == teamID && m.UserID == userID {
			return m, nil
		}
	}
	return nil, nil
}

// SetRole replaces the role of userID in teamID, adding the membership when
// missing. An empty role removes it.
func (t *Teams) SetRole(teamID string, userID int64, role string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.Memberships[:0]
	for _, m := range t.Memberships {
		if !(m.TeamID == teamID && m.UserID == userID) {
			kept = append(kept, m)
		}
	}
	t.Memberships = kept
	if role != "" {
		t.Memberships = append(t.Memberships, &models.TeamMembership{TeamID: teamID, UserID: userID, Role: role})
	}
}

// Ledger is an in-memory repository.CreditRepository.
type Ledger struct {
	mu       sync.Mutex
	Balances map[int64]float64
	Holds    []float64
	Refunds  []float64
	HoldErr  error
}

var _ repository.CreditRepository = (*Ledger)(nil)

func NewLedger(balances map[int64]float64) *Ledger {
	if balances == nil {
		balances = map[int64]float64{}
	}
	return &Ledger{Balances: balances}
}

func (l *Ledger) Hold(_ context.Context, userID int64, _ string, amount float64) (models.HoldResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.HoldErr != nil {
		return models.HoldResult{}, l.HoldErr
	}
	balance := l.Balances[userID]
	if balance < amount {
		return models.HoldResult{OK: false, Available: balance}, nil
	}
	l.Balances[userID] = round2(balance - amount)
	l.Holds = append(l.Holds, amount)
	return models.HoldResult{OK: true, Available: l.Balances[userID]}, nil
}

func (l *Ledger) Refund(_ context.Context, userID int64, amount float64, _, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Balances[userID] = round2(l.Balances[userID] + amount)
	l.Refunds = append(l.Refunds, amount)
	return nil
}

func (l *Ledger) Balance(_ context.Context, userID int64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Balances[userID], nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Adapter returns fixed rows or a fixed error.
type Adapter struct {
	Name  string
	Rows  []*models.ScheduledItem
	Err   error
	Delay time.Duration

	mu      sync.Mutex
	Queries []crosspost.ExternalQuery
}

var _ crosspost.Adapter = (*Adapter)(nil)

func (a *Adapter) Source() string { return a.Name }

func (a *Adapter) ListExternalItems(ctx context.Context, _ int64, q crosspost.ExternalQuery) ([]*models.ScheduledItem, error) {
	a.mu.Lock()
	a.Queries = append(a.Queries, q)
	a.mu.Unlock()
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Rows, nil
}

// Publisher records calls and answers from Results in order; once Results
// is exhausted every call succeeds.
type Publisher struct {
	mu       sync.Mutex
	Requests []service.PublishRequest
	Creds    []string
	Deleted  []string
	Results  []error
	Refresh  func(credential string) (string, time.Time, error)
}

var _ service.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(_ context.Context, credential string, req service.PublishRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	p.Creds = append(p.Creds, credential)
	if len(p.Results) > 0 {
		err := p.Results[0]
		p.Results = p.Results[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("post-%d", len(p.Requests)), nil
}

func (p *Publisher) Delete(_ context.Context, _ string, postID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Deleted = append(p.Deleted, postID)
	return nil
}

func (p *Publisher) RefreshToken(_ context.Context, credential string) (string, time.Time, error) {
	if p.Refresh != nil {
		return p.Refresh(credential)
	}
	return credential + "-fresh", time.Now().Add(60 * 24 * time.Hour), nil
}

func (p *Publisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Generator returns Produced variants, or Err.
type Generator struct {
	Produced int
	Err      error
	Calls    int
}

var _ service.Generator = (*Generator)(nil)

func (g *Generator) Generate(_ context.Context, req service.GenerationRequest) (*service.GenerationResult, error) {
	g.Calls++
	if g.Err != nil {
		return nil, g.Err
	}
	variants := make([]string, g.Produced)
	for i := range variants {
		variants[i] = fmt.Sprintf("%s #%d", req.Prompt, i+1)
	}
	return &service.GenerationResult{Variants: variants}, nil
}

// Dispatcher records enqueued tasks.
type Dispatcher struct {
	mu        sync.Mutex
	Published map[string]time.Time
	Mirrors   []queue.MirrorPayload
	Err       error
}

var _ queue.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) EnqueuePublish(_ context.Context, itemID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	if d.Published == nil {
		d.Published = map[string]time.Time{}
	}
	d.Published[itemID] = at
	return nil
}

func (d *Dispatcher) EnqueueMirror(_ context.Context, payload queue.MirrorPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Mirrors = append(d.Mirrors, payload)
	return nil
}

// SocialAccounts is an in-memory repository.SocialAccountRepository.
type SocialAccounts struct {
	mu       sync.Mutex
	Accounts []*models.SocialAccount
}

var _ repository.SocialAccountRepository = (*SocialAccounts)(nil)

func (s *SocialAccounts) Create(_ context.Context, _ *sql.Tx, sa *models.SocialAccount) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa.ID = int64(len(s.Accounts) + 1)
	if sa.AccountStatus == "" {
		sa.AccountStatus = models.AccountStatusActive
	}
	s.Accounts = append(s.Accounts, sa)
	return sa.ID, nil
}

func (s *SocialAccounts) FindPublishingAccount(_ context.Context, platform string, userID int64, teamAccountID *string) (*models.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.Accounts {
		if sa.Platform != platform || sa.AccountStatus != models.AccountStatusActive {
			continue
		}
		if teamAccountID != nil {
			if sa.TeamAccountID != nil && *sa.TeamAccountID == *teamAccountID {
				return sa, nil
			}
			continue
		}
		if sa.TeamAccountID == nil && sa.UserID == userID {
			return sa, nil
		}
	}
	return nil, nil
}

func (s *SocialAccounts) ListExpiring(_ context.Context, platform string, before time.Time) ([]*models.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SocialAccount
	for _, sa := range s.Accounts {
		if sa.Platform == platform && sa.AccountStatus == models.AccountStatusActive && sa.TokenExpiresAt.Before(before) {
			cp := *sa
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *SocialAccounts) SetToken(_ context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.Accounts {
		if sa.ID == id {
			if sa.AccessToken != oldAccessToken {
				return repository.ErrTokenChanged
			}
			sa.AccessToken = newAccessToken
			sa.TokenExpiresAt = expiresAt
			return nil
		}
	}
	return repository.ErrTokenChanged
}

func (s *SocialAccounts) SetStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.Accounts {
		if sa.ID == id {
			sa.AccountStatus = status
		}
	}
	return nil
}

// Find returns the stored account with id.
func (s *SocialAccounts) Find(id int64) *models.SocialAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.Accounts {
		if sa.ID == id {
			cp := *sa
			return &cp
		}
	}
	return nil
}
