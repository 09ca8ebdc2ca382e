package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/cache"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
)

var (
	writerRoles  = []string{models.RoleOwner, models.RoleAdmin, models.RoleEditor}
	managerRoles = []string{models.RoleOwner, models.RoleAdmin}
)

// Requester is the authenticated caller. TeamHints are team ids already
// known about the caller, typically carried in the session token.
type Requester struct {
	UserID    int64
	TeamHints []string
}

type ScopeRequest struct {
	UserID             int64
	RequestedAccountID string
	AllowedRoles       []string
	TeamHints          []string
	// Fresh bypasses the lookup cache. Mutations always set it.
	Fresh bool
}

type ScopeService interface {
	// Resolve returns the team binding for the request, or nil for the
	// personal scope.
	Resolve(ctx context.Context, req ScopeRequest) (*models.TeamAccountBinding, error)
	CanMutate(item *models.ScheduledItem, userID int64, binding *models.TeamAccountBinding) bool
}

type scopeService struct {
	teams repository.TeamRepository

	accounts    *cache.TTL[string, *models.TeamAccount]
	memberships *cache.TTL[string, *models.TeamMembership]
	memberOf    *cache.TTL[int64, []*models.TeamAccount]
}

func NewScopeService(teams repository.TeamRepository, ttl time.Duration, size int, clock cache.Clock) ScopeService {
	return &scopeService{
		teams:       teams,
		accounts:    cache.NewTTL[string, *models.TeamAccount](ttl, size, clock),
		memberships: cache.NewTTL[string, *models.TeamMembership](ttl, size, clock),
		memberOf:    cache.NewTTL[int64, []*models.TeamAccount](ttl, size, clock),
	}
}

// MeaningfulAccountID trims raw and reports false for the literals clients
// send to mean "no account".
func MeaningfulAccountID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	switch strings.ToLower(id) {
	case "", "null", "undefined", "none", "personal":
		return "", false
	}
	return id, true
}

func (s *scopeService) Resolve(ctx context.Context, req ScopeRequest) (*models.TeamAccountBinding, error) {
	if id, ok := MeaningfulAccountID(req.RequestedAccountID); ok {
		return s.resolveExplicit(ctx, req, id)
	}
	return s.resolveDefault(ctx, req)
}

func (s *scopeService) resolveExplicit(ctx context.Context, req ScopeRequest, id string) (*models.TeamAccountBinding, error) {
	account, err := s.findAccount(ctx, id, req.Fresh)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.Invalid("account_id", "unknown team account %q", id)
	}

	role, err := s.roleIn(ctx, account, req.UserID, req.Fresh)
	if err != nil {
		return nil, err
	}
	if role == "" || !roleAllowed(role, req.AllowedRoles) {
		return nil, apperr.ErrForbidden
	}

	return bind(account, role), nil
}

// resolveDefault picks the caller's only team, or the only team named by a
// hint. Anything ambiguous falls back to the personal scope.
func (s *scopeService) resolveDefault(ctx context.Context, req ScopeRequest) (*models.TeamAccountBinding, error) {
	accounts, err := s.accountsOf(ctx, req.UserID, req.Fresh)
	if err != nil {
		return nil, err
	}

	candidates := accounts
	if len(req.TeamHints) > 0 {
		var hinted []*models.TeamAccount
		for _, account := range accounts {
			for _, hint := range req.TeamHints {
				if hint == account.TeamID || hint == account.ID {
					hinted = append(hinted, account)
					break
				}
			}
		}
		if len(hinted) > 0 {
			candidates = hinted
		}
	}
	if len(candidates) != 1 {
		return nil, nil
	}

	account := candidates[0]
	role, err := s.roleIn(ctx, account, req.UserID, req.Fresh)
	if err != nil {
		return nil, err
	}
	if role == "" || !roleAllowed(role, req.AllowedRoles) {
		return nil, nil
	}
	return bind(account, role), nil
}

// CanMutate allows the creator of an item, or an owner or admin of the team
// account the item is stored under. binding must come from a fresh lookup.
func (s *scopeService) CanMutate(item *models.ScheduledItem, userID int64, binding *models.TeamAccountBinding) bool {
	if item == nil {
		return false
	}
	if item.OwnerUserID == userID {
		return true
	}
	if binding == nil || item.OwnerAccountID == nil {
		return false
	}
	return binding.Matches(*item.OwnerAccountID) && roleAllowed(binding.RequesterRole, managerRoles)
}

func (s *scopeService) findAccount(ctx context.Context, id string, fresh bool) (*models.TeamAccount, error) {
	if !fresh {
		if account, ok := s.accounts.Get(id); ok {
			return account, nil
		}
	}
	account, err := s.teams.FindAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find team account: %w", err)
	}
	if account != nil {
		s.accounts.Set(id, account)
	}
	return account, nil
}

func (s *scopeService) accountsOf(ctx context.Context, userID int64, fresh bool) ([]*models.TeamAccount, error) {
	if !fresh {
		if accounts, ok := s.memberOf.Get(userID); ok {
			return accounts, nil
		}
	}
	accounts, err := s.teams.ListAccountsForMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list team accounts: %w", err)
	}
	s.memberOf.Set(userID, accounts)
	return accounts, nil
}

// roleIn returns "" when the user has no active role in the account's team.
// The owner of a team account is always its owner.
func (s *scopeService) roleIn(ctx context.Context, account *models.TeamAccount, userID int64, fresh bool) (string, error) {
	if account.OwnerUserID == userID {
		return models.RoleOwner, nil
	}

	key := account.TeamID + ":" + strconv.FormatInt(userID, 10)
	if !fresh {
		if m, ok := s.memberships.Get(key); ok {
			return m.Role, nil
		}
	}
	m, err := s.teams.GetActiveMembership(ctx, account.TeamID, userID)
	if err != nil {
		return "", fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		s.memberships.Delete(key)
		return "", nil
	}
	s.memberships.Set(key, m)
	return m.Role, nil
}

func bind(account *models.TeamAccount, role string) *models.TeamAccountBinding {
	return &models.TeamAccountBinding{
		AccountID:     account.ID,
		TeamID:        account.TeamID,
		OwnerUserID:   account.OwnerUserID,
		RequesterRole: role,
	}
}

func roleAllowed(role string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// scopedIDs lists the account ids visible under binding, nil for personal.
func scopedIDs(binding *models.TeamAccountBinding) []string {
	if binding == nil {
		return nil
	}
	return binding.EquivalentIDs()
}
