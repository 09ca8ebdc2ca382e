package service

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
)

type PlatformService interface {
	Connect(ctx context.Context, requester Requester, req *transfer.ConnectAccountRequest) (*models.SocialAccount, error)
}

type platformService struct {
	sa       repository.SocialAccountRepository
	scope    ScopeService
	platform string
	key      []byte
	now      func() time.Time
}

func NewPlatformService(sa repository.SocialAccountRepository, scope ScopeService, platform string, key []byte, now func() time.Time) PlatformService {
	if now == nil {
		now = time.Now
	}
	return &platformService{sa: sa, scope: scope, platform: platform, key: key, now: now}
}

// Connect stores the credential sealed. Only owners and admins may attach a
// publishing identity to a team account.
func (s *platformService) Connect(ctx context.Context, requester Requester, req *transfer.ConnectAccountRequest) (*models.SocialAccount, error) {
	var teamAccount *string
	if id, ok := MeaningfulAccountID(req.AccountID); ok {
		binding, err := s.scope.Resolve(ctx, ScopeRequest{
			UserID:             requester.UserID,
			RequestedAccountID: id,
			AllowedRoles:       managerRoles,
			Fresh:              true,
		})
		if err != nil {
			return nil, err
		}
		teamAccount = &binding.AccountID
	}

	sealed, err := utils.EncryptToken(req.AccessToken, s.key)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	sa := &models.SocialAccount{
		UserID:          requester.UserID,
		TeamAccountID:   teamAccount,
		Platform:        s.platform,
		AccountID:       req.PlatformAccountID,
		AccountUsername: req.Username,
		AccessToken:     sealed,
		TokenExpiresAt:  s.now().Add(time.Duration(req.ExpiresIn) * time.Second).UTC(),
		AccountStatus:   models.AccountStatusActive,
	}
	if _, err := s.sa.Create(ctx, nil, sa); err != nil {
		return nil, fmt.Errorf("error creating social account: %w", err)
	}
	return sa, nil
}
