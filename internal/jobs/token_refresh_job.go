package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
)

const (
	refreshAhead     = 24 * time.Hour
	concurrencyLimit = 10
)

type TokenRefreshJob struct {
	sr       repository.SocialAccountRepository
	pub      service.Publisher
	platform string
	key      []byte
	now      func() time.Time
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, pub service.Publisher, platform string, key []byte, now func() time.Time) *TokenRefreshJob {
	if now == nil {
		now = time.Now
	}
	return &TokenRefreshJob{sr: sr, pub: pub, platform: platform, key: key, now: now}
}

// RefreshTokens renews every credential that expires within refreshAhead.
// A rejected credential marks the account expired so the worker stops
// trying to publish with it.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	accounts, err := c.sr.ListExpiring(ctx, c.platform, c.now().Add(refreshAhead))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.refresh(ctx, acc); err != nil {
				slog.Warn("token refresh failed", "account_id", acc.ID, "platform", acc.Platform, "error", err)
			}
		}(acc)
	}
	wg.Wait()
}

func (c *TokenRefreshJob) refresh(ctx context.Context, acc *models.SocialAccount) error {
	credential, err := utils.DecryptToken(acc.AccessToken, c.key)
	if err != nil {
		return c.sr.SetStatus(ctx, acc.ID, models.AccountStatusExpired)
	}

	fresh, expiresAt, err := c.pub.RefreshToken(ctx, credential)
	if errors.Is(err, service.ErrUnauthorized) {
		return c.sr.SetStatus(ctx, acc.ID, models.AccountStatusExpired)
	}
	if err != nil {
		return err
	}

	sealed, err := utils.EncryptToken(fresh, c.key)
	if err != nil {
		return err
	}
	err = c.sr.SetToken(ctx, acc.ID, acc.AccessToken, sealed, expiresAt)
	if errors.Is(err, repository.ErrTokenChanged) {
		return nil
	}
	return err
}
