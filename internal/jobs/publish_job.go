package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/queue"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

const (
	outcomeCompleted = "completed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

type PublishConfig struct {
	Platform       string
	Schedule       string
	BatchSize      int
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	ClaimLease     time.Duration
	TickLeaseTTL   time.Duration
	PublishTimeout time.Duration
	LeaseKey       string
	TokenKey       []byte
}

type PublishJob struct {
	items      repository.ScheduledItemRepository
	accounts   repository.SocialAccountRepository
	publisher  service.Publisher
	dispatcher queue.Dispatcher
	lease      TickLease
	limiter    *rate.Limiter
	metrics    *metrics.Registry
	cfg        PublishConfig
	now        func() time.Time
}

// NewPublishJob builds the worker. lease and dispatcher may be nil; without
// a lease every replica polls on every tick and relies on Claim alone.
func NewPublishJob(
	items repository.ScheduledItemRepository,
	accounts repository.SocialAccountRepository,
	publisher service.Publisher,
	dispatcher queue.Dispatcher,
	lease TickLease,
	limiter *rate.Limiter,
	m *metrics.Registry,
	cfg PublishConfig,
	now func() time.Time) *PublishJob {
	if now == nil {
		now = time.Now
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	if cfg.TickLeaseTTL <= 0 {
		cfg.TickLeaseTTL = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = time.Minute
	}
	return &PublishJob{
		items:      items,
		accounts:   accounts,
		publisher:  publisher,
		dispatcher: dispatcher,
		lease:      lease,
		limiter:    limiter,
		metrics:    m,
		cfg:        cfg,
		now:        now,
	}
}

// Register adds the due-tick to c.
func (j *PublishJob) Register(c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc(j.cfg.Schedule, func() {
		if err := j.Tick(context.Background()); err != nil {
			slog.Error("publish tick failed", "error", err)
		}
	})
}

// Tick publishes every item that is due now.
func (j *PublishJob) Tick(ctx context.Context) error {
	began := time.Now()
	defer func() {
		if j.metrics != nil {
			j.metrics.TickDuration.Observe(time.Since(began).Seconds())
		}
	}()

	if j.lease != nil && j.cfg.LeaseKey != "" {
		token, ok, err := j.lease.Acquire(ctx, j.cfg.LeaseKey, j.cfg.TickLeaseTTL)
		switch {
		case err != nil:
			slog.Warn("tick lease unavailable, polling anyway", "error", err)
		case !ok:
			if j.metrics != nil {
				j.metrics.TicksSkipped.Inc()
			}
			return nil
		default:
			defer j.releaseLease(token)
		}
	}

	due, err := j.items.ListDue(ctx, j.now(), j.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due items: %w", err)
	}
	if j.metrics != nil {
		j.metrics.DueItems.Set(float64(len(due)))
	}

	for _, item := range due {
		if err := j.process(ctx, item); err != nil {
			slog.Error("publish item failed", "item_id", item.ID, "error", err)
		}
	}
	return nil
}

// releaseLease frees the tick as soon as this replica is done so the next
// tick on any replica can poll.
func (j *PublishJob) releaseLease(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.lease.Release(ctx, j.cfg.LeaseKey, token); err != nil {
		slog.Warn("tick lease release failed", "error", err)
	}
}

// PublishOne handles a single early wake-up task. Items that are gone, no
// longer scheduled or not yet due are left to the tick.
func (j *PublishJob) PublishOne(ctx context.Context, itemID string) error {
	item, err := j.items.FindByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("find item: %w", err)
	}
	if item == nil || item.Status != models.ItemStatusScheduled || item.NextAttemptAt().After(j.now()) {
		return nil
	}
	return j.process(ctx, item)
}

func (j *PublishJob) process(ctx context.Context, item *models.ScheduledItem) error {
	now := j.now()
	claimed, err := j.items.Claim(ctx, item.ID, now, now.Add(j.cfg.ClaimLease))
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		j.count(outcomeSkipped)
		return nil
	}

	postID, err := j.publish(ctx, item)
	if err != nil {
		return j.recordFailure(ctx, item, err)
	}

	changed, err := j.items.MarkCompleted(ctx, item.ID, j.now(), postID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !changed {
		// Cancelled while publishing; the post is live but the item keeps
		// the user's decision.
		slog.Warn("item changed during publish", "item_id", item.ID, "platform_post_id", postID)
		j.count(outcomeSkipped)
		return nil
	}
	j.count(outcomeCompleted)
	j.mirror(ctx, item, postID)
	return nil
}

func (j *PublishJob) publish(ctx context.Context, item *models.ScheduledItem) (string, error) {
	account, err := j.accounts.FindPublishingAccount(ctx, j.cfg.Platform, item.OwnerUserID, item.OwnerAccountID)
	if err != nil {
		return "", &service.PlatformError{StatusCode: http.StatusServiceUnavailable, Message: "account lookup: " + err.Error()}
	}
	if account == nil {
		return "", fmt.Errorf("%w: no connected %s account", service.ErrUnauthorized, j.cfg.Platform)
	}
	credential, err := utils.DecryptToken(account.AccessToken, j.cfg.TokenKey)
	if err != nil {
		return "", fmt.Errorf("%w: stored credential unreadable", service.ErrUnauthorized)
	}

	if err := j.limiter.Wait(ctx); err != nil {
		return "", &service.PlatformError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}

	pctx, cancel := context.WithTimeout(ctx, j.cfg.PublishTimeout)
	defer cancel()
	return j.publisher.Publish(pctx, credential, service.PublishRequest{
		AuthorID:  account.AccountID,
		Content:   item.Content,
		MediaRefs: item.MediaRefs,
		Kind:      item.PostKind,
	})
}

func (j *PublishJob) recordFailure(ctx context.Context, item *models.ScheduledItem, cause error) error {
	attempt := item.RetryCount + 1
	msg := cause.Error()
	result := repository.AttemptResult{
		ID:           item.ID,
		Status:       models.ItemStatusFailed,
		RetryCount:   attempt,
		ErrorMessage: msg,
	}
	if retryable(cause) && attempt < j.cfg.MaxRetries {
		next := j.now().Add(j.backoff(attempt))
		result.Status = models.ItemStatusScheduled
		result.NextRetryAt = &next
	}

	err := j.items.RecordAttempt(ctx, result)
	if repository.IsSchemaDrift(err) {
		// Without retry columns no attempt budget can be kept, so the
		// failure is final.
		if j.metrics != nil {
			j.metrics.SchemaDrift.Inc()
		}
		result.Status = models.ItemStatusFailed
		_, err = j.items.UpdateStatus(ctx, item.ID, models.ItemStatusFailed, &msg)
	}
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	if result.Status == models.ItemStatusFailed {
		j.count(outcomeFailed)
		slog.Warn("item failed", "item_id", item.ID, "attempt", attempt, "error", msg)
	} else {
		j.count(outcomeRetry)
		slog.Info("item will retry", "item_id", item.ID, "attempt", attempt, "next_retry_at", result.NextRetryAt, "error", msg)
	}
	return nil
}

// backoff is base * 2^(attempt-1), capped at MaxBackoff.
func (j *PublishJob) backoff(attempt int) time.Duration {
	d := j.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if j.cfg.MaxBackoff > 0 && d >= j.cfg.MaxBackoff {
			return j.cfg.MaxBackoff
		}
	}
	if j.cfg.MaxBackoff > 0 && d > j.cfg.MaxBackoff {
		return j.cfg.MaxBackoff
	}
	return d
}

func retryable(err error) bool {
	if errors.Is(err, service.ErrUnauthorized) {
		return false
	}
	if errors.Is(err, service.ErrRateLimited) {
		return true
	}
	var pe *service.PlatformError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// mirror hands the published item to the cross-post worker. A failed
// hand-off is logged and counted; the item stays completed.
func (j *PublishJob) mirror(ctx context.Context, item *models.ScheduledItem, postID string) {
	targets := item.CrossPostMetadata.EnabledTargets()
	if j.dispatcher == nil || len(targets) == 0 {
		return
	}
	sort.Strings(targets)

	meta := item.CrossPostMetadata
	routing := make(map[string]queue.MirrorRoute, len(meta.Routing))
	for platform, r := range meta.Routing {
		routing[platform] = queue.MirrorRoute{TargetAccountID: r.TargetAccountID, TargetLabel: r.TargetLabel}
	}
	media := item.MediaRefs
	if len(meta.Media) > 0 {
		media = meta.Media
	}

	err := j.dispatcher.EnqueueMirror(ctx, queue.MirrorPayload{
		ItemID:         item.ID,
		OwnerUserID:    item.OwnerUserID,
		OwnerAccountID: item.OwnerAccountID,
		PlatformPostID: postID,
		Content:        item.Content,
		MediaRefs:      media,
		Targets:        targets,
		Routing:        routing,
		Optimize:       meta.Optimize,
	})
	result := "ok"
	if err != nil {
		result = "error"
		slog.Error("cross-post hand-off failed", "item_id", item.ID, "error", err)
	}
	if j.metrics != nil {
		j.metrics.MirrorEnqueued.WithLabelValues(result).Inc()
	}
}

func (j *PublishJob) count(outcome string) {
	if j.metrics != nil {
		j.metrics.PublishAttempts.WithLabelValues(outcome).Inc()
	}
}
