package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/testutil"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	jobNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	jobKey = utils.TokenKey("job-secret")
)

type stubLease struct {
	granted  bool
	err      error
	calls    int
	released []string
}

func (l *stubLease) Acquire(context.Context, string, time.Duration) (string, bool, error) {
	l.calls++
	if l.err != nil || !l.granted {
		return "", false, l.err
	}
	return "tok", true, nil
}

func (l *stubLease) Release(_ context.Context, _, token string) error {
	l.released = append(l.released, token)
	return nil
}

// memLease mimics SET NX PX plus a token-checked delete against a clock.
type memLease struct {
	mu      sync.Mutex
	now     func() time.Time
	holder  map[string]string
	expires map[string]time.Time
	seq     int
}

func newMemLease(now func() time.Time) *memLease {
	return &memLease{now: now, holder: map[string]string{}, expires: map[string]time.Time{}}
}

func (l *memLease) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holder[key]; held && l.now().Before(l.expires[key]) {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("t%d", l.seq)
	l.holder[key] = token
	l.expires[key] = l.now().Add(ttl)
	return token, true, nil
}

func (l *memLease) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder[key] == token {
		delete(l.holder, key)
	}
	return nil
}

type jobFixture struct {
	items      *testutil.ItemStore
	accounts   *testutil.SocialAccounts
	publisher  *testutil.Publisher
	dispatcher *testutil.Dispatcher
	metrics    *metrics.Registry
	job        *PublishJob
}

func newJobFixture(t *testing.T, lease TickLease) *jobFixture {
	t.Helper()
	f := &jobFixture{
		items:      testutil.NewItemStore(),
		accounts:   &testutil.SocialAccounts{},
		publisher:  &testutil.Publisher{},
		dispatcher: &testutil.Dispatcher{},
		metrics:    metrics.NewRegistry(prometheus.NewRegistry()),
	}
	sealed, err := utils.EncryptToken("cred-1", jobKey)
	require.NoError(t, err)
	_, err = f.accounts.Create(context.Background(), nil, &models.SocialAccount{
		UserID: 7, Platform: "threads", AccountID: "author-7", AccessToken: sealed,
	})
	require.NoError(t, err)

	f.job = NewPublishJob(f.items, f.accounts, f.publisher, f.dispatcher, lease, nil, f.metrics, PublishConfig{
		Platform:     "threads",
		Schedule:     "@every 1m",
		BatchSize:    10,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Minute,
		MaxBackoff:   10 * time.Minute,
		ClaimLease:   5 * time.Minute,
		LeaseKey:     "tick",
		TokenKey:     jobKey,
	}, func() time.Time { return jobNow })
	return f
}

func (f *jobFixture) due(content string) *models.ScheduledItem {
	return f.items.Put(&models.ScheduledItem{
		OwnerUserID: 7,
		Content:     content,
		PostKind:    models.PostKindText,
		Status:      models.ItemStatusScheduled,
		ScheduledAt: jobNow.Add(-time.Minute),
	})
}

func TestTickPublishesDueItems(t *testing.T) {
	f := newJobFixture(t, nil)
	a := f.due("a")
	b := f.due("b")
	future := f.items.Put(&models.ScheduledItem{OwnerUserID: 7, Status: models.ItemStatusScheduled, ScheduledAt: jobNow.Add(time.Hour)})

	require.NoError(t, f.job.Tick(context.Background()))

	for _, id := range []string{a.ID, b.ID} {
		got := f.items.Get(id)
		assert.Equal(t, models.ItemStatusCompleted, got.Status)
		require.NotNil(t, got.PlatformPostID)
		require.NotNil(t, got.PostedAt)
	}
	assert.Equal(t, models.ItemStatusScheduled, f.items.Get(future.ID).Status)
	assert.Equal(t, 2, f.publisher.Calls())
	assert.Equal(t, []string{"cred-1", "cred-1"}, f.publisher.Creds)
	assert.Equal(t, "author-7", f.publisher.Requests[0].AuthorID)
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.PublishAttempts.WithLabelValues(outcomeCompleted)))
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.DueItems))
}

func TestTickDurationMeasuresWallTime(t *testing.T) {
	f := newJobFixture(t, nil)
	f.due("a")

	require.NoError(t, f.job.Tick(context.Background()))

	var sample dto.Metric
	require.NoError(t, f.metrics.TickDuration.Write(&sample))
	assert.Equal(t, uint64(1), sample.GetHistogram().GetSampleCount())
	// The job clock sits months away from wall time; a tick takes well under a minute.
	assert.Less(t, sample.GetHistogram().GetSampleSum(), 60.0)
}

func TestTickSkippedWithoutLease(t *testing.T) {
	lease := &stubLease{granted: false}
	f := newJobFixture(t, lease)
	f.due("a")

	require.NoError(t, f.job.Tick(context.Background()))
	assert.Zero(t, f.publisher.Calls())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TicksSkipped))
	assert.Empty(t, lease.released)
}

func TestTickReleasesGrantedLease(t *testing.T) {
	lease := &stubLease{granted: true}
	f := newJobFixture(t, lease)
	f.due("a")

	require.NoError(t, f.job.Tick(context.Background()))
	assert.Equal(t, 1, f.publisher.Calls())
	assert.Equal(t, []string{"tok"}, lease.released)
}

func TestTickReleasesLeaseForNextTick(t *testing.T) {
	clock := jobNow
	lease := newMemLease(func() time.Time { return clock })
	f := newJobFixture(t, lease)

	for i := 0; i < 5; i++ {
		f.due(fmt.Sprintf("tick-%d", i))
		require.NoError(t, f.job.Tick(context.Background()))
		assert.Equal(t, i+1, f.publisher.Calls(), "tick %d", i)
		clock = clock.Add(time.Minute)
	}
	assert.Zero(t, promtest.ToFloat64(f.metrics.TicksSkipped))
}

func TestTickLeaseExpiresAfterCrashedHolder(t *testing.T) {
	clock := jobNow
	lease := newMemLease(func() time.Time { return clock })
	f := newJobFixture(t, lease)
	f.due("a")

	// Another replica took the lease and never released it.
	_, ok, err := lease.Acquire(context.Background(), "tick", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.job.Tick(context.Background()))
	assert.Zero(t, f.publisher.Calls())

	clock = clock.Add(time.Minute)
	require.NoError(t, f.job.Tick(context.Background()))
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestStaleTokenCannotReleaseSuccessorLease(t *testing.T) {
	clock := jobNow
	lease := newMemLease(func() time.Time { return clock })
	ctx := context.Background()

	old, ok, _ := lease.Acquire(ctx, "k", time.Second)
	require.True(t, ok)
	clock = clock.Add(2 * time.Second)
	_, ok, _ = lease.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx, "k", old))
	_, ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)
}

func TestTickPollsWhenLeaseStoreIsDown(t *testing.T) {
	f := newJobFixture(t, &stubLease{err: errors.New("redis down")})
	f.due("a")

	require.NoError(t, f.job.Tick(context.Background()))
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestTransientFailureSchedulesRetryWithBackoff(t *testing.T) {
	f := newJobFixture(t, nil)
	item := f.due("a")
	f.publisher.Results = []error{&service.PlatformError{StatusCode: 503, Message: "unavailable"}}

	require.NoError(t, f.job.Tick(context.Background()))

	got := f.items.Get(item.ID)
	assert.Equal(t, models.ItemStatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, jobNow.Add(2*time.Minute), *got.NextRetryAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "unavailable")

	// Not due again until the backoff passes.
	require.NoError(t, f.job.Tick(context.Background()))
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestRetriesExhaustToFailed(t *testing.T) {
	f := newJobFixture(t, nil)
	item := f.due("a")
	f.items.Put(&models.ScheduledItem{
		ID:          item.ID,
		OwnerUserID: 7,
		Status:      models.ItemStatusScheduled,
		ScheduledAt: item.ScheduledAt,
		RetryCount:  2,
	})
	f.publisher.Results = []error{service.ErrRateLimited}

	require.NoError(t, f.job.Tick(context.Background()))

	got := f.items.Get(item.ID)
	assert.Equal(t, models.ItemStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
}

func TestPermanentErrorsFailImmediately(t *testing.T) {
	for name, cause := range map[string]error{
		"unauthorized": service.ErrUnauthorized,
		"bad request":  &service.PlatformError{StatusCode: 400, Message: "too long"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newJobFixture(t, nil)
			item := f.due("a")
			f.publisher.Results = []error{cause}

			require.NoError(t, f.job.Tick(context.Background()))
			got := f.items.Get(item.ID)
			assert.Equal(t, models.ItemStatusFailed, got.Status)
			assert.Equal(t, 1, got.RetryCount)
		})
	}
}

func TestMissingAccountFailsItem(t *testing.T) {
	f := newJobFixture(t, nil)
	item := f.items.Put(&models.ScheduledItem{OwnerUserID: 99, Status: models.ItemStatusScheduled, ScheduledAt: jobNow.Add(-time.Minute)})

	require.NoError(t, f.job.Tick(context.Background()))
	got := f.items.Get(item.ID)
	assert.Equal(t, models.ItemStatusFailed, got.Status)
	assert.Zero(t, f.publisher.Calls())
}

func TestMissingRetryColumnsFailTerminally(t *testing.T) {
	f := newJobFixture(t, nil)
	f.items.Caps.RetryColumns = false
	item := f.due("a")
	f.publisher.Results = []error{&service.PlatformError{StatusCode: 502, Message: "bad gateway"}}

	require.NoError(t, f.job.Tick(context.Background()))
	got := f.items.Get(item.ID)
	assert.Equal(t, models.ItemStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SchemaDrift))
}

func TestPublishOne(t *testing.T) {
	f := newJobFixture(t, nil)
	ctx := context.Background()
	item := f.due("a")
	cancelled := f.items.Put(&models.ScheduledItem{OwnerUserID: 7, Status: models.ItemStatusCancelled, ScheduledAt: jobNow.Add(-time.Minute)})
	later := f.items.Put(&models.ScheduledItem{OwnerUserID: 7, Status: models.ItemStatusScheduled, ScheduledAt: jobNow.Add(time.Hour)})

	require.NoError(t, f.job.PublishOne(ctx, item.ID))
	require.NoError(t, f.job.PublishOne(ctx, item.ID))
	require.NoError(t, f.job.PublishOne(ctx, cancelled.ID))
	require.NoError(t, f.job.PublishOne(ctx, later.ID))
	require.NoError(t, f.job.PublishOne(ctx, "gone"))

	assert.Equal(t, 1, f.publisher.Calls())
	assert.Equal(t, models.ItemStatusCompleted, f.items.Get(item.ID).Status)
}

func TestClaimedItemIsNotPublishedTwice(t *testing.T) {
	f := newJobFixture(t, nil)
	item := f.due("a")

	claimed, err := f.items.Claim(context.Background(), item.ID, jobNow, jobNow.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.job.Tick(context.Background()))
	assert.Zero(t, f.publisher.Calls())
}

func TestCompletionHandsOffCrossPost(t *testing.T) {
	f := newJobFixture(t, nil)
	item := f.items.Put(&models.ScheduledItem{
		OwnerUserID: 7,
		Content:     "hello",
		Status:      models.ItemStatusScheduled,
		ScheduledAt: jobNow.Add(-time.Minute),
		CrossPostMetadata: &models.CrossPostMetadata{
			Targets: map[string]bool{"bluesky": true, "mastodon": true, "x": false},
			Routing: map[string]models.RouteTarget{"bluesky": {TargetAccountID: "bs-1"}},
		},
	})

	require.NoError(t, f.job.Tick(context.Background()))

	require.Len(t, f.dispatcher.Mirrors, 1)
	mirror := f.dispatcher.Mirrors[0]
	assert.Equal(t, item.ID, mirror.ItemID)
	assert.Equal(t, []string{"bluesky", "mastodon"}, mirror.Targets)
	assert.Equal(t, "bs-1", mirror.Routing["bluesky"].TargetAccountID)
	assert.Equal(t, "post-1", mirror.PlatformPostID)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.MirrorEnqueued.WithLabelValues("ok")))
}

func TestBackoffIsCapped(t *testing.T) {
	j := &PublishJob{cfg: PublishConfig{RetryBackoff: time.Minute, MaxBackoff: 5 * time.Minute}}
	assert.Equal(t, time.Minute, j.backoff(1))
	assert.Equal(t, 2*time.Minute, j.backoff(2))
	assert.Equal(t, 4*time.Minute, j.backoff(3))
	assert.Equal(t, 5*time.Minute, j.backoff(4))
	assert.Equal(t, 5*time.Minute, j.backoff(10))
}

func TestLegacyClaimIsExclusive(t *testing.T) {
	f := newJobFixture(t, nil)
	f.items.Caps.RetryColumns = false
	item := f.due("a")
	ctx := context.Background()

	won, err := f.items.Claim(ctx, item.ID, jobNow, jobNow.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, won)

	again, err := f.items.Claim(ctx, item.ID, jobNow, jobNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, again)

	due, err := f.items.ListDue(ctx, jobNow, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Reclaimable once the lease has run out.
	late, err := f.items.Claim(ctx, item.ID, jobNow.Add(6*time.Minute), jobNow.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, late)
}

func TestTickAndWakeUpPublishOnceWithoutRetryColumns(t *testing.T) {
	f := newJobFixture(t, nil)
	f.items.Caps.RetryColumns = false
	item := f.due("a")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.job.Tick(ctx))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, f.job.PublishOne(ctx, item.ID))
	}()
	wg.Wait()

	assert.Equal(t, 1, f.publisher.Calls())
	assert.Equal(t, models.ItemStatusCompleted, f.items.Get(item.ID).Status)
}
