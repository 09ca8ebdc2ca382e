package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/testutil"
	"github.com/maheshrc27/crosspost-scheduler/internal/transfer"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func externalRow(source, ref, status string, at time.Time) *models.ScheduledItem {
	return &models.ScheduledItem{
		ID:             crosspost.ExternalID(source, ref),
		OwnerUserID:    outsider,
		Status:         status,
		ScheduledAt:    at,
		IsExternal:     true,
		ExternalSource: source,
		ExternalRefID:  ref,
	}
}

func TestTimelineMergesAndPagesOnce(t *testing.T) {
	items := testutil.NewItemStore()
	base := testNow.Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		items.Put(&models.ScheduledItem{OwnerUserID: outsider, Status: models.ItemStatusScheduled, ScheduledAt: base.Add(time.Duration(i*2) * time.Hour)})
	}
	composer := &testutil.Adapter{Name: crosspost.SourceComposer, Rows: []*models.ScheduledItem{
		externalRow(crosspost.SourceComposer, "1", models.ItemStatusFailed, base.Add(time.Hour)),
	}}
	campaigns := &testutil.Adapter{Name: crosspost.SourceCampaigns, Rows: []*models.ScheduledItem{
		externalRow(crosspost.SourceCampaigns, "abc", models.ItemStatusCompleted, base.Add(5*time.Hour)),
	}}

	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}),
		[]crosspost.Adapter{composer, campaigns}, 10, nil)

	page, err := svc.List(context.Background(), service.Requester{UserID: outsider}, transfer.TimelineQuery{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page.Items, 4)

	seen := map[string]bool{}
	for i, item := range page.Items {
		assert.False(t, seen[item.ID], "duplicate %s", item.ID)
		seen[item.ID] = true
		if i > 0 {
			assert.False(t, item.ScheduledAt.After(page.Items[i-1].ScheduledAt), "order at %d", i)
		}
	}
	assert.Equal(t, crosspost.ExternalID(crosspost.SourceCampaigns, "abc"), page.Items[0].ID)
	assert.Equal(t, models.ItemStatusCompleted, page.Items[0].Status)

	var statuses []string
	for _, item := range page.Items {
		statuses = append(statuses, item.Status)
	}
	assert.Contains(t, statuses, models.ItemStatusFailed)

	// Every adapter sees the widened window and the same scope.
	require.Len(t, composer.Queries, 1)
	assert.Equal(t, 14, composer.Queries[0].Limit)
	assert.Nil(t, composer.Queries[0].ScopedAccountIDs)
}

func TestTimelineOffsetSpansSources(t *testing.T) {
	items := testutil.NewItemStore()
	for i := 0; i < 4; i++ {
		items.Put(&models.ScheduledItem{OwnerUserID: outsider, Status: models.ItemStatusScheduled, ScheduledAt: testNow.Add(time.Duration(2*i) * time.Hour)})
	}
	adapter := &testutil.Adapter{Name: "composer"}
	for i := 0; i < 4; i++ {
		adapter.Rows = append(adapter.Rows, externalRow("composer", string(rune('a'+i)), models.ItemStatusScheduled, testNow.Add(time.Duration(2*i+1)*time.Hour)))
	}
	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}), []crosspost.Adapter{adapter}, 0, nil)
	ctx := context.Background()
	who := service.Requester{UserID: outsider}

	var all []string
	for offset := 0; offset < 8; offset += 3 {
		page, err := svc.List(ctx, who, transfer.TimelineQuery{Limit: 3, Offset: offset})
		require.NoError(t, err)
		for _, item := range page.Items {
			all = append(all, item.ID)
		}
	}
	assert.Len(t, all, 8)

	full, err := svc.List(ctx, who, transfer.TimelineQuery{Limit: 8})
	require.NoError(t, err)
	for i, item := range full.Items {
		assert.Equal(t, item.ID, all[i])
	}
}

func TestTimelineIsolatesFailingAdapter(t *testing.T) {
	items := testutil.NewItemStore()
	items.Put(&models.ScheduledItem{OwnerUserID: outsider, Status: models.ItemStatusScheduled, ScheduledAt: testNow})
	broken := &testutil.Adapter{Name: "composer", Err: errors.New("connection refused")}
	healthy := &testutil.Adapter{Name: "campaigns", Rows: []*models.ScheduledItem{
		externalRow("campaigns", "x", models.ItemStatusScheduled, testNow.Add(time.Hour)),
	}}
	m := metrics.NewRegistry(prometheus.NewRegistry())

	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}), []crosspost.Adapter{broken, healthy}, 5, m)
	page, err := svc.List(context.Background(), service.Requester{UserID: outsider}, transfer.TimelineQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ExternalFailures.WithLabelValues("composer")))
}

func TestTimelineDeduplicatesIDs(t *testing.T) {
	items := testutil.NewItemStore()
	dup := externalRow("composer", "7", models.ItemStatusScheduled, testNow)
	a := &testutil.Adapter{Name: "composer", Rows: []*models.ScheduledItem{dup, dup}}

	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}), []crosspost.Adapter{a}, 5, nil)
	page, err := svc.List(context.Background(), service.Requester{UserID: outsider}, transfer.TimelineQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestTimelineFirstPartyErrorFails(t *testing.T) {
	items := testutil.NewItemStore()
	items.ListErr = errors.New("db down")
	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}), nil, 5, nil)

	_, err := svc.List(context.Background(), service.Requester{UserID: outsider}, transfer.TimelineQuery{})
	assert.Error(t, err)
}

func TestTimelineScopesToTeamAccount(t *testing.T) {
	items := testutil.NewItemStore()
	acct, other := "acct-1", "acct-2"
	items.Put(&models.ScheduledItem{OwnerUserID: ownerID, OwnerAccountID: &acct, Status: models.ItemStatusScheduled, ScheduledAt: testNow})
	items.Put(&models.ScheduledItem{OwnerUserID: ownerID, OwnerAccountID: &other, Status: models.ItemStatusScheduled, ScheduledAt: testNow})
	a := &testutil.Adapter{Name: "composer"}

	svc := service.NewTimelineService(items, newScope(newTeams(), &fakeClock{now: testNow}), []crosspost.Adapter{a}, 5, nil)
	page, err := svc.List(context.Background(), service.Requester{UserID: editorID}, transfer.TimelineQuery{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "acct-1", *page.Items[0].OwnerAccountID)

	require.Len(t, a.Queries, 1)
	assert.ElementsMatch(t, []string{"acct-1", "team-1"}, a.Queries[0].ScopedAccountIDs)
	assert.Equal(t, "team-1", a.Queries[0].TeamID)
}
