package relational

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/database"
	"shadowrealms_backend/pkg/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })
	return New(db)
}

func TestAddAssignsFields(t *testing.T) {
	s := newStore(t)
	sub := &model.Subscriber{Email: "a@b.co", IPAddress: "10.0.0.1"}
	require.NoError(t, s.Add(context.Background(), sub))

	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.SubscribedAt.IsZero())
	assert.Equal(t, model.SourceWebsite, sub.Source)
	assert.Equal(t, model.StatusActive, sub.Status)

	subs, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
	assert.Equal(t, "10.0.0.1", subs[0].IPAddress)
}

func TestAddDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))
	err := s.Add(ctx, &model.Subscriber{Email: "a@b.co"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestConcurrentAddSameEmail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, dup int
		other   []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Add(ctx, &model.Subscriber{Email: "race@b.co"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrDuplicate):
				dup++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)

	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUnsubscribe(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))
	require.NoError(t, s.Unsubscribe(ctx, "a@b.co"))
	assert.ErrorIs(t, s.Unsubscribe(ctx, "a@b.co"), storage.ErrNotFound)
	assert.ErrorIs(t, s.Unsubscribe(ctx, "nobody@b.co"), storage.ErrNotFound)

	// the row stays, so the unique column still rejects the address
	assert.ErrorIs(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}), storage.ErrDuplicate)

	page, err := s.Page(ctx, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStatsAndPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	fixtures := []struct {
		email string
		at    time.Time
	}{
		{"today@b.co", now.Add(-time.Hour)},
		{"yesterday@b.co", now.AddDate(0, 0, -1)},
		{"lastweek@b.co", now.AddDate(0, 0, -6)},
		{"old@b.co", now.AddDate(0, 0, -30)},
	}
	for _, f := range fixtures {
		require.NoError(t, s.Add(ctx, &model.Subscriber{Email: f.email, SubscribedAt: f.at}))
	}
	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "gone@b.co", SubscribedAt: now}))
	require.NoError(t, s.Unsubscribe(ctx, "gone@b.co"))

	stats, err := s.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriberStats{
		TotalSubscribers: 4,
		TodaySubscribers: 1,
		WeekSubscribers:  3,
	}, stats)

	page, err := s.Page(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "today@b.co", page[0].Email)
	assert.Equal(t, "yesterday@b.co", page[1].Email)

	page, err = s.Page(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "lastweek@b.co", page[0].Email)

	page, err = s.Page(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRemoveAllAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := &model.Subscriber{Email: "a@b.co"}
	require.NoError(t, s.Add(ctx, a))
	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "b@b.co"}))

	require.NoError(t, s.Delete(ctx, a.ID))
	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "b@b.co", subs[0].Email)

	require.NoError(t, s.RemoveAll(ctx))
	subs, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDailyStats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.RecordPageView(ctx))
	require.NoError(t, s.RecordPageView(ctx))
	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))
	require.NoError(t, s.RecordSubscription(ctx))

	stat, err := s.DailyStat(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.PageViews)
	assert.Equal(t, int64(1), stat.NewSubscribers)
	assert.Equal(t, int64(1), stat.TotalSubscribers)

	s.now = func() time.Time { return now.AddDate(0, 0, 1) }
	require.NoError(t, s.RecordPageView(ctx))

	next, err := s.DailyStat(ctx, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.PageViews)
	assert.Zero(t, next.NewSubscribers)

	var rows int64
	require.NoError(t, s.DB().Model(&model.DailyStat{}).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
}

func TestLogActivity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogActivity(ctx, model.ActionInvalidEmail, "nope", "10.0.0.1", "failed validation"))
	require.NoError(t, s.LogActivity(ctx, model.ActionPageVisit, "", "10.0.0.1", ""))

	var logs []model.ActivityLog
	require.NoError(t, s.DB().Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, model.ActionInvalidEmail, logs[0].Action)
	assert.Equal(t, "nope", logs[0].Email)
	assert.Equal(t, model.ActionPageVisit, logs[1].Action)
}
