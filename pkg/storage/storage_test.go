package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/storage"
)

func TestComputeStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)
	subs := []model.Subscriber{
		{Email: "a@b.co", SubscribedAt: now.Add(-time.Hour), Status: model.StatusActive},
		{Email: "b@b.co", SubscribedAt: now.Add(-9 * time.Hour)},
		{Email: "c@b.co", SubscribedAt: now.AddDate(0, 0, -7), Status: model.StatusActive},
		{Email: "d@b.co", SubscribedAt: now.AddDate(0, 0, -8), Status: model.StatusActive},
		{Email: "e@b.co", SubscribedAt: now, Status: model.StatusUnsubscribed},
	}

	assert.Equal(t, model.SubscriberStats{
		TotalSubscribers: 4,
		TodaySubscribers: 1,
		WeekSubscribers:  3,
	}, storage.ComputeStats(subs, now))
}

func TestActive(t *testing.T) {
	now := time.Now()
	subs := []model.Subscriber{
		{Email: "old@b.co", SubscribedAt: now.Add(-time.Hour)},
		{Email: "gone@b.co", SubscribedAt: now, Status: model.StatusUnsubscribed},
		{Email: "new@b.co", SubscribedAt: now},
	}

	active := storage.Active(subs)
	if assert.Len(t, active, 2) {
		assert.Equal(t, "new@b.co", active[0].Email)
		assert.Equal(t, "old@b.co", active[1].Email)
	}

	assert.True(t, storage.ContainsActive(subs, "old@b.co"))
	assert.False(t, storage.ContainsActive(subs, "gone@b.co"))
}

func TestMergeActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)
	primary := []model.Subscriber{
		{Email: "a@b.co", SubscribedAt: now.Add(-2 * time.Hour), Status: model.StatusActive},
		{Email: "gone@b.co", SubscribedAt: now.Add(-3 * time.Hour), Status: model.StatusUnsubscribed},
	}
	pending := []model.Subscriber{
		{Email: "a@b.co", SubscribedAt: now.Add(-time.Hour), Status: model.StatusActive},
		{Email: "c@b.co", SubscribedAt: now, Status: model.StatusActive},
		{Email: "c@b.co", SubscribedAt: now.Add(-time.Minute), Status: model.StatusActive},
		{Email: "d@b.co", SubscribedAt: now, Status: model.StatusUnsubscribed},
	}

	merged := storage.MergeActive(primary, pending)
	emails := make([]string, 0, len(merged))
	for _, sub := range merged {
		emails = append(emails, sub.Email)
	}
	assert.Equal(t, []string{"c@b.co", "a@b.co"}, emails)
	assert.Equal(t, now.Add(-2*time.Hour), merged[1].SubscribedAt)

	assert.Empty(t, storage.MergeActive(nil, nil))
}
