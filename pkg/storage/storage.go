// Package storage defines the persistence contract shared by every subscriber
// backend and the failover policy that sits in front of them.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"shadowrealms_backend/internal/model"
)

var (
	ErrUnavailable   = errors.New("storage: backend unavailable")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrDuplicate     = errors.New("storage: email already stored")
	ErrNotFound      = errors.New("storage: subscriber not found")
)

// Backend is the minimal contract both the primary and the secondary store
// satisfy. Add is atomic from the caller's point of view.
type Backend interface {
	Name() string
	Add(ctx context.Context, sub *model.Subscriber) error
	ListAll(ctx context.Context) ([]model.Subscriber, error)
	RemoveAll(ctx context.Context) error
}

// LiveBackend pushes the full subscriber set once on Subscribe and again on
// every change. The returned cancel func stops the feed.
type LiveBackend interface {
	Backend
	Subscribe(ctx context.Context, fn func([]model.Subscriber)) (cancel func(), err error)
}

// Unsubscriber marks the record for email as unsubscribed, or returns ErrNotFound.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, email string) error
}

// Deleter removes specific records by id.
type Deleter interface {
	Delete(ctx context.Context, ids ...string) error
}

// Querier is implemented by backends that can answer admin reads without
// listing the whole set.
type Querier interface {
	Stats(ctx context.Context, now time.Time) (model.SubscriberStats, error)
	Page(ctx context.Context, page, limit int) ([]model.Subscriber, error)
}

// Active filters out unsubscribed records, newest first.
func Active(subs []model.Subscriber) []model.Subscriber {
	active := make([]model.Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.IsActive() {
			active = append(active, sub)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].SubscribedAt.After(active[j].SubscribedAt)
	})
	return active
}

// MergeActive adds the active records of pending that primary has no active
// record for, and returns the union newest first.
func MergeActive(primary, pending []model.Subscriber) []model.Subscriber {
	merged := Active(primary)
	for _, sub := range Active(pending) {
		if !ContainsActive(merged, sub.Email) {
			merged = append(merged, sub)
		}
	}
	return Active(merged)
}

// ComputeStats counts active subscribers in total, since midnight UTC and over
// the last seven calendar days (today included, day granularity).
func ComputeStats(subs []model.Subscriber, now time.Time) model.SubscriberStats {
	today := model.DayStart(now)
	weekStart := today.AddDate(0, 0, -7)

	var stats model.SubscriberStats
	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		stats.TotalSubscribers++
		at := sub.SubscribedAt.UTC()
		if !at.Before(today) {
			stats.TodaySubscribers++
		}
		if !at.Before(weekStart) {
			stats.WeekSubscribers++
		}
	}
	return stats
}

// ContainsActive reports whether subs holds an active record for email.
func ContainsActive(subs []model.Subscriber, email string) bool {
	for _, sub := range subs {
		if sub.Email == email && sub.IsActive() {
			return true
		}
	}
	return false
}
