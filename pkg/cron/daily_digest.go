package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/email"
	"shadowrealms_backend/pkg/logging"
)

const recentInDigest = 10

type DigestSource interface {
	Stats(ctx context.Context) (model.SubscriberStats, error)
	List(ctx context.Context, page, limit int) ([]model.Subscriber, error)
}

type DailyStatReader interface {
	DailyStat(ctx context.Context, t time.Time) (model.DailyStat, error)
}

type Mailer interface {
	SendDailyDigest(ctx context.Context, to string, data email.DailyDigestData) error
}

// DailyDigest mails the day's signup numbers to the admin address.
type DailyDigest struct {
	source   DigestSource
	daily    DailyStatReader
	mailer   Mailer
	to       string
	gameName string
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// NewDailyDigest builds the job. daily may be nil when page views are not
// tracked.
func NewDailyDigest(source DigestSource, daily DailyStatReader, mailer Mailer, to, gameName string) *DailyDigest {
	return &DailyDigest{
		source:   source,
		daily:    daily,
		mailer:   mailer,
		to:       to,
		gameName: gameName,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *DailyDigest) Run(ctx context.Context) error {
	log := logging.Module("cron")

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.lastRun.IsZero() && now.Sub(d.lastRun) < 23*time.Hour {
		log.Info().Time("last_run", d.lastRun).Msg("Daily digest already sent today, skipping")
		return nil
	}

	stats, err := d.source.Stats(ctx)
	if err != nil {
		return fmt.Errorf("digest stats: %w", err)
	}

	data := email.DailyDigestData{
		GameName:         d.gameName,
		Date:             now,
		NewSubscribers:   stats.TodaySubscribers,
		TotalSubscribers: stats.TotalSubscribers,
		WeekSubscribers:  stats.WeekSubscribers,
	}

	if d.daily != nil {
		day, err := d.daily.DailyStat(ctx, now)
		if err != nil {
			log.Warn().Err(err).Msg("could not read page views for digest")
		} else {
			data.PageViews = day.PageViews
		}
	}

	recent, err := d.source.List(ctx, 1, recentInDigest)
	if err != nil {
		log.Warn().Err(err).Msg("could not list recent subscribers for digest")
	}
	today := model.DayStart(now)
	for _, sub := range recent {
		if !sub.SubscribedAt.Before(today) {
			data.Recent = append(data.Recent, sub.Email)
		}
	}

	if err := d.mailer.SendDailyDigest(ctx, d.to, data); err != nil {
		return fmt.Errorf("send digest to %s: %w", d.to, err)
	}
	d.lastRun = now
	log.Info().Str("to", d.to).Int64("new", data.NewSubscribers).Msg("Daily digest sent")
	return nil
}
