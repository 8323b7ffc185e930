// Package relational stores subscribers in a SQL table with a UNIQUE email
// column, and records the daily stats and activity log next to them.
package relational

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/oops"
	"shadowrealms_backend/pkg/storage"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Name() string {
	return "sql"
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Add(ctx context.Context, sub *model.Subscriber) error {
	rec := *sub
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubscribedAt.IsZero() {
		rec.SubscribedAt = s.now()
	}
	// stored as text by sqlite, so range queries only work on one zone
	rec.SubscribedAt = rec.SubscribedAt.UTC()
	if rec.Source == "" {
		rec.Source = model.SourceWebsite
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return oops.New(err, "failed to insert subscriber")
	}

	*sub = rec
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	if err := s.db.WithContext(ctx).Order("subscribed_at DESC").Find(&subs).Error; err != nil {
		return nil, oops.New(err, "failed to list subscribers")
	}
	return subs, nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.Subscriber{}).Error
	if err != nil {
		return oops.New(err, "failed to delete subscribers")
	}
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	result := s.db.WithContext(ctx).Model(&model.Subscriber{}).
		Where("email = ? AND status = ?", email, model.StatusActive).
		Update("status", model.StatusUnsubscribed)
	if result.Error != nil {
		return oops.New(result.Error, "failed to unsubscribe %s", email)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Subscriber{}).Error; err != nil {
		return oops.New(err, "failed to delete subscribers")
	}
	return nil
}

// Stats counts active rows from the table directly.
func (s *Store) Stats(ctx context.Context, now time.Time) (model.SubscriberStats, error) {
	today := model.DayStart(now)
	weekStart := today.AddDate(0, 0, -7)

	var stats model.SubscriberStats
	active := s.db.WithContext(ctx).Model(&model.Subscriber{}).Where("status = ?", model.StatusActive)

	if err := active.Session(&gorm.Session{}).Count(&stats.TotalSubscribers).Error; err != nil {
		return stats, oops.New(err, "failed to count subscribers")
	}
	if err := active.Session(&gorm.Session{}).Where("subscribed_at >= ?", today).
		Count(&stats.TodaySubscribers).Error; err != nil {
		return stats, oops.New(err, "failed to count today's subscribers")
	}
	if err := active.Session(&gorm.Session{}).Where("subscribed_at >= ?", weekStart).
		Count(&stats.WeekSubscribers).Error; err != nil {
		return stats, oops.New(err, "failed to count this week's subscribers")
	}
	return stats, nil
}

// Page returns active subscribers newest first. page starts at 1.
func (s *Store) Page(ctx context.Context, page, limit int) ([]model.Subscriber, error) {
	if page < 1 {
		page = 1
	}
	var subs []model.Subscriber
	err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Order("subscribed_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, oops.New(err, "failed to page subscribers")
	}
	return subs, nil
}

// LogActivity appends one row to the activity log.
func (s *Store) LogActivity(ctx context.Context, action model.ActivityAction, email, ip, details string) error {
	entry := model.ActivityLog{
		Action:    action,
		Email:     email,
		IPAddress: ip,
		Timestamp: s.now(),
		Details:   details,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return oops.New(err, "failed to write activity log")
	}
	return nil
}

func (s *Store) RecordPageView(ctx context.Context) error {
	return s.bumpDailyStat(ctx, "page_views")
}

func (s *Store) RecordSubscription(ctx context.Context) error {
	return s.bumpDailyStat(ctx, "new_subscribers")
}

// DailyStat returns the row for the day containing t, or a zero row.
func (s *Store) DailyStat(ctx context.Context, t time.Time) (model.DailyStat, error) {
	var stat model.DailyStat
	err := s.db.WithContext(ctx).
		Where("date = ?", datatypes.Date(model.DayStart(t))).
		Limit(1).
		Find(&stat).Error
	if err != nil {
		return stat, oops.New(err, "failed to read daily stats")
	}
	return stat, nil
}

func (s *Store) bumpDailyStat(ctx context.Context, column string) error {
	now := s.now()
	day := datatypes.Date(model.DayStart(now))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&model.Subscriber{}).Where("status = ?", model.StatusActive).
			Count(&total).Error; err != nil {
			return oops.New(err, "failed to count subscribers")
		}

		row := model.DailyStat{Date: day, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return oops.New(err, "failed to create daily stats row")
		}

		err := tx.Model(&model.DailyStat{}).Where("date = ?", day).Updates(map[string]interface{}{
			column:              gorm.Expr(column + " + 1"),
			"total_subscribers": total,
			"updated_at":        now,
		}).Error
		if err != nil {
			return oops.New(err, "failed to update daily stats")
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ storage.Backend      = (*Store)(nil)
	_ storage.Unsubscriber = (*Store)(nil)
	_ storage.Deleter      = (*Store)(nil)
	_ storage.Querier      = (*Store)(nil)
)
