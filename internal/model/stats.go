package model

import (
	"time"

	"gorm.io/datatypes"
)

// DailyStat holds one row per calendar day (UTC).
type DailyStat struct {
	ID               uint           `json:"-" gorm:"primaryKey"`
	Date             datatypes.Date `json:"date" gorm:"uniqueIndex;not null"`
	TotalSubscribers int64          `json:"total_subscribers" gorm:"not null;default:0"` // active count at last update
	NewSubscribers   int64          `json:"new_subscribers" gorm:"not null;default:0"`
	PageViews        int64          `json:"page_views" gorm:"not null;default:0"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (DailyStat) TableName() string {
	return "stats"
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
