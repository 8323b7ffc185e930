package model

import "time"

type ActivityAction string

const (
	ActionPageVisit         ActivityAction = "PAGE_VISIT"
	ActionInvalidEmail      ActivityAction = "INVALID_EMAIL"
	ActionDuplicateEmail    ActivityAction = "DUPLICATE_EMAIL"
	ActionDBError           ActivityAction = "DB_ERROR"
	ActionSubscribeSuccess  ActivityAction = "SUBSCRIBE_SUCCESS"
	ActionSubscribeDegraded ActivityAction = "SUBSCRIBE_DEGRADED"
	ActionUnsubscribe       ActivityAction = "UNSUBSCRIBE"
	ActionAdminExport       ActivityAction = "ADMIN_EXPORT"
	ActionAdminClear        ActivityAction = "ADMIN_CLEAR"
)

// ActivityLog is an append-only audit row. Nothing in the service reads it back.
type ActivityLog struct {
	ID        uint           `gorm:"primaryKey"`
	Action    ActivityAction `gorm:"size:40;not null;index"`
	Email     string         `gorm:"size:320"`
	IPAddress string         `gorm:"size:64"`
	Timestamp time.Time      `gorm:"autoCreateTime;index"`
	Details   string         `gorm:"type:text"`
}

func (ActivityLog) TableName() string {
	return "activity_log"
}
