package model

import "time"

type SubscriberStatus string

const (
	StatusActive       SubscriberStatus = "active"
	StatusUnsubscribed SubscriberStatus = "unsubscribed"
)

// SourceWebsite is the only capture source the landing page has.
const SourceWebsite = "website"

type Subscriber struct {
	ID           string           `json:"id" gorm:"primaryKey;size:36"`
	Email        string           `json:"email" gorm:"uniqueIndex;not null;size:320"`
	SubscribedAt time.Time        `json:"subscribed_at" gorm:"index;not null"`
	Source       string           `json:"source" gorm:"size:50;default:'website'"`
	Status       SubscriberStatus `json:"status" gorm:"size:20;index;default:'active'"`
	IPAddress    string           `json:"ip_address,omitempty" gorm:"size:64"`
	UserAgent    string           `json:"user_agent,omitempty"`
	Referrer     string           `json:"referrer,omitempty"`
	Country      string           `json:"country,omitempty" gorm:"size:64"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}

func (s Subscriber) IsActive() bool {
	return s.Status == "" || s.Status == StatusActive
}

// SubscriberStats is what the admin dashboard shows.
type SubscriberStats struct {
	TotalSubscribers int64 `json:"total_subscribers"`
	TodaySubscribers int64 `json:"today_subscribers"`
	WeekSubscribers  int64 `json:"week_subscribers"`
}
