package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant represents an isolated customer account, the unit of data
// separation. Tenants are created by the administrative registration
// flow and soft-deactivated, never deleted.
type Tenant struct {
	ID                 uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name               string         `json:"name" gorm:"type:varchar(100);not null"`
	Slug               string         `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	ContactEmail       string         `json:"contact_email" gorm:"type:varchar(255)"`
	APIKey             string         `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	Active             bool           `json:"active" gorm:"default:true;not null"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute" gorm:"default:100;not null"`
	MaxEventsPerMonth  *int64         `json:"max_events_per_month,omitempty"`
	CurrentMonthEvents int64          `json:"current_month_events" gorm:"default:0;not null"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns the tenant id
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// WithinMonthlyQuota reports whether another event fits the optional
// monthly quota.
func (t *Tenant) WithinMonthlyQuota() bool {
	if t.MaxEventsPerMonth == nil {
		return true
	}
	return t.CurrentMonthEvents < *t.MaxEventsPerMonth
}
