package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles within a tenant
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// User represents a human identity bound to exactly one tenant, used by
// session-based auth.
type User struct {
	ID                  uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID            uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_users_tenant_email"`
	Email               string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_users_tenant_email"`
	HashedPassword      string         `json:"-" gorm:"type:varchar(255);not null"`
	Role                string         `json:"role" gorm:"type:varchar(20);default:viewer;not null"`
	Active              bool           `json:"active" gorm:"default:true;not null"`
	FailedLoginAttempts int            `json:"-" gorm:"default:0;not null"`
	LockedUntil         *time.Time     `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns the user id
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
