package models

import (
	"time"

	"gorm.io/datatypes"
)

// BondaMicrosite is an organization's storefront in the coupon vendor.
type BondaMicrosite struct {
	ID                string `gorm:"primaryKey;size:36"`
	OrganizationID    string `gorm:"size:36;uniqueIndex;not null"`
	Slug              string `gorm:"size:128"`
	VendorMicrositeID string `gorm:"size:64;not null"`
	APIKey            string `gorm:"size:255"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Affiliate maps a user to their vendor affiliate code within one microsite.
type Affiliate struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"size:36;not null;uniqueIndex:idx_affiliate_user_microsite"`
	MicrositeID string `gorm:"size:36;not null;uniqueIndex:idx_affiliate_user_microsite"`
	Code        string `gorm:"size:64;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryDone      RetryStatus = "done"
	RetryAbandoned RetryStatus = "abandoned"
)

// AffiliateRetry is an outbox record for affiliate provisioning that failed
// after a payment settled.
type AffiliateRetry struct {
	ID             string      `gorm:"primaryKey;size:36"`
	UserID         string      `gorm:"size:36;not null;uniqueIndex:idx_retry_user_org"`
	OrganizationID string      `gorm:"size:36;not null;uniqueIndex:idx_retry_user_org"`
	Attempts       int         `gorm:"not null;default:0"`
	NextAttemptAt  time.Time   `gorm:"index"`
	LastError      string      `gorm:"type:text"`
	Status         RetryStatus `gorm:"size:20;default:'pending';index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VendorSyncLog records one call to the coupon vendor API.
type VendorSyncLog struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:36;index"`
	Operation      string `gorm:"size:64;not null"`
	Endpoint       string `gorm:"size:512"`
	RequestData    datatypes.JSON
	ResponseData   datatypes.JSON
	Success        bool
	ErrorMessage   string `gorm:"type:text"`
	HTTPStatusCode int
	CreatedAt      time.Time
}
