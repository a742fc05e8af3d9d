package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptCompleted AttemptStatus = "completed"
)

// PaymentAttempt is one hosted-checkout attempt, correlated with the gateway by OrderID.
// Declined or abandoned attempts stay pending.
type PaymentAttempt struct {
	ID                 string          `gorm:"primaryKey;size:36"`
	OrderID            string          `gorm:"size:64;uniqueIndex;not null"`
	UserID             string          `gorm:"size:36;not null;index"`
	OrganizationID     *string         `gorm:"size:36;index"`
	Amount             decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency           string          `gorm:"size:3;not null"`
	StoreID            string          `gorm:"size:64"`
	Installments       int             `gorm:"default:1"`
	Status             AttemptStatus   `gorm:"size:20;default:'pending';index"`
	RawGatewayResponse datatypes.JSON
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *PaymentAttempt) IsCompleted() bool {
	return a.Status == AttemptCompleted
}

const (
	DonationCompleted = "completed"
	PaymentMethodCard = "fiserv"
)

type Donation struct {
	ID               string          `gorm:"primaryKey;size:36"`
	UserID           string          `gorm:"size:36;not null;index"`
	OrderID          string          `gorm:"size:64;uniqueIndex;not null"`
	Amount           decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency         string          `gorm:"size:3;not null"`
	PaymentMethod    string          `gorm:"size:32"`
	OrganizationID   *string         `gorm:"size:36;index"`
	OrganizationName string          `gorm:"size:255"`
	Status           string          `gorm:"size:20"`
	PaymentID        string          `gorm:"size:128"` // gateway ipgTransactionId
	PaymentStatus    string          `gorm:"size:64"`  // approval code
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
