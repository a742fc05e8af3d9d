package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        string `gorm:"primaryKey;size:36"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	Name      string `gorm:"size:255"`
	Phone     string `gorm:"size:64"`
	Province  string `gorm:"size:128"`
	Locality  string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Organization struct {
	ID            string           `gorm:"primaryKey;size:36"`
	Name          string           `gorm:"size:255;not null"`
	MinimumAmount *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Active        bool             `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
