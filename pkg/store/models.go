package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type GiftModel struct {
	ID          string  `gorm:"primaryKey"`
	CreatorID   string  `gorm:"not null;index"`
	RecipientID *string `gorm:"index"`
	Name        string  `gorm:"not null"`
	Prompt      string
	ModelURL    string
	Objects     datatypes.JSON `gorm:"type:jsonb"`
	Wrapped     bool           `gorm:"not null"`
	Status      string         `gorm:"not null;index"`
	CreatedAt   time.Time      `gorm:"not null;index"`
	ClaimedAt   *time.Time     `gorm:"index"`
}

type GiftOpeningModel struct {
	ID        string    `gorm:"primaryKey"`
	GiftID    string    `gorm:"not null;index"`
	OpenerID  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
