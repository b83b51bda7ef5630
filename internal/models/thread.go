package models

import "time"

// Thread is one conversation, keyed by a channel-scoped identifier such as
// "sms_+15125550100" or "slack:C024BE91L:1712345678.000100".
type Thread struct {
	ThreadID     string    `gorm:"primaryKey;size:191"`
	UserID       string    `gorm:"size:128;index"`
	Channel      string    `gorm:"size:16;not null;index"`       // web, sms, voice, slack, discord, cli
	Status       string    `gorm:"size:16;default:active;index"` // active, expired, closed
	CloseReason  string    `gorm:"size:32"`
	LastActivity time.Time `gorm:"index"`
	CreatedAt    time.Time
	ClosedAt     *time.Time
}
