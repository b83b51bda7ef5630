package models

import "time"

// ToolExecution records a tool call the moment it is dispatched so that a
// call id is never executed twice, even across restarts.
type ToolExecution struct {
	CallID      string `gorm:"primaryKey;size:128"`
	ThreadID    string `gorm:"size:191;not null;index"`
	ToolName    string `gorm:"size:64;not null"`
	Arguments   string `gorm:"type:text"`
	Status      string `gorm:"size:16;not null;default:dispatched;index"` // dispatched, succeeded, failed
	Result      string `gorm:"type:mediumtext"`
	CreatedAt   time.Time
	CompletedAt *time.Time
}
