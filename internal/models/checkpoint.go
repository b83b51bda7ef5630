package models

import "time"

// Checkpoint is the saved graph position of a thread between turns. The
// messages themselves live in ConversationTurn rows; MessageCount marks how
// many of them belong to the checkpoint.
type Checkpoint struct {
	ThreadID     string `gorm:"primaryKey;size:191"`
	Criteria     string `gorm:"type:text"` // JSON-encoded search criteria
	NextNode     string `gorm:"size:64"`
	SuspendedAt  *time.Time
	MessageCount int `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// ConversationTurn stores a single message of a thread's conversation log.
type ConversationTurn struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID   string `gorm:"size:191;not null;uniqueIndex:idx_turn_thread_seq"`
	Sequence   int    `gorm:"not null;uniqueIndex:idx_turn_thread_seq"`
	Role       string `gorm:"size:16;not null"` // user, assistant, tool
	Content    string `gorm:"type:mediumtext"`
	ToolCalls  string `gorm:"type:text"` // JSON array of proposed tool calls
	ToolCallID string `gorm:"size:128"`
	CreatedAt  time.Time
}
