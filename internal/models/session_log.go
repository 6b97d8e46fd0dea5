package models

import "time"

// Log levels written to session_logs.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// SessionLog is an append-only event entry attached to a session.
type SessionLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;not null;index"`
	LogLevel  string    `gorm:"size:8;not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName pins the table name used by external readers.
func (SessionLog) TableName() string { return "session_logs" }
