package models

import "time"

// Session status values. External producers only ever create waiting rows;
// the monitor moves them to connected or disconnected.
const (
	StatusWaiting      = "waiting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Session is a pairing request tracked in the sessions table.
type Session struct {
	ID            string     `gorm:"primaryKey;size:64"`
	PhoneNumber   string     `gorm:"size:32;not null"`
	Status        string     `gorm:"size:16;default:waiting;index:idx_status_created"`
	CreatedAt     time.Time  `gorm:"index:idx_status_created"`
	ConnectedAt   *time.Time `gorm:"column:connected_at"`
	LastActivity  *time.Time `gorm:"column:last_activity"`
	GithubURL     *string    `gorm:"column:github_url;size:512"`
	SavedToGithub bool       `gorm:"column:saved_to_github;default:false"`
}

// TableName pins the table name used by external producers.
func (Session) TableName() string { return "sessions" }
