// Package store is the record store client for session rows and their event log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an update targets a session that does not exist.
var ErrNotFound = errors.New("store: session not found")

// Store is the subset of record store operations the monitor depends on.
type Store interface {
	// ListWaiting returns every waiting session, oldest first.
	ListWaiting(ctx context.Context) ([]models.Session, error)
	// UpdateStatus applies a partial update to one session.
	UpdateStatus(ctx context.Context, id string, f Fields) error
	// AppendLog adds an entry to the session's event log.
	AppendLog(ctx context.Context, id, level, message string) error
}

// Fields is a partial session update. Nil and empty members are left untouched.
type Fields struct {
	Status       string
	ConnectedAt  *time.Time
	LastActivity *time.Time
	ArchiveURL   *string
	Archived     *bool
}

// columns converts the set members of f into a gorm update map.
func (f Fields) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if f.Status != "" {
		cols["status"] = f.Status
	}
	if f.ConnectedAt != nil {
		cols["connected_at"] = *f.ConnectedAt
	}
	if f.LastActivity != nil {
		cols["last_activity"] = *f.LastActivity
	}
	if f.ArchiveURL != nil {
		cols["github_url"] = *f.ArchiveURL
	}
	if f.Archived != nil {
		cols["saved_to_github"] = *f.Archived
	}
	return cols
}

// Connected builds the update applied when a session's connection opens.
func Connected(at time.Time) Fields {
	return Fields{Status: models.StatusConnected, ConnectedAt: &at, LastActivity: &at}
}

// Disconnected builds the update applied when a session is logged out.
func Disconnected() Fields {
	return Fields{Status: models.StatusDisconnected}
}

// Archived builds the update applied after credentials were archived at locator.
func Archived(locator string) Fields {
	yes := true
	return Fields{ArchiveURL: &locator, Archived: &yes}
}

// GormStore implements Store on top of a GORM connection.
type GormStore struct {
	db *gorm.DB
}

// New creates a GormStore.
func New(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &GormStore{db: db}, nil
}

// ListWaiting returns waiting sessions ordered by created_at ascending.
func (s *GormStore) ListWaiting(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusWaiting).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("store: list waiting: %w", err)
	}
	return sessions, nil
}

// UpdateStatus applies f to the session with the given id.
func (s *GormStore) UpdateStatus(ctx context.Context, id string, f Fields) error {
	cols := f.columns()
	if len(cols) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("store: update %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL without clientFoundRows reports 0 for a no-op update.
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("store: update %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("store: update %s: %w", id, ErrNotFound)
		}
	}
	return nil
}

// AppendLog inserts a session_logs row.
func (s *GormStore) AppendLog(ctx context.Context, id, level, message string) error {
	entry := models.SessionLog{
		SessionID: id,
		LogLevel:  level,
		Message:   message,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: append log %s: %w", id, err)
	}
	return nil
}

// Create inserts a new session row. Status defaults to waiting.
func (s *GormStore) Create(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("store: create: id is required")
	}
	if sess.Status == "" {
		sess.Status = models.StatusWaiting
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("store: create %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns one session by id.
func (s *GormStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return &sess, nil
}

// List returns sessions newest first, optionally filtered by status.
// A limit of zero or less returns every row.
func (s *GormStore) List(ctx context.Context, status string, limit int) ([]models.Session, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sessions []models.Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return sessions, nil
}

// Logs returns the event log of one session, oldest first.
func (s *GormStore) Logs(ctx context.Context, id string) ([]models.SessionLog, error) {
	var logs []models.SessionLog
	err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("id ASC").Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("store: logs %s: %w", id, err)
	}
	return logs, nil
}

// CountByStatus returns the number of sessions per status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
