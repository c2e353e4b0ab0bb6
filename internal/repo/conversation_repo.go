// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftline/livechat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// gorm.ErrRecordNotFound for convenience across services and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new Conversation row owned by visitorID with
// status "new". The id is a randomly generated UUID.
func CreateConversation(ctx context.Context, db *gorm.DB, visitorID string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		VisitorID: visitorID,
		Status:    domain.StatusNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id regardless of owner. Used by
// the admin surface. Returns ErrNotFound when missing.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetVisitorConversation fetches a conversation by id only when it is owned
// by visitorID. A conversation that exists but belongs to someone else is
// reported as ErrNotFound, deliberately indistinguishable from absence.
func GetVisitorConversation(ctx context.Context, db *gorm.DB, id, visitorID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND visitor_id = ?", id, visitorID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindReusableConversation returns the visitor's most recently created
// conversation that is not closed and was created at or after cutoff, or
// ErrNotFound when no such conversation exists.
func FindReusableConversation(ctx context.Context, db *gorm.DB, visitorID string, cutoff time.Time) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("visitor_id = ? AND status <> ? AND created_at >= ?", visitorID, domain.StatusClosed, cutoff).
		Order("created_at desc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConversationStatus sets the status of a conversation. Returns
// ErrNotFound when no row matched.
func UpdateConversationStatus(ctx context.Context, db *gorm.DB, id string, status domain.Status) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AssignAgent sets assigned_agent_id. Returns ErrNotFound when no row matched.
func AssignAgent(ctx context.Context, db *gorm.DB, id, agentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("assigned_agent_id", agentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchConversation records a message insert against the conversation inside
// the caller's transaction: it stamps last_message_at and, when the insert
// promotes the status, writes the new status in the same UPDATE.
func TouchConversation(db *gorm.DB, id string, at time.Time, status domain.Status) error {
	updates := map[string]any{
		"last_message_at": at,
		"status":          status,
	}
	res := db.Model(&domain.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountConversations returns the total number of conversations (admin view).
func CountConversations(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Conversation{}).Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations ordered by most
// recent activity first (last_message_at, falling back to created_at).
func ListConversationsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Order("COALESCE(last_message_at, created_at) desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteConversationsInactiveSince hard-deletes conversations whose last
// activity (last_message_at, or created_at when no message was ever sent)
// precedes cutoff, cascading to their messages. Returns the number removed.
func DeleteConversationsInactiveSince(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Unscoped().
		Where("COALESCE(last_message_at, created_at) < ?", cutoff).
		Delete(&domain.Conversation{})
	return res.RowsAffected, res.Error
}
