// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only audit log writer.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftline/livechat-backend/internal/domain"
)

// RecordAudit appends one audit row for an administrative mutation. There is
// deliberately no read path in this package: the log is consumed by external
// reporting only.
func RecordAudit(ctx context.Context, db *gorm.DB, actorID, action, conversationID, detail string) error {
	rec := &domain.AuditRecord{
		ID:             uuid.NewString(),
		ActorID:        actorID,
		Action:         action,
		ConversationID: conversationID,
		Detail:         detail,
		CreatedAt:      time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(rec).Error
}
