// Package services – ConversationService
//
// This file implements the ConversationService, which owns the conversation
// lifecycle: create-or-reuse for visitors, transcripts, and the
// administrative assign/close mutations. Status guards come from the
// transition table in the domain package; every administrative mutation is
// paired with an append-only audit record.
//
// Service-level errors (e.g., ErrConversationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/repo"
)

// Audit action names. Stable strings, consumed by external reporting.
const (
	auditActionAssign       = "conversation.assign"
	auditActionClose        = "conversation.close"
	auditActionAgentMessage = "message.send"
)

// ConversationService coordinates conversation lifecycle operations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Limiter guards conversation creation. Nil disables limiting (tests).
	Limiter     *ratelimit.Limiter
	CreateLimit ratelimit.Config

	// ReuseWindow is how far back an open conversation is considered
	// current enough to reuse instead of creating a second thread.
	ReuseWindow time.Duration
}

// NewConversationService constructs a ConversationService with the default
// creation limit (3 per hour) and reuse window (60 minutes).
func NewConversationService(db *gorm.DB, limiter *ratelimit.Limiter) *ConversationService {
	return &ConversationService{
		DB:          db,
		Limiter:     limiter,
		CreateLimit: ratelimit.Config{Scope: "conversation-create", MaxRequests: 3, Window: time.Hour},
		ReuseWindow: time.Hour,
	}
}

// StartOrReuse returns the visitor's current conversation, creating one when
// needed. A non-closed conversation created within ReuseWindow is returned
// with existing=true; otherwise a fresh conversation (status "new") is
// created. limitKey feeds the conversation-create fixed-window limit.
func (s *ConversationService) StartOrReuse(ctx context.Context, visitorID, limitKey string) (*domain.Conversation, bool, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "StartOrReuse",
		trace.WithAttributes(attribute.String("visitor.id", visitorID)),
	)
	defer span.End()

	if s.Limiter != nil {
		if res := s.Limiter.Check(limitKey, s.CreateLimit); !res.Allowed {
			return nil, false, &RateLimitedError{Result: res}
		}
	}

	cutoff := time.Now().UTC().Add(-s.ReuseWindow)
	if existing, err := repo.FindReusableConversation(ctx, s.DB, visitorID, cutoff); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	c, err := repo.CreateConversation(ctx, s.DB, visitorID)
	return c, false, err
}

// VisitorTranscript returns a page of messages for a conversation owned by
// visitorID. Foreign or missing conversations yield ErrConversationNotFound.
func (s *ConversationService) VisitorTranscript(ctx context.Context, visitorID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	if _, err := repo.GetVisitorConversation(ctx, s.DB, conversationID, visitorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}
	return s.transcript(ctx, conversationID, page, pageSize)
}

// Transcript returns a page of messages for any conversation (admin view).
func (s *ConversationService) Transcript(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}
	return s.transcript(ctx, conversationID, page, pageSize)
}

func (s *ConversationService) transcript(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	db := s.DB.WithContext(ctx)
	total, err := repo.CountMessages(db, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(db, conversationID, offset, pageSize)
	return items, total, err
}

// ListPage returns a page of all conversations ordered by most recent
// activity, plus the total count (admin console listing).
func (s *ConversationService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountConversations(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// Assign sets the conversation's assigned agent and records the mutation in
// the audit log. agentID is the acting administrator; assigneeID is who the
// conversation is handed to (often the same identity).
func (s *ConversationService) Assign(ctx context.Context, agentID, conversationID, assigneeID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Assign",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.Status.Allows(domain.ActionAssign) {
		return nil, ErrConversationClosed
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.AssignAgent(ctx, tx, conversationID, assigneeID); err != nil {
			return err
		}
		return repo.RecordAudit(ctx, tx, agentID, auditActionAssign, conversationID, auditDetail(map[string]string{
			"agent_id": assigneeID,
		}))
	})
	if err != nil {
		return nil, err
	}

	conv.AssignedAgentID = &assigneeID
	return conv, nil
}

// Close marks the conversation closed and records the mutation in the audit
// log. Closing an already-closed conversation is a no-op, not an error.
func (s *ConversationService) Close(ctx context.Context, agentID, conversationID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Close",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.Status == domain.StatusClosed {
		return conv, nil
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateConversationStatus(ctx, tx, conversationID, domain.StatusClosed); err != nil {
			return err
		}
		return repo.RecordAudit(ctx, tx, agentID, auditActionClose, conversationID, auditDetail(map[string]string{
			"previous_status": string(conv.Status),
		}))
	})
	if err != nil {
		return nil, err
	}

	conv.Status = domain.StatusClosed
	return conv, nil
}

// CanStream reports whether the given identity may attach to a
// conversation's event stream: agents may attach to any conversation,
// visitors only to their own.
func (s *ConversationService) CanStream(ctx context.Context, conversationID, visitorID string, isAgent bool) error {
	if isAgent {
		_, err := repo.GetConversation(ctx, s.DB, conversationID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	_, err := repo.GetVisitorConversation(ctx, s.DB, conversationID, visitorID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// auditDetail renders a small key/value payload as JSON for the audit log.
func auditDetail(kv map[string]string) string {
	b, err := json.Marshal(kv)
	if err != nil {
		return "{}"
	}
	return string(b)
}
