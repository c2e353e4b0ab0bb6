// Package services – MessageService
//
// This file implements MessageService, the component that owns message
// inserts for both visitors and agents. It normalizes and validates bodies,
// enforces the conversation transition table, persists the message and the
// conversation's activity stamp atomically, and fans the event out to
// connected stream clients. For the first visitor message of a brand-new
// conversation only, it also fires a detached staff notification.
//
// The notification path is fire-and-forget by contract: its failure is
// logged and swallowed, never surfaced to the request that sent the message.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/unicode/norm"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/notify"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/realtime"
	"github.com/driftline/livechat-backend/internal/repo"
)

// Broadcaster publishes message events to connected stream clients.
// Implemented by realtime.Hub.
type Broadcaster interface {
	Publish(ev realtime.Event)
}

// Notifier delivers staff alerts. Implemented by notify.Telegram.
type Notifier interface {
	Notify(ctx context.Context, alert notify.NewConversationAlert) error
}

// MessageService coordinates message persistence, broadcast, and the
// first-message notification gate.
type MessageService struct {
	DB *gorm.DB

	// Hub receives one event per stored message. Nil disables broadcast.
	Hub Broadcaster
	// Notifier pages staff on first visitor contact. Nil disables paging.
	Notifier Notifier

	// Limiter guards visitor sends. Nil disables limiting (tests).
	Limiter   *ratelimit.Limiter
	SendLimit ratelimit.Config

	// MaxBodyRunes caps message bodies after normalization; 0 means the
	// default of 2000.
	MaxBodyRunes int

	// NotifyTimeout bounds the detached notification call; 0 means 10s.
	NotifyTimeout time.Duration
}

// NewMessageService constructs a MessageService with the default send limit
// (10 per minute) and body cap.
func NewMessageService(db *gorm.DB, hub Broadcaster, notifier Notifier, limiter *ratelimit.Limiter) *MessageService {
	return &MessageService{
		DB:        db,
		Hub:       hub,
		Notifier:  notifier,
		Limiter:   limiter,
		SendLimit: ratelimit.Config{Scope: "message-send", MaxRequests: 10, Window: time.Minute},
	}
}

// SendVisitorMessage stores a message authored by the conversation's owning
// visitor. The returned ratelimit.Result is meaningful whenever the limiter
// ran, including on rejection, so callers can surface quota headers.
//
// Guard order matters: body validation → rate limit → ownership → status.
// The notification gate is evaluated against the status the conversation
// held immediately before the insert.
func (s *MessageService) SendVisitorMessage(ctx context.Context, visitorID, conversationID, body, limitKey string) (*domain.Message, ratelimit.Result, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendVisitorMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("visitor.id", visitorID),
		),
	)
	defer span.End()

	var res ratelimit.Result

	body, err := s.normalizeBody(body)
	if err != nil {
		return nil, res, err
	}

	if s.Limiter != nil {
		res = s.Limiter.Check(limitKey, s.SendLimit)
		if !res.Allowed {
			return nil, res, &RateLimitedError{Result: res}
		}
	}

	conv, err := repo.GetVisitorConversation(ctx, s.DB, conversationID, visitorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, res, ErrConversationNotFound
		}
		return nil, res, err
	}
	if !conv.Status.Allows(domain.ActionVisitorMessage) {
		return nil, res, ErrConversationClosed
	}

	// Captured before the insert mutates anything; this drives the
	// notification gate.
	statusBefore := conv.Status

	msg, err := s.insert(ctx, conv, domain.ActionVisitorMessage, domain.SenderVisitor, visitorID, body, "")
	if err != nil {
		return nil, res, err
	}

	if statusBefore.NotifiesStaff(domain.ActionVisitorMessage) {
		s.notifyAsync(ctx, notify.NewConversationAlert{
			ConversationID: conv.ID,
			VisitorID:      visitorID,
			Body:           body,
		})
	}
	return msg, res, nil
}

// SendAgentMessage stores a staff reply into any conversation and records
// the mutation in the audit log. Closed conversations reject the insert.
func (s *MessageService) SendAgentMessage(ctx context.Context, agentID, conversationID, body string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendAgentMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	body, err := s.normalizeBody(body)
	if err != nil {
		return nil, err
	}

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.Status.Allows(domain.ActionAgentMessage) {
		return nil, ErrConversationClosed
	}

	return s.insert(ctx, conv, domain.ActionAgentMessage, domain.SenderAgent, agentID, body, agentID)
}

// insert persists the message and the conversation stamp in one transaction,
// appending an audit row when auditActor is set, then broadcasts the event.
func (s *MessageService) insert(ctx context.Context, conv *domain.Conversation, action domain.Action, senderType, senderID, body, auditActor string) (*domain.Message, error) {
	next := conv.Status.Next(action)

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, conv.ID, senderType, senderID, body)
		if err != nil {
			return err
		}
		msg = m
		if err := repo.TouchConversation(tx, conv.ID, m.CreatedAt, next); err != nil {
			return err
		}
		if auditActor != "" {
			return repo.RecordAudit(ctx, tx, auditActor, auditActionAgentMessage, conv.ID, auditDetail(map[string]string{
				"message_id": m.ID,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	conv.Status = next

	if s.Hub != nil {
		s.Hub.Publish(realtime.Event{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderType:     msg.SenderType,
			Body:           msg.Body,
			CreatedAt:      msg.CreatedAt,
		})
	}
	return msg, nil
}

// notifyAsync pages staff from a detached goroutine. The call survives the
// request context being cancelled, is bounded by NotifyTimeout, and its
// failure is logged, never returned.
func (s *MessageService) notifyAsync(ctx context.Context, alert notify.NewConversationAlert) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		nctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		if err := s.Notifier.Notify(nctx, alert); err != nil {
			log.Warn().
				Err(err).
				Str("conversation_id", alert.ConversationID).
				Msg("staff notification failed")
		}
	}()
}

// normalizeBody folds line endings, applies Unicode NFC so visually
// identical input counts the same number of runes, collapses excessive blank
// lines, and trims. It enforces the 1–2000 rune contract.
func (s *MessageService) normalizeBody(raw string) (string, error) {
	b := strings.ReplaceAll(raw, "\r\n", "\n")
	b = strings.ReplaceAll(b, "\r", "\n")
	b = nlCollapseRE.ReplaceAllString(b, "\n\n")
	b = norm.NFC.String(strings.TrimSpace(b))

	if b == "" {
		return "", ErrEmptyBody
	}
	max := s.MaxBodyRunes
	if max <= 0 {
		max = 2000
	}
	if utf8.RuneCountInString(b) > max {
		return "", ErrBodyTooLong
	}
	return b, nil
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)
