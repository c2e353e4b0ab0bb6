// Conversation HTTP handlers (visitor side).
//
// This file exposes the widget-facing endpoints:
//   - POST /session                       (bootstrap the anonymous visitor identity)
//   - POST /conversations                 (create-or-reuse the visitor's conversation)
//   - GET  /conversations/{id}/messages   (paginated transcript)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results (including rate-limit metadata) into HTTP
// responses.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/realtime"
	"github.com/driftline/livechat-backend/internal/services"
	"github.com/driftline/livechat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations consumed by
// HTTP handlers. Implementations must be safe for concurrent use and honor
// the provided context.
type ConversationService interface {
	// StartOrReuse returns the visitor's current conversation, creating one
	// when no recent open conversation exists.
	StartOrReuse(ctx context.Context, visitorID, limitKey string) (*domain.Conversation, bool, error)
	// VisitorTranscript returns a page of messages for a conversation owned
	// by visitorID.
	VisitorTranscript(ctx context.Context, visitorID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// Transcript returns a page of messages for any conversation (admin).
	Transcript(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// ListPage returns a page of all conversations ordered by recent activity.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error)
	// Assign hands a conversation to an agent.
	Assign(ctx context.Context, agentID, conversationID, assigneeID string) (*domain.Conversation, error)
	// Close marks a conversation closed.
	Close(ctx context.Context, agentID, conversationID string) (*domain.Conversation, error)
	// CanStream authorizes attaching to a conversation's event stream.
	CanStream(ctx context.Context, conversationID, visitorID string, isAgent bool) error
}

// MessageService defines message insert operations consumed by handlers.
type MessageService interface {
	// SendVisitorMessage stores a visitor message and returns the limiter
	// result alongside it.
	SendVisitorMessage(ctx context.Context, visitorID, conversationID, body, limitKey string) (*domain.Message, ratelimit.Result, error)
	// SendAgentMessage stores a staff reply.
	SendAgentMessage(ctx context.Context, agentID, conversationID, body string) (*domain.Message, error)
}

//
// Handler wiring
//

// AdminAccess carries the credentials configuration for the admin console.
type AdminAccess struct {
	JWTSecret string
	Password  string
	TokenTTL  time.Duration
}

// Handlers groups the HTTP endpoints for sessions, conversations, messages,
// streaming, and the admin console. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	convSvc ConversationService
	msgSvc  MessageService
	hub     *realtime.Hub
	admin   AdminAccess

	// CookieSecure marks the visitor cookie Secure; enable behind HTTPS.
	CookieSecure bool
	// CookieMaxAge bounds the visitor identity lifetime; 0 means 180 days.
	CookieMaxAge time.Duration
	// IdempotencyTTL bounds how long a recorded Idempotency-Key replays;
	// 0 means 24 hours.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(convSvc ConversationService, msgSvc MessageService, hub *realtime.Hub, admin AdminAccess) *Handlers {
	return &Handlers{convSvc: convSvc, msgSvc: msgSvc, hub: hub, admin: admin}
}

//
// DTOs
//

// SessionResponse is returned by the session bootstrap endpoint.
type SessionResponse struct {
	VisitorID string `json:"visitor_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// StartConversationResponse wraps the create-or-reuse result. Existing is
// true when a recent open conversation was returned instead of a new one.
type StartConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Existing     bool                 `json:"existing"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// TranscriptResponse contains a page of messages and pagination metadata.
type TranscriptResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginationFor computes the metadata block for a page of total items.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// limitKey is the identity the fixed-window quotas are keyed on: the visitor
// when known, the client IP otherwise.
func limitKey(c *gin.Context) string {
	if v := middleware.VisitorIDFromCtx(c); v != "" {
		return "visitor:" + v
	}
	return "ip:" + c.ClientIP()
}

// setQuotaHeaders surfaces the fixed-window state on the response.
func setQuotaHeaders(c *gin.Context, res ratelimit.Result) {
	if res.ResetTime.IsZero() {
		return
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
}

// failRateLimited writes the 429 envelope with Retry-After derived from the
// window reset.
func failRateLimited(c *gin.Context, rl *services.RateLimitedError) {
	setQuotaHeaders(c, rl.Result)
	retry := int(time.Until(rl.Result.ResetTime).Seconds()) + 1
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
}

//
// Handlers
//

// StartSession godoc
// @ID          startSession
// @Summary     Bootstrap the visitor session
// @Description Issues the anonymous visitor cookie when absent and returns the visitor identity.
// @Tags        Session
// @Produce     json
//
// @Success     200  {object}  handlers.SessionResponse
// @Router      /session [post]
func (h *Handlers) StartSession(c *gin.Context) {
	visitorID := middleware.VisitorIDFromCtx(c)
	if visitorID == "" {
		visitorID = uuid.NewString()
		maxAge := h.CookieMaxAge
		if maxAge <= 0 {
			maxAge = 180 * 24 * time.Hour
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.VisitorCookie, visitorID, int(maxAge.Seconds()), "/", "", h.CookieSecure, true)
	}
	ok(c, http.StatusOK, SessionResponse{VisitorID: visitorID})
}

// StartConversation godoc
// @ID          startConversation
// @Summary     Create or reuse a conversation
// @Description Returns the visitor's recent open conversation when one exists, otherwise creates a new one.
// @Tags        Conversations
// @Produce     json
//
// @Success     200  {object}  handlers.StartConversationResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing session"
// @Failure     429  {object}  handlers.ErrorResponse  "Creation quota exhausted"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) StartConversation(c *gin.Context) {
	visitorID := middleware.VisitorIDFromCtx(c)

	conv, existing, err := h.convSvc.StartOrReuse(c.Request.Context(), visitorID, limitKey(c))
	if err != nil {
		if rl, isRL := services.IsRateLimited(err); isRL {
			failRateLimited(c, rl)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, StartConversationResponse{Conversation: conv, Existing: existing})
}

// GetTranscript godoc
// @ID          getTranscript
// @Summary     List messages in a conversation
// @Description Returns a paginated transcript of the visitor's conversation, oldest first.
// @Tags        Conversations
// @Produce     json
//
// @Param       id         path   string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"             minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"          minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.TranscriptResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing session"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) GetTranscript(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	page, pageSize := clampPagination(c)
	visitorID := middleware.VisitorIDFromCtx(c)

	items, total, err := h.convSvc.VisitorTranscript(c.Request.Context(), visitorID, conversationID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, TranscriptResponse{
		Messages:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}
