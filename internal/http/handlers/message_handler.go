// Message HTTP handlers (visitor side).
//
// This file exposes:
//   - POST /conversations/{id}/messages   (append a visitor message)
//
// Idempotency: if the client supplies an Idempotency-Key header and a
// previous successful send exists for (visitor, conversation, key), the
// handler returns the recorded message and sets `Idempotency-Replayed: true`
// instead of inserting a duplicate.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/repo"
	"github.com/driftline/livechat-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message. Body is
// normalized server-side (line endings, Unicode NFC, trimming) and capped
// by rune count.
type PostMessageRequest struct {
	// Body is the message text. It must be non-empty after trimming.
	Body string `json:"body" binding:"required,min=1" example:"Hi, do you ship to Iceland?"`
}

// PostMessageResponse is the JSON envelope for a stored message. Remaining
// is the sender's unused send quota within the current window.
type PostMessageResponse struct {
	Message   *domain.Message `json:"message"`
	Remaining int             `json:"remaining"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends a visitor message to the conversation. Supports idempotent retries
// @Description via the Idempotency-Key header (same key → same stored message).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing session"
// @Failure     403  {object}  handlers.ErrorResponse  "Conversation closed"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Send quota exhausted"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	visitorID := middleware.VisitorIDFromCtx(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, isSvc := h.msgSvc.(*services.MessageService); isSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, visitorID, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, PostMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	m, res, err := h.msgSvc.SendVisitorMessage(ctx, visitorID, conversationID, req.Body, limitKey(c))
	if err != nil {
		if rl, isRL := services.IsRateLimited(err); isRL {
			failRateLimited(c, rl)
			return
		}
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case services.ErrConversationClosed:
			fail(c, http.StatusForbidden, ErrCodeConversationClosed, "conversation is closed")
		case services.ErrEmptyBody:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		case services.ErrBodyTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}
	setQuotaHeaders(c, res)

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, isSvc := h.msgSvc.(*services.MessageService); isSvc && svc.DB != nil {
			ttl := h.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_, _ = repo.CreateIdempotency(ctx, svc.DB, visitorID, conversationID, idemKey, m.ID, http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{Message: m, Remaining: res.Remaining})
}
