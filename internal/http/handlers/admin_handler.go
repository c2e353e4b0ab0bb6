// Admin-console HTTP handlers.
//
// This file exposes the staff-facing endpoints, all behind Bearer JWT auth
// except login:
//   - POST /admin/login                          (exchange the console password for a token)
//   - GET  /admin/conversations                  (list all conversations, most recent activity first)
//   - GET  /admin/conversations/{id}/messages    (full transcript)
//   - POST /admin/conversations/{id}/messages    (agent reply)
//   - POST /admin/conversations/{id}/assign      (hand to an agent)
//   - POST /admin/conversations/{id}/close       (terminate)
//
// Every mutation is recorded in the audit log by the service layer.
package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/services"
)

//
// DTOs
//

// AdminLoginRequest is the JSON payload for console login. AgentID names the
// operator for audit purposes; it defaults to "admin" when empty.
type AdminLoginRequest struct {
	AgentID  string `json:"agent_id" example:"sofia"`
	Password string `json:"password" binding:"required" example:"console-password"`
}

// AdminLoginResponse carries the minted Bearer token.
type AdminLoginResponse struct {
	Token string `json:"token"`
}

// ListConversationsResponse wraps a page of conversations for the console.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// AssignRequest names the agent a conversation is handed to. An empty
// agent_id assigns the conversation to the caller.
type AssignRequest struct {
	AgentID string `json:"agent_id" example:"sofia"`
}

//
// Handlers
//

// AdminLogin godoc
// @ID          adminLogin
// @Summary     Admin console login
// @Description Exchanges the shared console password for a Bearer token.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.AdminLoginRequest  true  "Credentials"
//
// @Success     200  {object}  handlers.AdminLoginResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Wrong password"
// @Router      /admin/login [post]
func (h *Handlers) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "password required")
		return
	}

	if h.admin.Password == "" ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.admin.Password)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		return
	}

	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = "admin"
	}

	token, err := middleware.NewAdminToken(h.admin.JWTSecret, agentID, h.admin.TokenTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not mint token")
		return
	}
	ok(c, http.StatusOK, AdminLoginResponse{Token: token})
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List all conversations
// @Description Returns a page of conversations ordered by most recent activity.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.ListConversationsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.convSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginationFor(page, pageSize, total),
	})
}

// AdminTranscript godoc
// @ID          adminTranscript
// @Summary     Read any conversation's transcript
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path   string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"             minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"          minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.TranscriptResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/conversations/{id}/messages [get]
func (h *Handlers) AdminTranscript(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.convSvc.Transcript(c.Request.Context(), conversationID, page, pageSize)
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

// AdminReply godoc
// @ID          adminReply
// @Summary     Send an agent reply
// @Description Appends a staff message to the conversation and records the action in the audit log.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body  body  handlers.PostMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Conversation closed"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/conversations/{id}/messages [post]
func (h *Handlers) AdminReply(c *gin.Context) {
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

	agentID := middleware.AgentIDFromCtx(c)
	m, err := h.msgSvc.SendAgentMessage(c.Request.Context(), agentID, conversationID, req.Body)
	if err != nil {
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
	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// AssignConversation godoc
// @ID          assignConversation
// @Summary     Assign a conversation to an agent
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true   "Conversation ID (UUID)"  format(uuid)
// @Param       body  body  handlers.AssignRequest  false  "Assignee (defaults to the caller)"
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Conversation closed"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/conversations/{id}/assign [post]
func (h *Handlers) AssignConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// Body is optional: no (or blank) agent_id self-assigns.
	var req AssignRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed body")
			return
		}
	}
	assignee := strings.TrimSpace(req.AgentID)
	actor := middleware.AgentIDFromCtx(c)
	if assignee == "" {
		assignee = actor
	}

	conv, err := h.convSvc.Assign(c.Request.Context(), actor, conversationID, assignee)
	if err != nil {
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case services.ErrConversationClosed:
			fail(c, http.StatusForbidden, ErrCodeConversationClosed, "conversation is closed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, conv)
}

// CloseConversation godoc
// @ID          closeConversation
// @Summary     Close a conversation
// @Description Marks the conversation closed. Closing an already-closed conversation succeeds as a no-op.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/conversations/{id}/close [post]
func (h *Handlers) CloseConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	conv, err := h.convSvc.Close(c.Request.Context(), middleware.AgentIDFromCtx(c), conversationID)
	if err != nil {
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, conv)
}
