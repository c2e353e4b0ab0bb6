// Conversation stream handler.
//
// This file exposes:
//   - GET /conversations/{id}/stream   (WebSocket; live message events)
//
// The socket is write-only from the client's perspective: messages are sent
// over the REST endpoint, and the stream delivers realtime.Event frames as
// JSON. Visitors may attach only to their own conversation; agents (Bearer
// token) may attach to any.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/services"
)

const (
	// streamWriteWait bounds a single frame write.
	streamWriteWait = 10 * time.Second
	// streamPongWait is how long the peer may stay silent before the
	// connection is considered dead.
	streamPongWait = 60 * time.Second
	// streamPingPeriod must be shorter than streamPongWait.
	streamPingPeriod = 50 * time.Second
)

// streamUpgrader performs the HTTP → WebSocket upgrade. Cross-origin widget
// embeds are expected, so origin enforcement happens at the CORS layer and
// via the cookie/token checks, not here.
var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamConversation godoc
// @ID          streamConversation
// @Summary     Stream conversation events
// @Description Upgrades to a WebSocket delivering message events for the conversation as JSON frames.
// @Tags        Conversations
//
// @Param       id  path  string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "No identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id}/stream [get]
func (h *Handlers) StreamConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	visitorID := middleware.VisitorIDFromCtx(c)
	agentID := middleware.AgentIDFromCtx(c)
	if visitorID == "" && agentID == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing chat session")
		return
	}

	if err := h.convSvc.CanStream(c.Request.Context(), conversationID, visitorID, agentID != ""); err != nil {
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sub := h.hub.Subscribe(conversationID)
	lg := middleware.LoggerFrom(c)
	lg.Info().Str("conversation_id", conversationID).Msg("stream attached")

	// Reader: the client sends nothing meaningful, but reading is required
	// to process control frames and detect disconnects.
	go func() {
		defer sub.Cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer: forward hub events and keep the connection alive with pings.
	ping := time.NewTicker(streamPingPeriod)
	defer func() {
		ping.Stop()
		sub.Cancel()
		_ = conn.Close()
		lg.Info().Str("conversation_id", conversationID).Msg("stream detached")
	}()

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
