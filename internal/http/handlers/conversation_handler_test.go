package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/http/middleware"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/realtime"
	"github.com/driftline/livechat-backend/internal/services"
)

// ---------- test plumbing ----------

// Handlers.New expects interfaces in this package; we satisfy them with stubs
// whose behavior is set per test via function fields.

type stubConvSvc struct {
	startOrReuse func(ctx context.Context, visitorID, limitKey string) (*domain.Conversation, bool, error)
	visitorTx    func(ctx context.Context, visitorID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	transcript   func(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	listPage     func(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error)
	assign       func(ctx context.Context, agentID, conversationID, assigneeID string) (*domain.Conversation, error)
	closeFn      func(ctx context.Context, agentID, conversationID string) (*domain.Conversation, error)
	canStream    func(ctx context.Context, conversationID, visitorID string, isAgent bool) error
}

func (s stubConvSvc) StartOrReuse(ctx context.Context, visitorID, limitKey string) (*domain.Conversation, bool, error) {
	return s.startOrReuse(ctx, visitorID, limitKey)
}
func (s stubConvSvc) VisitorTranscript(ctx context.Context, visitorID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	return s.visitorTx(ctx, visitorID, conversationID, page, pageSize)
}
func (s stubConvSvc) Transcript(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	return s.transcript(ctx, conversationID, page, pageSize)
}
func (s stubConvSvc) ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error) {
	return s.listPage(ctx, page, pageSize)
}
func (s stubConvSvc) Assign(ctx context.Context, agentID, conversationID, assigneeID string) (*domain.Conversation, error) {
	return s.assign(ctx, agentID, conversationID, assigneeID)
}
func (s stubConvSvc) Close(ctx context.Context, agentID, conversationID string) (*domain.Conversation, error) {
	return s.closeFn(ctx, agentID, conversationID)
}
func (s stubConvSvc) CanStream(ctx context.Context, conversationID, visitorID string, isAgent bool) error {
	return s.canStream(ctx, conversationID, visitorID, isAgent)
}

type stubMsgSvc struct {
	sendVisitor func(ctx context.Context, visitorID, conversationID, body, limitKey string) (*domain.Message, ratelimit.Result, error)
	sendAgent   func(ctx context.Context, agentID, conversationID, body string) (*domain.Message, error)
}

func (s stubMsgSvc) SendVisitorMessage(ctx context.Context, visitorID, conversationID, body, limitKey string) (*domain.Message, ratelimit.Result, error) {
	return s.sendVisitor(ctx, visitorID, conversationID, body, limitKey)
}
func (s stubMsgSvc) SendAgentMessage(ctx context.Context, agentID, conversationID, body string) (*domain.Message, error) {
	return s.sendAgent(ctx, agentID, conversationID, body)
}

const testJWTSecret = "handler-test-secret"

// newHandlerRouter wires the handlers under the same middleware the real
// router uses for identity so VisitorIDFromCtx/AgentIDFromCtx resolve.
func newHandlerRouter(conv ConversationService, msg MessageService) (*gin.Engine, *Handlers) {
	gin.SetMode(gin.TestMode)
	h := New(conv, msg, realtime.NewHub(), AdminAccess{
		JWTSecret: testJWTSecret,
		Password:  "console-pass",
		TokenTTL:  time.Hour,
	})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.VisitorIdentity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(context.Context, string, string, string, time.Time) (bool, error) { return false, nil }))
	r.POST("/session", h.StartSession)
	r.POST("/conversations", middleware.RequireVisitor(), h.StartConversation)
	r.GET("/conversations/:id/messages", middleware.RequireVisitor(), h.GetTranscript)
	r.POST("/conversations/:id/messages", middleware.RequireVisitor(), h.PostMessage)

	r.POST("/admin/login", h.AdminLogin)
	admin := r.Group("/admin", middleware.AdminAuth(testJWTSecret))
	admin.GET("/conversations", h.ListConversations)
	admin.GET("/conversations/:id/messages", h.AdminTranscript)
	admin.POST("/conversations/:id/messages", h.AdminReply)
	admin.POST("/conversations/:id/assign", h.AssignConversation)
	admin.POST("/conversations/:id/close", h.CloseConversation)
	return r, h
}

func asVisitor(req *http.Request, visitorID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.VisitorCookie, Value: visitorID})
	return req
}

func asAgent(t *testing.T, req *http.Request, agentID string) *http.Request {
	t.Helper()
	tok, err := middleware.NewAdminToken(testJWTSecret, agentID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// ---------- helper unit tests ----------

func TestPaginationFor(t *testing.T) {
	p := paginationFor(2, 2, 5)
	if p.TotalPages != 3 || !p.HasNext || p.Total != 5 {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	p = paginationFor(3, 2, 5)
	if p.HasNext {
		t.Fatalf("last page must not have next: %+v", p)
	}
	p = paginationFor(1, 50, 0)
	if p.TotalPages != 0 || p.HasNext {
		t.Fatalf("empty set pagination: %+v", p)
	}
}

func TestClampPagination(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=-3&page_size=9999", nil)
	page, pageSize := clampPagination(c)
	if page != 1 || pageSize != 200 {
		t.Fatalf("clamp: got page=%d page_size=%d", page, pageSize)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	page, pageSize = clampPagination(c)
	if page != 1 || pageSize != 50 {
		t.Fatalf("defaults: got page=%d page_size=%d", page, pageSize)
	}
}

// ---------- StartSession ----------

func TestStartSession_IssuesAndEchoesCookie(t *testing.T) {
	r, _ := newHandlerRouter(stubConvSvc{}, stubMsgSvc{})

	// No cookie: a fresh identity is minted and set.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/session", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SessionResponse
	decodeJSON(t, w, &resp)
	if _, err := uuid.Parse(resp.VisitorID); err != nil {
		t.Fatalf("visitor_id not a UUID: %q", resp.VisitorID)
	}
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.VisitorCookie {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value != resp.VisitorID || !cookie.HttpOnly {
		t.Fatalf("bad session cookie: %+v", cookie)
	}

	// Existing cookie: identity is echoed, no replacement issued.
	w = httptest.NewRecorder()
	req := asVisitor(httptest.NewRequest(http.MethodPost, "/session", nil), resp.VisitorID)
	r.ServeHTTP(w, req)
	var resp2 SessionResponse
	decodeJSON(t, w, &resp2)
	if resp2.VisitorID != resp.VisitorID {
		t.Fatalf("identity changed: %q -> %q", resp.VisitorID, resp2.VisitorID)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("no new cookie expected, got %v", w.Result().Cookies())
	}
}

// ---------- StartConversation ----------

func TestStartConversation_OK(t *testing.T) {
	visitor := uuid.NewString()
	conv := &domain.Conversation{ID: uuid.NewString(), VisitorID: visitor, Status: domain.StatusNew}

	var gotKey string
	svc := stubConvSvc{
		startOrReuse: func(_ context.Context, visitorID, limitKey string) (*domain.Conversation, bool, error) {
			if visitorID != visitor {
				t.Fatalf("visitorID = %q", visitorID)
			}
			gotKey = limitKey
			return conv, false, nil
		},
	}
	r, _ := newHandlerRouter(svc, stubMsgSvc{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, asVisitor(httptest.NewRequest(http.MethodPost, "/conversations", nil), visitor))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp StartConversationResponse
	decodeJSON(t, w, &resp)
	if resp.Existing || resp.Conversation.ID != conv.ID {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotKey != "visitor:"+visitor {
		t.Fatalf("limit key = %q", gotKey)
	}
}

func TestStartConversation_RateLimited(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	svc := stubConvSvc{
		startOrReuse: func(context.Context, string, string) (*domain.Conversation, bool, error) {
			return nil, false, &services.RateLimitedError{Result: ratelimit.Result{ResetTime: reset}}
		},
	}
	r, _ := newHandlerRouter(svc, stubMsgSvc{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, asVisitor(httptest.NewRequest(http.MethodPost, "/conversations", nil), uuid.NewString()))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" || w.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("missing quota headers: %v", w.Header())
	}
	if !strings.Contains(w.Body.String(), ErrCodeRateLimited) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestStartConversation_RequiresSession(t *testing.T) {
	r, _ := newHandlerRouter(stubConvSvc{}, stubMsgSvc{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", w.Code)
	}
}

// ---------- GetTranscript ----------

func TestGetTranscript_BadID(t *testing.T) {
	r, _ := newHandlerRouter(stubConvSvc{}, stubMsgSvc{})

	w := httptest.NewRecorder()
	req := asVisitor(httptest.NewRequest(http.MethodGet, "/conversations/not-a-uuid/messages", nil), uuid.NewString())
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetTranscript_NotFound(t *testing.T) {
	svc := stubConvSvc{
		visitorTx: func(context.Context, string, string, int, int) ([]domain.Message, int64, error) {
			return nil, 0, services.ErrConversationNotFound
		},
	}
	r, _ := newHandlerRouter(svc, stubMsgSvc{})

	w := httptest.NewRecorder()
	req := asVisitor(httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages", nil), uuid.NewString())
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetTranscript_OK_Pagination(t *testing.T) {
	convID := uuid.NewString()
	msgs := []domain.Message{
		{ID: uuid.NewString(), ConversationID: convID, SenderType: "visitor", Body: "hello"},
		{ID: uuid.NewString(), ConversationID: convID, SenderType: "agent", Body: "hi there"},
	}
	svc := stubConvSvc{
		visitorTx: func(_ context.Context, _, _ string, page, pageSize int) ([]domain.Message, int64, error) {
			if page != 1 || pageSize != 2 {
				t.Fatalf("page=%d page_size=%d", page, pageSize)
			}
			return msgs, 5, nil
		},
	}
	r, _ := newHandlerRouter(svc, stubMsgSvc{})

	w := httptest.NewRecorder()
	req := asVisitor(httptest.NewRequest(http.MethodGet, "/conversations/"+convID+"/messages?page_size=2", nil), uuid.NewString())
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp TranscriptResponse
	decodeJSON(t, w, &resp)
	if len(resp.Messages) != 2 || resp.Pagination.Total != 5 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected transcript: %+v", resp)
	}
}
