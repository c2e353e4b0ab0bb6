// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the two identity mechanisms of the service:
//
//   - Visitors are anonymous and identified by an opaque UUID carried in the
//     chat_visitor cookie. The cookie is issued by the session endpoint; the
//     middleware here only reads it.
//   - Agents authenticate with a Bearer JWT (HS256) issued by the admin login
//     endpoint.
//
// Both identities are stashed in the Gin context under well-known keys so
// that handlers and downstream middleware (rate limiting, logging) can key
// off them.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// VisitorCookie is the cookie carrying the anonymous visitor identity.
	VisitorCookie = "chat_visitor"

	ctxKeyVisitorID = "visitorID"
	ctxKeyAgentID   = "agentID"
)

// VisitorIdentity reads the visitor cookie, if present, and stashes the value
// in the Gin context. It never rejects: endpoints that require an identity
// compose RequireVisitor after it.
func VisitorIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, err := c.Cookie(VisitorCookie); err == nil && v != "" {
			c.Set(ctxKeyVisitorID, v)
		}
		c.Next()
	}
}

// RequireVisitor aborts with 401 when no visitor identity was established.
func RequireVisitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if VisitorIDFromCtx(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "unauthorized",
				"message":    "missing chat session",
			})
			return
		}
		c.Next()
	}
}

// VisitorIDFromCtx returns the visitor identity established by
// VisitorIdentity, or "" when the request carries none.
func VisitorIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyVisitorID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AdminClaims is the JWT payload for admin-console tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// NewAdminToken mints an HS256 token for the given agent identity, valid for
// ttl. Used by the admin login handler.
func NewAdminToken(secret, agentID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminAuth validates the Authorization: Bearer token against secret and
// stashes the agent identity. Requests without a valid token are rejected
// with 401; the body never distinguishes missing from expired from forged.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			abortUnauthorized(c)
			return
		}
		tokenStr := strings.TrimSpace(raw[len(prefix):])

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			abortUnauthorized(c)
			return
		}

		c.Set(ctxKeyAgentID, claims.Subject)
		c.Next()
	}
}

// AgentIDFromCtx returns the agent identity established by AdminAuth, or ""
// for unauthenticated requests.
func AgentIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyAgentID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    "invalid or missing credentials",
	})
}
