// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the identity middleware for the story API. The service
// sits behind a gateway that authenticates users and forwards their identity
// in the X-User-ID header; this middleware turns that header into the
// request-scoped user identity every handler and the rate limiter key off.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextUserKey is the Gin context key holding the authenticated user id.
	ContextUserKey = "userID"
	// userIDHeader carries the gateway-authenticated user identity.
	userIDHeader = "X-User-ID"
	// maxUserIDLen bounds the id so a hostile header cannot bloat log lines
	// or database keys.
	maxUserIDLen = 64
)

// RequireUser extracts the user identity from X-User-ID and stores it under
// ContextUserKey. Requests without a usable identity are rejected with 401
// and the standard error envelope; protected routes never see them.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(userIDHeader))
		if uid == "" || len(uid) > maxUserIDLen {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid user identity",
			})
			return
		}
		c.Set(ContextUserKey, uid)
		c.Next()
	}
}
