package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/session"
)

const (
	sessionContextKey   = "auth_session"
	authTokenContextKey = "auth_token"
)

// Middleware resolves the session behind the token and records the request
// as user activity.
func (s *Service) Middleware() gin.HandlerFunc {
	return s.middleware(true)
}

// PassiveMiddleware authenticates like Middleware but leaves the idle timer
// alone, for status polling and the event stream.
func (s *Service) PassiveMiddleware() gin.HandlerFunc {
	return s.middleware(false)
}

func (s *Service) middleware(touch bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		ctx := c.Request.Context()
		mgr, err := s.sessions.Get(ctx, authToken)
		if err == nil && touch {
			err = mgr.Touch(ctx)
		}
		if err != nil {
			switch {
			case errors.Is(err, session.ErrExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			case errors.Is(err, session.ErrNotAuthenticated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			}
			return
		}
		c.Set(sessionContextKey, mgr)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// SessionFromContext retrieves the session manager stored by the middleware.
func SessionFromContext(c *gin.Context) (*session.Manager, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	mgr, ok := val.(*session.Manager)
	return mgr, ok
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// RequestToken returns the bearer or cookie token of the request, if any,
// without checking it.
func (s *Service) RequestToken(c *gin.Context) string {
	return s.extractToken(c)
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
