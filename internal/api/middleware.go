package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"wirewarden/internal/store"
)

const (
	sessionCookie = "token"

	// Context keys set by the middleware for downstream handlers.
	ctxUserKey   = "auth.user"
	ctxServerKey = "auth.server"
)

// requireSession verifies the HS256 session cookie issued by the accounts
// frontend. Handlers behind it can read the subject via ctxUserKey.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(sessionCookie)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(ctxUserKey, claims.Subject)
		c.Next()
	}
}

// requireServerToken resolves the bearer token to its server row. Unknown
// tokens are unauthorized, which the daemon reads as an authoritative
// deletion signal.
func (s *Server) requireServerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		server, err := s.store.GetServerByToken(c.Request.Context(), token)
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api token"})
			return
		}
		if err != nil {
			s.error(c, err)
			c.Abort()
			return
		}

		c.Set(ctxServerKey, server)
		c.Next()
	}
}
