package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"

	// HeaderGuestID carries an anonymous client's own id, a UUID it generated
	// and kept. WebSocket clients pass it as ?guest_id= instead.
	HeaderGuestID = "X-Guest-ID"
)

// OptionalJWT accepts an optional learner token from the Authorization header
// or the ?token= query param (browsers cannot set headers on WebSocket upgrades).
// Requests without a token proceed as the guest learner; a token that is
// present but invalid is rejected.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetUserID returns the authenticated learner. Anonymous clients that send a
// guest id get a key space of their own; all others share the guest sentinel.
func GetUserID(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.UserID
	}
	raw := c.GetHeader(HeaderGuestID)
	if raw == "" {
		raw = c.Query("guest_id")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return model.GuestScopedUserID(id.String())
	}
	return model.GuestUserID
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}
