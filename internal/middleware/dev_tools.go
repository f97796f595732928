package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/response"
)

// RequireDevTools guards developer-only routes behind the ENABLE_DEV_TOOLS switch.
func RequireDevTools(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Next()
	}
}
