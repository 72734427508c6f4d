package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zierocode/FormDee-sub002/internal/credential"
)

const verdictKey = "authVerdict"

// RequireAuth gates a route on the admin credential scheme. The verdict is
// recomputed on every request; nothing is cached between calls. The denial
// body is identical for a missing secret, a wrong secret, and a valid
// secret on the wrong channel, so callers cannot probe credential classes.
func RequireAuth(gate *credential.Gate, mode credential.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		verdict := gate.Authorize(credential.FromRequest(c.Request), mode)
		if !verdict.Authorized {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "Missing or invalid admin credential.",
			})
			return
		}
		c.Set(verdictKey, verdict)
		c.Next()
	}
}

// GetVerdict exposes the resolved credential class to handlers.
func GetVerdict(c *gin.Context) (credential.Verdict, bool) {
	value, ok := c.Get(verdictKey)
	if !ok {
		return credential.Verdict{}, false
	}
	verdict, ok := value.(credential.Verdict)
	return verdict, ok
}
