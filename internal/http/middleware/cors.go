package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zierocode/FormDee-sub002/internal/config"
)

// CORS applies the configured cross-origin policy. The builder UI origin is
// always allowed so cookie-authenticated admin sessions work without extra
// configuration.
func CORS(cfg config.Config) gin.HandlerFunc {
	allowed := append([]string{}, cfg.CORSAllowedOrigins...)
	if cfg.BuilderURL != "" {
		allowed = append(allowed, strings.TrimSuffix(cfg.BuilderURL, "/"))
	}
	joinedMethods := strings.Join(cfg.CORSAllowedMethods, ", ")
	joinedHeaders := strings.Join(cfg.CORSAllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !originAllowed(origin, allowed) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", joinedMethods)
		c.Header("Access-Control-Allow-Headers", joinedHeaders)
		if cfg.CORSAllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}
