package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/zierocode/FormDee-sub002/internal/config"
	"github.com/zierocode/FormDee-sub002/internal/credential"
	"github.com/zierocode/FormDee-sub002/internal/http/handler"
	httpmiddleware "github.com/zierocode/FormDee-sub002/internal/http/middleware"
)

// NewRouter wires gin routes and middleware. Every route that reads or
// mutates grants sits behind the credential gate; the callback is gated too
// since it writes grant rows.
func NewRouter(cfg config.Config, h *handler.Handler, gate *credential.Gate, rateLimiter *httpmiddleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(httpmiddleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	anyClass := httpmiddleware.RequireAuth(gate, credential.ModeAny)

	authGroup := r.Group("/auth/google")
	{
		authGroup.GET("/start", anyClass, h.GoogleStart)
		authGroup.GET("/callback", anyClass, h.GoogleCallback)
	}

	forms := r.Group("/forms/:id/google", anyClass)
	{
		forms.GET("/status", h.FormGoogleStatus)
		forms.POST("/connect", h.FormGoogleConnect)
		forms.POST("/link", h.FormGoogleLink)
		forms.GET("/token", h.FormGoogleToken)
	}

	admin := r.Group("/admin/google", anyClass)
	{
		admin.GET("/grants", h.ListGrants)
		admin.DELETE("/grants", h.DeleteGrants)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
