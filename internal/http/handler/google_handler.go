// Package handler exposes the Google delegation lifecycle and grant
// administration over HTTP. All mutating routes sit behind the admin
// credential gate; see the router for the exact wiring.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zierocode/FormDee-sub002/internal/config"
	"github.com/zierocode/FormDee-sub002/internal/domain"
	oauthsvc "github.com/zierocode/FormDee-sub002/internal/service/oauth"
)

// Handler orchestrates the Google auth endpoints.
type Handler struct {
	OAuth  oauthsvc.OAuthService
	Cfg    config.Config
	Logger *zap.Logger
}

// NewHandler creates the handler set.
func NewHandler(oauth oauthsvc.OAuthService, cfg config.Config, logger *zap.Logger) *Handler {
	return &Handler{OAuth: oauth, Cfg: cfg, Logger: logger}
}

// GoogleStart redirects the browser to Google's consent screen. The flow
// query parameter selects popup or redirect completion; formId rides along
// inside the state value so the callback can link the grant.
func (h *Handler) GoogleStart(c *gin.Context) {
	kind := oauthsvc.FlowRedirect
	if c.Query("flow") == string(oauthsvc.FlowPopup) {
		kind = oauthsvc.FlowPopup
	}

	url, err := h.OAuth.BuildAuthorizationURL(kind, c.Query("formId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// GoogleCallback terminates the OAuth round trip. The service returns a
// transport-agnostic outcome; rendering picks postMessage or redirect from
// the flow kind so the browser never sees a raw error page.
func (h *Handler) GoogleCallback(c *gin.Context) {
	outcome := h.OAuth.HandleCallback(c.Request.Context(), oauthsvc.CallbackInput{
		Code:     c.Query("code"),
		ErrorStr: c.Query("error"),
		StateRaw: c.Query("state"),
	})
	RenderOutcome(c, h.Cfg.BuilderURL, outcome)
}

// FormGoogleStatus reports the grant backing a form's Sheets integration.
func (h *Handler) FormGoogleStatus(c *gin.Context) {
	grant, err := h.OAuth.GrantForForm(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrGrantNotFound) {
			c.JSON(http.StatusOK, gin.H{"linked": false})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": true, "grant": grantView(grant)})
}

// FormGoogleConnect enables the integration for a form, inheriting the most
// recently used grant when none is linked yet.
func (h *Handler) FormGoogleConnect(c *gin.Context) {
	grant, inherited, err := h.OAuth.EnsureGrantForForm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grant": grantView(grant), "inherited": inherited})
}

// FormGoogleLink links a form to an existing grant by account email.
func (h *Handler) FormGoogleLink(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email is required."})
		return
	}

	grant, err := h.OAuth.LinkGrantByEmail(c.Request.Context(), c.Param("id"), req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grant": grantView(grant)})
}

// FormGoogleToken returns a live access token for the form's grant,
// refreshing it when necessary.
func (h *Handler) FormGoogleToken(c *gin.Context) {
	token, err := h.OAuth.TokenForForm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "Bearer"})
}

// ListGrants returns grant metadata for the admin UI. Token values are
// never included.
func (h *Handler) ListGrants(c *gin.Context) {
	grants, err := h.OAuth.ListGrants(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	views := make([]gin.H, 0, len(grants))
	for _, grant := range grants {
		views = append(views, grantView(grant))
	}
	c.JSON(http.StatusOK, gin.H{"grants": views})
}

// DeleteGrants removes one grant by email, or every grant when all=true.
// Deletion is never implicit; this endpoint is the only way grants go away.
func (h *Handler) DeleteGrants(c *gin.Context) {
	if strings.EqualFold(c.Query("all"), "true") {
		if err := h.OAuth.DeleteAllGrants(c.Request.Context()); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": "all"})
		return
	}

	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email or all=true is required."})
		return
	}
	if err := h.OAuth.DeleteGrantByEmail(c.Request.Context(), email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": email})
}

func grantView(grant domain.GoogleGrant) gin.H {
	view := gin.H{
		"email":      grant.Email,
		"name":       grant.Name,
		"picture":    grant.Picture,
		"expires_at": grant.ExpiresAt,
	}
	if grant.LastUsedAt != nil {
		view["last_used_at"] = grant.LastUsedAt
	}
	return view
}

// writeError maps service errors onto transport responses. Configuration
// failures stay generic so unauthenticated callers learn nothing about the
// deployment.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrFormNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Form not found."})
	case errors.Is(err, domain.ErrGrantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "No matching grant."})
	case errors.Is(err, domain.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "reauth_required", "error_description": "Google authorization expired. Reconnect the account."})
	case errors.Is(err, domain.ErrNotConfigured):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Google integration is not available."})
	default:
		if h.Logger != nil {
			h.Logger.Error("request failed", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}
