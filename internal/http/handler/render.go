package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	oauthsvc "github.com/zierocode/FormDee-sub002/internal/service/oauth"
)

// postMessage types consumed by the builder UI's popup listener.
const (
	messageSuccess = "GOOGLE_AUTH_SUCCESS"
	messageError   = "GOOGLE_AUTH_ERROR"
)

// RenderOutcome maps a callback outcome onto its transport shape. Popup
// flows always get the self-closing postMessage page, whatever happened, so
// the host page owns error presentation; redirect flows always land on the
// builder with a google_auth flag, never a raw error page.
func RenderOutcome(c *gin.Context, builderURL string, out oauthsvc.Outcome) {
	if out.Flow == oauthsvc.FlowPopup {
		renderPopup(c, out)
		return
	}
	renderRedirect(c, builderURL, out)
}

func renderPopup(c *gin.Context, out oauthsvc.Outcome) {
	payload := gin.H{"type": messageError, "error": flag(out)}
	if out.Status == oauthsvc.OutcomeSuccess {
		payload = gin.H{"type": messageSuccess, "user": out.User}
	}

	// json.Marshal escapes angle brackets, so the payload cannot break out
	// of the script element.
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"type":"` + messageError + `"}`)
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body>
<script>
  if (window.opener) {
    window.opener.postMessage(%s, '*');
  }
  window.close();
</script>
</body>
</html>
`, raw)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func renderRedirect(c *gin.Context, builderURL string, out oauthsvc.Outcome) {
	target := strings.TrimSuffix(builderURL, "/") + "/builder?google_auth=" + url.QueryEscape(flag(out))
	c.Redirect(http.StatusFound, target)
}

func flag(out oauthsvc.Outcome) string {
	switch out.Status {
	case oauthsvc.OutcomeSuccess:
		return "success"
	case oauthsvc.OutcomeMissingCode:
		return "missing_code"
	default:
		return "error"
	}
}
