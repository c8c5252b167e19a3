package httpmw

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kandev/mcphost/internal/common/errors"
)

// IsLocalOrigin reports whether r carries no Origin header or one that points
// at a loopback host. Browsers always send Origin on cross-site requests, so
// this keeps arbitrary web pages away from the control API.
func IsLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LocalOrigin rejects requests from non-loopback origins with 403.
func LocalOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsLocalOrigin(c.Request) {
			appErr := apperrors.Forbidden("cross-origin requests are not allowed")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}
		c.Next()
	}
}
