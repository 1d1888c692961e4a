package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

const (
	CSRFCookie = "csrf_token"
	CSRFHeader = "X-CSRF-Token"
	csrfKey    = "csrf_token"
	csrfMaxAge = 12 * 60 * 60
)

// EnsureCSRFCookie issues the double-submit cookie when the client has none. The value is
// readable by the page script, which echoes it in CSRFHeader.
func EnsureCSRFCookie(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CSRFCookie)
		if err != nil || !validCSRFToken(token) {
			token = strings.ReplaceAll(uuid.NewString(), "-", "")
			c.SetSameSite(http.SameSiteStrictMode)
			c.SetCookie(CSRFCookie, token, csrfMaxAge, "/", "", secure, false)
		}
		c.Set(csrfKey, token)
		c.Next()
	}
}

// CSRFToken returns the token EnsureCSRFCookie attached to the request.
func CSRFToken(c *gin.Context) string {
	return c.GetString(csrfKey)
}

// RequireCSRF rejects the request unless the CSRF header matches the CSRF cookie.
func RequireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(CSRFCookie)
		header := c.GetHeader(CSRFHeader)
		if err != nil || !validCSRFToken(cookie) || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			abort(c, http.StatusForbidden, utils.CodeForbidden, "invalid CSRF token")
			return
		}
		c.Next()
	}
}

func validCSRFToken(s string) bool {
	if len(s) < 16 || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
