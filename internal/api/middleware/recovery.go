package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

// Recovery turns handler panics into a 500. http.ErrAbortHandler is passed on to net/http,
// which then drops the connection; handlers use it to cut a response that is already
// half-written.
func Recovery(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			reqID, _ := c.Get(RequestIDKey)
			l.WithFields(logrus.Fields{
				"request_id": reqID,
				"panic":      rec,
				"stack":      string(debug.Stack()),
			}).Error("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			abort(c, http.StatusInternalServerError, utils.CodeInternal, "internal error")
		}()
		c.Next()
	}
}
