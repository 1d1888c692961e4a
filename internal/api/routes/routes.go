package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/api/handlers"
	"github.com/sebastianpando/lector-tts-app/internal/api/middleware"
	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/ratelimit"
	"github.com/sebastianpando/lector-tts-app/web"
)

type Deps struct {
	TTS     *handlers.TTSHandler
	Archive *handlers.ArchiveHandler
	Page    *handlers.PageHandler
	WS      *handlers.WSHandler
	Health  *handlers.HealthHandler

	Metrics      *metrics.Metrics
	Limiter      ratelimit.Limiter
	Log          *logrus.Logger
	CookieSecure bool
}

// Use installs the middleware every response goes through.
func Use(r *gin.Engine, l *logrus.Logger) {
	r.Use(
		middleware.RequestLogger(l),
		middleware.SecurityHeaders(),
		middleware.Recovery(l),
	)
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/healthz", d.Health.Healthz)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	r.StaticFS("/static", web.Static())

	// Pages issue the CSRF cookie the guarded endpoints check
	page := r.Group("/")
	page.Use(middleware.EnsureCSRFCookie(d.CookieSecure))
	page.GET("/", d.Page.Index)
	page.GET("/api/csrf", d.Page.CSRF)

	// State-changing endpoints (rate limit + CSRF)
	guarded := r.Group("/api")
	guarded.Use(
		middleware.RateLimit(d.Limiter, d.Metrics, d.Log),
		middleware.RequireCSRF(),
	)
	guarded.POST("/prepare", d.TTS.Prepare)
	guarded.POST("/delete", d.Archive.Delete)

	r.GET("/api/progress", d.TTS.Progress)
	r.GET("/api/archive", d.Archive.List)

	r.GET("/stream", d.TTS.Stream)
	r.GET("/stream/:token", d.TTS.Stream)
	r.GET("/audio/:filename", d.Archive.Audio)

	// WebSocket
	r.GET("/ws/progress/:token", d.WS.Progress)
}
