package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/api/middleware"
	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/services"
)

type PageHandler struct {
	sessions services.SessionService
	archive  services.ArchiveService
	maxChars int
	log      *logrus.Logger
}

func NewPageHandler(sessions services.SessionService, archive services.ArchiveService, maxChars int, log *logrus.Logger) *PageHandler {
	return &PageHandler{sessions: sessions, archive: archive, maxChars: maxChars, log: log}
}

type indexView struct {
	Text      string
	Language  string
	Languages []string
	MaxChars  int
	CSRFToken string
	Archive   []models.ArchiveEntry
}

// Index renders the reader page. ?text= and ?lang= prefill the form.
func (h *PageHandler) Index(c *gin.Context) {
	text := c.Query("text")
	if utf8.RuneCountInString(text) > h.maxChars {
		text = string([]rune(text)[:h.maxChars])
	}

	lang := h.sessions.DefaultLanguage()
	if q := strings.ToLower(strings.TrimSpace(c.Query("lang"))); q != "" {
		for _, l := range h.sessions.Languages() {
			if l == q {
				lang = l
				break
			}
		}
	}

	entries, err := h.archive.List(c.Request.Context())
	if err != nil {
		// the page still works without the listing
		h.log.WithError(err).Warn("archive listing failed")
	}

	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", indexView{
		Text:      text,
		Language:  lang,
		Languages: h.sessions.Languages(),
		MaxChars:  h.maxChars,
		CSRFToken: middleware.CSRFToken(c),
		Archive:   entries,
	})
}

func (h *PageHandler) CSRF(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"token": middleware.CSRFToken(c)})
}
