package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/services"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

const ArchiveFileTrailer = "X-Archive-File"

type TTSHandler struct {
	sessions services.SessionService
	streams  services.StreamService
	log      *logrus.Logger
}

func NewTTSHandler(sessions services.SessionService, streams services.StreamService, log *logrus.Logger) *TTSHandler {
	return &TTSHandler{sessions: sessions, streams: streams, log: log}
}

type PrepareRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type PrepareResponse struct {
	Token        string `json:"token"`
	SegmentCount int    `json:"segmentCount"`
	Language     string `json:"language"`
}

func (h *TTSHandler) Prepare(c *gin.Context) {
	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TTSHandler.Prepare", "invalid request body", err))
		return
	}

	job, err := h.sessions.Create(c.Request.Context(), req.Text, req.Lang)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, PrepareResponse{
		Token:        job.Token,
		SegmentCount: len(job.Segments),
		Language:     job.Language,
	})
}

// Stream consumes the token and sends the synthesized audio as it is produced. The body
// length is unknown up front, so the response is chunked and the archived file name is
// announced in a trailer.
func (h *TTSHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	job, err := h.sessions.Consume(ctx, tokenParam(c))
	if err != nil {
		writeError(c, err)
		return
	}

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", services.AudioMIME)
	hdr.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("Trailer", ArchiveFileTrailer)
	hdr.Del("Content-Length")

	res, err := h.streams.Stream(ctx, job, c.Writer)
	if err == nil {
		hdr.Set(ArchiveFileTrailer, res.Entry.Name)
		return
	}

	if res.Sent == 0 && !c.Writer.Written() {
		// nothing reached the client yet, so it still gets a proper error
		for _, k := range []string{"Content-Type", "Cache-Control", "Pragma", "X-Accel-Buffering", "Trailer"} {
			hdr.Del(k)
		}
		writeError(c, err)
		return
	}
	if utils.IsCode(err, utils.CodeUnavailable) {
		_ = c.Error(err)
		return
	}

	// Audio is already out; cutting the connection is the only way to signal a short stream.
	h.log.WithError(err).WithField("sent_bytes", res.Sent).Warn("aborting partial audio stream")
	panic(http.ErrAbortHandler)
}

func (h *TTSHandler) Progress(c *gin.Context) {
	p, err := h.sessions.Progress(c.Request.Context(), tokenParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
