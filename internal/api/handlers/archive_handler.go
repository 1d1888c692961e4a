package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/services"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

type ArchiveHandler struct {
	archive services.ArchiveService
}

func NewArchiveHandler(archive services.ArchiveService) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

type ArchiveListResponse struct {
	Files []models.ArchiveEntry `json:"files"`
}

type DeleteRequest struct {
	File string `json:"file" binding:"required"`
}

func (h *ArchiveHandler) List(c *gin.Context) {
	files, err := h.archive.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ArchiveListResponse{Files: files})
}

// Audio serves an archived file; http.ServeFile answers Range and conditional requests.
func (h *ArchiveHandler) Audio(c *gin.Context) {
	path, err := h.archive.Resolve(c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", services.AudioMIME)
	c.Header("Cache-Control", "private, max-age=3600")
	http.ServeFile(c.Writer, c.Request, path)
}

func (h *ArchiveHandler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ArchiveHandler.Delete", "file is required", err))
		return
	}
	if err := h.archive.Delete(c.Request.Context(), req.File); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": req.File})
}
