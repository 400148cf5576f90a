package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/documents"
	"medical-center-server/internal/utils"
	"medical-center-server/internal/workflow"
)

// DocumentHandler exposes the prescription document pipeline.
type DocumentHandler struct {
	DB        *gorm.DB
	Documents *documents.Service
	Logger    zerolog.Logger
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(db *gorm.DB, svc *documents.Service, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{DB: db, Documents: svc, Logger: logger}
}

// Upload returns a handler that stores the multipart "file" of a visit when
// gate allows it. Nurse and pharmacist routes differ only in the gate.
func (h *DocumentHandler) Upload(gate workflow.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		visit, ok := loadVisit(c, h.DB, c.Param("id"))
		if !ok {
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				utils.PayloadTooLarge(c, fmt.Sprintf("File exceeds maximum allowed size of %d bytes", h.Documents.MaxBytes()))
				return
			}
			utils.BadRequest(c, "A file is required in the \"file\" field")
			return
		}
		if fh.Size > h.Documents.MaxBytes() {
			utils.PayloadTooLarge(c, fmt.Sprintf("File exceeds maximum allowed size of %d bytes", h.Documents.MaxBytes()))
			return
		}

		f, err := fh.Open()
		if err != nil {
			utils.BadRequest(c, "Uploaded file could not be read")
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, h.Documents.MaxBytes()+1))
		if err != nil {
			utils.BadRequest(c, "Uploaded file could not be read")
			return
		}

		receipt, err := h.Documents.Upload(c.Request.Context(), visit.ID, documents.Upload{
			Data:        data,
			ContentType: fh.Header.Get("Content-Type"),
			FileName:    fh.Filename,
		}, actorFrom(c), gate)
		if err != nil {
			writeDocumentError(c, h.Logger, err)
			return
		}
		utils.Created(c, "Document uploaded successfully", receipt)
	}
}

// View streams the decrypted document inline.
func (h *DocumentHandler) View(c *gin.Context) {
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	content, err := h.Documents.View(c.Request.Context(), visit.ID)
	if err != nil {
		writeDocumentError(c, h.Logger, err)
		return
	}
	h.send(c, content, "inline")
}

// Download sends the decrypted document as an attachment named after the
// patient's id number and the visit date.
func (h *DocumentHandler) Download(c *gin.Context) {
	visit, ok := loadVisit(c, h.DB, c.Param("id"))
	if !ok {
		return
	}
	content, err := h.Documents.Download(c.Request.Context(), visit.ID)
	if err != nil {
		writeDocumentError(c, h.Logger, err)
		return
	}
	h.send(c, content, "attachment; filename="+strconv.Quote(content.FileName))
}

func (h *DocumentHandler) send(c *gin.Context, content *documents.Content, disposition string) {
	c.Header("Content-Disposition", disposition)
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, content.MimeType, content.Data)
}
