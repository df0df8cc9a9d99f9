package handler

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/service"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
	"github.com/fieldops/forms-api/pkg/response"
)

// AttachmentHandler handles response attachment endpoints.
type AttachmentHandler struct {
	service *service.AttachmentService
}

// NewAttachmentHandler creates a new attachment handler.
func NewAttachmentHandler(svc *service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: svc}
}

// Upload godoc
// @Summary Upload attachment
// @Description Upload a photo or file attachment to a task response
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Response ID"
// @Param type formData string true "Attachment type (photo or file)"
// @Param file formData file true "File to upload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /responses/{id}/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	attType := models.AttachmentType(c.PostForm("type"))
	if attType == "" {
		attType = models.AttachmentType(c.Query("type"))
	}
	if !attType.Valid() {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "type must be photo or file"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to open upload"))
		return
	}
	defer src.Close()

	content, ok := src.(io.ReadSeeker)
	if !ok {
		raw, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
			return
		}
		content = bytes.NewReader(raw)
	}

	upload := service.AttachmentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  content,
	}

	attachment, err := h.service.Upload(c.Request.Context(), c.Param("id"), attType, upload, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, attachment)
}

// List godoc
// @Summary List attachments
// @Description List attachments of a task response
// @Tags Attachments
// @Produce json
// @Param id path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Router /responses/{id}/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	attachments, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, attachments, nil)
}

// Download godoc
// @Summary Download attachment
// @Description Stream the attachment file content
// @Tags Attachments
// @Produce octet-stream
// @Param id path string true "Attachment ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /attachments/{id}/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	download, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	c.Header("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	c.DataFromReader(http.StatusOK, download.SizeBytes, download.MimeType, download.File, nil)
}

// Delete godoc
// @Summary Delete attachment
// @Description Delete an attachment and its stored file
// @Tags Attachments
// @Produce json
// @Param id path string true "Attachment ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /attachments/{id} [delete]
func (h *AttachmentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
