package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/forms-api/internal/middleware"
	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/service"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
	"github.com/fieldops/forms-api/pkg/response"
)

// FormHandler handles form, task and version endpoints.
type FormHandler struct {
	service *service.FormService
}

// NewFormHandler creates a new form handler.
func NewFormHandler(svc *service.FormService) *FormHandler {
	return &FormHandler{service: svc}
}

// List godoc
// @Summary List forms
// @Description List forms with pagination and filtering
// @Tags Forms
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param active query bool false "Active filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /forms [get]
func (h *FormHandler) List(c *gin.Context) {
	var filter models.FormFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.Active = &val
		}
	}

	filter.CreatedBy = c.Query("created_by")
	filter.Search = c.Query("search")

	forms, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, forms, pagination)
}

// Get godoc
// @Summary Get form
// @Description Get form detail with draft tasks
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [get]
func (h *FormHandler) Get(c *gin.Context) {
	form, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, form, nil)
}

// Create godoc
// @Summary Create form
// @Description Create a new form in draft state
// @Tags Forms
// @Accept json
// @Produce json
// @Param payload body service.CreateFormRequest true "Create form payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms [post]
func (h *FormHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	form, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, form)
}

// Update godoc
// @Summary Update form
// @Description Update form metadata
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body service.UpdateFormRequest true "Update form payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [put]
func (h *FormHandler) Update(c *gin.Context) {
	var req service.UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	form, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, form, nil)
}

// Delete godoc
// @Summary Delete form
// @Description Soft delete a form, published versions stay readable
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [delete]
func (h *FormHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// AddTask godoc
// @Summary Add task
// @Description Add a draft task to a form
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body service.CreateTaskRequest true "Create task payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/tasks [post]
func (h *FormHandler) AddTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	task, err := h.service.AddTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, task)
}

// UpdateTask godoc
// @Summary Update task
// @Description Update a draft task
// @Tags Forms
// @Accept json
// @Produce json
// @Param taskId path string true "Task ID"
// @Param payload body service.UpdateTaskRequest true "Update task payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tasks/{taskId} [put]
func (h *FormHandler) UpdateTask(c *gin.Context) {
	var req service.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	task, err := h.service.UpdateTask(c.Request.Context(), c.Param("taskId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, task, nil)
}

// DeleteTask godoc
// @Summary Delete task
// @Description Delete a draft task
// @Tags Forms
// @Produce json
// @Param taskId path string true "Task ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /tasks/{taskId} [delete]
func (h *FormHandler) DeleteTask(c *gin.Context) {
	if err := h.service.DeleteTask(c.Request.Context(), c.Param("taskId")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Publish godoc
// @Summary Publish form
// @Description Freeze the current draft tasks into an immutable version
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/publish [post]
func (h *FormHandler) Publish(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	version, err := h.service.Publish(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, version)
}

// ListVersions godoc
// @Summary List versions
// @Description List published versions of a form
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Router /forms/{id}/versions [get]
func (h *FormHandler) ListVersions(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, versions, nil)
}

// GetVersion godoc
// @Summary Get version
// @Description Get a published version with its frozen tasks
// @Tags Forms
// @Produce json
// @Param versionId path string true "Version ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /versions/{versionId} [get]
func (h *FormHandler) GetVersion(c *gin.Context) {
	version, err := h.service.GetVersion(c.Request.Context(), c.Param("versionId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, version, nil)
}

// GetActiveVersion godoc
// @Summary Get active version
// @Description Get the latest published version of a form
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/versions/active [get]
func (h *FormHandler) GetActiveVersion(c *gin.Context) {
	version, cacheHit, err := h.service.GetActiveVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, version, nil, middleware.ExtractMeta(c))
}
