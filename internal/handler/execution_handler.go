package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/service"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
	"github.com/fieldops/forms-api/pkg/response"
)

// ExecutionHandler handles form execution lifecycle endpoints.
type ExecutionHandler struct {
	service *service.ExecutionService
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(svc *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{service: svc}
}

// Create godoc
// @Summary Create execution
// @Description Start a new execution of a published form version
// @Tags Executions
// @Accept json
// @Produce json
// @Param payload body service.CreateExecutionRequest true "Create execution payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /executions [post]
func (h *ExecutionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	execution, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, execution)
}

// List godoc
// @Summary List executions
// @Description List executions with filtering
// @Tags Executions
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param form_version_id query string false "Form version filter"
// @Param user_id query string false "User filter"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /executions [get]
func (h *ExecutionHandler) List(c *gin.Context) {
	var filter models.ExecutionFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	filter.FormVersionID = c.Query("form_version_id")
	filter.UserID = c.Query("user_id")
	filter.Status = models.ExecutionStatus(c.Query("status"))

	// Technicians only see their own executions.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleTechnician {
		filter.UserID = claims.UserID
	}

	executions, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, executions, nil)
}

// Get godoc
// @Summary Get execution
// @Description Get execution detail
// @Tags Executions
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /executions/{id} [get]
func (h *ExecutionHandler) Get(c *gin.Context) {
	execution, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, execution, nil)
}

// Start godoc
// @Summary Start execution
// @Description Transition a pending execution to in progress
// @Tags Executions
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /executions/{id}/start [post]
func (h *ExecutionHandler) Start(c *gin.Context) {
	execution, err := h.service.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, execution, nil)
}

// Complete godoc
// @Summary Complete execution
// @Description Complete an in progress execution once required tasks are answered
// @Tags Executions
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /executions/{id}/complete [post]
func (h *ExecutionHandler) Complete(c *gin.Context) {
	execution, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, execution, nil)
}

// Cancel godoc
// @Summary Cancel execution
// @Description Cancel an execution from any non-terminal state
// @Tags Executions
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /executions/{id}/cancel [post]
func (h *ExecutionHandler) Cancel(c *gin.Context) {
	execution, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, execution, nil)
}

// Progress godoc
// @Summary Execution progress
// @Description Report completion progress and missing required tasks
// @Tags Executions
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /executions/{id}/progress [get]
func (h *ExecutionHandler) Progress(c *gin.Context) {
	progress, err := h.service.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, progress, nil)
}
