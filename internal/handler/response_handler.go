package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/forms-api/internal/service"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
	"github.com/fieldops/forms-api/pkg/response"
)

// ResponseHandler handles task response endpoints.
type ResponseHandler struct {
	service *service.ResponseService
}

// NewResponseHandler creates a new response handler.
func NewResponseHandler(svc *service.ResponseService) *ResponseHandler {
	return &ResponseHandler{service: svc}
}

// Create godoc
// @Summary Create response
// @Description Open a task response with a frozen task snapshot
// @Tags Responses
// @Accept json
// @Produce json
// @Param id path string true "Execution ID"
// @Param payload body service.CreateResponseRequest true "Create response payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /executions/{id}/responses [post]
func (h *ResponseHandler) Create(c *gin.Context) {
	var req service.CreateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resp)
}

// Get godoc
// @Summary Get response
// @Description Get a task response with its snapshot
// @Tags Responses
// @Produce json
// @Param id path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /responses/{id} [get]
func (h *ResponseHandler) Get(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resp, nil)
}

// Complete godoc
// @Summary Complete response
// @Description Record an answer validated against the frozen snapshot
// @Tags Responses
// @Accept json
// @Produce json
// @Param id path string true "Response ID"
// @Param payload body service.CompleteResponseRequest true "Complete response payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /responses/{id}/complete [post]
func (h *ResponseHandler) Complete(c *gin.Context) {
	var req service.CompleteResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	resp, err := h.service.Complete(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resp, nil)
}

// ListByExecution godoc
// @Summary List responses
// @Description List responses of an execution
// @Tags Responses
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Router /executions/{id}/responses [get]
func (h *ResponseHandler) ListByExecution(c *gin.Context) {
	responses, err := h.service.ListByExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, responses, nil)
}
