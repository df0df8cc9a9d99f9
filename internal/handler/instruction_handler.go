package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/forms-api/internal/service"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
	"github.com/fieldops/forms-api/pkg/response"
)

// InstructionHandler handles task instruction endpoints.
type InstructionHandler struct {
	service *service.InstructionService
}

// NewInstructionHandler creates a new instruction handler.
func NewInstructionHandler(svc *service.InstructionService) *InstructionHandler {
	return &InstructionHandler{service: svc}
}

// Create godoc
// @Summary Create instruction
// @Description Attach an instruction to a draft task
// @Tags Instructions
// @Accept json
// @Produce json
// @Param taskId path string true "Task ID"
// @Param payload body service.CreateInstructionRequest true "Create instruction payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tasks/{taskId}/instructions [post]
func (h *InstructionHandler) Create(c *gin.Context) {
	var req service.CreateInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	instruction, err := h.service.Create(c.Request.Context(), c.Param("taskId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, instruction)
}

// ListByTask godoc
// @Summary List instructions
// @Description List instructions of a task ordered by position
// @Tags Instructions
// @Produce json
// @Param taskId path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{taskId}/instructions [get]
func (h *InstructionHandler) ListByTask(c *gin.Context) {
	instructions, err := h.service.ListByTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, instructions, nil)
}

// Update godoc
// @Summary Update instruction
// @Description Update an instruction on a draft task
// @Tags Instructions
// @Accept json
// @Produce json
// @Param id path string true "Instruction ID"
// @Param payload body service.UpdateInstructionRequest true "Update instruction payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instructions/{id} [put]
func (h *InstructionHandler) Update(c *gin.Context) {
	var req service.UpdateInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	instruction, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, instruction, nil)
}

// Delete godoc
// @Summary Delete instruction
// @Description Remove an instruction from a draft task
// @Tags Instructions
// @Produce json
// @Param id path string true "Instruction ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /instructions/{id} [delete]
func (h *InstructionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
