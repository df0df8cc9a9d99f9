package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalmiddleware "github.com/fieldops/forms-api/internal/middleware"
	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/repository"
	"github.com/fieldops/forms-api/internal/service"
)

func TestExecutionRoutesIntegration(t *testing.T) {
	router := buildExecutionRouter(t)

	t.Run("create unauthorized", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/executions", bytes.NewBufferString(`{"form_version_id":"version-1"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("create success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/executions", bytes.NewBufferString(`{"form_version_id":"version-1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleTechnician))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"pending"`)
	})

	t.Run("create unknown version", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/executions", bytes.NewBufferString(`{"form_version_id":"missing"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleTechnician))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("start then start again is idempotent", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/executions/exec-1/start", nil)
		req.Header.Set("X-Test-Role", string(models.RoleTechnician))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"in_progress"`)

		req, _ = http.NewRequest(http.MethodPost, "/executions/exec-1/start", nil)
		req.Header.Set("X-Test-Role", string(models.RoleTechnician))
		resp = performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("cancel terminal execution conflicts", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/executions/exec-done/cancel", nil)
		req.Header.Set("X-Test-Role", string(models.RoleTechnician))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusConflict, resp.Code)
		require.Contains(t, resp.Body.String(), "INVALID_TRANSITION")
	})
}

func buildExecutionRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
			UserID: "test-user",
			Role:   models.UserRole(role),
		})
		c.Next()
	})

	now := time.Now().UTC()
	repo := &executionStoreMock{
		executions: map[string]*models.FormExecution{
			"exec-1": {ID: "exec-1", FormVersionID: "version-1", UserID: "test-user", Status: models.ExecutionStatusPending, CreatedAt: now},
			"exec-done": {ID: "exec-done", FormVersionID: "version-1", UserID: "test-user", Status: models.ExecutionStatusCompleted, CreatedAt: now, CompletedAt: &now},
		},
	}
	svc := service.NewExecutionService(repo, versionReaderMock{}, responseListerMock{}, nil, nil, zap.NewNop())
	h := NewExecutionHandler(svc)

	router.POST("/executions", h.Create)
	router.POST("/executions/:id/start", h.Start)
	router.POST("/executions/:id/complete", h.Complete)
	router.POST("/executions/:id/cancel", h.Cancel)
	router.GET("/executions/:id", h.Get)

	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type executionStoreMock struct {
	executions map[string]*models.FormExecution
}

func (m *executionStoreMock) Create(ctx context.Context, exec *models.FormExecution) error {
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *executionStoreMock) FindByID(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, ok := m.executions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *exec
	return &cp, nil
}

func (m *executionStoreMock) List(ctx context.Context, filter models.ExecutionFilter) ([]models.FormExecution, error) {
	out := make([]models.FormExecution, 0, len(m.executions))
	for _, exec := range m.executions {
		out = append(out, *exec)
	}
	return out, nil
}

func (m *executionStoreMock) Update(ctx context.Context, id string, params repository.UpdateExecutionParams) error {
	exec, ok := m.executions[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.FromStatus != nil && exec.Status != *params.FromStatus {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		exec.Status = *params.Status
	}
	if params.StartedAt != nil {
		exec.StartedAt = params.StartedAt
	}
	if params.CompletedAt != nil {
		exec.CompletedAt = params.CompletedAt
	}
	return nil
}

func (m *executionStoreMock) CountVersionTasks(ctx context.Context, versionID string) (int, error) {
	return 0, nil
}

func (m *executionStoreMock) CountCompletedResponses(ctx context.Context, executionID string) (int, error) {
	return 0, nil
}

func (m *executionStoreMock) ListMissingRequiredTasks(ctx context.Context, executionID, versionID string) ([]models.FormTask, error) {
	return nil, nil
}

type versionReaderMock struct{}

func (versionReaderMock) FindVersionByID(ctx context.Context, id string) (*models.FormVersion, error) {
	if id != "version-1" {
		return nil, sql.ErrNoRows
	}
	return &models.FormVersion{ID: "version-1", FormID: "form-1", VersionNumber: 1}, nil
}

type responseListerMock struct{}

func (responseListerMock) ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error) {
	return nil, nil
}
