package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/dto"
	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/repository"
	"github.com/fieldops/forms-api/pkg/jobs"
	"github.com/fieldops/forms-api/pkg/storage"
)

type exportRepoStub struct {
	jobs map[string]*models.ExportJob
}

func newExportRepoStub() *exportRepoStub {
	return &exportRepoStub{jobs: map[string]*models.ExportJob{}}
}

func (r *exportRepoStub) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *exportRepoStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (r *exportRepoStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *exportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, job := range r.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *exportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newExportGeneratorForTest(t *testing.T) (*ExportGenerator, *executionRepoStub, *responseRepoStub) {
	t.Helper()
	executions := newExecutionRepoStub()
	responses := newResponseRepoStub()
	versions := newFormRepoStub()
	store, err := storage.NewLocalStorage(t.TempDir(), "/files")
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	gen := NewExportGenerator(executions, responses, versions, store, signer, ExportGeneratorConfig{APIPrefix: "/api/v1"}, zap.NewNop(), nil, nil)
	return gen, executions, responses
}

func newExportServiceForTest(t *testing.T) (*ExportService, *exportRepoStub, *queueStub, *ExportGenerator, *executionRepoStub) {
	t.Helper()
	repo := newExportRepoStub()
	queue := &queueStub{}
	gen, executions, _ := newExportGeneratorForTest(t)
	svc := NewExportService(repo, queue, gen, zap.NewNop(), ExportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
	})
	return svc, repo, queue, gen, executions
}

func TestExportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _, _ := newExportServiceForTest(t)
	resp, err := svc.CreateJob(context.Background(), dto.ExportRequest{
		Type:        models.ExportTypeResponses,
		ExecutionID: "exec-1",
		Format:      models.ExportFormatCSV,
	}, "supervisor-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	assert.Contains(t, repo.jobs, resp.ID)
}

func TestExportServiceCreateJobMissingExecution(t *testing.T) {
	svc, _, _, _, _ := newExportServiceForTest(t)
	_, err := svc.CreateJob(context.Background(), dto.ExportRequest{
		Type:   models.ExportTypeResponses,
		Format: models.ExportFormatCSV,
	}, "supervisor-1")
	require.Error(t, err)
}

func TestExportServiceCreateJobEnqueueFailure(t *testing.T) {
	svc, repo, queue, _, _ := newExportServiceForTest(t)
	queue.err = errors.New("queue full")

	_, err := svc.CreateJob(context.Background(), dto.ExportRequest{
		Type:        models.ExportTypeResponses,
		ExecutionID: "exec-1",
		Format:      models.ExportFormatCSV,
	}, "supervisor-1")
	require.Error(t, err)

	// the persisted job is failed, not left queued
	for _, job := range repo.jobs {
		assert.Equal(t, models.ExportStatusFailed, job.Status)
	}
}

func TestExportServiceGetStatusOwnership(t *testing.T) {
	svc, repo, _, _, _ := newExportServiceForTest(t)
	repo.jobs["job-1"] = &models.ExportJob{
		ID:        "job-1",
		Type:      models.ExportTypeResponses,
		Params:    models.ExportJobParams{ExecutionID: "exec-1", Format: models.ExportFormatCSV},
		Status:    models.ExportStatusProcessing,
		Progress:  10,
		CreatedBy: "tech-1",
	}

	resp, err := svc.GetStatus(context.Background(), "job-1", "tech-1", models.RoleTechnician)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusProcessing, resp.Status)

	_, err = svc.GetStatus(context.Background(), "job-1", "tech-2", models.RoleTechnician)
	require.Error(t, err)

	_, err = svc.GetStatus(context.Background(), "job-1", "supervisor-1", models.RoleSupervisor)
	require.NoError(t, err)
}

func TestExportServiceResolveDownload(t *testing.T) {
	svc, repo, _, gen, executions := newExportServiceForTest(t)
	executions.executions["exec-1"] = &models.FormExecution{
		ID:            "exec-1",
		FormVersionID: "version-1",
		Status:        models.ExecutionStatusCompleted,
	}
	job := &models.ExportJob{
		ID:        "job-download",
		Type:      models.ExportTypeResponses,
		Params:    models.ExportJobParams{ExecutionID: "exec-1", Format: models.ExportFormatCSV},
		Status:    models.ExportStatusFinished,
		Progress:  100,
		CreatedBy: "supervisor-1",
	}
	repo.jobs[job.ID] = job

	result, err := gen.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	download, err := svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	download.File.Close()
}

type generatorStub struct {
	result *ExportResult
	err    error
}

func (g generatorStub) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestExportWorkerHandleSuccess(t *testing.T) {
	repo := &exportRepoStub{
		jobs: map[string]*models.ExportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ExportTypeResponses,
				Params:    models.ExportJobParams{ExecutionID: "exec-1", Format: models.ExportFormatCSV},
				Status:    models.ExportStatusQueued,
				CreatedBy: "supervisor-1",
			},
		},
	}
	worker := NewExportWorker(repo, generatorStub{result: &ExportResult{URL: "/api/v1/exports/download/token"}}, nil, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, repo.jobs["job-1"].Status)
	require.Equal(t, 100, repo.jobs["job-1"].Progress)
	require.NotNil(t, repo.jobs["job-1"].ResultURL)
}

func TestExportWorkerHandleFailureExhaustsRetries(t *testing.T) {
	repo := &exportRepoStub{
		jobs: map[string]*models.ExportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ExportTypeResponses,
				Params:    models.ExportJobParams{ExecutionID: "exec-1", Format: models.ExportFormatCSV},
				Status:    models.ExportStatusQueued,
				CreatedBy: "supervisor-1",
			},
		},
	}
	worker := NewExportWorker(repo, generatorStub{err: errors.New("boom")}, nil, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	require.Equal(t, models.ExportStatusFailed, repo.jobs["job-1"].Status)
}

func TestExportWorkerHandleFailureRequeues(t *testing.T) {
	repo := &exportRepoStub{
		jobs: map[string]*models.ExportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ExportTypeResponses,
				Params:    models.ExportJobParams{ExecutionID: "exec-1", Format: models.ExportFormatCSV},
				Status:    models.ExportStatusQueued,
				CreatedBy: "supervisor-1",
			},
		},
	}
	worker := NewExportWorker(repo, generatorStub{err: errors.New("boom")}, nil, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	require.Equal(t, models.ExportStatusQueued, repo.jobs["job-1"].Status)
}

func TestExportGeneratorExecutionSummarySpansPages(t *testing.T) {
	executions := newExecutionRepoStub()
	responses := newResponseRepoStub()
	versions := newFormRepoStub()
	versions.versions["version-1"] = &models.FormVersion{ID: "version-1", FormID: "form-1", VersionNumber: 3, IsActive: true}
	executions.totalTasks = 4
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("exec-%03d", i)
		executions.executions[id] = &models.FormExecution{
			ID:            id,
			FormVersionID: "version-1",
			UserID:        "tech-1",
			Status:        models.ExecutionStatusCompleted,
		}
	}

	store, err := storage.NewLocalStorage(t.TempDir(), "/files")
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	gen := NewExportGenerator(executions, responses, versions, store, signer, ExportGeneratorConfig{APIPrefix: "/api/v1"}, zap.NewNop(), nil, nil)

	dataset, _, err := gen.buildExecutionSummaryDataset(context.Background(), models.ExportJobParams{VersionID: "version-1"})
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 150)
	assert.Equal(t, "exec-000", dataset.Rows[0]["Execution ID"])
	assert.Equal(t, "exec-149", dataset.Rows[149]["Execution ID"])
}
