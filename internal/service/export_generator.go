package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/pkg/export"
	"github.com/fieldops/forms-api/pkg/storage"
)

type exportExecutionSource interface {
	FindByID(ctx context.Context, id string) (*models.FormExecution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]models.FormExecution, error)
	CountVersionTasks(ctx context.Context, versionID string) (int, error)
	CountCompletedResponses(ctx context.Context, executionID string) (int, error)
}

type exportResponseSource interface {
	ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error)
}

type exportVersionSource interface {
	FindVersionByID(ctx context.Context, id string) (*models.FormVersion, error)
	FindActiveVersion(ctx context.Context, formID string) (*models.FormVersion, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportGeneratorConfig tunes export generation.
type ExportGeneratorConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportGenerator builds export datasets from execution data and persists the
// rendered files.
type ExportGenerator struct {
	executions exportExecutionSource
	responses  exportResponseSource
	versions   exportVersionSource
	storage    exportFileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportGeneratorConfig
}

// NewExportGenerator constructs an ExportGenerator.
func NewExportGenerator(executions exportExecutionSource, responses exportResponseSource, versions exportVersionSource, store exportFileStorage, signer *storage.SignedURLSigner, cfg ExportGeneratorConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportGenerator{
		executions: executions,
		responses:  responses,
		versions:   versions,
		storage:    store,
		csv:        csv,
		pdf:        pdf,
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate builds the dataset according to the job definition and stores the
// rendered export.
func (g *ExportGenerator) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := g.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = g.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = g.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := g.buildFilename(job)
	relPath, err := g.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := g.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(g.cfg.APIPrefix, "/")
	if base == "" {
		base = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/exports/download/%s", base, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (g *ExportGenerator) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return g.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (g *ExportGenerator) Open(relPath string) (*os.File, error) {
	return g.storage.Open(relPath)
}

// Delete removes a stored export file.
func (g *ExportGenerator) Delete(relPath string) error {
	return g.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (g *ExportGenerator) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = g.cfg.ResultTTL
	}
	return g.storage.CleanupOlderThan(ttl)
}

func (g *ExportGenerator) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	ref := job.Params.ExecutionID
	if ref == "" {
		ref = job.Params.VersionID
	}
	if ref == "" {
		ref = job.Params.FormID
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), sanitizeFilename(ref), timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (g *ExportGenerator) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ExportTypeExecutionSummary:
		return g.buildExecutionSummaryDataset(ctx, job.Params)
	case models.ExportTypeResponses:
		return g.buildResponsesDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export type %s", job.Type)
	}
}

func (g *ExportGenerator) buildExecutionSummaryDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	version, err := g.resolveVersion(ctx, params)
	if err != nil {
		return export.Dataset{}, "", err
	}
	total, err := g.executions.CountVersionTasks(ctx, version.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	execs, err := g.listAllExecutions(ctx, version.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows := make([]map[string]string, 0, len(execs))
	for _, exec := range execs {
		completed, err := g.executions.CountCompletedResponses(ctx, exec.ID)
		if err != nil {
			return export.Dataset{}, "", err
		}
		rows = append(rows, map[string]string{
			"Execution ID": exec.ID,
			"User ID":      exec.UserID,
			"Status":       string(exec.Status),
			"Completed":    fmt.Sprintf("%d/%d", completed, total),
			"Started At":   formatExportTime(exec.StartedAt),
			"Completed At": formatExportTime(exec.CompletedAt),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Execution ID", "User ID", "Status", "Completed", "Started At", "Completed At"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Execution Summary v%d", version.VersionNumber)
	return dataset, title, nil
}

// listAllExecutions drains every page of the version's executions; the
// repository caps a single page at 100 rows.
func (g *ExportGenerator) listAllExecutions(ctx context.Context, versionID string) ([]models.FormExecution, error) {
	const pageSize = 100
	var all []models.FormExecution
	for page := 1; ; page++ {
		batch, err := g.executions.List(ctx, models.ExecutionFilter{FormVersionID: versionID, Page: page, PageSize: pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

func (g *ExportGenerator) buildResponsesDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	if params.ExecutionID == "" {
		return export.Dataset{}, "", fmt.Errorf("executionId required for responses export")
	}
	if _, err := g.executions.FindByID(ctx, params.ExecutionID); err != nil {
		return export.Dataset{}, "", err
	}
	responses, err := g.responses.ListByExecution(ctx, params.ExecutionID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows := make([]map[string]string, 0, len(responses))
	for _, resp := range responses {
		rows = append(rows, map[string]string{
			"Position":     fmt.Sprintf("%d", resp.TaskSnapshot.Position),
			"Task":         resp.TaskSnapshot.Description,
			"Type":         string(resp.TaskType()),
			"Required":     fmt.Sprintf("%t", resp.TaskIsRequired()),
			"Completed":    fmt.Sprintf("%t", resp.IsCompleted),
			"Answer":       formatAnswer(resp),
			"Responded At": formatExportTime(resp.RespondedAt),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Position", "Task", "Type", "Required", "Completed", "Answer", "Responded At"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Responses %s", params.ExecutionID)
	return dataset, title, nil
}

func (g *ExportGenerator) resolveVersion(ctx context.Context, params models.ExportJobParams) (*models.FormVersion, error) {
	if params.VersionID != "" {
		return g.versions.FindVersionByID(ctx, params.VersionID)
	}
	if params.FormID != "" {
		return g.versions.FindActiveVersion(ctx, params.FormID)
	}
	return nil, fmt.Errorf("formId or versionId required for execution summary export")
}

// formatAnswer renders the payload field that matches the snapshot task type.
func formatAnswer(resp models.TaskResponse) string {
	if resp.Response == nil {
		return ""
	}
	p := resp.Response
	switch resp.TaskType() {
	case models.TaskTypeQuestion:
		return p.Text
	case models.TaskTypeMultipleChoice:
		return p.SelectedOption
	case models.TaskTypeMultipleSelect:
		return strings.Join(p.SelectedOptions, "; ")
	case models.TaskTypeMeasurement:
		if p.MeasurementValue == nil {
			return ""
		}
		unit := resp.TaskConfiguration().Unit
		if unit != "" {
			return fmt.Sprintf("%.4g %s", *p.MeasurementValue, unit)
		}
		return fmt.Sprintf("%.4g", *p.MeasurementValue)
	case models.TaskTypeCodeReader:
		return p.Code
	case models.TaskTypePhoto, models.TaskTypeFileUpload:
		return fmt.Sprintf("%d file(s)", p.FileCount)
	default:
		return ""
	}
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
