package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type attachmentRepository interface {
	Create(ctx context.Context, att *models.ResponseAttachment) error
	FindByID(ctx context.Context, id string) (*models.ResponseAttachment, error)
	ListByResponse(ctx context.Context, responseID string) ([]models.ResponseAttachment, error)
	Delete(ctx context.Context, id string) error
}

type attachmentResponseReader interface {
	FindByID(ctx context.Context, id string) (*models.TaskResponse, error)
}

type attachmentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// AttachmentUpload carries upload metadata and stream reader.
type AttachmentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// AttachmentDownload bundles file reader metadata for streaming.
type AttachmentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
}

// AttachmentServiceConfig holds validation parameters.
type AttachmentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// AttachmentService manages attachment metadata and storage IO.
type AttachmentService struct {
	repo       attachmentRepository
	responses  attachmentResponseReader
	executions executionReader
	storage    attachmentFileStorage
	logger     *zap.Logger
	cfg        AttachmentServiceConfig
	mimeSet    map[string]struct{}
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(repo attachmentRepository, responses attachmentResponseReader, executions executionReader, storage attachmentFileStorage, logger *zap.Logger, cfg AttachmentServiceConfig) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 20 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{
			"image/jpeg",
			"image/png",
			"image/webp",
			"application/pdf",
			"application/zip",
		}
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &AttachmentService{
		repo:       repo,
		responses:  responses,
		executions: executions,
		storage:    storage,
		logger:     logger,
		cfg:        cfg,
		mimeSet:    mimeSet,
	}
}

// Upload stores the physical file and persists attachment metadata. The
// attachment type must fit the response's snapshot task type.
func (s *AttachmentService) Upload(ctx context.Context, responseID string, attType models.AttachmentType, upload AttachmentUpload, uploadedBy string) (*models.ResponseAttachment, error) {
	if !attType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported attachment type %s", attType))
	}
	resp, err := s.loadResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureExecutionInProgress(ctx, resp.FormExecutionID); err != nil {
		return nil, err
	}
	if err := validateAttachmentKind(resp.TaskType(), attType); err != nil {
		return nil, err
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	maxSize := s.cfg.MaxFileSize
	if cfgMax := resp.TaskConfiguration().MaxFileSize; cfgMax > 0 && cfgMax < maxSize {
		maxSize = cfgMax
	}
	if upload.Size > maxSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", maxSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if err := s.checkMime(resp, mimeType); err != nil {
		return nil, err
	}
	if err := s.checkPhotoQuota(ctx, resp, attType); err != nil {
		return nil, err
	}

	filename := s.generateFilename(responseID, upload.Filename, mimeType)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist attachment file")
	}

	att := &models.ResponseAttachment{
		TaskResponseID: responseID,
		Type:           attType,
		FilePath:       path,
		FileName:       upload.Filename,
		MimeType:       mimeType,
		SizeBytes:      upload.Size,
		UploadedBy:     uploadedBy,
	}
	if err := s.repo.Create(ctx, att); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create attachment metadata")
	}
	return att, nil
}

// List returns attachments of a response.
func (s *AttachmentService) List(ctx context.Context, responseID string) ([]models.ResponseAttachment, error) {
	if _, err := s.loadResponse(ctx, responseID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByResponse(ctx, responseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	return items, nil
}

// Download opens the attachment file for streaming.
func (s *AttachmentService) Download(ctx context.Context, id string) (*AttachmentDownload, error) {
	att, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	file, err := s.storage.Open(att.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attachment metadata")
	}
	return &AttachmentDownload{
		File:      file,
		Filename:  att.FileName,
		MimeType:  att.MimeType,
		SizeBytes: info.Size(),
	}, nil
}

// Delete removes the attachment record, then the stored file. The record is
// authoritative: a storage failure is logged and the delete still succeeds.
func (s *AttachmentService) Delete(ctx context.Context, id string) error {
	att, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attachment")
	}
	if err := s.storage.Delete(att.FilePath); err != nil {
		s.logger.Warn("attachment file removal failed",
			zap.String("attachment_id", id),
			zap.String("path", att.FilePath),
			zap.Error(err))
	}
	return nil
}

func (s *AttachmentService) find(ctx context.Context, id string) (*models.ResponseAttachment, error) {
	att, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	return att, nil
}

func (s *AttachmentService) loadResponse(ctx context.Context, responseID string) (*models.TaskResponse, error) {
	resp, err := s.responses.FindByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}
	return resp, nil
}

func (s *AttachmentService) ensureExecutionInProgress(ctx context.Context, executionID string) error {
	if s.executions == nil {
		return nil
	}
	exec, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "execution not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load execution")
	}
	if exec.Status != models.ExecutionStatusInProgress {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "execution is not in progress")
	}
	return nil
}

func validateAttachmentKind(taskType models.TaskType, attType models.AttachmentType) error {
	switch taskType {
	case models.TaskTypePhoto:
		if attType != models.AttachmentTypePhoto {
			return appErrors.Clone(appErrors.ErrValidation, "photo task only accepts photo attachments")
		}
	case models.TaskTypeFileUpload:
		if attType != models.AttachmentTypeFile {
			return appErrors.Clone(appErrors.ErrValidation, "file_upload task only accepts file attachments")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s task does not accept attachments", taskType))
	}
	return nil
}

func (s *AttachmentService) checkMime(resp *models.TaskResponse, mimeType string) error {
	lowered := strings.ToLower(mimeType)
	if _, allowed := s.mimeSet[lowered]; !allowed {
		return appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}
	taskMIMEs := resp.TaskConfiguration().AllowedMIMEs
	if len(taskMIMEs) == 0 {
		return nil
	}
	for _, mt := range taskMIMEs {
		if strings.ToLower(mt) == lowered {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrValidation, "mime type not allowed for this task")
}

func (s *AttachmentService) checkPhotoQuota(ctx context.Context, resp *models.TaskResponse, attType models.AttachmentType) error {
	if attType != models.AttachmentTypePhoto {
		return nil
	}
	maxPhotos := resp.TaskConfiguration().MaxPhotos
	if maxPhotos <= 0 {
		return nil
	}
	existing, err := s.repo.ListByResponse(ctx, resp.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attachments")
	}
	if len(existing) >= maxPhotos {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d photos allowed", maxPhotos))
	}
	return nil
}

func (s *AttachmentService) detectMime(upload AttachmentUpload) (string, error) {
	if upload.Content == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	if upload.MimeType != "" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

func (s *AttachmentService) generateFilename(responseID, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = attachmentExtension(mimeType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("attachment_%s_%d_%s%s", responseID, time.Now().Unix(), attachmentSuffix(), ext)
}

func attachmentExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	default:
		return ""
	}
}

func attachmentSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
