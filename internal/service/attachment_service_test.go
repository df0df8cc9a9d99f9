package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type attachmentRepoStub struct {
	attachments map[string]*models.ResponseAttachment
}

func newAttachmentRepoStub() *attachmentRepoStub {
	return &attachmentRepoStub{attachments: map[string]*models.ResponseAttachment{}}
}

func (r *attachmentRepoStub) Create(ctx context.Context, att *models.ResponseAttachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	copied := *att
	r.attachments[att.ID] = &copied
	return nil
}

func (r *attachmentRepoStub) FindByID(ctx context.Context, id string) (*models.ResponseAttachment, error) {
	att, ok := r.attachments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *att
	return &copied, nil
}

func (r *attachmentRepoStub) ListByResponse(ctx context.Context, responseID string) ([]models.ResponseAttachment, error) {
	var out []models.ResponseAttachment
	for _, att := range r.attachments {
		if att.TaskResponseID == responseID {
			out = append(out, *att)
		}
	}
	return out, nil
}

func (r *attachmentRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := r.attachments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.attachments, id)
	return nil
}

type fileStorageStub struct {
	saved     map[string][]byte
	deleted   []string
	deleteErr error
}

func newFileStorageStub() *fileStorageStub {
	return &fileStorageStub{saved: map[string][]byte{}}
}

func (s *fileStorageStub) SaveStream(filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.saved[filename] = data
	return filename, nil
}

func (s *fileStorageStub) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (s *fileStorageStub) Delete(filename string) error {
	s.deleted = append(s.deleted, filename)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.saved, filename)
	return nil
}

func newAttachmentServiceForTest(t *testing.T) (*AttachmentService, *attachmentRepoStub, *responseRepoStub, *executionRepoStub, *fileStorageStub) {
	t.Helper()
	repo := newAttachmentRepoStub()
	responses := newResponseRepoStub()
	executions := newExecutionRepoStub()
	store := newFileStorageStub()
	svc := NewAttachmentService(repo, responses, executions, store, zap.NewNop(), AttachmentServiceConfig{})
	return svc, repo, responses, executions, store
}

func seedAttachmentFixtures(responses *responseRepoStub, executions *executionRepoStub, taskType models.TaskType, cfg models.TaskConfiguration, status models.ExecutionStatus) {
	executions.executions["exec-1"] = &models.FormExecution{
		ID:            "exec-1",
		FormVersionID: "version-1",
		Status:        status,
	}
	responses.responses["resp-1"] = &models.TaskResponse{
		ID:              "resp-1",
		FormExecutionID: "exec-1",
		FormTaskID:      "t1",
		TaskSnapshot: models.TaskSnapshot{
			Type:          taskType,
			Configuration: cfg,
		},
	}
}

func jpegUpload(size int) AttachmentUpload {
	return AttachmentUpload{
		Filename: "evidence.jpg",
		Size:     int64(size),
		MimeType: "image/jpeg",
		Content:  bytes.NewReader(make([]byte, size)),
	}
}

func TestAttachmentServiceUploadPhoto(t *testing.T) {
	svc, repo, responses, executions, store := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypePhoto, models.TaskConfiguration{}, models.ExecutionStatusInProgress)

	att, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypePhoto, jpegUpload(128), "tech-1")
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentTypePhoto, att.Type)
	assert.Equal(t, "evidence.jpg", att.FileName)
	assert.Equal(t, "image/jpeg", att.MimeType)
	assert.Contains(t, repo.attachments, att.ID)
	assert.Len(t, store.saved, 1)
}

func TestAttachmentServiceUploadKindMismatch(t *testing.T) {
	svc, _, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypePhoto, models.TaskConfiguration{}, models.ExecutionStatusInProgress)

	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypeFile, jpegUpload(128), "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceUploadToQuestionTask(t *testing.T) {
	svc, _, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypeQuestion, models.TaskConfiguration{}, models.ExecutionStatusInProgress)

	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypePhoto, jpegUpload(128), "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceUploadRequiresInProgress(t *testing.T) {
	svc, _, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypePhoto, models.TaskConfiguration{}, models.ExecutionStatusCompleted)

	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypePhoto, jpegUpload(128), "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceUploadTaskSizeLimit(t *testing.T) {
	svc, _, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypeFileUpload, models.TaskConfiguration{MaxFileSize: 64}, models.ExecutionStatusInProgress)

	upload := AttachmentUpload{
		Filename: "report.pdf",
		Size:     128,
		MimeType: "application/pdf",
		Content:  bytes.NewReader(make([]byte, 128)),
	}
	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypeFile, upload, "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceUploadMimeRejected(t *testing.T) {
	svc, _, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypeFileUpload, models.TaskConfiguration{}, models.ExecutionStatusInProgress)

	upload := AttachmentUpload{
		Filename: "payload.exe",
		Size:     32,
		MimeType: "application/x-msdownload",
		Content:  bytes.NewReader(make([]byte, 32)),
	}
	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypeFile, upload, "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceUploadPhotoQuota(t *testing.T) {
	svc, repo, responses, executions, _ := newAttachmentServiceForTest(t)
	seedAttachmentFixtures(responses, executions, models.TaskTypePhoto, models.TaskConfiguration{MaxPhotos: 1}, models.ExecutionStatusInProgress)
	repo.attachments["existing"] = &models.ResponseAttachment{
		ID:             "existing",
		TaskResponseID: "resp-1",
		Type:           models.AttachmentTypePhoto,
	}

	_, err := svc.Upload(context.Background(), "resp-1", models.AttachmentTypePhoto, jpegUpload(128), "tech-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttachmentServiceDeleteSurvivesStorageFailure(t *testing.T) {
	svc, repo, _, _, store := newAttachmentServiceForTest(t)
	repo.attachments["att-1"] = &models.ResponseAttachment{
		ID:             "att-1",
		TaskResponseID: "resp-1",
		Type:           models.AttachmentTypePhoto,
		FilePath:       "attachment_resp-1.jpg",
	}
	store.deleteErr = errors.New("disk detached")

	// the metadata record is authoritative; a storage failure only logs
	require.NoError(t, svc.Delete(context.Background(), "att-1"))
	assert.NotContains(t, repo.attachments, "att-1")
	assert.Equal(t, []string{"attachment_resp-1.jpg"}, store.deleted)
}
