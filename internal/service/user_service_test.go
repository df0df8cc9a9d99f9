package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type userRepoStub struct {
	users     map[string]*models.User
	byEmail   map[string]*models.User
	auditLogs []*models.AuditLog
	deleted   []string
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[string]*models.User), byEmail: make(map[string]*models.User)}
}

func (m *userRepoStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *userRepoStub) Create(ctx context.Context, user *models.User) error {
	cp := *user
	m.users[user.ID] = &cp
	m.byEmail[user.Email] = &cp
	return nil
}

func (m *userRepoStub) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *userRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	m.deleted = append(m.deleted, id)
	delete(m.users, id)
	return nil
}

func (m *userRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func TestUserServiceCreate(t *testing.T) {
	repo := newUserRepoStub()
	svc := NewUserService(repo, nil, zap.NewNop())

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Tech@Example.com",
		FullName: "Field Tech",
		Role:     models.RoleTechnician,
		Active:   true,
		Password: "secret1",
	}, "admin-1", models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "tech@example.com", user.Email)
	assert.NotEmpty(t, user.ID)

	stored := repo.users[user.ID]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := newUserRepoStub()
	repo.byEmail["tech@example.com"] = &models.User{ID: "u1", Email: "tech@example.com"}
	svc := NewUserService(repo, nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "tech@example.com",
		FullName: "Field Tech",
		Role:     models.RoleTechnician,
		Password: "secret1",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateRejectsUnknownRole(t *testing.T) {
	repo := newUserRepoStub()
	svc := NewUserService(repo, nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "tech@example.com",
		FullName: "Field Tech",
		Role:     "JANITOR",
		Password: "secret1",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdate(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["u1"] = &models.User{ID: "u1", Email: "tech@example.com", FullName: "Old Name", Role: models.RoleTechnician, Active: true}
	svc := NewUserService(repo, nil, zap.NewNop())

	inactive := false
	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		FullName: "New Name",
		Role:     models.RoleSupervisor,
		Active:   &inactive,
	}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "New Name", user.FullName)
	assert.Equal(t, models.RoleSupervisor, user.Role)
	assert.False(t, user.Active)
	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionUserUpdate, repo.auditLogs[0].Action)
}

func TestUserServiceDelete(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["u1"] = &models.User{ID: "u1", Email: "tech@example.com"}
	svc := NewUserService(repo, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "u1", "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Contains(t, repo.deleted, "u1")

	err = svc.Delete(context.Background(), "missing", "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
