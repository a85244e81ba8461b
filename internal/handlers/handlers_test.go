package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLeaseService struct {
	services.LeaseService
	mock.Mock
}

func (m *MockLeaseService) Acquire(ctx context.Context, copyID, ownerID string, ttl time.Duration) (*services.LeaseGrant, error) {
	args := m.Called(ctx, copyID, ownerID, ttl)
	if grant, ok := args.Get(0).(*services.LeaseGrant); ok {
		return grant, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLeaseService) Release(ctx context.Context, copyID, ownerID, token string) error {
	return m.Called(ctx, copyID, ownerID, token).Error(0)
}

type MockCopyService struct {
	services.CopyService
	mock.Mock
}

func (m *MockCopyService) GetCopy(ctx context.Context, copyID string) (*models.Copy, error) {
	args := m.Called(ctx, copyID)
	if cp, ok := args.Get(0).(*models.Copy); ok {
		return cp, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockServiceManager struct {
	services.ServiceManager
	copies *MockCopyService
	leases *MockLeaseService
}

func (m *MockServiceManager) Copy() services.CopyService             { return m.copies }
func (m *MockServiceManager) Lease() services.LeaseService           { return m.leases }
func (m *MockServiceManager) Annotation() services.AnnotationService { return nil }
func (m *MockServiceManager) Draft() services.DraftService           { return nil }
func (m *MockServiceManager) Finalize() services.FinalizeService     { return nil }
func (m *MockServiceManager) Dispatch() services.DispatchService     { return nil }
func (m *MockServiceManager) Audit() services.AuditService           { return nil }

func setupRouter(t *testing.T) (*gin.Engine, *MockServiceManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sm := &MockServiceManager{copies: &MockCopyService{}, leases: &MockLeaseService{}}
	logger := utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := gin.New()
	NewHandlerManager(sm, logger).SetupRoutes(router)
	return router, sm
}

func perform(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAcquireLease(t *testing.T) {
	router, sm := setupRouter(t)
	sm.leases.On("Acquire", mock.Anything, "copy-1", "t1", 90*time.Second).
		Return(&services.LeaseGrant{CopyID: "copy-1", OwnerID: "t1", Token: "tok", Created: true}, nil)

	w := perform(router, http.MethodPost, "/api/v1/copies/copy-1/lease", `{"ttl_seconds":90}`,
		map[string]string{HeaderActorID: "t1", HeaderRequestID: "req-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	var grant services.LeaseGrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	assert.Equal(t, "tok", grant.Token)
	sm.leases.AssertExpectations(t)
}

func TestAcquireLeasePassesCorrelationID(t *testing.T) {
	router, sm := setupRouter(t)
	sm.leases.On("Acquire", mock.MatchedBy(func(ctx context.Context) bool {
		return requestctx.CorrelationID(ctx) == "req-7"
	}), "copy-1", "t1", time.Duration(0)).Return(&services.LeaseGrant{Token: "tok"}, nil)

	w := perform(router, http.MethodPost, "/api/v1/copies/copy-1/lease", "",
		map[string]string{HeaderActorID: "t1", HeaderRequestID: "req-7"})
	assert.Equal(t, http.StatusOK, w.Code)
	sm.leases.AssertExpectations(t)
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	router, sm := setupRouter(t)

	w := perform(router, http.MethodPost, "/api/v1/copies/copy-1/lease", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	sm.leases.AssertNotCalled(t, "Acquire")
}

func TestReleaseForwardsLeaseToken(t *testing.T) {
	router, sm := setupRouter(t)
	sm.leases.On("Release", mock.Anything, "copy-1", "t1", "tok").Return(nil)

	w := perform(router, http.MethodDelete, "/api/v1/copies/copy-1/lease", "",
		map[string]string{HeaderActorID: "t1", HeaderLeaseToken: "tok"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	sm.leases.AssertExpectations(t)
}

func TestWorkflowErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"lock conflict", apperrors.ErrLockConflict.With("copy_id", "copy-1"), http.StatusConflict, "LockConflict"},
		{"lease expired", apperrors.ErrLeaseExpired, http.StatusGone, "LeaseExpired"},
		{"owner mismatch", apperrors.ErrOwnerMismatch, http.StatusForbidden, "OwnerMismatch"},
		{"transition", apperrors.ErrTransition, http.StatusUnprocessableEntity, "TransitionError"},
		{"already graded", apperrors.ErrAlreadyGraded, http.StatusUnprocessableEntity, "AlreadyGraded"},
		{"not found", apperrors.New(apperrors.CodeNotFound, "copy not found"), http.StatusNotFound, "NotFound"},
		{"flatten failed", apperrors.ErrFlattenFailed, http.StatusBadGateway, "FlattenFailed"},
		{"validation", apperrors.ValidationErrors{{Field: "ttl", Message: "too long"}}, http.StatusBadRequest, "ValidationError"},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sm := setupRouter(t)
			sm.leases.On("Acquire", mock.Anything, "copy-1", "t1", time.Duration(0)).Return(nil, tt.err)

			w := perform(router, http.MethodPost, "/api/v1/copies/copy-1/lease", "",
				map[string]string{HeaderActorID: "t1", HeaderRequestID: "req-err"})

			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, "req-err", resp.CorrelationID)
		})
	}
}

func TestGetCopy(t *testing.T) {
	router, sm := setupRouter(t)
	sm.copies.On("GetCopy", mock.Anything, "copy-1").
		Return(&models.Copy{ID: "copy-1", Status: models.CopyStatusReady}, nil)

	w := perform(router, http.MethodGet, "/api/v1/copies/copy-1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"Ready"`)
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupRouter(t)
	w := perform(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
