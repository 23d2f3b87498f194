package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/middleware"
	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type reviewServiceMock struct {
	resp      *models.DocumentVersion
	err       error
	lastID    string
	lastReq   dto.DecideVersionRequest
	decideRan bool
}

func (m *reviewServiceMock) Decide(ctx context.Context, versionID string, req dto.DecideVersionRequest, actor *models.JWTClaims) (*models.DocumentVersion, error) {
	m.decideRan = true
	m.lastID = versionID
	m.lastReq = req
	return m.resp, m.err
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestReviewHandlerDecide(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reviewServiceMock{
		resp: &models.DocumentVersion{ID: "ver-1", Status: models.VersionStatusAccepted},
	}
	handler := NewReviewHandler(mockSvc)

	payload, _ := json.Marshal(dto.DecideVersionRequest{Status: "ACCEPTED", Comment: "valid certificate"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/admin/documents/versions/ver-1/decision", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ver-1"}}
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Decide(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.decideRan)
	assert.Equal(t, "ver-1", mockSvc.lastID)
	assert.Equal(t, models.VersionStatus("ACCEPTED"), mockSvc.lastReq.Status)
}

func TestReviewHandlerDecideInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reviewServiceMock{}
	handler := NewReviewHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/admin/documents/versions/ver-1/decision", bytes.NewBufferString(`{"status":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Decide(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.decideRan)
}

func TestReviewHandlerDecideServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reviewServiceMock{err: appErrors.ErrNotFound}
	handler := NewReviewHandler(mockSvc)

	payload, _ := json.Marshal(dto.DecideVersionRequest{Status: "REJECTED"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/admin/documents/versions/ver-missing/decision", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ver-missing"}}
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Decide(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
