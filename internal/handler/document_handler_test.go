package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/middleware"
	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/service"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type documentServiceMock struct {
	uploadResp     *models.DocumentVersion
	uploadErr      error
	lastUploadMeta dto.UploadDocumentRequest
	lastUpload     service.DocumentUpload
	uploadCalled   bool

	listResp   *dto.MyDocumentsResponse
	listErr    error
	listCalled bool

	versionsResp []models.DocumentVersion
	versionsErr  error

	historyResp []models.VersionHistoryRow
	lastLimit   int
	lastOffset  int

	urlResp *dto.VersionDownloadResponse
	urlErr  error

	downloadResp *service.DocumentDownload
	downloadErr  error

	adminResp []dto.AdminDocumentItem
	adminErr  error
	lastQuery dto.AdminDocumentQuery
}

func (m *documentServiceMock) Upload(ctx context.Context, meta dto.UploadDocumentRequest, upload service.DocumentUpload, actor *models.JWTClaims) (*models.DocumentVersion, error) {
	m.uploadCalled = true
	m.lastUploadMeta = meta
	m.lastUpload = upload
	return m.uploadResp, m.uploadErr
}

func (m *documentServiceMock) ListMyDocuments(ctx context.Context, actor *models.JWTClaims) (*dto.MyDocumentsResponse, error) {
	m.listCalled = true
	return m.listResp, m.listErr
}

func (m *documentServiceMock) ListAgencyDocuments(ctx context.Context, agencyID string, actor *models.JWTClaims) (*dto.MyDocumentsResponse, error) {
	return m.listResp, m.listErr
}

func (m *documentServiceMock) ListVersions(ctx context.Context, documentID string, actor *models.JWTClaims) ([]models.DocumentVersion, error) {
	return m.versionsResp, m.versionsErr
}

func (m *documentServiceMock) History(ctx context.Context, actor *models.JWTClaims, limit, offset int) ([]models.VersionHistoryRow, error) {
	m.lastLimit = limit
	m.lastOffset = offset
	return m.historyResp, nil
}

func (m *documentServiceMock) GetDownloadURL(ctx context.Context, versionID string, actor *models.JWTClaims) (*dto.VersionDownloadResponse, error) {
	return m.urlResp, m.urlErr
}

func (m *documentServiceMock) Download(ctx context.Context, versionID, token string, actor *models.JWTClaims) (*service.DocumentDownload, error) {
	return m.downloadResp, m.downloadErr
}

func (m *documentServiceMock) AdminList(ctx context.Context, query dto.AdminDocumentQuery, actor *models.JWTClaims) ([]dto.AdminDocumentItem, error) {
	m.lastQuery = query
	return m.adminResp, m.adminErr
}

func agencyClaims() *models.JWTClaims {
	agencyID := "ag-1"
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleAgency, AgencyID: &agencyID}
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*http.Request, error) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req, err := http.NewRequest(http.MethodPost, "/documents", body)
	if err == nil {
		req.Header.Set("Content-Type", writer.FormDataContentType())
	}
	return req, err
}

func TestDocumentHandlerUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &documentServiceMock{
		uploadResp: &models.DocumentVersion{ID: "ver-1", VersionNumber: 1, Status: models.VersionStatusSubmitted},
	}
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := multipartUpload(t, map[string]string{"documentType": "TAX_ID", "note": "initial filing"}, "tax.pdf", []byte("%PDF-1.4 data"))
	require.NoError(t, err)
	c.Request = req
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.Upload(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.uploadCalled)
	assert.Equal(t, "TAX_ID", mockSvc.lastUploadMeta.DocumentType)
	assert.Equal(t, "initial filing", mockSvc.lastUploadMeta.Note)
	assert.Equal(t, "tax.pdf", mockSvc.lastUpload.Filename)
}

func TestDocumentHandlerUploadMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &documentServiceMock{}
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := multipartUpload(t, map[string]string{"documentType": "TAX_ID"}, "", nil)
	require.NoError(t, err)
	c.Request = req
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.Upload(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.uploadCalled)
}

func TestDocumentHandlerUploadUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDocumentHandler(&documentServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := multipartUpload(t, map[string]string{"documentType": "TAX_ID"}, "tax.pdf", []byte("data"))
	require.NoError(t, err)
	c.Request = req

	handler.Upload(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentHandlerListMine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &documentServiceMock{
		listResp: &dto.MyDocumentsResponse{
			Documents:    []dto.DocumentStatusItem{{DocumentType: models.DocumentTypeTaxID, Required: true}},
			Verification: models.VerificationSnapshot{AgencyID: "ag-1"},
		},
	}
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/documents", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.ListMine(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.listCalled)
	assert.Contains(t, w.Body.String(), "TAX_ID")
}

func TestDocumentHandlerDownloadRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDocumentHandler(&documentServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/documents/versions/ver-1/download", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ver-1"}}
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerHistoryDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &documentServiceMock{}
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/documents/history", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, mockSvc.lastLimit)
	assert.Equal(t, 0, mockSvc.lastOffset)
}

func TestDocumentHandlerAdminListPropagatesError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &documentServiceMock{adminErr: appErrors.ErrForbidden}
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/admin/documents?documentType=TAX_ID&page=2", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, agencyClaims())

	handler.AdminList(c)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TAX_ID", mockSvc.lastQuery.DocumentType)
	assert.Equal(t, 2, mockSvc.lastQuery.Page)
}
