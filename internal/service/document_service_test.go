package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/repository"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
	"github.com/rentora-dev/rentora-api/pkg/storage"
)

type registryStub struct {
	byType map[models.DocumentType]*models.DocumentRecord
	byID   map[string]*models.DocumentRecord
	rows   []models.DocumentAdminRow
}

func newRegistryStub() *registryStub {
	return &registryStub{
		byType: make(map[models.DocumentType]*models.DocumentRecord),
		byID:   make(map[string]*models.DocumentRecord),
	}
}

func (r *registryStub) GetOrCreate(ctx context.Context, agencyID string, documentType models.DocumentType) (*models.DocumentRecord, error) {
	if record, ok := r.byType[documentType]; ok {
		return record, nil
	}
	record := &models.DocumentRecord{
		ID:           "doc-" + string(documentType),
		AgencyID:     agencyID,
		DocumentType: documentType,
		CreatedAt:    time.Now().UTC(),
	}
	r.byType[documentType] = record
	r.byID[record.ID] = record
	return record, nil
}

func (r *registryStub) GetByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	if record, ok := r.byID[id]; ok {
		return record, nil
	}
	return nil, sql.ErrNoRows
}

func (r *registryStub) ListByAgency(ctx context.Context, agencyID string) ([]models.DocumentRecord, error) {
	records := make([]models.DocumentRecord, 0, len(r.byType))
	for _, record := range r.byType {
		if record.AgencyID == agencyID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (r *registryStub) ListAll(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentAdminRow, error) {
	return r.rows, nil
}

type versionStoreStub struct {
	appendConflicts int
	appendCalls     int
	byID            map[string]*models.DocumentVersion
	byDocument      map[string][]*models.DocumentVersion
}

func newVersionStoreStub() *versionStoreStub {
	return &versionStoreStub{
		byID:       make(map[string]*models.DocumentVersion),
		byDocument: make(map[string][]*models.DocumentVersion),
	}
}

func (s *versionStoreStub) Append(ctx context.Context, version *models.DocumentVersion) error {
	s.appendCalls++
	if s.appendCalls <= s.appendConflicts {
		return repository.ErrVersionConflict
	}
	version.ID = fmt.Sprintf("ver-%d", len(s.byID)+1)
	version.VersionNumber = len(s.byDocument[version.DocumentID]) + 1
	version.UploadedAt = time.Now().UTC()
	s.byID[version.ID] = version
	s.byDocument[version.DocumentID] = append(s.byDocument[version.DocumentID], version)
	return nil
}

func (s *versionStoreStub) GetByID(ctx context.Context, id string) (*models.DocumentVersion, error) {
	if version, ok := s.byID[id]; ok {
		return version, nil
	}
	return nil, sql.ErrNoRows
}

func (s *versionStoreStub) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	versions := s.byDocument[documentID]
	out := make([]models.DocumentVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, *versions[i])
	}
	return out, nil
}

func (s *versionStoreStub) LatestByDocument(ctx context.Context, documentID string) (*models.DocumentVersion, error) {
	versions := s.byDocument[documentID]
	if len(versions) == 0 {
		return nil, sql.ErrNoRows
	}
	latest := *versions[len(versions)-1]
	return &latest, nil
}

func (s *versionStoreStub) LatestByAgency(ctx context.Context, agencyID string) ([]models.DocumentVersion, error) {
	out := make([]models.DocumentVersion, 0, len(s.byDocument))
	for _, versions := range s.byDocument {
		if len(versions) > 0 {
			out = append(out, *versions[len(versions)-1])
		}
	}
	return out, nil
}

func (s *versionStoreStub) HistoryByAgency(ctx context.Context, agencyID string, limit, offset int) ([]models.VersionHistoryRow, error) {
	out := make([]models.VersionHistoryRow, 0, len(s.byID))
	for _, version := range s.byID {
		out = append(out, models.VersionHistoryRow{DocumentVersion: *version})
	}
	return out, nil
}

type verificationStub struct {
	required     []models.DocumentType
	snapshot     models.VerificationSnapshot
	recomputes   []string
	invalidates  []string
	recomputeErr error
}

func (v *verificationStub) Recompute(ctx context.Context, agencyID string, actorID *string) (*models.VerificationSnapshot, error) {
	v.recomputes = append(v.recomputes, agencyID)
	if v.recomputeErr != nil {
		return nil, v.recomputeErr
	}
	snapshot := v.snapshot
	snapshot.AgencyID = agencyID
	return &snapshot, nil
}

func (v *verificationStub) Snapshot(ctx context.Context, agencyID string) (*models.VerificationSnapshot, error) {
	snapshot := v.snapshot
	snapshot.AgencyID = agencyID
	return &snapshot, nil
}

func (v *verificationStub) Invalidate(ctx context.Context, agencyID string) {
	v.invalidates = append(v.invalidates, agencyID)
}

func (v *verificationStub) RequiredTypes() []models.DocumentType {
	if v.required != nil {
		return v.required
	}
	return []models.DocumentType{models.DocumentTypeTaxID, models.DocumentTypeOperatingLicense}
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func agencyActor(agencyID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleAgency, AgencyID: &agencyID}
}

func adminActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func newDocumentServiceForTest(t *testing.T) (*DocumentService, *registryStub, *versionStoreStub, *verificationStub, *auditStub) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	registry := newRegistryStub()
	versions := newVersionStoreStub()
	verification := &verificationStub{}
	audit := &auditStub{}
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	svc := NewDocumentService(registry, versions, store, signer, verification, audit, zap.NewNop(), DocumentServiceConfig{
		MaxFileSize:   1024,
		AllowedMIMEs:  []string{"application/pdf"},
		AppendRetries: 3,
	})
	return svc, registry, versions, verification, audit
}

func pdfUpload(content []byte) DocumentUpload {
	return DocumentUpload{
		Filename: "license.pdf",
		Size:     int64(len(content)),
		MimeType: "application/pdf",
		Content:  bytes.NewReader(content),
	}
}

func TestDocumentUploadCreatesSubmittedVersion(t *testing.T) {
	svc, _, versions, verification, audit := newDocumentServiceForTest(t)
	content := []byte("%PDF-1.4 test content")

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "tax_id"}, pdfUpload(content), agencyActor("ag-1"))
	require.NoError(t, err)

	assert.Equal(t, models.VersionStatusSubmitted, version.Status)
	assert.Equal(t, 1, version.VersionNumber)
	digest := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(digest[:]), version.Digest)
	assert.Equal(t, int64(len(content)), version.SizeBytes)
	assert.Equal(t, "user-1", version.UploadedBy)
	assert.Len(t, versions.byID, 1)
	assert.Equal(t, []string{"ag-1"}, verification.invalidates)
	assert.Equal(t, []string{"ag-1"}, verification.recomputes)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionDocumentUpload, audit.logs[0].Action)
}

func TestDocumentUploadVersionNumbersIncrease(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	first, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4 one")), agencyActor("ag-1"))
	require.NoError(t, err)
	second, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4 two")), agencyActor("ag-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.VersionNumber)
	assert.Equal(t, 2, second.VersionNumber)
	assert.Equal(t, first.DocumentID, second.DocumentID)
}

func TestDocumentUploadRejectsOversizedFile(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)
	content := bytes.Repeat([]byte("a"), 2048)

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload(content), agencyActor("ag-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestDocumentUploadRejectsDisallowedMime(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)
	upload := pdfUpload([]byte("PK zip bytes"))
	upload.MimeType = "application/zip"

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, upload, agencyActor("ag-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mime")
}

func TestDocumentUploadRejectsUnknownType(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "DRIVERS_LICENSE"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document type")
}

func TestDocumentUploadRejectsMissingFile(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, DocumentUpload{}, agencyActor("ag-1"))
	require.Error(t, err)
}

func TestDocumentUploadRetriesVersionConflict(t *testing.T) {
	svc, _, versions, _, _ := newDocumentServiceForTest(t)
	versions.appendConflicts = 2

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, versions.appendCalls)
	assert.Equal(t, 1, version.VersionNumber)
}

func TestDocumentUploadConflictExhaustion(t *testing.T) {
	svc, _, versions, _, _ := newDocumentServiceForTest(t)
	versions.appendConflicts = 10

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.Error(t, err)
	assert.Equal(t, 3, versions.appendCalls)
	assert.Contains(t, err.Error(), "concurrent")
}

func TestDocumentUploadAdminOverridesAgency(t *testing.T) {
	svc, _, versions, verification, _ := newDocumentServiceForTest(t)

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID", AgencyID: "ag-9"}, pdfUpload([]byte("%PDF-1.4")), adminActor())
	require.NoError(t, err)

	assert.Equal(t, "admin-1", version.UploadedBy)
	assert.Len(t, versions.byID, 1)
	assert.Equal(t, []string{"ag-9"}, verification.recomputes)
}

func TestDocumentUploadAdminRequiresAgencyID(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), adminActor())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, err.Error(), "agency id")
}

func TestDocumentUploadForbiddenForCustomer(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)
	actor := &models.JWTClaims{UserID: "cust-1", Role: models.RoleCustomer}

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), actor)
	require.Error(t, err)
}

func TestListMyDocumentsMarksRequiredTypes(t *testing.T) {
	svc, _, _, verification, _ := newDocumentServiceForTest(t)
	verification.snapshot = models.VerificationSnapshot{Verified: false}

	_, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.NoError(t, err)

	res, err := svc.ListMyDocuments(context.Background(), agencyActor("ag-1"))
	require.NoError(t, err)
	require.Len(t, res.Documents, len(models.AllDocumentTypes))

	byType := make(map[models.DocumentType]dto.DocumentStatusItem)
	for _, item := range res.Documents {
		byType[item.DocumentType] = item
	}
	taxItem := byType[models.DocumentTypeTaxID]
	assert.True(t, taxItem.Required)
	require.NotNil(t, taxItem.Record)
	require.NotNil(t, taxItem.Latest)
	assert.Equal(t, 1, taxItem.Latest.VersionNumber)

	bankItem := byType[models.DocumentTypeBankStatement]
	assert.False(t, bankItem.Required)
	assert.Nil(t, bankItem.Record)
}

func TestDownloadRoundTrip(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)
	content := []byte("%PDF-1.4 download me")

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload(content), agencyActor("ag-1"))
	require.NoError(t, err)

	link, err := svc.GetDownloadURL(context.Background(), version.ID, agencyActor("ag-1"))
	require.NoError(t, err)
	assert.Contains(t, link.DownloadURL, version.ID)

	parts := bytes.Split([]byte(link.DownloadURL), []byte("token="))
	require.Len(t, parts, 2)

	download, err := svc.Download(context.Background(), version.ID, string(parts[1]), agencyActor("ag-1"))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "license.pdf", download.Filename)
	assert.Equal(t, int64(len(content)), download.SizeBytes)
}

func TestDownloadForbiddenForOtherAgency(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.NoError(t, err)

	_, err = svc.GetDownloadURL(context.Background(), version.ID, agencyActor("ag-2"))
	require.Error(t, err)
}

func TestListVersionsNewestFirst(t *testing.T) {
	svc, _, _, _, _ := newDocumentServiceForTest(t)

	first, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4 one")), agencyActor("ag-1"))
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4 two")), agencyActor("ag-1"))
	require.NoError(t, err)

	versions, err := svc.ListVersions(context.Background(), first.DocumentID, agencyActor("ag-1"))
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[1].VersionNumber)
}

func TestAdminListIncludesLatest(t *testing.T) {
	svc, registry, _, _, _ := newDocumentServiceForTest(t)

	version, err := svc.Upload(context.Background(), dto.UploadDocumentRequest{DocumentType: "TAX_ID"}, pdfUpload([]byte("%PDF-1.4")), agencyActor("ag-1"))
	require.NoError(t, err)
	record := registry.byID[version.DocumentID]
	registry.rows = []models.DocumentAdminRow{{DocumentRecord: *record, LegalName: "Acme Rentals"}}

	items, err := svc.AdminList(context.Background(), dto.AdminDocumentQuery{}, adminActor())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Acme Rentals", items[0].LegalName)
	require.NotNil(t, items[0].Latest)
	assert.Equal(t, version.ID, items[0].Latest.ID)

	_, err = svc.AdminList(context.Background(), dto.AdminDocumentQuery{}, agencyActor("ag-1"))
	require.Error(t, err)
}
