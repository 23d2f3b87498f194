package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type latestRowsStub struct {
	rows []models.LatestVersionRow
	err  error
}

func (s *latestRowsStub) LatestRowsByAgency(ctx context.Context, agencyID string) ([]models.LatestVersionRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type agencyStoreStub struct {
	agencies map[string]*models.Agency
	setCalls []bool
}

func newAgencyStoreStub(ids ...string) *agencyStoreStub {
	stub := &agencyStoreStub{agencies: make(map[string]*models.Agency)}
	for _, id := range ids {
		stub.agencies[id] = &models.Agency{ID: id, LegalName: "Agency " + id}
	}
	return stub
}

func (s *agencyStoreStub) GetByID(ctx context.Context, id string) (*models.Agency, error) {
	if agency, ok := s.agencies[id]; ok {
		copy := *agency
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *agencyStoreStub) List(ctx context.Context, filter models.AgencyFilter) ([]models.Agency, int, error) {
	out := make([]models.Agency, 0, len(s.agencies))
	for _, agency := range s.agencies {
		out = append(out, *agency)
	}
	return out, len(out), nil
}

func (s *agencyStoreStub) SetVerified(ctx context.Context, id string, verified bool, at time.Time) error {
	agency, ok := s.agencies[id]
	if !ok {
		return sql.ErrNoRows
	}
	agency.Verified = verified
	s.setCalls = append(s.setCalls, verified)
	return nil
}

func acceptedRow(documentType models.DocumentType, number int) models.LatestVersionRow {
	return models.LatestVersionRow{
		DocumentID:    "doc-" + string(documentType),
		DocumentType:  documentType,
		VersionNumber: number,
		Status:        models.VersionStatusAccepted,
	}
}

func newVerificationServiceForTest(versions verificationVersionReader, agencies verificationAgencyStore, audit auditLogger) *VerificationService {
	cache := NewCacheService(nil, nil, time.Minute, zap.NewNop(), false)
	return NewVerificationService(versions, agencies, cache, audit, zap.NewNop(), VerificationConfig{
		RequiredTypes: []models.DocumentType{models.DocumentTypeTaxID, models.DocumentTypeOperatingLicense},
	})
}

func TestRecomputeVerifiedWhenAllRequiredAccepted(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeTaxID, 2),
		acceptedRow(models.DocumentTypeOperatingLicense, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	audit := &auditStub{}
	svc := newVerificationServiceForTest(versions, agencies, audit)

	snapshot, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)
	assert.True(t, snapshot.Verified)
	require.Len(t, snapshot.Requirements, 2)
	for _, req := range snapshot.Requirements {
		assert.True(t, req.Met)
	}
	assert.True(t, agencies.agencies["ag-1"].Verified)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionVerificationRefresh, audit.logs[0].Action)
}

func TestRecomputeUnverifiedWhenRequiredTypeMissing(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeTaxID, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	svc := newVerificationServiceForTest(versions, agencies, &auditStub{})

	snapshot, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)
	assert.False(t, snapshot.Verified)

	byType := make(map[models.DocumentType]models.RequirementStatus)
	for _, req := range snapshot.Requirements {
		byType[req.DocumentType] = req
	}
	assert.True(t, byType[models.DocumentTypeTaxID].Met)
	license := byType[models.DocumentTypeOperatingLicense]
	assert.False(t, license.Met)
	assert.Nil(t, license.LatestStatus)
}

func TestRecomputeLatestVersionWins(t *testing.T) {
	// Version 1 was accepted, but version 2 is the latest and is still
	// under review, so the requirement is not met.
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		{DocumentID: "doc-tax", DocumentType: models.DocumentTypeTaxID, VersionNumber: 2, Status: models.VersionStatusSubmitted},
		acceptedRow(models.DocumentTypeOperatingLicense, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	svc := newVerificationServiceForTest(versions, agencies, &auditStub{})

	snapshot, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)
	assert.False(t, snapshot.Verified)
}

func TestRecomputeExtraAcceptedTypesDoNotVerify(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeBankStatement, 1),
		acceptedRow(models.DocumentTypeOwnerIdentity, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	svc := newVerificationServiceForTest(versions, agencies, &auditStub{})

	snapshot, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)
	assert.False(t, snapshot.Verified)
}

func TestRecomputeDuplicateTypeIsIntegrityError(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeTaxID, 1),
		{DocumentID: "doc-tax-2", DocumentType: models.DocumentTypeTaxID, VersionNumber: 3, Status: models.VersionStatusAccepted},
	}}
	agencies := newAgencyStoreStub("ag-1")
	svc := newVerificationServiceForTest(versions, agencies, &auditStub{})

	_, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrIntegrity.Code, appErr.Code)
	assert.Empty(t, agencies.setCalls)
}

func TestRecomputeIdempotent(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeTaxID, 1),
		acceptedRow(models.DocumentTypeOperatingLicense, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	audit := &auditStub{}
	svc := newVerificationServiceForTest(versions, agencies, audit)

	first, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)
	second, err := svc.Recompute(context.Background(), "ag-1", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Verified, second.Verified)
	// Only the transition is audited, not the repeat.
	assert.Len(t, audit.logs, 1)
}

func TestRecomputeUnknownAgency(t *testing.T) {
	svc := newVerificationServiceForTest(&latestRowsStub{}, newAgencyStoreStub(), &auditStub{})

	_, err := svc.Recompute(context.Background(), "missing", nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestOverviewCountsRequirements(t *testing.T) {
	versions := &latestRowsStub{rows: []models.LatestVersionRow{
		acceptedRow(models.DocumentTypeTaxID, 1),
	}}
	agencies := newAgencyStoreStub("ag-1")
	svc := newVerificationServiceForTest(versions, agencies, &auditStub{})

	rows, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].MetCount)
	assert.Equal(t, 2, rows[0].RequiredSize)
	assert.False(t, rows[0].Verified)
}
