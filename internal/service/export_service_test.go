package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/pkg/storage"
)

type overviewStub struct {
	rows []models.VerificationOverviewRow
}

func (s *overviewStub) Overview(ctx context.Context) ([]models.VerificationOverviewRow, error) {
	return s.rows, nil
}

func newExportServiceForTest(t *testing.T, rows []models.VerificationOverviewRow) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Minute)
	return NewExportService(&overviewStub{rows: rows}, store, signer, &auditStub{}, zap.NewNop(), ExportConfig{Enabled: true})
}

func TestExportGenerateCSV(t *testing.T) {
	rows := []models.VerificationOverviewRow{
		{AgencyID: "ag-1", LegalName: "Acme Rentals", Verified: true, MetCount: 4, RequiredSize: 4, ComputedAt: time.Now().UTC()},
		{AgencyID: "ag-2", LegalName: "Budget Wheels", Verified: false, MetCount: 2, RequiredSize: 4, ComputedAt: time.Now().UTC()},
	}
	svc := newExportServiceForTest(t, rows)

	result, err := svc.Generate(context.Background(), models.ExportFormatCSV, adminActor())
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Contains(t, result.URL, "token=")

	file, _, err := svc.Open(result.Token)
	require.NoError(t, err)
	defer file.Close()
	payload, err := io.ReadAll(file)
	require.NoError(t, err)
	content := string(payload)
	assert.True(t, strings.Contains(content, "Acme Rentals"))
	assert.True(t, strings.Contains(content, "2/4"))
}

func TestExportGenerateRejectsUnknownFormat(t *testing.T) {
	svc := newExportServiceForTest(t, nil)

	_, err := svc.Generate(context.Background(), models.ExportFormat("xlsx"), adminActor())
	require.Error(t, err)
}

func TestExportGenerateForbiddenForAgency(t *testing.T) {
	svc := newExportServiceForTest(t, nil)

	_, err := svc.Generate(context.Background(), models.ExportFormatCSV, agencyActor("ag-1"))
	require.Error(t, err)
}
