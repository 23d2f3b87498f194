package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
	"github.com/rentora-dev/rentora-api/pkg/export"
)

type overviewProvider interface {
	Overview(ctx context.Context) ([]models.VerificationOverviewRow, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled   bool
	APIPrefix string
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	RowCount     int
	ExpiresAt    time.Time
}

// ExportService renders the admin verification overview to CSV or PDF and
// hands out signed download links for the result.
type ExportService struct {
	overview overviewProvider
	storage  documentFileStorage
	signer   documentSigner
	csv      csvRenderer
	pdf      pdfRenderer
	audit    auditLogger
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(overview overviewProvider, storage documentFileStorage, signer documentSigner, audit auditLogger, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{
		overview: overview,
		storage:  storage,
		signer:   signer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate builds the verification overview dataset and stores the
// rendered file under exports/.
func (s *ExportService) Generate(ctx context.Context, format models.ExportFormat, actor *models.JWTClaims) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exports are disabled")
	}

	rows, err := s.overview.Overview(ctx)
	if err != nil {
		return nil, err
	}
	dataset := buildOverviewDataset(rows)

	var payload []byte
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Agency Verification Overview")
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("exports/verification_overview_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate("export", relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:    &actor.UserID,
		Action:    models.AuditActionVerificationExport,
		Resource:  "verification_export",
		NewValues: []byte(fmt.Sprintf(`{"format":"%s","rows":%d}`, format, len(rows))),
	})

	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/admin/verification/export/download?token=%s", base, token),
		Format:       format,
		RowCount:     len(rows),
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a download token and opens the stored export file.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	id, relPath, _, err := s.signer.Parse(token, false)
	if err != nil || id != "export" {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return file, relPath, nil
}

func buildOverviewDataset(rows []models.VerificationOverviewRow) export.Dataset {
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Agency ID":   row.AgencyID,
			"Legal Name":  row.LegalName,
			"Verified":    fmt.Sprintf("%t", row.Verified),
			"Met":         fmt.Sprintf("%d/%d", row.MetCount, row.RequiredSize),
			"Computed At": row.ComputedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Headers: []string{"Agency ID", "Legal Name", "Verified", "Met", "Computed At"},
		Rows:    dataRows,
	}
}

func (s *ExportService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "export-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create export audit", zap.Error(err))
	}
}
