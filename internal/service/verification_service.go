package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type verificationVersionReader interface {
	LatestRowsByAgency(ctx context.Context, agencyID string) ([]models.LatestVersionRow, error)
}

type verificationAgencyStore interface {
	GetByID(ctx context.Context, id string) (*models.Agency, error)
	List(ctx context.Context, filter models.AgencyFilter) ([]models.Agency, int, error)
	SetVerified(ctx context.Context, id string, verified bool, at time.Time) error
}

// VerificationConfig holds the injected required-type set and cache TTL.
type VerificationConfig struct {
	RequiredTypes []models.DocumentType
	CacheTTL      time.Duration
}

// VerificationService derives the agency verified flag from the latest
// version of each required document type.
type VerificationService struct {
	versions verificationVersionReader
	agencies verificationAgencyStore
	cache    *CacheService
	audit    auditLogger
	logger   *zap.Logger
	cfg      VerificationConfig
}

// NewVerificationService constructs the service.
func NewVerificationService(versions verificationVersionReader, agencies verificationAgencyStore, cache *CacheService, audit auditLogger, logger *zap.Logger, cfg VerificationConfig) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.RequiredTypes) == 0 {
		cfg.RequiredTypes = []models.DocumentType{
			models.DocumentTypeRegistrationCertificate,
			models.DocumentTypeTaxID,
			models.DocumentTypeInsuranceCertificate,
			models.DocumentTypeOperatingLicense,
		}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &VerificationService{
		versions: versions,
		agencies: agencies,
		cache:    cache,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// RequiredTypes exposes the configured required set.
func (s *VerificationService) RequiredTypes() []models.DocumentType {
	return s.cfg.RequiredTypes
}

// Recompute rebuilds the verification snapshot for an agency from the
// latest version of each of its documents, persists the derived flag and
// refreshes the cached snapshot. The operation is idempotent, so callers
// may retry it after partial failures.
func (s *VerificationService) Recompute(ctx context.Context, agencyID string, actorID *string) (*models.VerificationSnapshot, error) {
	agency, err := s.agencies.GetByID(ctx, agencyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "agency not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load agency")
	}

	rows, err := s.versions.LatestRowsByAgency(ctx, agencyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest versions")
	}

	// The registry holds at most one record per (agency, type) pair. Two
	// rows for one type mean corrupted data; refusing to pick one beats
	// silently verifying on the wrong version.
	byType := make(map[models.DocumentType]models.LatestVersionRow, len(rows))
	for _, row := range rows {
		if _, dup := byType[row.DocumentType]; dup {
			return nil, appErrors.Wrap(fmt.Errorf("document type %s has multiple registry records", row.DocumentType),
				appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, appErrors.ErrIntegrity.Message)
		}
		byType[row.DocumentType] = row
	}

	now := time.Now().UTC()
	snapshot := &models.VerificationSnapshot{
		AgencyID:     agencyID,
		Verified:     true,
		Requirements: make([]models.RequirementStatus, 0, len(s.cfg.RequiredTypes)),
		ComputedAt:   now,
	}
	for _, required := range s.cfg.RequiredTypes {
		status := models.RequirementStatus{DocumentType: required}
		if row, ok := byType[required]; ok {
			latest := row.Status
			number := row.VersionNumber
			status.LatestStatus = &latest
			status.VersionNumber = &number
			status.Met = latest == models.VersionStatusAccepted
		}
		if !status.Met {
			snapshot.Verified = false
		}
		snapshot.Requirements = append(snapshot.Requirements, status)
	}

	if err := s.agencies.SetVerified(ctx, agencyID, snapshot.Verified, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist verification flag")
	}

	if agency.Verified != snapshot.Verified {
		s.logger.Info("agency verification changed",
			zap.String("agency_id", agencyID),
			zap.Bool("verified", snapshot.Verified))
		s.emitAudit(ctx, &models.AuditLog{
			UserID:     actorID,
			Action:     models.AuditActionVerificationRefresh,
			Resource:   "verification",
			ResourceID: &agencyID,
			OldValues:  []byte(fmt.Sprintf(`{"verified":%t}`, agency.Verified)),
			NewValues:  []byte(fmt.Sprintf(`{"verified":%t}`, snapshot.Verified)),
		})
	}

	if err := s.cache.Set(ctx, s.cacheKey(agencyID), snapshot, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache verification snapshot", zap.Error(err))
	}

	return snapshot, nil
}

// Snapshot returns the cached verification snapshot for an agency, falling
// back to a fresh recompute on miss.
func (s *VerificationService) Snapshot(ctx context.Context, agencyID string) (*models.VerificationSnapshot, error) {
	snapshot, _, err := s.SnapshotCached(ctx, agencyID)
	return snapshot, err
}

// SnapshotCached behaves like Snapshot and also reports whether the value
// came from cache, for response metadata.
func (s *VerificationService) SnapshotCached(ctx context.Context, agencyID string) (*models.VerificationSnapshot, bool, error) {
	var cached models.VerificationSnapshot
	hit, err := s.cache.Get(ctx, s.cacheKey(agencyID), &cached)
	if err == nil && hit {
		return &cached, true, nil
	}
	snapshot, err := s.Recompute(ctx, agencyID, nil)
	return snapshot, false, err
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (s *VerificationService) Invalidate(ctx context.Context, agencyID string) {
	if err := s.cache.Invalidate(ctx, s.cacheKey(agencyID)); err != nil {
		s.logger.Warn("failed to invalidate verification cache", zap.String("agency_id", agencyID), zap.Error(err))
	}
}

// Overview returns one row per agency for the admin export, recomputing
// requirement counts from stored state.
func (s *VerificationService) Overview(ctx context.Context) ([]models.VerificationOverviewRow, error) {
	const pageSize = 100
	overview := make([]models.VerificationOverviewRow, 0, pageSize)
	for page := 1; ; page++ {
		agencies, _, err := s.agencies.List(ctx, models.AgencyFilter{Page: page, PageSize: pageSize})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list agencies")
		}
		for _, agency := range agencies {
			snapshot, err := s.Snapshot(ctx, agency.ID)
			if err != nil {
				return nil, err
			}
			met := 0
			for _, req := range snapshot.Requirements {
				if req.Met {
					met++
				}
			}
			overview = append(overview, models.VerificationOverviewRow{
				AgencyID:     agency.ID,
				LegalName:    agency.LegalName,
				Verified:     snapshot.Verified,
				MetCount:     met,
				RequiredSize: len(snapshot.Requirements),
				ComputedAt:   snapshot.ComputedAt,
			})
		}
		if len(agencies) < pageSize {
			break
		}
	}
	return overview, nil
}

func (s *VerificationService) cacheKey(agencyID string) string {
	return "verification:snapshot:" + agencyID
}

func (s *VerificationService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "verification-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create verification audit", zap.Error(err))
	}
}
