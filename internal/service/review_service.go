package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type reviewVersionStore interface {
	GetByID(ctx context.Context, id string) (*models.DocumentVersion, error)
	UpdateStatus(ctx context.Context, id string, status models.VersionStatus, changedBy string, comment *string, at time.Time) error
}

type reviewRegistryReader interface {
	GetByID(ctx context.Context, id string) (*models.DocumentRecord, error)
}

// ReviewService applies admin decisions to document versions. Any version
// may be decided, and a decided version may be decided again: the newest
// decision wins and the audit trail keeps the history.
type ReviewService struct {
	versions     reviewVersionStore
	registry     reviewRegistryReader
	verification verificationRefresher
	audit        auditLogger
	logger       *zap.Logger
}

// NewReviewService constructs the service.
func NewReviewService(versions reviewVersionStore, registry reviewRegistryReader, verification verificationRefresher, audit auditLogger, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		versions:     versions,
		registry:     registry,
		verification: verification,
		audit:        audit,
		logger:       logger,
	}
}

// Decide records an accept/reject decision on a version and refreshes the
// owning agency's verification snapshot. The two steps run in sequence:
// the status write is atomic and the recompute is idempotent, so retrying
// the whole operation after a failure between them converges on the
// correct state. A recompute failure is returned to the caller — the
// verified flag must reflect the decision by the time Decide succeeds.
func (s *ReviewService) Decide(ctx context.Context, versionID string, req dto.DecideVersionRequest, actor *models.JWTClaims) (*models.DocumentVersion, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	status := models.VersionStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if status != models.VersionStatusAccepted && status != models.VersionStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be ACCEPTED or REJECTED")
	}

	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version")
	}
	record, err := s.registry.GetByID(ctx, version.DocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}

	now := time.Now().UTC()
	comment := normalizeNote(req.Comment)
	if err := s.versions.UpdateStatus(ctx, version.ID, status, actor.UserID, comment, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update version status")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionDocumentDecision,
		Resource:   "document_version",
		ResourceID: &version.ID,
		OldValues:  []byte(fmt.Sprintf(`{"status":"%s"}`, version.Status)),
		NewValues:  []byte(fmt.Sprintf(`{"status":"%s","version":%d}`, status, version.VersionNumber)),
	})

	s.verification.Invalidate(ctx, record.AgencyID)
	if _, err := s.verification.Recompute(ctx, record.AgencyID, &actor.UserID); err != nil {
		s.logger.Error("verification recompute failed after decision",
			zap.String("agency_id", record.AgencyID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			"decision recorded but verification refresh failed, retry the decision")
	}

	version.Status = status
	version.StatusChangedBy = &actor.UserID
	version.StatusChangedAt = &now
	version.StatusComment = comment
	return version, nil
}

func (s *ReviewService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "review-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create review audit", zap.Error(err))
	}
}
