package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type agencyRepository interface {
	Create(ctx context.Context, agency *models.Agency) error
	GetByID(ctx context.Context, id string) (*models.Agency, error)
	List(ctx context.Context, filter models.AgencyFilter) ([]models.Agency, int, error)
}

// CreateAgencyRequest represents payload for registering an agency.
type CreateAgencyRequest struct {
	LegalName    string `json:"legal_name" validate:"required"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
}

// AgencyService handles agency account management.
type AgencyService struct {
	repo      agencyRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAgencyService creates an instance of AgencyService.
func NewAgencyService(repo agencyRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *AgencyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AgencyService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// Create registers a new agency account. Agencies start unverified.
func (s *AgencyService) Create(ctx context.Context, req CreateAgencyRequest, actor *models.JWTClaims) (*models.Agency, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create agency payload")
	}

	agency := &models.Agency{
		LegalName:    strings.TrimSpace(req.LegalName),
		ContactEmail: strings.ToLower(strings.TrimSpace(req.ContactEmail)),
		Verified:     false,
	}
	if err := s.repo.Create(ctx, agency); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create agency")
	}

	payload, _ := json.Marshal(map[string]interface{}{"id": agency.ID, "legal_name": agency.LegalName})
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionAgencyCreate,
			Resource:   "agencies",
			ResourceID: &agency.ID,
			NewValues:  payload,
			IPAddress:  "system",
			UserAgent:  "agency-service",
		}); err != nil {
			s.logger.Warn("failed to record agency create audit log", zap.Error(err))
		}
	}

	return agency, nil
}

// Get returns an agency. Admins may read any agency, agency accounts only
// their own.
func (s *AgencyService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Agency, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		if actor.Role != models.RoleAgency || actor.AgencyID == nil || *actor.AgencyID != id {
			return nil, appErrors.ErrForbidden
		}
	}
	agency, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "agency not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load agency")
	}
	return agency, nil
}

// List returns paginated agencies for admin consumption.
func (s *AgencyService) List(ctx context.Context, filter models.AgencyFilter, actor *models.JWTClaims) ([]models.Agency, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, nil, appErrors.ErrForbidden
	}
	agencies, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list agencies")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return agencies, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
