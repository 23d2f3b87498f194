package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentora-dev/rentora-api/internal/middleware"
	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/service"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
	"github.com/rentora-dev/rentora-api/pkg/response"
)

type verificationService interface {
	SnapshotCached(ctx context.Context, agencyID string) (*models.VerificationSnapshot, bool, error)
	Recompute(ctx context.Context, agencyID string, actorID *string) (*models.VerificationSnapshot, error)
	Overview(ctx context.Context) ([]models.VerificationOverviewRow, error)
}

type exportService interface {
	Generate(ctx context.Context, format models.ExportFormat, actor *models.JWTClaims) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// VerificationHandler exposes derived verification state and admin exports.
type VerificationHandler struct {
	verification verificationService
	exports      exportService
}

// NewVerificationHandler constructs the handler.
func NewVerificationHandler(verification verificationService, exports exportService) *VerificationHandler {
	return &VerificationHandler{verification: verification, exports: exports}
}

// Snapshot godoc
// @Summary Get an agency's verification snapshot
// @Description Returns the derived verified flag and per-requirement status
// @Tags Verification
// @Produce json
// @Param id path string true "Agency ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /agencies/{id}/verification [get]
func (h *VerificationHandler) Snapshot(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	agencyID := c.Param("id")
	if claims.Role != models.RoleAdmin {
		if claims.AgencyID == nil || *claims.AgencyID != agencyID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot view another agency's verification"))
			return
		}
	}
	snapshot, cacheHit, err := h.verification.SnapshotCached(c.Request.Context(), agencyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	response.JSON(c, http.StatusOK, snapshot, nil, meta)
}

// Mine godoc
// @Summary Get the caller's verification snapshot
// @Tags Verification
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /verification [get]
func (h *VerificationHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.AgencyID == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not linked to an agency"))
		return
	}
	snapshot, cacheHit, err := h.verification.SnapshotCached(c.Request.Context(), *claims.AgencyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	response.JSON(c, http.StatusOK, snapshot, nil, meta)
}

// Recompute godoc
// @Summary Recompute an agency's verification state
// @Description Rebuilds the snapshot from stored versions; safe to repeat
// @Tags Admin
// @Produce json
// @Param id path string true "Agency ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/agencies/{id}/verification/recompute [post]
func (h *VerificationHandler) Recompute(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	snapshot, err := h.verification.Recompute(c.Request.Context(), c.Param("id"), &claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Overview godoc
// @Summary Verification overview across agencies
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/verification/overview [get]
func (h *VerificationHandler) Overview(c *gin.Context) {
	rows, err := h.verification.Overview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Export godoc
// @Summary Export the verification overview
// @Description Renders the overview to CSV or PDF and returns a signed download link
// @Tags Admin
// @Produce json
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/verification/export [post]
func (h *VerificationHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := models.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(models.ExportFormatCSV))))
	result, err := h.exports.Generate(c.Request.Context(), format, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// ExportDownload godoc
// @Summary Download a generated export via signed token
// @Tags Admin
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /admin/verification/export/download [get]
func (h *VerificationHandler) ExportDownload(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, relPath, err := h.exports.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	mimeType := "text/csv"
	if strings.EqualFold(filepath.Ext(relPath), ".pdf") {
		mimeType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filepath.Base(relPath)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), mimeType, file, nil)
}
