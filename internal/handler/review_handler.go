package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/models"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
	"github.com/rentora-dev/rentora-api/pkg/response"
)

type reviewService interface {
	Decide(ctx context.Context, versionID string, req dto.DecideVersionRequest, actor *models.JWTClaims) (*models.DocumentVersion, error)
}

// ReviewHandler exposes the admin review decision endpoint.
type ReviewHandler struct {
	service reviewService
}

// NewReviewHandler constructs the handler.
func NewReviewHandler(service reviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// Decide godoc
// @Summary Accept or reject a document version
// @Description Records a review decision on the version and refreshes the agency's verification state
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Version ID"
// @Param payload body dto.DecideVersionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/documents/versions/{id}/decision [patch]
func (h *ReviewHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	version, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version, nil)
}
