package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/service"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
	"github.com/rentora-dev/rentora-api/pkg/response"
)

type agencyService interface {
	Create(ctx context.Context, req service.CreateAgencyRequest, actor *models.JWTClaims) (*models.Agency, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Agency, error)
	List(ctx context.Context, filter models.AgencyFilter, actor *models.JWTClaims) ([]models.Agency, *models.Pagination, error)
}

// AgencyHandler manages agency account endpoints.
type AgencyHandler struct {
	service agencyService
}

// NewAgencyHandler constructs the handler.
func NewAgencyHandler(service agencyService) *AgencyHandler {
	return &AgencyHandler{service: service}
}

// Create godoc
// @Summary Register an agency
// @Tags Agencies
// @Accept json
// @Produce json
// @Param payload body service.CreateAgencyRequest true "Agency payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/agencies [post]
func (h *AgencyHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateAgencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid agency payload"))
		return
	}
	agency, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, agency)
}

// Get godoc
// @Summary Get agency detail
// @Tags Agencies
// @Produce json
// @Param id path string true "Agency ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /agencies/{id} [get]
func (h *AgencyHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	agency, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, agency, nil)
}

// List godoc
// @Summary List agencies
// @Tags Agencies
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param verified query bool false "Verified filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/agencies [get]
func (h *AgencyHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var filter models.AgencyFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if verified := c.Query("verified"); verified != "" {
		if val, err := strconv.ParseBool(verified); err == nil {
			filter.Verified = &val
		}
	}
	filter.Search = strings.TrimSpace(c.Query("search"))

	agencies, pagination, err := h.service.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, agencies, pagination)
}
