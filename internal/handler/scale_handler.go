package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/progress89/evaluation-api/internal/grading"
	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/internal/service"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
	"github.com/progress89/evaluation-api/pkg/response"
)

// ScaleHandler handles grading-scale authoring endpoints.
type ScaleHandler struct {
	service *service.ScaleService
}

// NewScaleHandler creates a new scale handler.
func NewScaleHandler(svc *service.ScaleService) *ScaleHandler {
	return &ScaleHandler{service: svc}
}

// List godoc
// @Summary List scales
// @Description List grading scales visible to the caller
// @Tags Scales
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param shared query bool false "Shared filter"
// @Param search query string false "Title search"
// @Success 200 {object} response.Envelope
// @Router /scales [get]
func (h *ScaleHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.ScaleFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if shared := c.Query("shared"); shared != "" {
		if val, err := strconv.ParseBool(shared); err == nil {
			filter.Shared = &val
		}
	}
	filter.Search = c.Query("search")

	scales, pagination, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, scales, pagination)
}

// Get godoc
// @Summary Get scale
// @Description Get a scale with its criteria
// @Tags Scales
// @Produce json
// @Param id path string true "Scale ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scales/{id} [get]
func (h *ScaleHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	scale, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, scale, nil, scaleMeta(scale))
}

// Create godoc
// @Summary Create scale
// @Description Author a new grading scale with weighted criteria
// @Tags Scales
// @Accept json
// @Produce json
// @Param payload body service.ScaleRequest true "Scale payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /scales [post]
func (h *ScaleHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	scale, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusCreated, scale, nil, scaleMeta(scale))
}

// Update godoc
// @Summary Update scale
// @Description Edit a scale not yet used by published evaluations
// @Tags Scales
// @Accept json
// @Produce json
// @Param id path string true "Scale ID"
// @Param payload body service.ScaleRequest true "Scale payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scales/{id} [put]
func (h *ScaleHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	scale, err := h.service.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, scale, nil, scaleMeta(scale))
}

// Delete godoc
// @Summary Delete scale
// @Description Remove a scale not referenced by any evaluation
// @Tags Scales
// @Produce json
// @Param id path string true "Scale ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scales/{id} [delete]
func (h *ScaleHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// DeleteCriterion godoc
// @Summary Delete criterion
// @Description Remove one ungraded criterion from a scale
// @Tags Scales
// @Produce json
// @Param id path string true "Scale ID"
// @Param criterionId path string true "Criterion ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scales/{id}/criteria/{criterionId} [delete]
func (h *ScaleHandler) DeleteCriterion(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.DeleteCriterion(c.Request.Context(), claims, c.Param("id"), c.Param("criterionId")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// scaleMeta reports the coefficient sum so clients can flag incomplete
// weighting without a second round trip.
func scaleMeta(scale *models.Scale) map[string]interface{} {
	sum := grading.CoefficientSum(scale.Criteria)
	return map[string]interface{}{
		"coefficient_sum": sum,
		"fully_weighted":  sum >= 1.0-1e-9,
	}
}
