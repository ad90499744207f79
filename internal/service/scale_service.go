package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/progress89/evaluation-api/internal/grading"
	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/internal/repository"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

type scaleRepository interface {
	Create(ctx context.Context, scale *models.Scale) error
	Update(ctx context.Context, scale *models.Scale) error
	FindByID(ctx context.Context, id string) (*models.Scale, error)
	List(ctx context.Context, filter models.ScaleFilter) ([]models.Scale, int, error)
	Delete(ctx context.Context, id string) error
	DeleteCriterion(ctx context.Context, criterionID string) error
	CountEvaluations(ctx context.Context, scaleID string, excludeDraft bool) (int, error)
}

// CriterionInput is one criterion row in a scale payload.
type CriterionInput struct {
	ID          string  `json:"id"`
	Description string  `json:"description" validate:"required"`
	Skill       string  `json:"skill" validate:"required"`
	MaxPoints   float64 `json:"max_points" validate:"required,gt=0"`
	Coefficient float64 `json:"coefficient" validate:"required,gt=0"`
}

// ScaleRequest is the payload for creating or updating a scale.
type ScaleRequest struct {
	Title       string           `json:"title" validate:"required"`
	Description *string          `json:"description"`
	Shared      bool             `json:"shared"`
	Criteria    []CriterionInput `json:"criteria" validate:"required,min=1,dive"`
}

// ScaleService handles grading-scale authoring.
type ScaleService struct {
	repo      scaleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScaleService constructs a ScaleService.
func NewScaleService(repo scaleRepository, validate *validator.Validate, logger *zap.Logger) *ScaleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ScaleService{repo: repo, validator: validate, logger: logger}
}

// Create authors a new scale owned by the actor.
func (s *ScaleService) Create(ctx context.Context, actor *models.JWTClaims, req ScaleRequest) (*models.Scale, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scale payload")
	}

	criteria := toCriteria(req.Criteria)
	if err := grading.ValidateScale(req.Title, criteria); err != nil {
		return nil, err
	}

	scale := &models.Scale{
		Title:       req.Title,
		Description: req.Description,
		CreatorID:   actor.UserID,
		Shared:      req.Shared,
		Criteria:    criteria,
	}
	if err := s.repo.Create(ctx, scale); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create scale")
	}

	s.logger.Info("scale created",
		zap.String("scale_id", scale.ID),
		zap.String("creator_id", scale.CreatorID),
		zap.Int("criteria", len(scale.Criteria)))
	return scale, nil
}

// Update edits a scale the actor owns. Editing is refused once any non-draft
// evaluation references the scale, because published results must keep
// pointing at the criteria they were graded against.
func (s *ScaleService) Update(ctx context.Context, actor *models.JWTClaims, id string, req ScaleRequest) (*models.Scale, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scale payload")
	}

	scale, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	inUse, err := s.repo.CountEvaluations(ctx, id, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check scale usage")
	}
	if inUse > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("scale is used by %d published or archived evaluations and can no longer be edited", inUse))
	}

	criteria := toCriteria(req.Criteria)
	if err := grading.ValidateScale(req.Title, criteria); err != nil {
		return nil, err
	}

	scale.Title = req.Title
	scale.Description = req.Description
	scale.Shared = req.Shared
	scale.Criteria = criteria
	if err := s.repo.Update(ctx, scale); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update scale")
	}
	return scale, nil
}

// Get loads a scale with its criteria. Teachers see their own and shared
// scales; admins see everything.
func (s *ScaleService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Scale, error) {
	scale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scale not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	if !canReadScale(actor, scale) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "scale is not accessible")
	}
	return scale, nil
}

// List returns scales visible to the actor with pagination metadata.
func (s *ScaleService) List(ctx context.Context, actor *models.JWTClaims, filter models.ScaleFilter) ([]models.Scale, *models.Pagination, error) {
	if !actor.IsAdmin() {
		filter.CreatorID = actor.UserID
	}
	scales, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scales")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return scales, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Delete removes an unused scale. Any referencing evaluation, draft included,
// blocks deletion.
func (s *ScaleService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return err
	}

	inUse, err := s.repo.CountEvaluations(ctx, id, false)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check scale usage")
	}
	if inUse > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("scale is referenced by %d evaluations", inUse))
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete scale")
	}
	return nil
}

// DeleteCriterion removes one criterion from a scale unless grades already
// reference it.
func (s *ScaleService) DeleteCriterion(ctx context.Context, actor *models.JWTClaims, scaleID, criterionID string) error {
	scale, err := s.loadOwned(ctx, actor, scaleID)
	if err != nil {
		return err
	}

	found := false
	for _, c := range scale.Criteria {
		if c.ID == criterionID {
			found = true
			break
		}
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "criterion not found on this scale")
	}
	if len(scale.Criteria) == 1 {
		return appErrors.Clone(appErrors.ErrValidation, "a scale must keep at least one criterion")
	}

	if err := s.repo.DeleteCriterion(ctx, criterionID); err != nil {
		switch {
		case errors.Is(err, repository.ErrCriterionReferenced):
			return appErrors.Clone(appErrors.ErrCriterionInUse, "criterion has recorded grades and cannot be removed")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "criterion not found")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete criterion")
		}
	}
	return nil
}

func (s *ScaleService) loadOwned(ctx context.Context, actor *models.JWTClaims, id string) (*models.Scale, error) {
	scale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scale not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	if !actor.IsAdmin() && scale.CreatorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the scale owner or an admin may modify it")
	}
	return scale, nil
}

func canReadScale(actor *models.JWTClaims, scale *models.Scale) bool {
	if actor.IsAdmin() || scale.Shared {
		return true
	}
	return actor.Role == models.RoleTeacher && scale.CreatorID == actor.UserID
}

func toCriteria(inputs []CriterionInput) []models.Criterion {
	criteria := make([]models.Criterion, 0, len(inputs))
	for i, in := range inputs {
		criteria = append(criteria, models.Criterion{
			ID:          in.ID,
			Description: in.Description,
			Skill:       in.Skill,
			MaxPoints:   in.MaxPoints,
			Coefficient: in.Coefficient,
			Position:    i,
		})
	}
	return criteria
}
