package grading

import (
	"fmt"
	"strings"

	"github.com/progress89/evaluation-api/internal/models"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

// coefficientTolerance absorbs float accumulation noise when comparing the
// coefficient sum against the 1.0 upper bound.
const coefficientTolerance = 1e-9

// CoefficientSum adds up the criteria coefficients of a scale.
func CoefficientSum(criteria []models.Criterion) float64 {
	var sum float64
	for _, c := range criteria {
		sum += c.Coefficient
	}
	return sum
}

// ValidateScale applies the authoring rules for creating or editing a scale:
// non-empty title, at least one criterion, each criterion fully described
// with positive bounds, and a coefficient sum no greater than 1.0. A sum
// below 1.0 is legal; callers may surface it as informational.
func ValidateScale(title string, criteria []models.Criterion) error {
	if strings.TrimSpace(title) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "scale title must not be empty")
	}
	if len(criteria) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "scale must define at least one criterion")
	}
	for i, c := range criteria {
		if err := validateCriterion(i, c); err != nil {
			return err
		}
	}
	if sum := CoefficientSum(criteria); sum > 1.0+coefficientTolerance {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("criteria coefficients sum to %.2f, which exceeds 1.0", sum))
	}
	return nil
}

func validateCriterion(index int, c models.Criterion) error {
	if strings.TrimSpace(c.Description) == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("criterion %d: description must not be empty", index+1))
	}
	if strings.TrimSpace(c.Skill) == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("criterion %d: skill must not be empty", index+1))
	}
	if c.MaxPoints <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("criterion %d: max points must be positive", index+1))
	}
	if c.Coefficient <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("criterion %d: coefficient must be positive", index+1))
	}
	return nil
}
