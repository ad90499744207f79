// Package grading holds the pure evaluation-domain logic: score aggregation,
// grading-progress tracking, scale authoring rules and the evaluation
// lifecycle state machine. Functions here never touch storage and tolerate
// missing criteria or grades, so callers can invoke them repeatedly on
// partially graded evaluations.
package grading

import (
	"fmt"
	"math"
	"sort"

	"github.com/progress89/evaluation-api/internal/models"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

// Total sums all recorded grade values. Zero when no grades exist.
func Total(grades []models.Grade) float64 {
	var sum float64
	for _, g := range grades {
		if math.IsNaN(g.Value) {
			continue
		}
		sum += g.Value
	}
	return sum
}

// MaxScore sums max points over the scale's criteria. Zero when the scale is empty.
func MaxScore(criteria []models.Criterion) float64 {
	var sum float64
	for _, c := range criteria {
		sum += c.MaxPoints
	}
	return sum
}

// Percentage converts a total/max pair into a percentage, guarding max == 0.
func Percentage(total, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return total / max * 100
}

// Summarize derives the full numeric summary for an evaluation's grades
// against its scale's criteria.
func Summarize(criteria []models.Criterion, grades []models.Grade) models.EvaluationSummary {
	total := Total(grades)
	max := MaxScore(criteria)
	return models.EvaluationSummary{
		Total:      total,
		Max:        max,
		Percentage: Percentage(total, max),
		Progress:   Progress(criteria, grades),
		Skills:     SkillBreakdown(criteria, grades),
	}
}

// Progress counts how many criteria have a recorded, non-NaN grade.
// Publication is gated on Graded == Total with Total > 0.
func Progress(criteria []models.Criterion, grades []models.Grade) models.GradingProgress {
	byCriterion := gradeIndex(grades)
	progress := models.GradingProgress{Total: len(criteria)}
	for _, c := range criteria {
		if g, ok := byCriterion[c.ID]; ok && !math.IsNaN(g.Value) {
			progress.Graded++
		}
	}
	if progress.Total > 0 {
		progress.Percentage = float64(progress.Graded) / float64(progress.Total) * 100
	}
	return progress
}

// SkillBreakdown groups criteria by skill label, summing earned and maximum
// points per group. Groups are sorted by percentage descending; a group whose
// criteria carry zero max points reports percentage 0.
func SkillBreakdown(criteria []models.Criterion, grades []models.Grade) []models.SkillBreakdown {
	if len(criteria) == 0 {
		return nil
	}
	byCriterion := gradeIndex(grades)
	groups := make(map[string]*models.SkillBreakdown)
	order := make([]string, 0)
	for _, c := range criteria {
		group, ok := groups[c.Skill]
		if !ok {
			group = &models.SkillBreakdown{Skill: c.Skill}
			groups[c.Skill] = group
			order = append(order, c.Skill)
		}
		group.Max += c.MaxPoints
		if g, found := byCriterion[c.ID]; found && !math.IsNaN(g.Value) {
			group.Current += g.Value
			group.Grades = append(group.Grades, g)
		}
	}

	result := make([]models.SkillBreakdown, 0, len(order))
	for _, skill := range order {
		group := groups[skill]
		group.Percentage = Percentage(group.Current, group.Max)
		result = append(result, *group)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Percentage > result[j].Percentage
	})
	return result
}

// ValidateGradeValue applies the grade-entry policy for a criterion.
// Negative and NaN values are rejected outright and no value is applied.
// Values above the criterion maximum are clamped down to the maximum while
// still returning a validation error naming the bound, so callers can keep
// the corrected value and surface the complaint without discarding the rest
// of the submission.
func ValidateGradeValue(value, maxPoints float64) (float64, error) {
	if math.IsNaN(value) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "grade value must be a number")
	}
	if value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "grade value must not be negative")
	}
	if value > maxPoints {
		return maxPoints, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grade value exceeds maximum of %g points", maxPoints))
	}
	return value, nil
}

func gradeIndex(grades []models.Grade) map[string]models.Grade {
	index := make(map[string]models.Grade, len(grades))
	for _, g := range grades {
		index[g.CriterionID] = g
	}
	return index
}
