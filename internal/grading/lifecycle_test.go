package grading

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress89/evaluation-api/internal/models"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

var (
	owner   = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	other   = &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher}
	admin   = &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	student = &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
)

func draftEval() *models.Evaluation {
	return &models.Evaluation{ID: "e1", TeacherID: "t1", StudentID: "s1", Status: models.StatusDraft}
}

func TestCheckTransitionPublishRequiresFullGrading(t *testing.T) {
	eval := draftEval()
	progress := models.GradingProgress{Total: 3, Graded: 2}

	err := CheckTransition(owner, eval, models.StatusPublished, progress)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestCheckTransitionPublishAcceptedWhenComplete(t *testing.T) {
	eval := draftEval()
	progress := models.GradingProgress{Total: 3, Graded: 3, Percentage: 100}

	require.NoError(t, CheckTransition(owner, eval, models.StatusPublished, progress))
}

func TestCheckTransitionPublishRejectedForEmptyScale(t *testing.T) {
	err := CheckTransition(owner, draftEval(), models.StatusPublished, models.GradingProgress{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestCheckTransitionArchiveUnconditional(t *testing.T) {
	eval := draftEval()
	eval.Status = models.StatusPublished

	// archiving never consults grading progress
	require.NoError(t, CheckTransition(owner, eval, models.StatusArchived, models.GradingProgress{Total: 5, Graded: 1}))
	require.NoError(t, CheckTransition(admin, eval, models.StatusArchived, models.GradingProgress{}))
}

func TestCheckTransitionRejectsReversalsAndSkips(t *testing.T) {
	cases := []struct {
		from, to models.EvaluationStatus
	}{
		{models.StatusDraft, models.StatusArchived},
		{models.StatusPublished, models.StatusDraft},
		{models.StatusArchived, models.StatusPublished},
		{models.StatusArchived, models.StatusDraft},
		{models.StatusDraft, models.StatusDraft},
	}
	full := models.GradingProgress{Total: 1, Graded: 1, Percentage: 100}
	for _, tc := range cases {
		eval := draftEval()
		eval.Status = tc.from
		err := CheckTransition(owner, eval, tc.to, full)
		assert.Error(t, err, "transition %s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestCheckTransitionForbiddenForNonOwner(t *testing.T) {
	full := models.GradingProgress{Total: 1, Graded: 1, Percentage: 100}

	err := CheckTransition(other, draftEval(), models.StatusPublished, full)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	err = CheckTransition(student, draftEval(), models.StatusPublished, full)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCheckGradeWriteByStatus(t *testing.T) {
	eval := draftEval()
	require.NoError(t, CheckGradeWrite(owner, eval))

	eval.Status = models.StatusPublished
	require.NoError(t, CheckGradeWrite(owner, eval))
	require.NoError(t, CheckGradeWrite(admin, eval))

	eval.Status = models.StatusArchived
	err := CheckGradeWrite(owner, eval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrArchived))
}

func TestCheckGradeWriteForbiddenForOtherTeacher(t *testing.T) {
	err := CheckGradeWrite(other, draftEval())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCanView(t *testing.T) {
	eval := draftEval()

	assert.True(t, CanView(owner, eval))
	assert.True(t, CanView(admin, eval))
	// students never see drafts, even their own
	assert.False(t, CanView(student, eval))

	eval.Status = models.StatusPublished
	assert.True(t, CanView(student, eval))
	assert.False(t, CanView(&models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, eval))

	eval.Status = models.StatusArchived
	assert.True(t, CanView(student, eval))
}
