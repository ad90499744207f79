package grading

import (
	"fmt"

	"github.com/progress89/evaluation-api/internal/models"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

// transitions lists the only legal status edges. The lifecycle is monotonic:
// draft → published → archived, no skips, no reversals.
var transitions = map[models.EvaluationStatus]models.EvaluationStatus{
	models.StatusDraft:     models.StatusPublished,
	models.StatusPublished: models.StatusArchived,
}

// CanManage reports whether the actor owns the evaluation or is an admin.
// All mutation permissions funnel through here so role checks live in one
// place instead of being repeated per endpoint.
func CanManage(actor *models.JWTClaims, eval *models.Evaluation) bool {
	if actor == nil || eval == nil {
		return false
	}
	if actor.Role == models.RoleAdmin {
		return true
	}
	return actor.Role == models.RoleTeacher && actor.UserID == eval.TeacherID
}

// CanView reports whether the actor may read the evaluation. Students see
// only their own published or archived evaluations.
func CanView(actor *models.JWTClaims, eval *models.Evaluation) bool {
	if CanManage(actor, eval) {
		return true
	}
	if actor == nil || eval == nil || actor.Role != models.RoleStudent {
		return false
	}
	if actor.UserID != eval.StudentID {
		return false
	}
	return eval.Status == models.StatusPublished || eval.Status == models.StatusArchived
}

// CheckTransition validates a status transition request against the state
// machine and the grading-completeness gate. The publish gate is the one hard
// business invariant: an evaluation cannot be published incomplete.
func CheckTransition(actor *models.JWTClaims, eval *models.Evaluation, target models.EvaluationStatus, progress models.GradingProgress) error {
	if !target.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", target))
	}
	if !CanManage(actor, eval) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may change evaluation status")
	}
	if transitions[eval.Status] != target {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot transition evaluation from %s to %s", eval.Status, target))
	}
	if target == models.StatusPublished {
		if progress.Total == 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot publish an evaluation whose scale has no criteria")
		}
		if progress.Graded < progress.Total {
			remaining := progress.Total - progress.Graded
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("cannot publish: %d of %d criteria still ungraded", remaining, progress.Total))
		}
	}
	return nil
}

// CheckGradeWrite validates that the actor may record or update grades on the
// evaluation. Grades stay editable while draft or published; archiving locks
// them for good.
func CheckGradeWrite(actor *models.JWTClaims, eval *models.Evaluation) error {
	if !CanManage(actor, eval) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may enter grades")
	}
	if eval.Status == models.StatusArchived {
		return appErrors.Clone(appErrors.ErrArchived, "grades cannot be modified on an archived evaluation")
	}
	return nil
}

// CheckComment validates that the actor may append a comment. Comments are
// allowed in any status, including archived.
func CheckComment(actor *models.JWTClaims, eval *models.Evaluation) error {
	if !CanManage(actor, eval) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may comment")
	}
	return nil
}
