package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/progress89/evaluation-api/internal/grading"
	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/internal/repository"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

type evaluationRepository interface {
	Create(ctx context.Context, eval *models.Evaluation) error
	FindByID(ctx context.Context, id string) (*models.Evaluation, error)
	List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error)
	UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, version int64) error
	UpdateMeta(ctx context.Context, eval *models.Evaluation, version int64) error
	UpsertGrade(ctx context.Context, grade *models.Grade, version int64) error
	ListGrades(ctx context.Context, evaluationID string) ([]models.Grade, error)
	CreateComment(ctx context.Context, comment *models.Comment, version int64) error
	ListComments(ctx context.Context, evaluationID string) ([]models.Comment, error)
}

type evaluationScaleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Scale, error)
}

type evaluationUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type reportInvalidator interface {
	InvalidateStudent(ctx context.Context, studentID string)
}

// CreateEvaluationRequest is the payload for opening a new draft evaluation.
type CreateEvaluationRequest struct {
	Title     string    `json:"title" validate:"required"`
	EvalDate  time.Time `json:"eval_date" validate:"required"`
	StudentID string    `json:"student_id" validate:"required"`
	ScaleID   string    `json:"scale_id" validate:"required"`
}

// UpdateEvaluationRequest edits the descriptive fields of an evaluation.
type UpdateEvaluationRequest struct {
	Title           string    `json:"title" validate:"required"`
	EvalDate        time.Time `json:"eval_date" validate:"required"`
	ExpectedVersion int64     `json:"expected_version" validate:"required,gt=0"`
}

// GradeInput records one criterion's value in a grade submission.
type GradeInput struct {
	CriterionID string  `json:"criterion_id" validate:"required"`
	Value       float64 `json:"value"`
}

// SaveGradesRequest submits one or more grades against an evaluation.
type SaveGradesRequest struct {
	Grades          []GradeInput `json:"grades" validate:"required,min=1,dive"`
	ExpectedVersion int64        `json:"expected_version" validate:"required,gt=0"`
}

// SaveGradeRequest records a single grade against an evaluation.
type SaveGradeRequest struct {
	CriterionID     string  `json:"criterion_id" validate:"required"`
	Value           float64 `json:"value"`
	ExpectedVersion int64   `json:"expected_version" validate:"required,gt=0"`
}

// GradeFailure reports one criterion that could not be graded during a batch
// submission, identified by its description for human-readable feedback.
type GradeFailure struct {
	CriterionID string `json:"criterion_id"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// SaveGradesResult summarises a batch grade submission. Saved grades are kept
// even when later entries fail.
type SaveGradesResult struct {
	Saved    int                      `json:"saved"`
	Failures []GradeFailure           `json:"failures,omitempty"`
	Version  int64                    `json:"version"`
	Summary  models.EvaluationSummary `json:"summary"`
}

// TransitionRequest moves an evaluation along its lifecycle.
type TransitionRequest struct {
	Status          models.EvaluationStatus `json:"status" validate:"required"`
	ExpectedVersion int64                   `json:"expected_version" validate:"required,gt=0"`
}

// CommentRequest appends a remark to an evaluation.
type CommentRequest struct {
	Text string `json:"text" validate:"required"`
}

// EvaluationService orchestrates the evaluation lifecycle, grade entry and
// commenting. Permission and state-machine rules live in the grading package;
// this service wires them to storage and concurrency control.
type EvaluationService struct {
	evals     evaluationRepository
	scales    evaluationScaleRepository
	users     evaluationUserRepository
	reports   reportInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEvaluationService constructs an EvaluationService. The metrics service
// may be nil, in which case counters are skipped.
func NewEvaluationService(evals evaluationRepository, scales evaluationScaleRepository, users evaluationUserRepository, reports reportInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EvaluationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EvaluationService{evals: evals, scales: scales, users: users, reports: reports, metrics: metrics, validator: validate, logger: logger}
}

// Create opens a new draft evaluation binding a student to a scale.
func (s *EvaluationService) Create(ctx context.Context, actor *models.JWTClaims, req CreateEvaluationRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "evaluated user must have the student role")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student account is inactive")
	}

	scale, err := s.scales.FindByID(ctx, req.ScaleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scale not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	if !actor.IsAdmin() && !scale.Shared && scale.CreatorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "scale is not accessible")
	}

	eval := &models.Evaluation{
		Title:     req.Title,
		EvalDate:  req.EvalDate,
		StudentID: req.StudentID,
		TeacherID: actor.UserID,
		ScaleID:   req.ScaleID,
	}
	if err := s.evals.Create(ctx, eval); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation")
	}

	s.logger.Info("evaluation created",
		zap.String("evaluation_id", eval.ID),
		zap.String("teacher_id", eval.TeacherID),
		zap.String("student_id", eval.StudentID))
	return eval, nil
}

// Update edits the title and date of a non-archived evaluation.
func (s *EvaluationService) Update(ctx context.Context, actor *models.JWTClaims, id string, req UpdateEvaluationRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	eval, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !grading.CanManage(actor, eval) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may edit the evaluation")
	}
	if eval.Status == models.StatusArchived {
		return nil, appErrors.Clone(appErrors.ErrArchived, "archived evaluations cannot be edited")
	}
	if eval.Version != req.ExpectedVersion {
		return nil, appErrors.Clone(appErrors.ErrStaleVersion, staleMessage(eval.Version, req.ExpectedVersion))
	}

	eval.Title = req.Title
	eval.EvalDate = req.EvalDate
	if err := s.evals.UpdateMeta(ctx, eval, req.ExpectedVersion); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrStaleVersion, "evaluation was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evaluation")
	}
	eval.Version++
	return eval, nil
}

// Get returns the full evaluation detail with scale, grades, comments and the
// derived score summary. Visibility follows the lifecycle rules.
func (s *EvaluationService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.EvaluationDetail, error) {
	eval, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !grading.CanView(actor, eval) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "evaluation is not accessible")
	}
	return s.buildDetail(ctx, eval)
}

// List returns evaluations visible to the actor. Teachers see their own,
// students see their published and archived results, admins see everything.
func (s *EvaluationService) List(ctx context.Context, actor *models.JWTClaims, filter models.EvaluationFilter) ([]models.Evaluation, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleTeacher:
		filter.TeacherID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
		if filter.Status == nil {
			filter.Statuses = []models.EvaluationStatus{models.StatusPublished, models.StatusArchived}
		} else if *filter.Status == models.StatusDraft {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot list draft evaluations")
		}
	}

	evals, total, err := s.evals.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluations")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return evals, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// SaveGrades records grades sequentially. Entries are validated one by one
// against their criterion; a failing entry is reported by criterion
// description and skipped while the rest of the batch proceeds. Overflowing
// values are clamped to the criterion maximum and saved, still counted as a
// failure so the caller sees the correction.
func (s *EvaluationService) SaveGrades(ctx context.Context, actor *models.JWTClaims, evaluationID string, req SaveGradesRequest) (*SaveGradesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grades payload")
	}

	eval, err := s.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := grading.CheckGradeWrite(actor, eval); err != nil {
		return nil, err
	}
	if eval.Version != req.ExpectedVersion {
		return nil, appErrors.Clone(appErrors.ErrStaleVersion, staleMessage(eval.Version, req.ExpectedVersion))
	}

	scale, err := s.scales.FindByID(ctx, eval.ScaleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	byID := make(map[string]models.Criterion, len(scale.Criteria))
	for _, c := range scale.Criteria {
		byID[c.ID] = c
	}

	result := &SaveGradesResult{Version: eval.Version}
	for _, input := range req.Grades {
		criterion, ok := byID[input.CriterionID]
		if !ok {
			result.Failures = append(result.Failures, GradeFailure{
				CriterionID: input.CriterionID,
				Description: "unknown criterion",
				Reason:      "criterion does not belong to the evaluation's scale",
			})
			continue
		}

		value, validationErr := grading.ValidateGradeValue(input.Value, criterion.MaxPoints)
		if validationErr != nil {
			result.Failures = append(result.Failures, GradeFailure{
				CriterionID: criterion.ID,
				Description: criterion.Description,
				Reason:      validationErr.Error(),
			})
			if input.Value < 0 || math.IsNaN(input.Value) {
				continue
			}
			// overflow was clamped, persist the corrected value
		}

		grade := &models.Grade{EvaluationID: eval.ID, CriterionID: criterion.ID, Value: value}
		if err := s.evals.UpsertGrade(ctx, grade, result.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return nil, appErrors.Clone(appErrors.ErrStaleVersion, "evaluation was modified concurrently, reload and retry")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save grade")
		}
		result.Saved++
		result.Version++
		s.metrics.RecordGradeSaved()
	}

	grades, err := s.evals.ListGrades(ctx, eval.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload grades")
	}
	result.Summary = grading.Summarize(scale.Criteria, grades)

	if result.Saved > 0 && s.reports != nil {
		s.reports.InvalidateStudent(ctx, eval.StudentID)
	}
	return result, nil
}

// Transition moves an evaluation along draft → published → archived. The
// publish step is gated on complete grading; archiving is unconditional for
// authorized actors. Every transition is audit logged.
func (s *EvaluationService) Transition(ctx context.Context, actor *models.JWTClaims, id string, req TransitionRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	eval, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// permission check precedes the version compare; the stale error
	// carries the current version
	if !grading.CanManage(actor, eval) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may change evaluation status")
	}
	if eval.Version != req.ExpectedVersion {
		return nil, appErrors.Clone(appErrors.ErrStaleVersion, staleMessage(eval.Version, req.ExpectedVersion))
	}

	scale, err := s.scales.FindByID(ctx, eval.ScaleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	grades, err := s.evals.ListGrades(ctx, eval.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	progress := grading.Progress(scale.Criteria, grades)

	if err := grading.CheckTransition(actor, eval, req.Status, progress); err != nil {
		return nil, err
	}

	if err := s.evals.UpdateStatus(ctx, eval.ID, req.Status, req.ExpectedVersion); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrStaleVersion, "evaluation was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"status": eval.Status})
	newPayload, _ := json.Marshal(map[string]interface{}{"status": req.Status})
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionStatusTransition,
		Resource:   "evaluations",
		ResourceID: &eval.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
	}); err != nil {
		s.logger.Warn("failed to record status transition audit log", zap.Error(err))
	}

	s.logger.Info("evaluation status changed",
		zap.String("evaluation_id", eval.ID),
		zap.String("from", string(eval.Status)),
		zap.String("to", string(req.Status)))

	eval.Status = req.Status
	eval.Version++
	s.metrics.RecordTransition(req.Status)
	if s.reports != nil {
		s.reports.InvalidateStudent(ctx, eval.StudentID)
	}
	return eval, nil
}

// AddComment appends a teacher remark. Comments stay writable in every
// lifecycle status, archived included.
func (s *EvaluationService) AddComment(ctx context.Context, actor *models.JWTClaims, evaluationID string, req CommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	eval, err := s.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := grading.CheckComment(actor, eval); err != nil {
		return nil, err
	}

	comment := &models.Comment{EvaluationID: eval.ID, TeacherID: actor.UserID, Text: req.Text}
	if err := s.evals.CreateComment(ctx, comment, eval.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrStaleVersion, "evaluation was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save comment")
	}
	return comment, nil
}

// SaveGrade records a single grade. It shares all batch semantics, so a
// clamped or rejected value surfaces in the result's failure list.
func (s *EvaluationService) SaveGrade(ctx context.Context, actor *models.JWTClaims, evaluationID string, req SaveGradeRequest) (*SaveGradesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	return s.SaveGrades(ctx, actor, evaluationID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: req.CriterionID, Value: req.Value}},
		ExpectedVersion: req.ExpectedVersion,
	})
}

// ListGrades returns the recorded grades of an evaluation the actor may view.
func (s *EvaluationService) ListGrades(ctx context.Context, actor *models.JWTClaims, evaluationID string) ([]models.Grade, error) {
	eval, err := s.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if !grading.CanView(actor, eval) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "evaluation is not accessible")
	}
	grades, err := s.evals.ListGrades(ctx, evaluationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, nil
}

// ListComments returns the comment thread of an evaluation the actor may view.
func (s *EvaluationService) ListComments(ctx context.Context, actor *models.JWTClaims, evaluationID string) ([]models.Comment, error) {
	eval, err := s.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if !grading.CanView(actor, eval) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "evaluation is not accessible")
	}
	comments, err := s.evals.ListComments(ctx, evaluationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

func (s *EvaluationService) load(ctx context.Context, id string) (*models.Evaluation, error) {
	eval, err := s.evals.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	return eval, nil
}

func (s *EvaluationService) buildDetail(ctx context.Context, eval *models.Evaluation) (*models.EvaluationDetail, error) {
	scale, err := s.scales.FindByID(ctx, eval.ScaleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	grades, err := s.evals.ListGrades(ctx, eval.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	comments, err := s.evals.ListComments(ctx, eval.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}

	return &models.EvaluationDetail{
		Evaluation: *eval,
		Scale:      scale,
		Grades:     grades,
		Comments:   comments,
		Summary:    grading.Summarize(scale.Criteria, grades),
	}, nil
}

func staleMessage(current, expected int64) string {
	return fmt.Sprintf("evaluation is at version %d but the request expected version %d", current, expected)
}
