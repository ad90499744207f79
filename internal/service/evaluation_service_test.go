package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/internal/repository"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

type memEvalRepo struct {
	evals    map[string]*models.Evaluation
	grades   map[string]map[string]models.Grade
	comments map[string][]models.Comment
	nextID   int
}

func newMemEvalRepo() *memEvalRepo {
	return &memEvalRepo{
		evals:    make(map[string]*models.Evaluation),
		grades:   make(map[string]map[string]models.Grade),
		comments: make(map[string][]models.Comment),
	}
}

func (m *memEvalRepo) Create(ctx context.Context, eval *models.Evaluation) error {
	m.nextID++
	if eval.ID == "" {
		eval.ID = fmt.Sprintf("eval-%d", m.nextID)
	}
	eval.Status = models.StatusDraft
	eval.Version = 1
	clone := *eval
	m.evals[eval.ID] = &clone
	return nil
}

func (m *memEvalRepo) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	eval, ok := m.evals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *eval
	return &clone, nil
}

func (m *memEvalRepo) List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error) {
	var result []models.Evaluation
	for _, e := range m.evals {
		if filter.TeacherID != "" && e.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Status == nil && len(filter.Statuses) > 0 {
			match := false
			for _, status := range filter.Statuses {
				if e.Status == status {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		result = append(result, *e)
	}
	return result, len(result), nil
}

func (m *memEvalRepo) UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, version int64) error {
	eval, ok := m.evals[id]
	if !ok || eval.Version != version {
		return repository.ErrVersionConflict
	}
	eval.Status = status
	eval.Version++
	return nil
}

func (m *memEvalRepo) UpdateMeta(ctx context.Context, eval *models.Evaluation, version int64) error {
	stored, ok := m.evals[eval.ID]
	if !ok || stored.Version != version {
		return repository.ErrVersionConflict
	}
	stored.Title = eval.Title
	stored.EvalDate = eval.EvalDate
	stored.Version++
	return nil
}

func (m *memEvalRepo) UpsertGrade(ctx context.Context, grade *models.Grade, version int64) error {
	eval, ok := m.evals[grade.EvaluationID]
	if !ok || eval.Version != version {
		return repository.ErrVersionConflict
	}
	if m.grades[grade.EvaluationID] == nil {
		m.grades[grade.EvaluationID] = make(map[string]models.Grade)
	}
	grade.ID = grade.EvaluationID + "/" + grade.CriterionID
	m.grades[grade.EvaluationID][grade.CriterionID] = *grade
	eval.Version++
	return nil
}

func (m *memEvalRepo) ListGrades(ctx context.Context, evaluationID string) ([]models.Grade, error) {
	var result []models.Grade
	for _, g := range m.grades[evaluationID] {
		result = append(result, g)
	}
	return result, nil
}

func (m *memEvalRepo) CreateComment(ctx context.Context, comment *models.Comment, version int64) error {
	eval, ok := m.evals[comment.EvaluationID]
	if !ok || eval.Version != version {
		return repository.ErrVersionConflict
	}
	comment.ID = "comment"
	comment.CreatedAt = time.Now()
	m.comments[comment.EvaluationID] = append(m.comments[comment.EvaluationID], *comment)
	eval.Version++
	return nil
}

func (m *memEvalRepo) ListComments(ctx context.Context, evaluationID string) ([]models.Comment, error) {
	return m.comments[evaluationID], nil
}

type memScaleRepo struct {
	scales map[string]*models.Scale
}

func (m *memScaleRepo) FindByID(ctx context.Context, id string) (*models.Scale, error) {
	scale, ok := m.scales[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return scale, nil
}

type memUserRepo struct {
	users  map[string]*models.User
	audits []models.AuditLog
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

type memInvalidator struct {
	students []string
}

func (m *memInvalidator) InvalidateStudent(ctx context.Context, studentID string) {
	m.students = append(m.students, studentID)
}

var (
	teacherActor = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	otherTeacher = &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher}
	studentActor = &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
)

func fixtures() (*EvaluationService, *memEvalRepo, *memInvalidator) {
	evals := newMemEvalRepo()
	scales := &memScaleRepo{scales: map[string]*models.Scale{
		"sc1": {
			ID:        "sc1",
			Title:     "Oral exam",
			CreatorID: "t1",
			Criteria: []models.Criterion{
				{ID: "c1", ScaleID: "sc1", Description: "Fluency", Skill: "Speaking", MaxPoints: 20, Coefficient: 1.0},
			},
		},
	}}
	users := &memUserRepo{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Active: true, FullName: "Student One"},
		"t1": {ID: "t1", Role: models.RoleTeacher, Active: true, FullName: "Teacher One"},
	}}
	invalidator := &memInvalidator{}
	svc := NewEvaluationService(evals, scales, users, invalidator, nil, nil, nil)
	return svc, evals, invalidator
}

func createDraft(t *testing.T, svc *EvaluationService) *models.Evaluation {
	t.Helper()
	eval, err := svc.Create(context.Background(), teacherActor, CreateEvaluationRequest{
		Title:     "Oral exam - term 1",
		EvalDate:  time.Now(),
		StudentID: "s1",
		ScaleID:   "sc1",
	})
	require.NoError(t, err)
	return eval
}

func TestEvaluationLifecycleEndToEnd(t *testing.T) {
	svc, _, invalidator := fixtures()
	ctx := context.Background()
	eval := createDraft(t, svc)
	assert.Equal(t, models.StatusDraft, eval.Status)
	assert.Equal(t, int64(1), eval.Version)

	// publish refused while ungraded
	_, err := svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusPublished, ExpectedVersion: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	// grade the single criterion
	result, err := svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 15}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Empty(t, result.Failures)
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, 15.0, result.Summary.Total)
	assert.Equal(t, 100.0, result.Summary.Progress.Percentage)

	// now publishing succeeds
	published, err := svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusPublished, ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, published.Status)

	// grades stay editable while published
	result, err = svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 18}},
		ExpectedVersion: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 18.0, result.Summary.Total)

	// archive and verify grades are locked
	archived, err := svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusArchived, ExpectedVersion: 4})
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, archived.Status)

	_, err = svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 10}},
		ExpectedVersion: 5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrArchived))

	// comments remain open after archiving
	comment, err := svc.AddComment(ctx, teacherActor, eval.ID, CommentRequest{Text: "good effort this term"})
	require.NoError(t, err)
	assert.Equal(t, "t1", comment.TeacherID)

	assert.NotEmpty(t, invalidator.students)
}

func TestSaveGradesStaleVersionRejected(t *testing.T) {
	svc, _, _ := fixtures()
	eval := createDraft(t, svc)

	_, err := svc.SaveGrades(context.Background(), teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 10}},
		ExpectedVersion: 99,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStaleVersion))
}

func TestSaveGradesClampsOverflowAndReportsFailure(t *testing.T) {
	svc, evals, _ := fixtures()
	eval := createDraft(t, svc)

	result, err := svc.SaveGrades(context.Background(), teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 25}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	// the clamped value is persisted and the correction reported
	assert.Equal(t, 1, result.Saved)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "Fluency", result.Failures[0].Description)
	assert.Contains(t, result.Failures[0].Reason, "20")

	grades, err := evals.ListGrades(context.Background(), eval.ID)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, 20.0, grades[0].Value)
}

func TestSaveGradeSingleEntrySharesBatchSemantics(t *testing.T) {
	svc, _, _ := fixtures()
	eval := createDraft(t, svc)

	result, err := svc.SaveGrade(context.Background(), teacherActor, eval.ID, SaveGradeRequest{
		CriterionID:     "c1",
		Value:           15,
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Empty(t, result.Failures)
	assert.Equal(t, int64(2), result.Version)

	grades, err := svc.ListGrades(context.Background(), teacherActor, eval.ID)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, 15.0, grades[0].Value)
}

func TestSaveGradesRejectsNegativeWithoutSaving(t *testing.T) {
	svc, evals, _ := fixtures()
	eval := createDraft(t, svc)

	result, err := svc.SaveGrades(context.Background(), teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: -3}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Saved)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Reason, "negative")

	grades, _ := evals.ListGrades(context.Background(), eval.ID)
	assert.Empty(t, grades)
}

func TestSaveGradesUnknownCriterionSkipped(t *testing.T) {
	svc, _, _ := fixtures()
	eval := createDraft(t, svc)

	result, err := svc.SaveGrades(context.Background(), teacherActor, eval.ID, SaveGradesRequest{
		Grades: []GradeInput{
			{CriterionID: "ghost", Value: 5},
			{CriterionID: "c1", Value: 12},
		},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "ghost", result.Failures[0].CriterionID)
}

func TestSaveGradesForbiddenForOtherTeacher(t *testing.T) {
	svc, _, _ := fixtures()
	eval := createDraft(t, svc)

	_, err := svc.SaveGrades(context.Background(), otherTeacher, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 5}},
		ExpectedVersion: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestTransitionForbiddenForOtherTeacherEvenWithWrongVersion(t *testing.T) {
	svc, _, _ := fixtures()
	eval := createDraft(t, svc)

	// authorization must win over the version mismatch so the current
	// version is never disclosed to a non-owner
	_, err := svc.Transition(context.Background(), otherTeacher, eval.ID, TransitionRequest{
		Status:          models.StatusPublished,
		ExpectedVersion: 999,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.NotContains(t, err.Error(), "version 1")
}

func TestGetHidesDraftFromStudent(t *testing.T) {
	svc, _, _ := fixtures()
	ctx := context.Background()
	eval := createDraft(t, svc)

	_, err := svc.Get(ctx, studentActor, eval.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 15}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusPublished, ExpectedVersion: 2})
	require.NoError(t, err)

	detail, err := svc.Get(ctx, studentActor, eval.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, detail.Summary.Total)
	assert.Equal(t, 20.0, detail.Summary.Max)
	assert.InDelta(t, 75.0, detail.Summary.Percentage, 1e-9)
}

func TestTransitionAuditLogged(t *testing.T) {
	svc, evals, _ := fixtures()
	ctx := context.Background()
	eval := createDraft(t, svc)

	_, err := svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 20}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	users := svc.users.(*memUserRepo)
	_, err = svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusPublished, ExpectedVersion: 2})
	require.NoError(t, err)

	require.Len(t, users.audits, 1)
	assert.Equal(t, models.AuditActionStatusTransition, users.audits[0].Action)

	stored, err := evals.FindByID(ctx, eval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, stored.Status)
	assert.Equal(t, int64(3), stored.Version)
}

func TestCreateRejectsNonStudentTarget(t *testing.T) {
	svc, _, _ := fixtures()

	_, err := svc.Create(context.Background(), teacherActor, CreateEvaluationRequest{
		Title:     "Misdirected",
		EvalDate:  time.Now(),
		StudentID: "t1",
		ScaleID:   "sc1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestListScopesStudentToPublishedAndArchived(t *testing.T) {
	svc, _, _ := fixtures()
	ctx := context.Background()
	eval := createDraft(t, svc)

	evals, _, err := svc.List(ctx, studentActor, models.EvaluationFilter{})
	require.NoError(t, err)
	assert.Empty(t, evals)

	draft := models.StatusDraft
	_, _, err = svc.List(ctx, studentActor, models.EvaluationFilter{Status: &draft})
	require.Error(t, err)

	_, err = svc.SaveGrades(ctx, teacherActor, eval.ID, SaveGradesRequest{
		Grades:          []GradeInput{{CriterionID: "c1", Value: 15}},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusPublished, ExpectedVersion: 2})
	require.NoError(t, err)

	evals, _, err = svc.List(ctx, studentActor, models.EvaluationFilter{})
	require.NoError(t, err)
	assert.Len(t, evals, 1)

	// archiving must not hide the result from its own student
	_, err = svc.Transition(ctx, teacherActor, eval.ID, TransitionRequest{Status: models.StatusArchived, ExpectedVersion: 3})
	require.NoError(t, err)

	evals, _, err = svc.List(ctx, studentActor, models.EvaluationFilter{})
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, models.StatusArchived, evals[0].Status)
}
