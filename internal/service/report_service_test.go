package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/progress89/evaluation-api/internal/models"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

type memReportEvalRepo struct {
	evaluations  []models.Evaluation
	grades       map[string][]models.Grade
	comments     map[string][]models.Comment
	statusCounts []models.StatusCount
	total        int

	listByStudentCalls int
}

func (m *memReportEvalRepo) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	for i := range m.evaluations {
		if m.evaluations[i].ID == id {
			eval := m.evaluations[i]
			return &eval, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memReportEvalRepo) ListByStudent(ctx context.Context, studentID string) ([]models.Evaluation, error) {
	m.listByStudentCalls++
	var result []models.Evaluation
	for _, e := range m.evaluations {
		if e.StudentID == studentID && e.Status != models.StatusDraft {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *memReportEvalRepo) GradesForEvaluations(ctx context.Context, evaluationIDs []string) (map[string][]models.Grade, error) {
	result := make(map[string][]models.Grade)
	for _, id := range evaluationIDs {
		if grades, ok := m.grades[id]; ok {
			result[id] = grades
		}
	}
	return result, nil
}

func (m *memReportEvalRepo) ListGrades(ctx context.Context, evaluationID string) ([]models.Grade, error) {
	return m.grades[evaluationID], nil
}

func (m *memReportEvalRepo) ListComments(ctx context.Context, evaluationID string) ([]models.Comment, error) {
	return m.comments[evaluationID], nil
}

func (m *memReportEvalRepo) CountByStatus(ctx context.Context, teacherID string) ([]models.StatusCount, error) {
	return m.statusCounts, nil
}

func (m *memReportEvalRepo) CountAll(ctx context.Context) (int, error) {
	return m.total, nil
}

type memReportScaleRepo struct {
	scales         map[string]*models.Scale
	countByCreator int
	total          int
}

func (m *memReportScaleRepo) FindByID(ctx context.Context, id string) (*models.Scale, error) {
	scale, ok := m.scales[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return scale, nil
}

func (m *memReportScaleRepo) ListCriteria(ctx context.Context, scaleID string) ([]models.Criterion, error) {
	scale, ok := m.scales[scaleID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return scale.Criteria, nil
}

func (m *memReportScaleRepo) CountByCreator(ctx context.Context, creatorID string) (int, error) {
	return m.countByCreator, nil
}

func (m *memReportScaleRepo) CountAll(ctx context.Context) (int, error) {
	return m.total, nil
}

type memReportUserRepo struct {
	users      map[string]*models.User
	roleCounts map[models.UserRole]int
}

func (m *memReportUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memReportUserRepo) CountByRole(ctx context.Context, role models.UserRole) (int, error) {
	return m.roleCounts[role], nil
}

// memKV is an in-process stand-in for the Redis cache repository.
type memKV struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{entries: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memKV) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func reportFixtures() (*memReportEvalRepo, *memReportScaleRepo, *memReportUserRepo) {
	criteria := []models.Criterion{
		{ID: "c1", ScaleID: "sc1", Description: "Fluency", Skill: "Speaking", MaxPoints: 20, Coefficient: 0.5, Position: 0},
		{ID: "c2", ScaleID: "sc1", Description: "Structure", Skill: "Writing", MaxPoints: 10, Coefficient: 0.5, Position: 1},
	}
	evals := &memReportEvalRepo{
		evaluations: []models.Evaluation{
			{ID: "e1", Title: "Oral exam", StudentID: "s1", TeacherID: "t1", ScaleID: "sc1", Status: models.StatusPublished, Version: 3},
			{ID: "e2", Title: "Essay", StudentID: "s1", TeacherID: "t1", ScaleID: "sc1", Status: models.StatusArchived, Version: 5},
			{ID: "e3", Title: "Draft work", StudentID: "s1", TeacherID: "t1", ScaleID: "sc1", Status: models.StatusDraft, Version: 1},
		},
		grades: map[string][]models.Grade{
			"e1": {
				{ID: "g1", EvaluationID: "e1", CriterionID: "c1", Value: 12},
				{ID: "g2", EvaluationID: "e1", CriterionID: "c2", Value: 5},
			},
			"e2": {
				{ID: "g3", EvaluationID: "e2", CriterionID: "c1", Value: 20},
				{ID: "g4", EvaluationID: "e2", CriterionID: "c2", Value: 10},
			},
		},
		comments: map[string][]models.Comment{
			"e1": {{ID: "cm1", EvaluationID: "e1", TeacherID: "t1", Text: "Good progress"}},
		},
	}
	scales := &memReportScaleRepo{
		scales: map[string]*models.Scale{
			"sc1": {ID: "sc1", Title: "Language scale", CreatorID: "t1", Criteria: criteria},
		},
	}
	users := &memReportUserRepo{
		users: map[string]*models.User{
			"s1": {ID: "s1", FullName: "Student One", Role: models.RoleStudent, Active: true},
			"t1": {ID: "t1", FullName: "Teacher One", Role: models.RoleTeacher, Active: true},
		},
	}
	return evals, scales, users
}

func TestStudentPerformanceAggregatesAcrossEvaluations(t *testing.T) {
	evals, scales, users := reportFixtures()
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	report, err := svc.StudentPerformance(context.Background(), &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, "s1")
	require.NoError(t, err)

	// the draft evaluation stays invisible
	assert.Equal(t, 2, report.EvaluationCount)
	require.Len(t, report.Evaluations, 2)
	firstPercent := 100 * 17.0 / 30.0
	assert.InDelta(t, firstPercent, report.Evaluations[0].Percentage, 1e-9)
	assert.InDelta(t, 100.0, report.Evaluations[1].Percentage, 1e-9)
	assert.InDelta(t, (firstPercent+100.0)/2, report.AveragePercent, 1e-9)

	require.Len(t, report.Skills, 2)
	assert.Equal(t, "Speaking", report.Skills[0].Skill)
	assert.InDelta(t, 32.0, report.Skills[0].Current, 1e-9)
	assert.InDelta(t, 40.0, report.Skills[0].Max, 1e-9)
	assert.Equal(t, "Writing", report.Skills[1].Skill)
	assert.InDelta(t, 15.0, report.Skills[1].Current, 1e-9)
	assert.InDelta(t, 20.0, report.Skills[1].Max, 1e-9)
}

func TestStudentPerformanceForbiddenForOtherStudent(t *testing.T) {
	evals, scales, users := reportFixtures()
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	_, err := svc.StudentPerformance(context.Background(), &models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, "s1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestStudentPerformanceServedFromCacheUntilInvalidated(t *testing.T) {
	evals, scales, users := reportFixtures()
	cacheSvc := NewCacheService(newMemKV(), nil, time.Minute, zap.NewNop(), true)
	svc := NewReportService(evals, scales, users, cacheSvc, nil, time.Minute, zap.NewNop())
	actor := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	_, err := svc.StudentPerformance(context.Background(), actor, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, evals.listByStudentCalls)

	_, err = svc.StudentPerformance(context.Background(), actor, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, evals.listByStudentCalls, "second read should hit the cache")

	svc.InvalidateStudent(context.Background(), "s1")

	_, err = svc.StudentPerformance(context.Background(), actor, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, evals.listByStudentCalls, "invalidated report should be rebuilt")
}

func TestTeacherDashboardSplitsCountsByStatus(t *testing.T) {
	evals, scales, users := reportFixtures()
	evals.statusCounts = []models.StatusCount{
		{Status: models.StatusDraft, Count: 4},
		{Status: models.StatusPublished, Count: 2},
		{Status: models.StatusArchived, Count: 1},
	}
	scales.countByCreator = 3
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	dashboard, err := svc.TeacherDashboard(context.Background(), &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, "t1")
	require.NoError(t, err)
	assert.Equal(t, 4, dashboard.DraftCount)
	assert.Equal(t, 2, dashboard.PublishedCount)
	assert.Equal(t, 1, dashboard.ArchivedCount)
	assert.Equal(t, 3, dashboard.ScaleCount)
}

func TestTeacherDashboardForbiddenForOtherTeacher(t *testing.T) {
	evals, scales, users := reportFixtures()
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	_, err := svc.TeacherDashboard(context.Background(), &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher}, "t1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAdminOverviewSumsRoles(t *testing.T) {
	evals, scales, users := reportFixtures()
	users.roleCounts = map[models.UserRole]int{
		models.RoleAdmin:   1,
		models.RoleTeacher: 5,
		models.RoleStudent: 40,
	}
	scales.total = 7
	evals.total = 12
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	overview, err := svc.AdminOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 46, overview.UserCount)
	assert.Equal(t, 5, overview.TeacherCount)
	assert.Equal(t, 40, overview.StudentCount)
	assert.Equal(t, 7, overview.ScaleCount)
	assert.Equal(t, 12, overview.EvaluationCount)
}

func TestExportEvaluationPDFRendersDocument(t *testing.T) {
	evals, scales, users := reportFixtures()
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	payload, filename, err := svc.ExportEvaluationPDF(context.Background(), &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, "e1")
	require.NoError(t, err)
	assert.Equal(t, "evaluation-e1.pdf", filename)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"), "payload should be a PDF document")
}

func TestExportEvaluationPDFForbiddenForOtherStudent(t *testing.T) {
	evals, scales, users := reportFixtures()
	svc := NewReportService(evals, scales, users, nil, nil, time.Minute, zap.NewNop())

	_, _, err := svc.ExportEvaluationPDF(context.Background(), &models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, "e1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
