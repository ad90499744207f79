package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/progress89/evaluation-api/internal/grading"
	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/pkg/export"
	appErrors "github.com/progress89/evaluation-api/pkg/errors"
)

type reportEvaluationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Evaluation, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Evaluation, error)
	GradesForEvaluations(ctx context.Context, evaluationIDs []string) (map[string][]models.Grade, error)
	ListGrades(ctx context.Context, evaluationID string) ([]models.Grade, error)
	ListComments(ctx context.Context, evaluationID string) ([]models.Comment, error)
	CountByStatus(ctx context.Context, teacherID string) ([]models.StatusCount, error)
	CountAll(ctx context.Context) (int, error)
}

type reportScaleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Scale, error)
	ListCriteria(ctx context.Context, scaleID string) ([]models.Criterion, error)
	CountByCreator(ctx context.Context, creatorID string) (int, error)
	CountAll(ctx context.Context) (int, error)
}

type reportUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
}

// ReportService builds aggregated read models: per-student performance,
// teacher dashboards, the admin overview and printable evaluation reports.
// Student performance reports are cached in Redis and invalidated whenever a
// grade or status change touches the student.
type ReportService struct {
	evals  reportEvaluationRepository
	scales reportScaleRepository
	users  reportUserRepository
	cache  *CacheService
	pdf    *export.PDFExporter
	ttl    time.Duration
	logger *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(evals reportEvaluationRepository, scales reportScaleRepository, users reportUserRepository, cache *CacheService, pdf *export.PDFExporter, ttl time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{evals: evals, scales: scales, users: users, cache: cache, pdf: pdf, ttl: ttl, logger: logger}
}

// InvalidateStudent drops cached reports for a student after grade or status
// mutations.
func (s *ReportService) InvalidateStudent(ctx context.Context, studentID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("reports:student:%s*", studentID)); err != nil {
		s.logger.Warn("failed to invalidate student report cache", zap.String("student_id", studentID), zap.Error(err))
	}
}

// StudentPerformance aggregates a student's published and archived
// evaluations into per-evaluation results and cross-evaluation skill sums.
func (s *ReportService) StudentPerformance(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.StudentPerformance, error) {
	if actor.Role == models.RoleStudent && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own performance")
	}

	cacheKey := fmt.Sprintf("reports:student:%s", studentID)
	var cached models.StudentPerformance
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	if _, err := s.users.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	evals, err := s.evals.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluations")
	}

	ids := make([]string, 0, len(evals))
	for _, e := range evals {
		ids = append(ids, e.ID)
	}
	gradesByEval, err := s.evals.GradesForEvaluations(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}

	report := &models.StudentPerformance{
		StudentID:   studentID,
		Evaluations: make([]models.EvaluationResult, 0, len(evals)),
		GeneratedAt: time.Now().UTC(),
	}

	criteriaByScale := make(map[string][]models.Criterion)
	skillTotals := make(map[string]*models.SkillPerformance)
	skillOrder := make([]string, 0)
	var percentSum float64

	for _, eval := range evals {
		criteria, ok := criteriaByScale[eval.ScaleID]
		if !ok {
			criteria, err = s.scales.ListCriteria(ctx, eval.ScaleID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load criteria")
			}
			criteriaByScale[eval.ScaleID] = criteria
		}

		summary := grading.Summarize(criteria, gradesByEval[eval.ID])
		report.Evaluations = append(report.Evaluations, models.EvaluationResult{
			EvaluationID: eval.ID,
			Title:        eval.Title,
			EvalDate:     eval.EvalDate,
			Status:       eval.Status,
			Total:        summary.Total,
			Max:          summary.Max,
			Percentage:   summary.Percentage,
		})
		percentSum += summary.Percentage

		for _, skill := range summary.Skills {
			entry, ok := skillTotals[skill.Skill]
			if !ok {
				entry = &models.SkillPerformance{Skill: skill.Skill}
				skillTotals[skill.Skill] = entry
				skillOrder = append(skillOrder, skill.Skill)
			}
			entry.Current += skill.Current
			entry.Max += skill.Max
		}
	}

	report.EvaluationCount = len(evals)
	if len(evals) > 0 {
		report.AveragePercent = percentSum / float64(len(evals))
	}
	for _, skill := range skillOrder {
		entry := skillTotals[skill]
		entry.Percentage = grading.Percentage(entry.Current, entry.Max)
		report.Skills = append(report.Skills, *entry)
	}

	if err := s.cache.Set(ctx, cacheKey, report, s.ttl); err != nil {
		s.logger.Warn("failed to cache student performance", zap.Error(err))
	}
	return report, nil
}

// TeacherDashboard summarises a teacher's evaluation workload by status.
func (s *ReportService) TeacherDashboard(ctx context.Context, actor *models.JWTClaims, teacherID string) (*models.TeacherDashboard, error) {
	if !actor.IsAdmin() && actor.UserID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only view their own dashboard")
	}

	counts, err := s.evals.CountByStatus(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count evaluations")
	}
	scaleCount, err := s.scales.CountByCreator(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count scales")
	}

	dashboard := &models.TeacherDashboard{
		TeacherID:   teacherID,
		ScaleCount:  scaleCount,
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range counts {
		switch c.Status {
		case models.StatusDraft:
			dashboard.DraftCount = c.Count
		case models.StatusPublished:
			dashboard.PublishedCount = c.Count
		case models.StatusArchived:
			dashboard.ArchivedCount = c.Count
		}
	}
	return dashboard, nil
}

// AdminOverview aggregates platform-wide counts. Admin only; the handler
// enforces the role, the counts here are global.
func (s *ReportService) AdminOverview(ctx context.Context) (*models.AdminOverview, error) {
	teacherCount, err := s.users.CountByRole(ctx, models.RoleTeacher)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count teachers")
	}
	studentCount, err := s.users.CountByRole(ctx, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	adminCount, err := s.users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count admins")
	}
	scaleCount, err := s.scales.CountAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count scales")
	}
	evalCount, err := s.evals.CountAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count evaluations")
	}
	byStatus, err := s.evals.CountByStatus(ctx, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count evaluations by status")
	}

	return &models.AdminOverview{
		UserCount:       teacherCount + studentCount + adminCount,
		TeacherCount:    teacherCount,
		StudentCount:    studentCount,
		ScaleCount:      scaleCount,
		EvaluationCount: evalCount,
		ByStatus:        byStatus,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// ExportEvaluationPDF renders a printable report for one evaluation. The same
// visibility rules as the detail endpoint apply.
func (s *ReportService) ExportEvaluationPDF(ctx context.Context, actor *models.JWTClaims, evaluationID string) ([]byte, string, error) {
	eval, err := s.evals.FindByID(ctx, evaluationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	if !grading.CanView(actor, eval) {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "evaluation is not accessible")
	}

	scale, err := s.scales.FindByID(ctx, eval.ScaleID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scale")
	}
	grades, err := s.evals.ListGrades(ctx, eval.ID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	comments, err := s.evals.ListComments(ctx, eval.ID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}

	studentName := eval.StudentID
	if student, err := s.users.FindByID(ctx, eval.StudentID); err == nil {
		studentName = student.FullName
	}
	teacherName := eval.TeacherID
	if teacher, err := s.users.FindByID(ctx, eval.TeacherID); err == nil {
		teacherName = teacher.FullName
	}

	summary := grading.Summarize(scale.Criteria, grades)
	gradeByCriterion := make(map[string]float64, len(grades))
	for _, g := range grades {
		gradeByCriterion[g.CriterionID] = g.Value
	}

	report := export.EvaluationReport{
		Title:       eval.Title,
		StudentName: studentName,
		TeacherName: teacherName,
		Status:      string(eval.Status),
		EvalDate:    eval.EvalDate,
		Total:       summary.Total,
		Max:         summary.Max,
		Percentage:  summary.Percentage,
	}
	for _, c := range scale.Criteria {
		row := export.CriterionRow{Description: c.Description, Skill: c.Skill, MaxPoints: c.MaxPoints}
		if value, ok := gradeByCriterion[c.ID]; ok {
			v := value
			row.Value = &v
		}
		report.Criteria = append(report.Criteria, row)
	}
	for _, skill := range summary.Skills {
		report.Skills = append(report.Skills, export.SkillRow{
			Skill:      skill.Skill,
			Current:    skill.Current,
			Max:        skill.Max,
			Percentage: skill.Percentage,
		})
	}
	for _, comment := range comments {
		report.Comments = append(report.Comments, comment.Text)
	}

	payload, err := s.pdf.Render(report)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	filename := fmt.Sprintf("evaluation-%s.pdf", eval.ID)
	return payload, filename, nil
}
