package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/progress89/evaluation-api/internal/models"
)

// ErrVersionConflict signals that a guarded mutation matched zero rows
// because the evaluation version moved underneath it.
var ErrVersionConflict = errors.New("evaluation version conflict")

// EvaluationRepository handles persistence for evaluations, grades and
// comments. Every mutation bumps the evaluation version so concurrent
// writers can be detected.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository creates a new evaluation repository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Create inserts a new evaluation in draft status at version 1.
func (r *EvaluationRepository) Create(ctx context.Context, eval *models.Evaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	eval.CreatedAt = now
	eval.UpdatedAt = now
	eval.Status = models.StatusDraft
	eval.Version = 1

	const query = `INSERT INTO evaluations (id, title, eval_date, student_id, teacher_id, scale_id, status, version, created_at, updated_at)
        VALUES (:id, :title, :eval_date, :student_id, :teacher_id, :scale_id, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, eval); err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

// FindByID returns an evaluation by identifier.
func (r *EvaluationRepository) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	const query = `SELECT id, title, eval_date, student_id, teacher_id, scale_id, status, version, created_at, updated_at FROM evaluations WHERE id = $1 LIMIT 1`
	var eval models.Evaluation
	if err := r.db.GetContext(ctx, &eval, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation: %w", err)
	}
	return &eval, nil
}

// List returns evaluations matching the filter with a total count.
func (r *EvaluationRepository) List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error) {
	baseQuery := `FROM evaluations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ScaleID != "" {
		conditions = append(conditions, fmt.Sprintf("scale_id = $%d", len(args)+1))
		args = append(args, filter.ScaleID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	} else if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, title, eval_date, student_id, teacher_id, scale_id, status, version, created_at, updated_at %s ORDER BY eval_date DESC, created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)
	var evals []models.Evaluation
	if err := r.db.SelectContext(ctx, &evals, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list evaluations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count evaluations: %w", err)
	}
	return evals, total, nil
}

// ListByStudent returns a student's published and archived evaluations.
// Drafts are never visible to students.
func (r *EvaluationRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Evaluation, error) {
	const query = `SELECT id, title, eval_date, student_id, teacher_id, scale_id, status, version, created_at, updated_at
        FROM evaluations WHERE student_id = $1 AND status IN ('published', 'archived') ORDER BY eval_date DESC`
	var evals []models.Evaluation
	if err := r.db.SelectContext(ctx, &evals, query, studentID); err != nil {
		return nil, fmt.Errorf("list student evaluations: %w", err)
	}
	return evals, nil
}

// UpdateStatus transitions an evaluation to a new status, guarded by the
// version the caller observed. Zero matched rows means a concurrent write
// already moved the evaluation.
func (r *EvaluationRepository) UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, version int64) error {
	const query = `UPDATE evaluations SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND version = $4`
	result, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC(), version)
	if err != nil {
		return fmt.Errorf("update evaluation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evaluation status rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateMeta rewrites the title and date of an evaluation, guarded by version.
func (r *EvaluationRepository) UpdateMeta(ctx context.Context, eval *models.Evaluation, version int64) error {
	eval.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluations SET title = $2, eval_date = $3, version = version + 1, updated_at = $4 WHERE id = $1 AND version = $5`
	result, err := r.db.ExecContext(ctx, query, eval.ID, eval.Title, eval.EvalDate, eval.UpdatedAt, version)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evaluation rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpsertGrade writes a grade for one criterion and bumps the evaluation
// version in the same transaction. One grade row exists per
// (evaluation, criterion) pair.
func (r *EvaluationRepository) UpsertGrade(ctx context.Context, grade *models.Grade, version int64) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert grade: %w", err)
	}
	const gradeQuery = `INSERT INTO grades (id, evaluation_id, criterion_id, value, created_at, updated_at)
        VALUES (:id, :evaluation_id, :criterion_id, :value, :created_at, :updated_at)
        ON CONFLICT (evaluation_id, criterion_id)
        DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, gradeQuery, grade); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("upsert grade: %w", err)
	}
	if err := bumpVersion(ctx, tx, grade.EvaluationID, version, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert grade: %w", err)
	}
	return nil
}

// ListGrades returns all grades of an evaluation.
func (r *EvaluationRepository) ListGrades(ctx context.Context, evaluationID string) ([]models.Grade, error) {
	const query = `SELECT id, evaluation_id, criterion_id, value, created_at, updated_at FROM grades WHERE evaluation_id = $1 ORDER BY created_at ASC`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, evaluationID); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// GradesForEvaluations fans out grade loading for report builders.
func (r *EvaluationRepository) GradesForEvaluations(ctx context.Context, evaluationIDs []string) (map[string][]models.Grade, error) {
	result := make(map[string][]models.Grade, len(evaluationIDs))
	if len(evaluationIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, evaluation_id, criterion_id, value, created_at, updated_at FROM grades WHERE evaluation_id IN (?)`, evaluationIDs)
	if err != nil {
		return nil, fmt.Errorf("build grades query: %w", err)
	}
	query = r.db.Rebind(query)
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, fmt.Errorf("load grades for evaluations: %w", err)
	}
	for _, g := range grades {
		result[g.EvaluationID] = append(result[g.EvaluationID], g)
	}
	return result, nil
}

// CreateComment appends a comment and bumps the evaluation version.
// Comments are never updated or deleted.
func (r *EvaluationRepository) CreateComment(ctx context.Context, comment *models.Comment, version int64) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create comment: %w", err)
	}
	const query = `INSERT INTO comments (id, evaluation_id, teacher_id, text, created_at)
        VALUES (:id, :evaluation_id, :teacher_id, :text, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create comment: %w", err)
	}
	if err := bumpVersion(ctx, tx, comment.EvaluationID, version, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create comment: %w", err)
	}
	return nil
}

// ListComments returns comments in chronological order.
func (r *EvaluationRepository) ListComments(ctx context.Context, evaluationID string) ([]models.Comment, error) {
	const query = `SELECT id, evaluation_id, teacher_id, text, created_at FROM comments WHERE evaluation_id = $1 ORDER BY created_at ASC`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, evaluationID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// CountByStatus tallies evaluations per status, optionally scoped to a teacher.
func (r *EvaluationRepository) CountByStatus(ctx context.Context, teacherID string) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) AS count FROM evaluations`
	var args []interface{}
	if teacherID != "" {
		query += ` WHERE teacher_id = $1`
		args = append(args, teacherID)
	}
	query += ` GROUP BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count evaluations by status: %w", err)
	}
	return counts, nil
}

// CountAll counts every evaluation on the platform.
func (r *EvaluationRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM evaluations`); err != nil {
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return count, nil
}

func bumpVersion(ctx context.Context, tx *sqlx.Tx, evaluationID string, version int64, now time.Time) error {
	const query = `UPDATE evaluations SET version = version + 1, updated_at = $2 WHERE id = $1 AND version = $3`
	result, err := tx.ExecContext(ctx, query, evaluationID, now, version)
	if err != nil {
		return fmt.Errorf("bump evaluation version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump evaluation version rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
