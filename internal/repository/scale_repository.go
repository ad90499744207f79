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

// ErrCriterionReferenced signals that a criterion cannot be removed because
// grades already point at it.
var ErrCriterionReferenced = errors.New("criterion referenced by grades")

// ScaleRepository handles persistence for scales and their criteria.
type ScaleRepository struct {
	db *sqlx.DB
}

// NewScaleRepository creates a new scale repository.
func NewScaleRepository(db *sqlx.DB) *ScaleRepository {
	return &ScaleRepository{db: db}
}

// Create inserts a scale together with its criteria in one transaction.
func (r *ScaleRepository) Create(ctx context.Context, scale *models.Scale) error {
	if scale.ID == "" {
		scale.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	scale.CreatedAt = now
	scale.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create scale: %w", err)
	}
	const scaleQuery = `INSERT INTO scales (id, title, description, creator_id, shared, created_at, updated_at)
        VALUES (:id, :title, :description, :creator_id, :shared, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, scaleQuery, scale); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create scale: %w", err)
	}
	for i := range scale.Criteria {
		prepareCriterion(&scale.Criteria[i], scale.ID, i, now)
		if err := insertCriterion(ctx, tx, &scale.Criteria[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create scale: %w", err)
	}
	return nil
}

// Update rewrites the scale row and upserts the provided criteria. Criteria
// removal is handled separately through DeleteCriterion so the in-use check
// applies.
func (r *ScaleRepository) Update(ctx context.Context, scale *models.Scale) error {
	now := time.Now().UTC()
	scale.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update scale: %w", err)
	}
	const scaleQuery = `UPDATE scales SET title = :title, description = :description, shared = :shared, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, scaleQuery, scale); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update scale: %w", err)
	}
	for i := range scale.Criteria {
		prepareCriterion(&scale.Criteria[i], scale.ID, i, now)
		const query = `INSERT INTO criteria (id, scale_id, description, skill, max_points, coefficient, position, created_at, updated_at)
            VALUES (:id, :scale_id, :description, :skill, :max_points, :coefficient, :position, :created_at, :updated_at)
            ON CONFLICT (id)
            DO UPDATE SET description = EXCLUDED.description, skill = EXCLUDED.skill, max_points = EXCLUDED.max_points,
                coefficient = EXCLUDED.coefficient, position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`
		if _, err := tx.NamedExecContext(ctx, query, scale.Criteria[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("upsert criterion: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update scale: %w", err)
	}
	return nil
}

// FindByID loads a scale with its criteria ordered by position.
func (r *ScaleRepository) FindByID(ctx context.Context, id string) (*models.Scale, error) {
	const query = `SELECT id, title, description, creator_id, shared, created_at, updated_at FROM scales WHERE id = $1 LIMIT 1`
	var scale models.Scale
	if err := r.db.GetContext(ctx, &scale, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find scale: %w", err)
	}
	criteria, err := r.ListCriteria(ctx, id)
	if err != nil {
		return nil, err
	}
	scale.Criteria = criteria
	return &scale, nil
}

// ListCriteria returns the criteria of a scale in authoring order.
func (r *ScaleRepository) ListCriteria(ctx context.Context, scaleID string) ([]models.Criterion, error) {
	const query = `SELECT id, scale_id, description, skill, max_points, coefficient, position, created_at, updated_at FROM criteria WHERE scale_id = $1 ORDER BY position ASC`
	var criteria []models.Criterion
	if err := r.db.SelectContext(ctx, &criteria, query, scaleID); err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	return criteria, nil
}

// List returns scales matching the filter with a total count. Criteria are
// not hydrated for listings.
func (r *ScaleRepository) List(ctx context.Context, filter models.ScaleFilter) ([]models.Scale, int, error) {
	baseQuery := `FROM scales WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.CreatorID != "" {
		conditions = append(conditions, fmt.Sprintf("(creator_id = $%d OR shared = TRUE)", len(args)+1))
		args = append(args, filter.CreatorID)
	}
	if filter.Shared != nil {
		conditions = append(conditions, fmt.Sprintf("shared = $%d", len(args)+1))
		args = append(args, *filter.Shared)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
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

	listQuery := fmt.Sprintf("SELECT id, title, description, creator_id, shared, created_at, updated_at %s ORDER BY updated_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)
	var scales []models.Scale
	if err := r.db.SelectContext(ctx, &scales, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list scales: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count scales: %w", err)
	}
	return scales, total, nil
}

// Delete removes a scale and its criteria.
func (r *ScaleRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete scale: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM criteria WHERE scale_id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete scale criteria: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scales WHERE id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete scale: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete scale: %w", err)
	}
	return nil
}

// DeleteCriterion removes a criterion unless grades reference it, in which
// case ErrCriterionReferenced is returned.
func (r *ScaleRepository) DeleteCriterion(ctx context.Context, criterionID string) error {
	var refs int
	if err := r.db.GetContext(ctx, &refs, `SELECT COUNT(*) FROM grades WHERE criterion_id = $1`, criterionID); err != nil {
		return fmt.Errorf("count criterion references: %w", err)
	}
	if refs > 0 {
		return ErrCriterionReferenced
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM criteria WHERE id = $1`, criterionID)
	if err != nil {
		return fmt.Errorf("delete criterion: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountEvaluations counts evaluations referencing a scale, optionally
// restricted to non-draft statuses.
func (r *ScaleRepository) CountEvaluations(ctx context.Context, scaleID string, excludeDraft bool) (int, error) {
	query := `SELECT COUNT(*) FROM evaluations WHERE scale_id = $1`
	if excludeDraft {
		query += ` AND status <> 'draft'`
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, scaleID); err != nil {
		return 0, fmt.Errorf("count scale evaluations: %w", err)
	}
	return count, nil
}

// CountByCreator counts scales owned by a teacher.
func (r *ScaleRepository) CountByCreator(ctx context.Context, creatorID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM scales WHERE creator_id = $1`, creatorID); err != nil {
		return 0, fmt.Errorf("count scales by creator: %w", err)
	}
	return count, nil
}

// CountAll counts every scale on the platform.
func (r *ScaleRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM scales`); err != nil {
		return 0, fmt.Errorf("count scales: %w", err)
	}
	return count, nil
}

func prepareCriterion(c *models.Criterion, scaleID string, position int, now time.Time) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.ScaleID = scaleID
	c.Position = position
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func insertCriterion(ctx context.Context, tx *sqlx.Tx, c *models.Criterion) error {
	const query = `INSERT INTO criteria (id, scale_id, description, skill, max_points, coefficient, position, created_at, updated_at)
        VALUES (:id, :scale_id, :description, :skill, :max_points, :coefficient, :position, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("insert criterion: %w", err)
	}
	return nil
}
