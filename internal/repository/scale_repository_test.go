package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress89/evaluation-api/internal/models"
)

func TestCreateScaleInsertsCriteriaInOrder(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scales").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO criteria").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO criteria").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	scale := &models.Scale{
		Title:     "Oral exam",
		CreatorID: "t1",
		Criteria: []models.Criterion{
			{Description: "Fluency", Skill: "Speaking", MaxPoints: 10, Coefficient: 0.5},
			{Description: "Vocabulary", Skill: "Speaking", MaxPoints: 10, Coefficient: 0.5},
		},
	}
	err := repo.Create(context.Background(), scale)
	require.NoError(t, err)
	assert.NotEmpty(t, scale.ID)
	assert.Equal(t, 0, scale.Criteria[0].Position)
	assert.Equal(t, 1, scale.Criteria[1].Position)
	assert.Equal(t, scale.ID, scale.Criteria[0].ScaleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindScaleByIDHydratesCriteria(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	now := time.Now()
	scaleRows := sqlmock.NewRows([]string{"id", "title", "description", "creator_id", "shared", "created_at", "updated_at"}).
		AddRow("sc1", "Oral exam", nil, "t1", false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, description, creator_id, shared, created_at, updated_at FROM scales WHERE id = $1 LIMIT 1")).
		WithArgs("sc1").
		WillReturnRows(scaleRows)

	criteriaRows := sqlmock.NewRows([]string{"id", "scale_id", "description", "skill", "max_points", "coefficient", "position", "created_at", "updated_at"}).
		AddRow("c1", "sc1", "Fluency", "Speaking", 10.0, 0.5, 0, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM criteria WHERE scale_id = $1 ORDER BY position ASC")).
		WithArgs("sc1").
		WillReturnRows(criteriaRows)

	scale, err := repo.FindByID(context.Background(), "sc1")
	require.NoError(t, err)
	require.Len(t, scale.Criteria, 1)
	assert.Equal(t, "Fluency", scale.Criteria[0].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCriterionRefusedWhenGraded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(3)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM grades WHERE criterion_id = $1")).
		WithArgs("c1").
		WillReturnRows(rows)

	err := repo.DeleteCriterion(context.Background(), "c1")
	require.ErrorIs(t, err, ErrCriterionReferenced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCriterionRemovesUnreferenced(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM grades WHERE criterion_id = $1")).
		WithArgs("c1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM criteria WHERE id = $1")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteCriterion(context.Background(), "c1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCriterionMissingReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM criteria").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteCriterion(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEvaluationsExcludingDraft(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScaleRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM evaluations WHERE scale_id = $1 AND status <> 'draft'")).
		WithArgs("sc1").
		WillReturnRows(rows)

	count, err := repo.CountEvaluations(context.Background(), "sc1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
