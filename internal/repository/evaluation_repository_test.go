package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress89/evaluation-api/internal/models"
)

func TestCreateEvaluationStartsAsDraftVersionOne(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectExec("INSERT INTO evaluations").WillReturnResult(sqlmock.NewResult(1, 1))

	eval := &models.Evaluation{Title: "Oral exam", StudentID: "s1", TeacherID: "t1", ScaleID: "sc1", EvalDate: time.Now()}
	err := repo.Create(context.Background(), eval)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, eval.Status)
	assert.Equal(t, int64(1), eval.Version)
	assert.NotEmpty(t, eval.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusVersionConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE evaluations SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND version = $4")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "e1", models.StatusPublished, 3)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusBumpsVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectExec("UPDATE evaluations SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "e1", models.StatusPublished, 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertGradeBumpsEvaluationVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO grades").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE evaluations SET version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	grade := &models.Grade{EvaluationID: "e1", CriterionID: "c1", Value: 12.5}
	err := repo.UpsertGrade(context.Background(), grade, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, grade.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertGradeStaleVersionRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO grades").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE evaluations SET version").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpsertGrade(context.Background(), &models.Grade{EvaluationID: "e1", CriterionID: "c1", Value: 5}, 2)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCommentBumpsVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO comments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE evaluations SET version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	comment := &models.Comment{EvaluationID: "e1", TeacherID: "t1", Text: "good progress"}
	err := repo.CreateComment(context.Background(), comment, 4)
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByStudentOnlyPublishedAndArchived(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "eval_date", "student_id", "teacher_id", "scale_id", "status", "version", "created_at", "updated_at"}).
		AddRow("e1", "Oral exam", now, "s1", "t1", "sc1", string(models.StatusPublished), int64(3), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('published', 'archived')")).
		WithArgs("s1").
		WillReturnRows(rows)

	evals, err := repo.ListByStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, models.StatusPublished, evals[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByStatusSet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "eval_date", "student_id", "teacher_id", "scale_id", "status", "version", "created_at", "updated_at"}).
		AddRow("e1", "Oral exam", now, "s1", "t1", "sc1", string(models.StatusPublished), int64(3), now, now).
		AddRow("e2", "Essay", now, "s1", "t1", "sc1", string(models.StatusArchived), int64(5), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ($2, $3)")).
		WithArgs("s1", string(models.StatusPublished), string(models.StatusArchived)).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("s1", string(models.StatusPublished), string(models.StatusArchived)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	evals, total, err := repo.List(context.Background(), models.EvaluationFilter{
		StudentID: "s1",
		Statuses:  []models.EvaluationStatus{models.StatusPublished, models.StatusArchived},
	})
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, 2, total)
	assert.Equal(t, models.StatusArchived, evals[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatusScopedToTeacher(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(string(models.StatusDraft), 2).
		AddRow(string(models.StatusPublished), 5)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM evaluations WHERE teacher_id = $1 GROUP BY status")).
		WithArgs("t1").
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 5, counts[1].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
