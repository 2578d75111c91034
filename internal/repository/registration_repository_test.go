package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/pkg/database"
)

const lockSubjectQuery = "SELECT id, code, name, term, academic_year, remaining_capacity, open_for_registration, created_at, updated_at FROM subjects WHERE id = $1 FOR UPDATE"

func subjectRow(remaining int, open bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(subjectRowColumns).
		AddRow("s1", "CN101", "Networks", string(models.TermFirstSemester), "2024/2025", remaining, open, now, now)
}

func TestWithinTxRegisterCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, database.NewTxRunner(db, database.TxOptions{}))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSubjectQuery)).WithArgs("s1").WillReturnRows(subjectRow(1, true))
	mock.ExpectExec("INSERT INTO registrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subjects SET remaining_capacity = $2, open_for_registration = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("s1", 0, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		subject, err := tx.LockSubject(ctx, "s1")
		if err != nil {
			return err
		}
		if err := tx.InsertRegistration(ctx, &models.Registration{UserID: "u1", SubjectID: subject.ID}); err != nil {
			return err
		}
		return tx.UpdateSubjectSeats(ctx, subject.ID, subject.RemainingCapacity-1, false)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxDuplicateRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSubjectQuery)).WithArgs("s1").WillReturnRows(subjectRow(3, true))
	mock.ExpectExec("INSERT INTO registrations").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "registrations_user_subject_key"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		if _, err := tx.LockSubject(ctx, "s1"); err != nil {
			return err
		}
		return tx.InsertRegistration(ctx, &models.Registration{UserID: "u1", SubjectID: "s1"})
	})
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxMissingSubject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSubjectQuery)).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		_, err := tx.LockSubject(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxUpdateSubjectUnderLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSubjectQuery)).WithArgs("s1").WillReturnRows(subjectRow(0, false))
	mock.ExpectExec("UPDATE subjects SET code = .+ WHERE id = ").
		WithArgs("CN101", "Networks", string(models.TermFirstSemester), "2024/2025", 10, true, sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		subject, err := tx.LockSubject(ctx, "s1")
		if err != nil {
			return err
		}
		subject.RemainingCapacity = 10
		subject.OpenForRegistration = true
		return tx.UpdateSubject(ctx, subject)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxUpdateSubjectMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subjects SET code").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		return tx.UpdateSubject(ctx, &models.Subject{ID: "missing", Code: "CN101"})
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRegistrationReportsAffectedRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	deleteQuery := regexp.QuoteMeta("DELETE FROM registrations WHERE user_id = $1 AND subject_id = $2")
	mock.ExpectBegin()
	mock.ExpectExec(deleteQuery).WithArgs("u1", "s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(deleteQuery).WithArgs("u2", "s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var first, second bool
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx RegistrationTx) error {
		var err error
		if first, err = tx.DeleteRegistration(ctx, "u1", "s1"); err != nil {
			return err
		}
		second, err = tx.DeleteRegistration(ctx, "u2", "s1")
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySubject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "subject_id", "created_at", "username", "full_name"}).
		AddRow("r1", "u1", "s1", now, "alice", "Alice A").
		AddRow("r2", "u2", "s1", now, "bob", "Bob B")
	mock.ExpectQuery(`JOIN users u ON u.id = r.user_id\s+WHERE r.subject_id = \$1`).WithArgs("s1").WillReturnRows(rows)

	roster, err := repo.ListBySubject(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubjectsByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db, nil)

	mock.ExpectQuery(`JOIN subjects s ON s.id = r.subject_id\s+WHERE r.user_id = \$1`).WithArgs("u1").WillReturnRows(subjectRow(2, true))

	subjects, err := repo.ListSubjectsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "CN101", subjects[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
