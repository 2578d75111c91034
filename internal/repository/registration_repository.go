package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/pkg/database"
)

const constraintUserSubject = "registrations_user_subject_key"

// ErrDuplicateRegistration is returned when the (user, subject) pair already exists.
var ErrDuplicateRegistration = errors.New("registration already exists")

// RegistrationTx exposes the ledger and catalog operations that must run inside
// one transaction.
type RegistrationTx interface {
	LockSubject(ctx context.Context, subjectID string) (*models.Subject, error)
	InsertRegistration(ctx context.Context, registration *models.Registration) error
	DeleteRegistration(ctx context.Context, userID, subjectID string) (bool, error)
	UpdateSubjectSeats(ctx context.Context, subjectID string, remaining int, open bool) error
	UpdateSubject(ctx context.Context, subject *models.Subject) error
}

// RegistrationRepository persists registrations.
type RegistrationRepository struct {
	db     *sqlx.DB
	runner *database.TxRunner
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB, runner *database.TxRunner) *RegistrationRepository {
	if runner == nil {
		runner = database.NewTxRunner(db, database.TxOptions{})
	}
	return &RegistrationRepository{db: db, runner: runner}
}

// WithinTx runs fn in a transaction, retrying it on serialization failures and deadlocks.
func (r *RegistrationRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx RegistrationTx) error) error {
	return r.runner.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &registrationTx{tx: tx})
	})
}

// ListBySubject returns the roster of a subject ordered by registration time.
func (r *RegistrationRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.user_id, r.subject_id, r.created_at, u.username, u.full_name
FROM registrations r
JOIN users u ON u.id = r.user_id
WHERE r.subject_id = $1
ORDER BY r.created_at ASC`
	var roster []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &roster, query, subjectID); err != nil {
		return nil, fmt.Errorf("list registrations by subject: %w", err)
	}
	return roster, nil
}

// ListSubjectsByUser returns the subjects a user is registered in.
func (r *RegistrationRepository) ListSubjectsByUser(ctx context.Context, userID string) ([]models.Subject, error) {
	const query = `SELECT s.id, s.code, s.name, s.term, s.academic_year, s.remaining_capacity, s.open_for_registration, s.created_at, s.updated_at
FROM registrations r
JOIN subjects s ON s.id = r.subject_id
WHERE r.user_id = $1
ORDER BY s.code ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, userID); err != nil {
		return nil, fmt.Errorf("list subjects by user: %w", err)
	}
	return subjects, nil
}

type registrationTx struct {
	tx *sqlx.Tx
}

func (t *registrationTx) LockSubject(ctx context.Context, subjectID string) (*models.Subject, error) {
	const query = `SELECT id, code, name, term, academic_year, remaining_capacity, open_for_registration, created_at, updated_at FROM subjects WHERE id = $1 FOR UPDATE`
	var subject models.Subject
	if err := t.tx.GetContext(ctx, &subject, query, subjectID); err != nil {
		return nil, err
	}
	return &subject, nil
}

func (t *registrationTx) InsertRegistration(ctx context.Context, registration *models.Registration) error {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registrations (id, user_id, subject_id, created_at) VALUES (:id, :user_id, :subject_id, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, registration); err != nil {
		if database.IsUniqueViolation(err, constraintUserSubject) {
			return ErrDuplicateRegistration
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (t *registrationTx) DeleteRegistration(ctx context.Context, userID, subjectID string) (bool, error) {
	const query = `DELETE FROM registrations WHERE user_id = $1 AND subject_id = $2`
	res, err := t.tx.ExecContext(ctx, query, userID, subjectID)
	if err != nil {
		return false, fmt.Errorf("delete registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete registration rows affected: %w", err)
	}
	return affected > 0, nil
}

func (t *registrationTx) UpdateSubjectSeats(ctx context.Context, subjectID string, remaining int, open bool) error {
	const query = `UPDATE subjects SET remaining_capacity = $2, open_for_registration = $3, updated_at = $4 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, subjectID, remaining, open, time.Now().UTC()); err != nil {
		return fmt.Errorf("update subject seats: %w", err)
	}
	return nil
}

// UpdateSubject rewrites every editable column of a locked subject.
func (t *registrationTx) UpdateSubject(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subjects SET code = :code, name = :name, term = :term, academic_year = :academic_year, remaining_capacity = :remaining_capacity, open_for_registration = :open_for_registration, updated_at = :updated_at WHERE id = :id`
	res, err := t.tx.NamedExecContext(ctx, query, subject)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subject rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
