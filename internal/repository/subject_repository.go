package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/subject-registration-api/internal/models"
)

const (
	dialectPostgres = "postgres"
	tableSubjects   = "subjects"

	subjectColumns = "id, code, name, term, academic_year, remaining_capacity, open_for_registration, created_at, updated_at"
)

var subjectSortColumns = map[string]string{
	"code":               "code",
	"name":               "name",
	"academic_year":      "academic_year",
	"remaining_capacity": "remaining_capacity",
	"created_at":         "created_at",
	"updated_at":         "updated_at",
}

// SubjectRepository handles persistence for subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// List returns subjects matching filters with the total match count.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	builder := goqu.Dialect(dialectPostgres)
	where := subjectFilterExpressions(filter)

	order := goqu.I(subjectSortColumn(filter.SortBy)).Asc()
	if strings.EqualFold(filter.SortOrder, "desc") {
		order = goqu.I(subjectSortColumn(filter.SortBy)).Desc()
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	listQuery, listArgs, err := builder.From(tableSubjects).
		Prepared(true).
		Select(subjectSelectColumns()...).
		Where(where...).
		Order(order).
		Limit(uint(size)).
		Offset(uint((page - 1) * size)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build subject list query: %w", err)
	}

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}

	countQuery, countArgs, err := builder.From(tableSubjects).
		Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build subject count query: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}

	return subjects, total, nil
}

// ListAll returns every subject ordered by code.
func (r *SubjectRepository) ListAll(ctx context.Context) ([]models.Subject, error) {
	query := "SELECT " + subjectColumns + " FROM subjects ORDER BY code ASC"
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query); err != nil {
		return nil, fmt.Errorf("list all subjects: %w", err)
	}
	return subjects, nil
}

// ListWithRegistrationCounts returns all subjects with their current number of registrations.
func (r *SubjectRepository) ListWithRegistrationCounts(ctx context.Context) ([]models.SubjectSummary, error) {
	const query = `SELECT s.id, s.code, s.name, s.term, s.academic_year, s.remaining_capacity, s.open_for_registration, s.created_at, s.updated_at, COUNT(r.id) AS registered_count
FROM subjects s
LEFT JOIN registrations r ON r.subject_id = s.id
GROUP BY s.id
ORDER BY s.code ASC`
	var summaries []models.SubjectSummary
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("list subject summaries: %w", err)
	}
	return summaries, nil
}

// FindByID returns a subject by id.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	query := "SELECT " + subjectColumns + " FROM subjects WHERE id = $1"
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ExistsByCode checks uniqueness of subject code.
func (r *SubjectRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM subjects WHERE UPPER(code) = UPPER($1)"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}

	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject code: %w", err)
	}
	return true, nil
}

// Create persists a new subject.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = now

	const query = `INSERT INTO subjects (id, code, name, term, academic_year, remaining_capacity, open_for_registration, created_at, updated_at) VALUES (:id, :code, :name, :term, :academic_year, :remaining_capacity, :open_for_registration, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

func subjectSelectColumns() []interface{} {
	cols := strings.Split(subjectColumns, ", ")
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}

func subjectSortColumn(sortBy string) string {
	if col, ok := subjectSortColumns[sortBy]; ok {
		return col
	}
	return "code"
}

func subjectFilterExpressions(filter models.SubjectFilter) []exp.Expression {
	var where []exp.Expression
	if filter.Term != "" {
		where = append(where, goqu.C("term").Eq(string(filter.Term)))
	}
	if filter.AcademicYear != "" {
		where = append(where, goqu.C("academic_year").Eq(filter.AcademicYear))
	}
	if filter.Open != nil {
		where = append(where, goqu.C("open_for_registration").Eq(*filter.Open))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where = append(where, goqu.Or(
			goqu.C("code").ILike(pattern),
			goqu.C("name").ILike(pattern),
		))
	}
	return where
}
