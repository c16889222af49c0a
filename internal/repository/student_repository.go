package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/approvals-api/internal/models"
)

const studentColumns = `id, name, email, phone, course, enrollment_date, source_request_id, created_at, updated_at`

// StudentRepository provides database access for student records. Writes take
// an exec so they join the transaction that decides the request.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the filter, most recently enrolled first.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(`SELECT ` + studentColumns + ` FROM students`)

	conditions := make([]string, 0, 2)
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	if course := strings.TrimSpace(filter.Course); course != "" {
		args = append(args, course)
		conditions = append(conditions, fmt.Sprintf("course = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY enrollment_date DESC, created_at DESC, id ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	fmt.Fprintf(&builder, " LIMIT %d OFFSET %d", limit, offset)

	students := make([]models.Student, 0)
	if err := r.db.SelectContext(ctx, &students, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindByID returns a student by identifier. Missing rows yield sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return r.findOne(ctx, r.db, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id, "find student")
}

// LockByID reads the student row FOR UPDATE inside exec's transaction.
func (r *StudentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	return r.findOne(ctx, exec, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id, "lock student")
}

func (r *StudentRepository) findOne(ctx context.Context, exec sqlx.ExtContext, query, id, op string) (*models.Student, error) {
	var student models.Student
	if err := sqlx.GetContext(ctx, exec, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &student, nil
}

// CreateWith inserts a student using exec.
func (r *StudentRepository) CreateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	if student.EnrollmentDate.IsZero() {
		student.EnrollmentDate = now.Truncate(24 * time.Hour)
	}
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, name, email, phone, course, enrollment_date, source_request_id, created_at, updated_at)
	VALUES (:id, :name, :email, :phone, :course, :enrollment_date, :source_request_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateWith writes the editable student fields using exec.
func (r *StudentRepository) UpdateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET name = :name, email = :email, phone = :phone, course = :course, enrollment_date = :enrollment_date, updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, exec, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return expectOneRow(result, "update student")
}

// DeleteWith removes a student using exec. It returns sql.ErrNoRows when the
// student does not exist.
func (r *StudentRepository) DeleteWith(ctx context.Context, exec sqlx.ExtContext, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectOneRow(result, "delete student")
}

func expectOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
