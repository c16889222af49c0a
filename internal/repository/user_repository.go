package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/approvals-api/internal/models"
)

const userColumns = `id, username, email, full_name, phone, password_hash, role, active, source_request_id, created_at, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// UserRepository provides database access for user accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = $1 LIMIT 1`, id, "find user by id")
}

// FindByUsername returns a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.FindByUsernameWith(ctx, r.db, username)
}

// FindByUsernameWith looks up a username using exec, typically an open transaction.
func (r *UserRepository) FindByUsernameWith(ctx context.Context, exec sqlx.ExtContext, username string) (*models.User, error) {
	return r.findOne(ctx, exec, `SELECT `+userColumns+` FROM users WHERE username = $1 LIMIT 1`, username, "find user by username")
}

// LockByID reads the user row FOR UPDATE inside exec's transaction.
func (r *UserRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	return r.findOne(ctx, exec, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id, "lock user")
}

func (r *UserRepository) findOne(ctx context.Context, exec sqlx.ExtContext, query, arg, op string) (*models.User, error) {
	var user models.User
	if err := sqlx.GetContext(ctx, exec, &user, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.CreateWith(ctx, r.db, user)
}

// CreateWith inserts a new user using exec.
func (r *UserRepository) CreateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, full_name, phone, password_hash, role, active, source_request_id, created_at, updated_at)
	VALUES (:id, :username, :email, :full_name, :phone, :password_hash, :role, :active, :source_request_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateWith writes the mutable profile fields of a user using exec.
func (r *UserRepository) UpdateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET username = :username, email = :email, full_name = :full_name, phone = :phone, updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, exec, query, user)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check user update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err was caused by a unique index.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
