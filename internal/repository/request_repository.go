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

const requestColumns = `id, kind, submitter_id, request_type, payload, status, created_at, decided_at, decided_by, entity_id, note`

// RequestRepository persists registration and change requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create appends a new request row. Requests always start pending.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = models.RequestStatusPending
	req.DecidedAt = nil
	req.DecidedBy = nil
	req.EntityID = nil

	const query = `INSERT INTO approval_requests (id, kind, submitter_id, request_type, payload, status, created_at)
	VALUES (:id, :kind, :submitter_id, :request_type, :payload, :status, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           req.ID,
		"kind":         req.Kind,
		"submitter_id": req.SubmitterID,
		"request_type": req.RequestType,
		"payload":      string(req.Payload),
		"status":       req.Status,
		"created_at":   req.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier. Missing rows yield sql.ErrNoRows.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &req, nil
}

// LockByID reads the request row and holds its lock until exec's transaction ends.
func (r *RequestRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`
	var req models.Request
	if err := sqlx.GetContext(ctx, exec, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock request: %w", err)
	}
	return &req, nil
}

// ListPending returns every pending request, oldest first, with the submitter's username.
func (r *RequestRepository) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	const query = `
SELECT
	r.id, r.kind, r.submitter_id, r.request_type, r.payload, r.status,
	r.created_at, r.decided_at, r.decided_by, r.entity_id, r.note,
	u.username AS submitter_username
FROM approval_requests r
LEFT JOIN users u ON u.id = r.submitter_id
WHERE r.status = 'pending'
ORDER BY r.created_at ASC, r.id ASC`

	items := make([]models.PendingRequest, 0)
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return items, nil
}

// List returns requests matching the filter, latest first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM approval_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.SubmitterID != "" {
		args = append(args, filter.SubmitterID)
		conditions = append(conditions, fmt.Sprintf("submitter_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	fmt.Fprintf(&builder, " LIMIT %d OFFSET %d", limit, offset)

	requests := make([]models.Request, 0)
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// DecisionParams groups the columns written when a request leaves pending.
type DecisionParams struct {
	ID        string
	Status    models.RequestStatus
	DecidedBy string
	DecidedAt time.Time
	EntityID  *string
	Note      *string
}

// MarkDecided moves a pending request to its terminal status. It returns
// sql.ErrNoRows when the request is no longer pending.
func (r *RequestRepository) MarkDecided(ctx context.Context, exec sqlx.ExtContext, params DecisionParams) error {
	const query = `UPDATE approval_requests
	SET status = $2, decided_by = $3, decided_at = $4, entity_id = $5, note = $6
	WHERE id = $1 AND status = 'pending'`
	result, err := exec.ExecContext(ctx, query, params.ID, params.Status, params.DecidedBy, params.DecidedAt, params.EntityID, params.Note)
	if err != nil {
		return fmt.Errorf("mark request decided: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
