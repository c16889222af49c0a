package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/approvals-api/internal/dto"
	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/repository"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

const (
	auditResourceRequest = "approval_request"
	registrationScope    = "registration"
)

type requestStore interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Request, error)
	ListPending(ctx context.Context) ([]models.PendingRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	MarkDecided(ctx context.Context, exec sqlx.ExtContext, params repository.DecisionParams) error
}

type submitterLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

type auditRecorder interface {
	Record(entry *models.AuditLog)
}

// WorkflowService owns the request lifecycle: submission, the pending view and
// reviewer decisions. It keeps no state of its own; every decision is a single
// database transaction that locks the request row before touching any entity.
type WorkflowService struct {
	requests     requestStore
	users        submitterLookup
	tx           txRunner
	appliers     map[models.RequestKind]EntityApplier
	typeAppliers map[string]EntityApplier
	audit        auditRecorder
	idempotency  *IdempotencyService
	metrics      *MetricsService
	hashPassword func(password string) (string, error)
	now          func() time.Time
	logger       *zap.Logger
}

// WorkflowOption configures the service.
type WorkflowOption func(*WorkflowService)

// WithEntityApplier registers the applier used when approving requests of kind.
func WithEntityApplier(kind models.RequestKind, applier EntityApplier) WorkflowOption {
	return func(s *WorkflowService) {
		if applier != nil {
			s.appliers[kind] = applier
		}
	}
}

// WithRequestTypeApplier registers an applier for one change request type. It
// takes precedence over the applier registered for the request's kind.
func WithRequestTypeApplier(requestType string, applier EntityApplier) WorkflowOption {
	return func(s *WorkflowService) {
		if applier != nil {
			s.typeAppliers[requestType] = applier
		}
	}
}

// WithAuditRecorder enables audit records for submissions and decisions.
func WithAuditRecorder(audit auditRecorder) WorkflowOption {
	return func(s *WorkflowService) {
		s.audit = audit
	}
}

// WithIdempotency enables Idempotency-Key de-duplication of submissions.
func WithIdempotency(idempotency *IdempotencyService) WorkflowOption {
	return func(s *WorkflowService) {
		s.idempotency = idempotency
	}
}

// WithWorkflowMetrics records submission and decision counters.
func WithWorkflowMetrics(metrics *MetricsService) WorkflowOption {
	return func(s *WorkflowService) {
		s.metrics = metrics
	}
}

// WithPasswordHasher overrides how registration passwords are hashed.
func WithPasswordHasher(hash func(password string) (string, error)) WorkflowOption {
	return func(s *WorkflowService) {
		if hash != nil {
			s.hashPassword = hash
		}
	}
}

// WithClock overrides the time source used for decision timestamps.
func WithClock(now func() time.Time) WorkflowOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWorkflowService constructs the service with defaults.
func NewWorkflowService(requests requestStore, users submitterLookup, tx txRunner, logger *zap.Logger, opts ...WorkflowOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		requests:     requests,
		users:        users,
		tx:           tx,
		appliers:     make(map[models.RequestKind]EntityApplier),
		typeAppliers: make(map[string]EntityApplier),
		hashPassword: hashPassword,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit validates and stores a new pending request. It never touches the
// entity store.
func (s *WorkflowService) Submit(ctx context.Context, actor *models.Actor, input dto.SubmitRequest) (*models.Request, error) {
	kind := models.RequestKind(strings.ToLower(strings.TrimSpace(string(input.Kind))))
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidPayload, "kind must be registration or change")
	}
	requestType := strings.ToLower(strings.TrimSpace(input.RequestType))

	var submitterID *string
	scope := registrationScope
	switch kind {
	case models.RequestKindChange:
		if actor == nil || actor.UserID == "" {
			return nil, appErrors.ErrUnauthorized
		}
		if requestType == "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidPayload, "requestType is required for change requests")
		}
		submitter, err := s.users.FindByID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrTargetNotFound, "submitter account not found"), actor.UserID)
			}
			return nil, appErrors.Unavailable(err, "failed to load submitter")
		}
		if !submitter.Active {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "inactive accounts cannot submit changes")
		}
		submitterID = &submitter.ID
		scope = submitter.ID
	case models.RequestKindRegistration:
		requestType = ""
	}

	payload, err := models.DecodePayload(kind, requestType, input.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidPayload.Code, appErrors.ErrInvalidPayload.Status, err.Error())
	}
	if reg, ok := payload.(models.RegistrationPayload); ok {
		if reg.PasswordHash != "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidPayload, "passwordHash cannot be submitted")
		}
		if reg.Password != "" {
			hash, err := s.hashPassword(reg.Password)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
			}
			reg.PasswordHash = hash
			reg.Password = ""
		}
		payload = reg
	}
	stored, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode payload")
	}

	record := &models.Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		SubmitterID: submitterID,
		RequestType: requestType,
		Payload:     stored,
	}

	fingerprint := SubmissionFingerprint([]byte(kind), []byte(requestType), record.Public().Payload)
	binding := IdempotencyBinding{RequestID: record.ID, Fingerprint: fingerprint}
	if prior := s.idempotency.Reserve(ctx, scope, input.IdempotencyKey, binding); prior != nil {
		if !prior.Matches(fingerprint) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateSubmit, "idempotency key was already used for a different submission")
		}
		existing, err := s.requests.GetByID(ctx, prior.RequestID)
		switch {
		case err == nil:
			public := existing.Public()
			return &public, nil
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.WithResource(appErrors.ErrDuplicateSubmit, prior.RequestID)
		default:
			return nil, appErrors.Unavailable(err, "failed to load previous submission")
		}
	}

	if err := s.requests.Create(ctx, record); err != nil {
		s.idempotency.Release(ctx, scope, input.IdempotencyKey)
		return nil, appErrors.Unavailable(err, "failed to store request")
	}
	s.metrics.RecordSubmission(string(kind))

	summary, _ := json.Marshal(map[string]string{"kind": string(kind), "requestType": requestType})
	s.emitAudit(&models.AuditLog{
		UserID:     submitterID,
		Action:     models.AuditActionRequestSubmit,
		Resource:   auditResourceRequest,
		ResourceID: &record.ID,
		NewValues:  summary,
	})

	public := record.Public()
	return &public, nil
}

// ListPending returns every pending request, oldest first. Each call reads the
// store afresh; a read failure is reported as StoreUnavailable, never as an
// empty queue.
func (s *WorkflowService) ListPending(ctx context.Context, actor *models.Actor) ([]models.PendingRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsReviewer() {
		return nil, appErrors.ErrForbidden
	}
	items, err := s.requests.ListPending(ctx)
	if err != nil {
		return nil, appErrors.Unavailable(err, "failed to load pending requests")
	}
	return items, nil
}

// Decide records a reviewer decision. Approval applies the payload to the
// entity store in the same transaction that moves the request out of pending;
// if the apply fails the request stays pending and nothing is written.
func (s *WorkflowService) Decide(ctx context.Context, actor *models.Actor, input dto.DecisionInput) (*models.DecisionResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsReviewer() {
		return nil, appErrors.ErrForbidden
	}
	status, ok := input.Outcome.Status()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidPayload, "outcome must be approve or reject")
	}

	requestID, err := parseRequestID(input.RequestID)
	if err != nil {
		return nil, err
	}
	input.RequestID = requestID

	var (
		kind    models.RequestKind
		result  *models.DecisionResult
		applied *ApplyResult
	)
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		req, err := s.requests.LockByID(ctx, exec, input.RequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "request not found"), input.RequestID)
			}
			return appErrors.Unavailable(err, "failed to lock request")
		}
		kind = req.Kind
		if input.ExpectKind != "" && req.Kind != input.ExpectKind {
			return appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s request not found", input.ExpectKind)), input.RequestID)
		}
		if req.Status != models.RequestStatusPending {
			return appErrors.WithResource(appErrors.Clone(appErrors.ErrAlreadyDecided, fmt.Sprintf("request already %s", req.Status)), req.ID)
		}

		var entityID *string
		if input.Outcome == models.OutcomeApprove {
			applier := s.applierFor(req)
			if applier == nil {
				return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no applier registered for %s requests", req.Kind))
			}
			payload, err := models.DecodePayload(req.Kind, req.RequestType, req.Payload)
			if err != nil {
				return appErrors.WithResource(appErrors.Wrap(err, appErrors.ErrInvalidPayload.Code, appErrors.ErrInvalidPayload.Status, "stored payload is invalid"), req.ID)
			}
			applied, err = applier.Apply(ctx, exec, req, payload)
			if err != nil {
				return err
			}
			entityID = &applied.EntityID
		}

		decidedAt := s.now().UTC()
		note := optionalString(input.Note)
		err = s.requests.MarkDecided(ctx, exec, repository.DecisionParams{
			ID:        req.ID,
			Status:    status,
			DecidedBy: actor.UserID,
			DecidedAt: decidedAt,
			EntityID:  entityID,
			Note:      note,
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.WithResource(appErrors.ErrAlreadyDecided, req.ID)
			}
			return appErrors.Unavailable(err, "failed to record decision")
		}

		req.Status = status
		req.DecidedAt = &decidedAt
		req.DecidedBy = &actor.UserID
		req.EntityID = entityID
		req.Note = note
		public := req.Public()
		result = &models.DecisionResult{Request: &public, Outcome: input.Outcome}
		if applied != nil {
			result.EntityID = applied.EntityID
			result.AlreadyApplied = applied.AlreadyApplied
		}
		return nil
	})
	if err != nil {
		appErr := asStoreError(err, "failed to record decision")
		s.metrics.RecordDecision(string(kind), string(input.Outcome), appErr.Code)
		return nil, appErr
	}
	s.metrics.RecordDecision(string(kind), string(input.Outcome), decisionResultSuccess)

	entry := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionRequestReject,
		Resource:   auditResourceRequest,
		ResourceID: &input.RequestID,
	}
	if input.Outcome == models.OutcomeApprove {
		entry.Action = models.AuditActionRequestApprove
		if applied != nil {
			entry.OldValues = applied.Before
			entry.NewValues = applied.After
		}
	}
	s.emitAudit(entry)
	if applied != nil && applied.Action != "" && !applied.AlreadyApplied {
		s.emitAudit(&models.AuditLog{
			UserID:     &actor.UserID,
			Action:     applied.Action,
			Resource:   applied.Resource,
			ResourceID: &applied.EntityID,
			OldValues:  applied.Before,
			NewValues:  applied.After,
		})
	}
	return result, nil
}

func (s *WorkflowService) applierFor(req *models.Request) EntityApplier {
	if applier, ok := s.typeAppliers[req.RequestType]; ok && req.RequestType != "" {
		return applier
	}
	return s.appliers[req.Kind]
}

// Get returns a single request. Submitters may read their own requests;
// reviewers may read any.
func (s *WorkflowService) Get(ctx context.Context, actor *models.Actor, id string) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	id, err := parseRequestID(id)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "request not found"), id)
		}
		return nil, appErrors.Unavailable(err, "failed to load request")
	}
	if !actor.IsReviewer() && (req.SubmitterID == nil || *req.SubmitterID != actor.UserID) {
		return nil, appErrors.ErrForbidden
	}
	public := req.Public()
	return &public, nil
}

// ListMine returns the actor's own requests, latest first.
func (s *WorkflowService) ListMine(ctx context.Context, actor *models.Actor, query dto.RequestQuery) ([]models.Request, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	requests, err := s.requests.List(ctx, models.RequestFilter{
		Status:      query.Status,
		Kind:        query.Kind,
		SubmitterID: actor.UserID,
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	if err != nil {
		return nil, appErrors.Unavailable(err, "failed to list requests")
	}
	for i := range requests {
		requests[i] = requests[i].Public()
	}
	return requests, nil
}

func (s *WorkflowService) emitAudit(entry *models.AuditLog) {
	if s.audit == nil || entry == nil {
		return
	}
	entry.IPAddress = "system"
	entry.UserAgent = "workflow-service"
	s.audit.Record(entry)
}

// asStoreError keeps typed errors and reports anything else, such as a failed
// commit, as StoreUnavailable.
func asStoreError(err error, message string) *appErrors.Error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Unavailable(err, message)
}

// parseRequestID canonicalises a request id. Ids that are not UUIDs cannot
// exist, so they are reported as NotFound rather than reaching the store.
func parseRequestID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "request not found"), id)
	}
	return parsed.String(), nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
