package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jmoiron/sqlx"
	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/repository"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

// ApplyResult describes the entity write performed for an approval. When
// Action is set the decision also records an audit entry for the entity itself.
type ApplyResult struct {
	EntityID       string
	AlreadyApplied bool
	Before         []byte
	After          []byte
	Resource       string
	Action         string
}

// EntityApplier writes an approved request into the entity store using exec,
// the transaction that also records the decision.
type EntityApplier interface {
	Apply(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error)
}

// EntityApplierFunc allows using plain functions.
type EntityApplierFunc func(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error)

// Apply implements EntityApplier.
func (f EntityApplierFunc) Apply(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error) {
	return f(ctx, exec, req, payload)
}

// UserEntityStore is the slice of the user repository the appliers need.
type UserEntityStore interface {
	FindByUsernameWith(ctx context.Context, exec sqlx.ExtContext, username string) (*models.User, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	CreateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	UpdateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
}

// userDocument is the JSON view of the fields a change request may touch.
type userDocument struct {
	Username string  `json:"username"`
	Email    *string `json:"email"`
	FullName string  `json:"fullName"`
	Phone    *string `json:"phone"`
}

func documentOf(user *models.User) userDocument {
	return userDocument{Username: user.Username, Email: user.Email, FullName: user.FullName, Phone: user.Phone}
}

// RegistrationApplier creates the account described by a registration.
type RegistrationApplier struct {
	users  UserEntityStore
	logger *zap.Logger
}

// NewRegistrationApplier constructs the applier.
func NewRegistrationApplier(users UserEntityStore, logger *zap.Logger) *RegistrationApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationApplier{users: users, logger: logger}
}

// Apply creates the user. A user already created from this same request counts
// as applied; any other holder of the username is a conflict.
func (a *RegistrationApplier) Apply(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error) {
	reg, ok := payload.(models.RegistrationPayload)
	if !ok {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "registration payload expected"), req.ID)
	}

	existing, err := a.users.FindByUsernameWith(ctx, exec, reg.Username)
	switch {
	case err == nil:
		if existing.SourceRequestID != nil && *existing.SourceRequestID == req.ID {
			a.logger.Info("registration already applied", zap.String("request_id", req.ID), zap.String("user_id", existing.ID))
			after, _ := json.Marshal(documentOf(existing))
			return &ApplyResult{EntityID: existing.ID, AlreadyApplied: true, After: after}, nil
		}
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrConflictingEntity, "username already exists"), reg.Username)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Unavailable(err, "failed to check username")
	}

	user := &models.User{
		Username:        reg.Username,
		FullName:        reg.FullName,
		PasswordHash:    reg.PasswordHash,
		Role:            models.RoleStaff,
		Active:          true,
		SourceRequestID: &req.ID,
	}
	if reg.Email != "" {
		email := reg.Email
		user.Email = &email
	}
	if err := a.users.CreateWith(ctx, exec, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrConflictingEntity, "username or email already exists"), reg.Username)
		}
		return nil, appErrors.Unavailable(err, "failed to create user")
	}
	after, err := json.Marshal(documentOf(user))
	if err != nil {
		a.logger.Warn("failed to marshal user snapshot", zap.Error(err))
	}
	return &ApplyResult{EntityID: user.ID, After: after}, nil
}

// ChangeApplier merges change payloads into the submitter's account.
type ChangeApplier struct {
	users  UserEntityStore
	logger *zap.Logger
}

// NewChangeApplier constructs the applier.
func NewChangeApplier(users UserEntityStore, logger *zap.Logger) *ChangeApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeApplier{users: users, logger: logger}
}

// Apply locks the target user, merge-patches the payload fields into it and
// writes the result. A patch that changes nothing skips the write.
func (a *ChangeApplier) Apply(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error) {
	change, ok := payload.(models.ChangePayload)
	if !ok {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "change payload expected"), req.ID)
	}
	if req.SubmitterID == nil || *req.SubmitterID == "" {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrTargetNotFound, "change has no target user"), req.ID)
	}
	targetID := *req.SubmitterID

	user, err := a.users.LockByID(ctx, exec, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrTargetNotFound, "target user no longer exists"), targetID)
		}
		return nil, appErrors.Unavailable(err, "failed to lock target user")
	}

	before, err := json.Marshal(documentOf(user))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode user")
	}
	patch, err := json.Marshal(change.Fields())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode change")
	}
	after, err := jsonpatch.MergePatch(before, patch)
	if err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "change cannot be merged into user"), req.ID)
	}

	diff, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compare user versions")
	}
	if len(diff) == 0 {
		a.logger.Info("change already applied", zap.String("request_id", req.ID), zap.String("user_id", user.ID))
		return &ApplyResult{EntityID: user.ID, AlreadyApplied: true, Before: before, After: before}, nil
	}

	var merged userDocument
	if err := json.Unmarshal(after, &merged); err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "merged user is invalid"), req.ID)
	}
	user.Username = merged.Username
	user.Email = merged.Email
	user.FullName = merged.FullName
	user.Phone = merged.Phone

	if err := a.users.UpdateWith(ctx, exec, user); err != nil {
		switch {
		case repository.IsUniqueViolation(err):
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrConflictingEntity, "username or email already in use"), targetID)
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrTargetNotFound, "target user no longer exists"), targetID)
		default:
			return nil, appErrors.Unavailable(err, "failed to update user")
		}
	}
	return &ApplyResult{EntityID: user.ID, Before: before, After: after}, nil
}
