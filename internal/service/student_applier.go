package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jmoiron/sqlx"
	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/repository"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

const auditResourceStudent = "student"

// StudentEntityStore is the slice of the student repository the applier needs.
type StudentEntityStore interface {
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	CreateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	UpdateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	DeleteWith(ctx context.Context, exec sqlx.ExtContext, id string) error
}

// studentDocument is the JSON view of the editable student fields.
type studentDocument struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          *string `json:"phone"`
	Course         *string `json:"course"`
	EnrollmentDate string  `json:"enrollmentDate"`
}

func studentDocumentOf(student *models.Student) studentDocument {
	doc := studentDocument{Name: student.Name, Email: student.Email, Phone: student.Phone, Course: student.Course}
	if !student.EnrollmentDate.IsZero() {
		doc.EnrollmentDate = student.EnrollmentDate.Format(models.DateLayout)
	}
	return doc
}

// StudentApplier creates, edits and removes students for approved requests.
type StudentApplier struct {
	students StudentEntityStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewStudentApplier constructs the applier.
func NewStudentApplier(students StudentEntityStore, logger *zap.Logger) *StudentApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentApplier{students: students, now: time.Now, logger: logger}
}

// Apply dispatches on the student payload variant.
func (a *StudentApplier) Apply(ctx context.Context, exec sqlx.ExtContext, req *models.Request, payload models.Payload) (*ApplyResult, error) {
	switch p := payload.(type) {
	case models.CreateStudentPayload:
		return a.create(ctx, exec, req, p)
	case models.UpdateStudentPayload:
		return a.update(ctx, exec, req, p)
	case models.DeleteStudentPayload:
		return a.delete(ctx, exec, p)
	default:
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "student payload expected"), req.ID)
	}
}

func (a *StudentApplier) create(ctx context.Context, exec sqlx.ExtContext, req *models.Request, p models.CreateStudentPayload) (*ApplyResult, error) {
	enrolled := a.now().UTC().Truncate(24 * time.Hour)
	if p.EnrollmentDate != "" {
		parsed, err := time.Parse(models.DateLayout, p.EnrollmentDate)
		if err != nil {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "enrollmentDate must be YYYY-MM-DD"), req.ID)
		}
		enrolled = parsed
	}
	student := &models.Student{
		Name:            p.Name,
		Email:           p.Email,
		Phone:           p.Phone,
		Course:          p.Course,
		EnrollmentDate:  enrolled,
		SourceRequestID: &req.ID,
	}
	if err := a.students.CreateWith(ctx, exec, student); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrConflictingEntity, "student email already registered"), p.Email)
		}
		return nil, appErrors.Unavailable(err, "failed to create student")
	}
	after, err := json.Marshal(studentDocumentOf(student))
	if err != nil {
		a.logger.Warn("failed to marshal student snapshot", zap.Error(err))
	}
	return &ApplyResult{EntityID: student.ID, After: after, Resource: auditResourceStudent, Action: models.AuditActionStudentCreate}, nil
}

func (a *StudentApplier) update(ctx context.Context, exec sqlx.ExtContext, req *models.Request, p models.UpdateStudentPayload) (*ApplyResult, error) {
	student, err := a.lock(ctx, exec, p.StudentID)
	if err != nil {
		return nil, err
	}

	before, err := json.Marshal(studentDocumentOf(student))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode student")
	}
	patch, err := json.Marshal(p.Patch())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode change")
	}
	after, err := jsonpatch.MergePatch(before, patch)
	if err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "change cannot be merged into student"), req.ID)
	}

	diff, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compare student versions")
	}
	if len(diff) == 0 {
		a.logger.Info("student change already applied", zap.String("request_id", req.ID), zap.String("student_id", student.ID))
		return &ApplyResult{EntityID: student.ID, AlreadyApplied: true, Before: before, After: before}, nil
	}

	var merged studentDocument
	if err := json.Unmarshal(after, &merged); err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "merged student is invalid"), req.ID)
	}
	enrolled, err := time.Parse(models.DateLayout, strings.TrimSpace(merged.EnrollmentDate))
	if err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrInvalidPayload, "enrollmentDate must be YYYY-MM-DD"), req.ID)
	}
	student.Name = merged.Name
	student.Email = merged.Email
	student.Phone = merged.Phone
	student.Course = merged.Course
	student.EnrollmentDate = enrolled

	if err := a.students.UpdateWith(ctx, exec, student); err != nil {
		switch {
		case repository.IsUniqueViolation(err):
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrConflictingEntity, "student email already registered"), student.Email)
		case errors.Is(err, sql.ErrNoRows):
			return nil, studentNotFound(p.StudentID)
		default:
			return nil, appErrors.Unavailable(err, "failed to update student")
		}
	}
	return &ApplyResult{EntityID: student.ID, Before: before, After: after, Resource: auditResourceStudent, Action: models.AuditActionStudentUpdate}, nil
}

func (a *StudentApplier) delete(ctx context.Context, exec sqlx.ExtContext, p models.DeleteStudentPayload) (*ApplyResult, error) {
	student, err := a.lock(ctx, exec, p.StudentID)
	if err != nil {
		return nil, err
	}
	before, err := json.Marshal(studentDocumentOf(student))
	if err != nil {
		a.logger.Warn("failed to marshal student snapshot", zap.Error(err))
	}
	if err := a.students.DeleteWith(ctx, exec, student.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, studentNotFound(p.StudentID)
		}
		return nil, appErrors.Unavailable(err, "failed to delete student")
	}
	return &ApplyResult{EntityID: student.ID, Before: before, Resource: auditResourceStudent, Action: models.AuditActionStudentDelete}, nil
}

func (a *StudentApplier) lock(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	student, err := a.students.LockByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, studentNotFound(id)
		}
		return nil, appErrors.Unavailable(err, "failed to lock student")
	}
	return student, nil
}

func studentNotFound(id string) error {
	return appErrors.WithResource(appErrors.Clone(appErrors.ErrTargetNotFound, "student no longer exists"), id)
}
