package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

type studentReader interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// StudentService serves the student directory. Writes only happen through
// approved change requests.
type StudentService struct {
	students studentReader
	logger   *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(students studentReader, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, logger: logger}
}

// List returns students for any authenticated actor.
func (s *StudentService) List(ctx context.Context, actor *models.Actor, filter models.StudentFilter) ([]models.Student, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	students, err := s.students.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list students", zap.Error(err))
		return nil, appErrors.Unavailable(err, "failed to list students")
	}
	return students, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, actor *models.Actor, id string) (*models.Student, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "student not found"), id)
	}
	student, err := s.students.FindByID(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "student not found"), parsed.String())
		}
		return nil, appErrors.Unavailable(err, "failed to load student")
	}
	return student, nil
}
