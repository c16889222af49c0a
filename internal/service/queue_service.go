package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/dto"
	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
	"github.com/noah-isme/approvals-api/pkg/export"
)

type pendingSource interface {
	ListPending(ctx context.Context, actor *models.Actor) ([]models.PendingRequest, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// QueueService projects pending requests into the reviewer queue. It is read-only.
type QueueService struct {
	source  pendingSource
	metrics *MetricsService
	now     func() time.Time
	logger  *zap.Logger
}

// NewQueueService constructs the service.
func NewQueueService(source pendingSource, metrics *MetricsService, logger *zap.Logger) *QueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueService{source: source, metrics: metrics, now: time.Now, logger: logger}
}

// PendingQueue returns pending registrations and changes in submission order.
func (s *QueueService) PendingQueue(ctx context.Context, actor *models.Actor) (*dto.PendingQueue, error) {
	items, err := s.source.ListPending(ctx, actor)
	if err != nil {
		return nil, err
	}

	queue := &dto.PendingQueue{
		Users:   make([]dto.PendingUser, 0),
		Changes: make([]dto.PendingChange, 0),
	}
	for _, item := range items {
		switch item.Kind {
		case models.RequestKindRegistration:
			queue.Users = append(queue.Users, dto.PendingUser{
				ID:        item.ID,
				Username:  s.registrationUsername(item.Request),
				CreatedAt: item.CreatedAt,
			})
		case models.RequestKindChange:
			username := ""
			if item.SubmitterUsername != nil {
				username = *item.SubmitterUsername
			}
			queue.Changes = append(queue.Changes, dto.PendingChange{
				ID:          item.ID,
				Username:    username,
				RequestType: item.RequestType,
				NewData:     item.Payload,
				CreatedAt:   item.CreatedAt,
			})
		}
	}
	s.metrics.SetPending(string(models.RequestKindRegistration), len(queue.Users))
	s.metrics.SetPending(string(models.RequestKindChange), len(queue.Changes))
	return queue, nil
}

// Export renders the pending queue for offline review.
func (s *QueueService) Export(ctx context.Context, actor *models.Actor, format export.Format) (*ExportFile, error) {
	queue, err := s.PendingQueue(ctx, actor)
	if err != nil {
		return nil, err
	}

	generatedAt := s.now().UTC()
	data := export.Dataset{
		Title:       "Pending approvals",
		Headers:     []string{"id", "kind", "username", "requestType", "newData", "createdAt"},
		Rows:        make([]map[string]string, 0, len(queue.Users)+len(queue.Changes)),
		GeneratedAt: generatedAt,
	}
	for _, user := range queue.Users {
		data.Rows = append(data.Rows, map[string]string{
			"id":        user.ID,
			"kind":      string(models.RequestKindRegistration),
			"username":  user.Username,
			"createdAt": user.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, change := range queue.Changes {
		data.Rows = append(data.Rows, map[string]string{
			"id":          change.ID,
			"kind":        string(models.RequestKindChange),
			"username":    change.Username,
			"requestType": change.RequestType,
			"newData":     string(change.NewData),
			"createdAt":   change.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	body, err := export.Render(format, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("pending-approvals-%s.%s", generatedAt.Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func (s *QueueService) registrationUsername(req models.Request) string {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		s.logger.Warn("unreadable registration payload", zap.String("request_id", req.ID), zap.Error(err))
		return ""
	}
	return payload.Username
}
