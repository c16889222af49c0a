package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/approvals-api/internal/models"
)

type auditWriterStub struct {
	mu       sync.Mutex
	failures int
	logs     []*models.AuditLog
}

func (w *auditWriterStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("insert audit log: connection reset")
	}
	w.logs = append(w.logs, log)
	return nil
}

func (w *auditWriterStub) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.logs)
}

func TestAuditServicePersistsRecords(t *testing.T) {
	writer := &auditWriterStub{}
	svc := NewAuditService(writer, AuditConfig{Workers: 2, BufferSize: 8, Retries: 1, RetryDelay: time.Millisecond}, nil, nil)
	svc.Start(context.Background())

	svc.Record(&models.AuditLog{Action: models.AuditActionRequestSubmit, Resource: "approval_request"})
	svc.Record(&models.AuditLog{Action: models.AuditActionRequestApprove, Resource: "approval_request"})
	svc.Stop()

	require.Equal(t, 2, writer.count())
	for _, log := range writer.logs {
		assert.False(t, log.CreatedAt.IsZero())
	}
}

func TestAuditServiceRetriesFailedWrites(t *testing.T) {
	writer := &auditWriterStub{failures: 1}
	svc := NewAuditService(writer, AuditConfig{Workers: 1, BufferSize: 4, Retries: 2, RetryDelay: time.Millisecond}, nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Record(&models.AuditLog{Action: models.AuditActionLogin, Resource: "auth"})
	assert.Eventually(t, func() bool { return writer.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAuditServiceDropsWhenNotRunning(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewAuditService(&auditWriterStub{}, AuditConfig{}, metrics, nil)

	svc.Record(&models.AuditLog{Action: models.AuditActionLogin})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditDropped))

	var nilSvc *AuditService
	nilSvc.Record(&models.AuditLog{Action: models.AuditActionLogin})
}
