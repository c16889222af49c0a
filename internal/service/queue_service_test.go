package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
	"github.com/noah-isme/approvals-api/pkg/export"
)

type pendingSourceStub struct {
	items []models.PendingRequest
	err   error
}

func (s pendingSourceStub) ListPending(ctx context.Context, actor *models.Actor) ([]models.PendingRequest, error) {
	return s.items, s.err
}

func samplePending() []models.PendingRequest {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	bob := "bob"
	submitterID := "user-7"
	return []models.PendingRequest{
		{Request: models.Request{ID: "req-1", Kind: models.RequestKindRegistration, Payload: json.RawMessage(`{"username":"carol","passwordHash":"secret"}`), Status: models.RequestStatusPending, CreatedAt: base}},
		{Request: models.Request{ID: "req-2", Kind: models.RequestKindChange, SubmitterID: &submitterID, RequestType: models.ChangeTypeUpdateEmail, Payload: json.RawMessage(`{"email":"x@y.z"}`), Status: models.RequestStatusPending, CreatedAt: base.Add(time.Minute)}, SubmitterUsername: &bob},
		{Request: models.Request{ID: "req-3", Kind: models.RequestKindRegistration, Payload: json.RawMessage(`{"username":"dave"}`), Status: models.RequestStatusPending, CreatedAt: base.Add(2 * time.Minute)}},
	}
}

func TestQueueServiceProjectsPending(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewQueueService(pendingSourceStub{items: samplePending()}, metrics, nil)

	queue, err := svc.PendingQueue(context.Background(), reviewer)
	require.NoError(t, err)
	require.Len(t, queue.Users, 2)
	require.Len(t, queue.Changes, 1)
	assert.Equal(t, "carol", queue.Users[0].Username)
	assert.Equal(t, "dave", queue.Users[1].Username)
	assert.Equal(t, "bob", queue.Changes[0].Username)
	assert.Equal(t, models.ChangeTypeUpdateEmail, queue.Changes[0].RequestType)
	assert.JSONEq(t, `{"email":"x@y.z"}`, string(queue.Changes[0].NewData))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.pending.WithLabelValues("registration")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.pending.WithLabelValues("change")))
}

func TestQueueServiceEmptyQueueIsNotNil(t *testing.T) {
	svc := NewQueueService(pendingSourceStub{items: []models.PendingRequest{}}, nil, nil)

	queue, err := svc.PendingQueue(context.Background(), reviewer)
	require.NoError(t, err)
	raw, err := json.Marshal(queue)
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[],"changes":[]}`, string(raw))
}

func TestQueueServicePropagatesSourceErrors(t *testing.T) {
	svc := NewQueueService(pendingSourceStub{err: appErrors.Unavailable(errors.New("down"), "failed to load pending requests")}, nil, nil)

	_, err := svc.PendingQueue(context.Background(), reviewer)
	requireCode(t, err, appErrors.ErrStoreUnavailable)

	_, err = svc.Export(context.Background(), reviewer, export.FormatCSV)
	requireCode(t, err, appErrors.ErrStoreUnavailable)
}

func TestQueueServiceExportCSV(t *testing.T) {
	svc := NewQueueService(pendingSourceStub{items: samplePending()}, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC) }

	file, err := svc.Export(context.Background(), reviewer, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "pending-approvals-20240502-103000.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,kind,username,requestType,newData,createdAt", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "req-1,registration,carol,"))
	assert.Contains(t, lines[3], "req-2,change,bob,update-email")
	assert.NotContains(t, string(file.Body), "secret")
}

func TestQueueServiceExportPDF(t *testing.T) {
	svc := NewQueueService(pendingSourceStub{items: samplePending()}, nil, nil)

	file, err := svc.Export(context.Background(), reviewer, export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasPrefix(string(file.Body), "%PDF"))
}
