package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

type studentServiceMock struct {
	filter models.StudentFilter
	id     string
	calls  int
	err    error
}

func (m *studentServiceMock) List(ctx context.Context, actor *models.Actor, filter models.StudentFilter) ([]models.Student, error) {
	m.calls++
	m.filter = filter
	return []models.Student{{ID: "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01", Name: "Dana"}}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, actor *models.Actor, id string) (*models.Student, error) {
	m.calls++
	m.id = id
	if m.err != nil {
		return nil, m.err
	}
	return &models.Student{ID: id, Name: "Dana"}, nil
}

func TestStudentHandlerListPassesFilter(t *testing.T) {
	svc := &studentServiceMock{}
	h := NewStudentHandler(svc)

	c, w := reviewerContext(http.MethodGet, "/students?search=dan&course=Physics&limit=5&offset=10", nil)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StudentFilter{Search: "dan", Course: "Physics", Limit: 5, Offset: 10}, svc.filter)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestStudentHandlerListRejectsBadPaging(t *testing.T) {
	svc := &studentServiceMock{}
	h := NewStudentHandler(svc)

	c, w := reviewerContext(http.MethodGet, "/students?limit=-1", nil)
	h.List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}

func TestStudentHandlerGet(t *testing.T) {
	svc := &studentServiceMock{}
	h := NewStudentHandler(svc)

	c, w := reviewerContext(http.MethodGet, "/students/7D0E5B7C-8F43-4A55-9D0C-2A8F4D1C9E01", nil)
	c.Params = gin.Params{{Key: "id", Value: "7D0E5B7C-8F43-4A55-9D0C-2A8F4D1C9E01"}}
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01", svc.id)

	c, w = reviewerContext(http.MethodGet, "/students/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, svc.calls)

	svc.err = appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, "student not found"), "x")
	c, w = reviewerContext(http.MethodGet, "/students/7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e09", nil)
	c.Params = gin.Params{{Key: "id", Value: "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e09"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
