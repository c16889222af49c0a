package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/pkg/response"
)

type studentService interface {
	List(ctx context.Context, actor *models.Actor, filter models.StudentFilter) ([]models.Student, error)
	Get(ctx context.Context, actor *models.Actor, id string) (*models.Student, error)
}

// StudentHandler exposes the read side of the student directory.
type StudentHandler struct {
	service studentService
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(service studentService) *StudentHandler {
	return &StudentHandler{service: service}
}

// List godoc
// @Summary List students
// @Description Students are created, edited and removed through approved change requests.
// @Tags Students
// @Produce json
// @Param search query string false "Name or email fragment"
// @Param course query string false "Exact course"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{Search: c.Query("search"), Course: c.Query("course")}
	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		response.Error(c, err)
		return
	}

	students, err := h.service.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, map[string]interface{}{"count": len(students)})
}

// Get godoc
// @Summary Get a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id", "student")
	if err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.service.Get(c.Request.Context(), actorFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
