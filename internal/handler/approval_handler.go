package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/approvals-api/internal/dto"
	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/service"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
	"github.com/noah-isme/approvals-api/pkg/export"
	"github.com/noah-isme/approvals-api/pkg/response"
)

type decisionService interface {
	Decide(ctx context.Context, actor *models.Actor, input dto.DecisionInput) (*models.DecisionResult, error)
}

type queueService interface {
	PendingQueue(ctx context.Context, actor *models.Actor) (*dto.PendingQueue, error)
	Export(ctx context.Context, actor *models.Actor, format export.Format) (*service.ExportFile, error)
}

// ApprovalHandler exposes the reviewer side of the workflow.
type ApprovalHandler struct {
	decisions decisionService
	queue     queueService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(decisions decisionService, queue queueService) *ApprovalHandler {
	return &ApprovalHandler{decisions: decisions, queue: queue}
}

// Queue godoc
// @Summary List pending requests
// @Description Pending registrations and changes, oldest first.
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/approvals [get]
func (h *ApprovalHandler) Queue(c *gin.Context) {
	queue, err := h.queue.PendingQueue(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, queue, nil)
}

// Export godoc
// @Summary Export pending requests
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/approvals/export [get]
func (h *ApprovalHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error()))
		return
	}
	file, err := h.queue.Export(c.Request.Context(), actorFromContext(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// DecideRegistration godoc
// @Summary Approve or reject a registration
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param action path string true "approve or reject"
// @Param payload body dto.DecisionBody false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/users/{id}/{action} [post]
func (h *ApprovalHandler) DecideRegistration(c *gin.Context) {
	outcome := models.DecisionOutcome(strings.ToLower(strings.TrimSpace(c.Param("action"))))
	if _, ok := outcome.Status(); !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown action"))
		return
	}
	h.decide(c, models.RequestKindRegistration, outcome)
}

// ApproveChange godoc
// @Summary Approve a change request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionBody false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/changes/{id}/approve [post]
func (h *ApprovalHandler) ApproveChange(c *gin.Context) {
	h.decide(c, models.RequestKindChange, models.OutcomeApprove)
}

// RejectChange godoc
// @Summary Reject a change request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionBody false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/changes/{id}/reject [post]
func (h *ApprovalHandler) RejectChange(c *gin.Context) {
	h.decide(c, models.RequestKindChange, models.OutcomeReject)
}

func (h *ApprovalHandler) decide(c *gin.Context, kind models.RequestKind, outcome models.DecisionOutcome) {
	requestID, err := uuidParam(c, "id", "request")
	if err != nil {
		response.Error(c, err)
		return
	}
	var body dto.DecisionBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidPayload.Code, appErrors.ErrInvalidPayload.Status, "invalid decision body"))
			return
		}
	}

	actor := actorFromContext(c)
	result, err := h.decisions.Decide(c.Request.Context(), actor, dto.DecisionInput{
		RequestID:  requestID,
		Outcome:    outcome,
		Note:       body.Note,
		ExpectKind: kind,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := dto.DecisionResponse{Decision: result}
	queue, err := h.queue.PendingQueue(c.Request.Context(), actor)
	if err != nil {
		// the decision is committed; report the stale queue instead of failing
		response.JSON(c, http.StatusOK, payload, map[string]interface{}{"queueError": appErrors.FromError(err).Code})
		return
	}
	payload.Queue = queue
	response.JSON(c, http.StatusOK, payload, nil)
}
