package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/approvals-api/internal/dto"
	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
	"github.com/noah-isme/approvals-api/pkg/response"
)

// IdempotencyHeader carries the client's de-duplication key.
const IdempotencyHeader = "Idempotency-Key"

const maxSubmissionBytes = 64 << 10

type submissionService interface {
	Submit(ctx context.Context, actor *models.Actor, input dto.SubmitRequest) (*models.Request, error)
	Get(ctx context.Context, actor *models.Actor, id string) (*models.Request, error)
	ListMine(ctx context.Context, actor *models.Actor, query dto.RequestQuery) ([]models.Request, error)
}

// SubmissionHandler exposes the submitter side of the approval workflow.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(service submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// Register godoc
// @Summary Request a new account
// @Description The body is the registration payload. The account is created only after a reviewer approves it.
// @Tags Submissions
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "De-duplication key"
// @Param payload body models.RegistrationPayload true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /registrations [post]
func (h *SubmissionHandler) Register(c *gin.Context) {
	limitBody(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, bodyError(err, "unreadable registration body"))
		return
	}
	req, err := h.service.Submit(c.Request.Context(), actorFromContext(c), dto.SubmitRequest{
		Kind:           models.RequestKindRegistration,
		Payload:        json.RawMessage(body),
		IdempotencyKey: strings.TrimSpace(c.GetHeader(IdempotencyHeader)),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// SubmitChange godoc
// @Summary Request a change to the caller's account
// @Tags Submissions
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "De-duplication key"
// @Param payload body dto.SubmitRequest true "Change request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /changes [post]
func (h *SubmissionHandler) SubmitChange(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limitBody(c)
	var input dto.SubmitRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, bodyError(err, "invalid change request body"))
		return
	}
	input.Kind = models.RequestKindChange
	input.IdempotencyKey = strings.TrimSpace(c.GetHeader(IdempotencyHeader))

	req, err := h.service.Submit(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// Mine godoc
// @Summary List the caller's requests
// @Tags Submissions
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param kind query string false "registration or change"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /requests/mine [get]
func (h *SubmissionHandler) Mine(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.RequestQuery{Kind: models.RequestKind(strings.ToLower(strings.TrimSpace(c.Query("kind"))))}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				query.Status = append(query.Status, models.RequestStatus(part))
			}
		}
	}
	var err error
	if query.Limit, err = intQuery(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}
	if query.Offset, err = intQuery(c, "offset"); err != nil {
		response.Error(c, err)
		return
	}

	requests, err := h.service.ListMine(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, map[string]interface{}{"count": len(requests)})
}

// Get godoc
// @Summary Get a request
// @Tags Submissions
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id", "request")
	if err != nil {
		response.Error(c, err)
		return
	}
	req, err := h.service.Get(c.Request.Context(), actorFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSubmissionBytes)
}

// bodyError reports an oversized body as such instead of as malformed JSON.
func bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return appErrors.Wrap(err, appErrors.ErrPayloadTooLarge.Code, appErrors.ErrPayloadTooLarge.Status,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return appErrors.Wrap(err, appErrors.ErrInvalidPayload.Code, appErrors.ErrInvalidPayload.Status, message)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a non-negative integer")
	}
	return value, nil
}
