package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/approvals-api/internal/models"
)

// SubmitRequest is the body accepted by the submission endpoints.
type SubmitRequest struct {
	Kind           models.RequestKind `json:"kind,omitempty"`
	RequestType    string             `json:"requestType,omitempty"`
	Payload        json.RawMessage    `json:"payload" swaggertype:"object"`
	IdempotencyKey string             `json:"-"`
}

// DecisionInput captures a reviewer decision on a single request.
type DecisionInput struct {
	RequestID string
	Outcome   models.DecisionOutcome
	Note      string
	// ExpectKind, when set, makes requests of the other kind invisible.
	ExpectKind models.RequestKind
}

// DecisionBody is the optional JSON body of the decision endpoints.
type DecisionBody struct {
	Note string `json:"note" binding:"max=500"`
}

// RequestQuery mirrors the filters of the submitter listing.
type RequestQuery struct {
	Status []models.RequestStatus
	Kind   models.RequestKind
	Limit  int
	Offset int
}

// PendingUser is a registration awaiting review.
type PendingUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// PendingChange is a change request awaiting review.
type PendingChange struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	RequestType string          `json:"requestType"`
	NewData     json.RawMessage `json:"newData" swaggertype:"object"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PendingQueue is the reviewer's view of everything still pending.
type PendingQueue struct {
	Users   []PendingUser   `json:"users"`
	Changes []PendingChange `json:"changes"`
}

// DecisionResponse pairs the decision outcome with the refreshed queue.
type DecisionResponse struct {
	Decision *models.DecisionResult `json:"decision"`
	Queue    *PendingQueue          `json:"queue"`
}
