package models

import (
	"encoding/json"
	"time"
)

// RequestKind separates account registrations from changes to existing accounts.
type RequestKind string

const (
	RequestKindRegistration RequestKind = "registration"
	RequestKindChange       RequestKind = "change"
)

// Valid reports whether k is a known kind.
func (k RequestKind) Valid() bool {
	return k == RequestKindRegistration || k == RequestKindChange
}

// RequestStatus captures the review lifecycle of a request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// DecisionOutcome is the reviewer's verdict.
type DecisionOutcome string

const (
	OutcomeApprove DecisionOutcome = "approve"
	OutcomeReject  DecisionOutcome = "reject"
)

// Status returns the terminal status an outcome transitions to.
func (o DecisionOutcome) Status() (RequestStatus, bool) {
	switch o {
	case OutcomeApprove:
		return RequestStatusApproved, true
	case OutcomeReject:
		return RequestStatusRejected, true
	default:
		return "", false
	}
}

// Request is a registration or change awaiting, or past, reviewer decision.
type Request struct {
	ID          string          `db:"id" json:"id"`
	Kind        RequestKind     `db:"kind" json:"kind"`
	SubmitterID *string         `db:"submitter_id" json:"submitterId,omitempty"`
	RequestType string          `db:"request_type" json:"requestType,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      RequestStatus   `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	DecidedAt   *time.Time      `db:"decided_at" json:"decidedAt,omitempty"`
	DecidedBy   *string         `db:"decided_by" json:"decidedBy,omitempty"`
	EntityID    *string         `db:"entity_id" json:"entityId,omitempty"`
	Note        *string         `db:"note" json:"note,omitempty"`
}

// credentialFields never leave the service in API responses.
var credentialFields = []string{"password", "passwordHash"}

// Public returns a copy of r whose registration payload has credential fields removed.
func (r Request) Public() Request {
	if r.Kind != RequestKindRegistration || len(r.Payload) == 0 {
		return r
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		r.Payload = json.RawMessage("{}")
		return r
	}
	for _, key := range credentialFields {
		delete(fields, key)
	}
	redacted, err := json.Marshal(fields)
	if err != nil {
		r.Payload = json.RawMessage("{}")
		return r
	}
	r.Payload = redacted
	return r
}

// PendingRequest is a pending request joined with the submitter's username.
type PendingRequest struct {
	Request
	SubmitterUsername *string `db:"submitter_username" json:"submitterUsername,omitempty"`
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Status      []RequestStatus
	Kind        RequestKind
	SubmitterID string
	Limit       int
	Offset      int
}

// DecisionResult is returned by a successful decision.
type DecisionResult struct {
	Request        *Request        `json:"request"`
	Outcome        DecisionOutcome `json:"outcome"`
	EntityID       string          `json:"entityId,omitempty"`
	AlreadyApplied bool            `json:"alreadyApplied,omitempty"`
}
