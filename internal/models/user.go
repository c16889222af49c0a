package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleStaff UserRole = "STAFF"
)

// CanReview reports whether the role may decide requests.
func (r UserRole) CanReview() bool {
	return r == RoleAdmin
}

// User is the entity registrations create and changes modify.
type User struct {
	ID              string    `db:"id" json:"id"`
	Username        string    `db:"username" json:"username"`
	Email           *string   `db:"email" json:"email,omitempty"`
	FullName        string    `db:"full_name" json:"fullName"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Role            UserRole  `db:"role" json:"role"`
	Active          bool      `db:"active" json:"active"`
	SourceRequestID *string   `db:"source_request_id" json:"sourceRequestId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// IsReviewer reports whether the actor holds reviewer privilege.
func (a *Actor) IsReviewer() bool {
	return a != nil && a.Role.CanReview()
}
