package models

import "time"

// DateLayout is the wire format of calendar dates such as enrollment dates.
const DateLayout = "2006-01-02"

// Student is an enrolled student record. Students are created, edited and
// removed only through approved change requests.
type Student struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Email           string    `db:"email" json:"email"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	Course          *string   `db:"course" json:"course,omitempty"`
	EnrollmentDate  time.Time `db:"enrollment_date" json:"enrollmentDate"`
	SourceRequestID *string   `db:"source_request_id" json:"sourceRequestId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// StudentFilter constrains student listings.
type StudentFilter struct {
	Search string
	Course string
	Limit  int
	Offset int
}
