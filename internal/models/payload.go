package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Supported change request types.
const (
	ChangeTypeUpdateEmail    = "update-email"
	ChangeTypeUpdateProfile  = "update-profile"
	ChangeTypeUpdateUsername = "update-username"
	ChangeTypeCreateStudent  = "create-student"
	ChangeTypeUpdateStudent  = "update-student"
	ChangeTypeDeleteStudent  = "delete-student"
)

// ErrUnknownRequestType is returned for change types without a payload variant.
var ErrUnknownRequestType = errors.New("unsupported request type")

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
	payloadValidate = newPayloadValidator()
)

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Payload is the closed set of request bodies the workflow accepts.
type Payload interface {
	Kind() RequestKind
}

// ChangePayload is a payload that merges fields into an existing user.
type ChangePayload interface {
	Payload
	// Fields returns the JSON merge patch applied to the user document.
	Fields() map[string]interface{}
}

// RegistrationPayload carries the fields needed to create an account. Accounts
// registered without a password cannot log in until one is set.
type RegistrationPayload struct {
	Username     string `json:"username" validate:"required,min=3,max=64,username"`
	Password     string `json:"password,omitempty" validate:"omitempty,min=6,max=72"`
	PasswordHash string `json:"passwordHash,omitempty"`
	FullName     string `json:"fullName,omitempty" validate:"max=120"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
}

func (RegistrationPayload) Kind() RequestKind { return RequestKindRegistration }

// ChangeEmailPayload replaces the account email.
type ChangeEmailPayload struct {
	Email string `json:"email" validate:"required,email"`
}

func (ChangeEmailPayload) Kind() RequestKind { return RequestKindChange }

func (p ChangeEmailPayload) Fields() map[string]interface{} {
	return map[string]interface{}{"email": p.Email}
}

// ChangeProfilePayload updates display fields; absent fields are left untouched.
type ChangeProfilePayload struct {
	FullName *string `json:"fullName,omitempty" validate:"omitempty,min=1,max=120"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

func (ChangeProfilePayload) Kind() RequestKind { return RequestKindChange }

func (p ChangeProfilePayload) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, 2)
	if p.FullName != nil {
		fields["fullName"] = *p.FullName
	}
	if p.Phone != nil {
		fields["phone"] = *p.Phone
	}
	return fields
}

// ChangeUsernamePayload renames the account.
type ChangeUsernamePayload struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
}

func (ChangeUsernamePayload) Kind() RequestKind { return RequestKindChange }

func (p ChangeUsernamePayload) Fields() map[string]interface{} {
	return map[string]interface{}{"username": p.Username}
}

// StudentPayload is a change aimed at a student record rather than the
// submitter's own account.
type StudentPayload interface {
	Payload
	// TargetStudent returns the student the change applies to, or "" when the
	// change creates one.
	TargetStudent() string
}

// CreateStudentPayload enrolls a new student. EnrollmentDate defaults to the
// approval date.
type CreateStudentPayload struct {
	Name           string  `json:"name" validate:"required,max=100"`
	Email          string  `json:"email" validate:"required,email,max=100"`
	Phone          *string `json:"phone,omitempty" validate:"omitempty,max=20"`
	Course         *string `json:"course,omitempty" validate:"omitempty,max=100"`
	EnrollmentDate string  `json:"enrollmentDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (CreateStudentPayload) Kind() RequestKind { return RequestKindChange }

func (CreateStudentPayload) TargetStudent() string { return "" }

// UpdateStudentPayload edits a student; absent fields are left untouched.
type UpdateStudentPayload struct {
	StudentID      string  `json:"studentId" validate:"required,uuid"`
	Name           *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Email          *string `json:"email,omitempty" validate:"omitempty,email,max=100"`
	Phone          *string `json:"phone,omitempty" validate:"omitempty,max=20"`
	Course         *string `json:"course,omitempty" validate:"omitempty,max=100"`
	EnrollmentDate *string `json:"enrollmentDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (UpdateStudentPayload) Kind() RequestKind { return RequestKindChange }

func (p UpdateStudentPayload) TargetStudent() string { return p.StudentID }

// Patch returns the JSON merge patch applied to the student document.
func (p UpdateStudentPayload) Patch() map[string]interface{} {
	patch := make(map[string]interface{}, 5)
	for key, value := range map[string]*string{
		"name":           p.Name,
		"email":          p.Email,
		"phone":          p.Phone,
		"course":         p.Course,
		"enrollmentDate": p.EnrollmentDate,
	} {
		if value != nil {
			patch[key] = *value
		}
	}
	return patch
}

// DeleteStudentPayload removes a student.
type DeleteStudentPayload struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
}

func (DeleteStudentPayload) Kind() RequestKind { return RequestKindChange }

func (p DeleteStudentPayload) TargetStudent() string { return p.StudentID }

// DecodePayload parses raw into the variant selected by kind and requestType.
func DecodePayload(kind RequestKind, requestType string, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("payload is required")
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload must be valid JSON")
	}

	var payload Payload
	switch kind {
	case RequestKindRegistration:
		var p RegistrationPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		p.Username = normalizeUsername(p.Username)
		p.Email = strings.ToLower(strings.TrimSpace(p.Email))
		p.FullName = strings.TrimSpace(p.FullName)
		payload = p
	case RequestKindChange:
		switch requestType {
		case ChangeTypeUpdateEmail:
			var p ChangeEmailPayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			p.Email = strings.ToLower(strings.TrimSpace(p.Email))
			payload = p
		case ChangeTypeUpdateProfile:
			var p ChangeProfilePayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			if p.FullName == nil && p.Phone == nil {
				return nil, errors.New("update-profile requires fullName or phone")
			}
			if p.FullName != nil {
				trimmed := strings.TrimSpace(*p.FullName)
				p.FullName = &trimmed
			}
			payload = p
		case ChangeTypeUpdateUsername:
			var p ChangeUsernamePayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			p.Username = normalizeUsername(p.Username)
			payload = p
		case ChangeTypeCreateStudent:
			var p CreateStudentPayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			p.Name = strings.TrimSpace(p.Name)
			p.Email = normalizeEmail(p.Email)
			p.EnrollmentDate = strings.TrimSpace(p.EnrollmentDate)
			payload = p
		case ChangeTypeUpdateStudent:
			var p UpdateStudentPayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			p.StudentID = normalizeID(p.StudentID)
			if len(p.Patch()) == 0 {
				return nil, errors.New("update-student requires at least one field to change")
			}
			if p.Name != nil {
				name := strings.TrimSpace(*p.Name)
				p.Name = &name
			}
			if p.Email != nil {
				email := normalizeEmail(*p.Email)
				p.Email = &email
			}
			payload = p
		case ChangeTypeDeleteStudent:
			var p DeleteStudentPayload
			if err := strictUnmarshal(raw, &p); err != nil {
				return nil, err
			}
			p.StudentID = normalizeID(p.StudentID)
			payload = p
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, requestType)
		}
	default:
		return nil, fmt.Errorf("unsupported request kind %q", kind)
	}

	if err := payloadValidate.Struct(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func strictUnmarshal(raw json.RawMessage, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func normalizeUsername(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
