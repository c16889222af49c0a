package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/approvals-api/internal/dto"
	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

const danaID = "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01"

func seedStudents(f *workflowFixture) {
	physics := "Physics"
	f.db.addStudent(models.Student{ID: danaID, Name: "Dana", Email: "dana@school.io", Course: &physics, EnrollmentDate: time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)})
	f.db.addStudent(models.Student{ID: "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e02", Name: "Eli", Email: "eli@school.io", EnrollmentDate: time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)})
}

func (f *workflowFixture) approve(t *testing.T, id string) (*models.DecisionResult, error) {
	t.Helper()
	return f.svc.Decide(context.Background(), reviewer, dto.DecisionInput{RequestID: id, Outcome: models.OutcomeApprove})
}

func TestStudentCreateAppliedOnApproval(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.submitChange(t, models.ChangeTypeCreateStudent, `{"name":"Fay","email":"Fay@School.io","course":"Biology","enrollmentDate":"2024-09-02"}`)
	assert.Empty(t, f.db.students)

	result, err := f.approve(t, req.ID)
	require.NoError(t, err)
	student := f.db.student(result.EntityID)
	require.NotNil(t, student)
	assert.Equal(t, "Fay", student.Name)
	assert.Equal(t, "fay@school.io", student.Email)
	assert.Equal(t, "2024-09-02", student.EnrollmentDate.Format(models.DateLayout))
	assert.Equal(t, req.ID, *student.SourceRequestID)

	assert.Equal(t, []string{models.AuditActionRequestSubmit, models.AuditActionRequestApprove, models.AuditActionStudentCreate}, f.audit.actions())
	entry := f.audit.entries[2]
	assert.Equal(t, "student", entry.Resource)
	assert.Equal(t, result.EntityID, *entry.ResourceID)
	assert.Contains(t, string(entry.NewValues), "Fay")
}

func TestStudentCreateDuplicateEmailStaysPending(t *testing.T) {
	f := newWorkflowFixture(t)
	seedStudents(f)
	req := f.submitChange(t, models.ChangeTypeCreateStudent, `{"name":"Other Dana","email":"dana@school.io"}`)

	_, err := f.approve(t, req.ID)
	requireCode(t, err, appErrors.ErrConflictingEntity)
	assert.Len(t, f.db.students, 2)
	assert.Equal(t, models.RequestStatusPending, f.db.request(req.ID).Status)
}

func TestStudentUpdateMergesFields(t *testing.T) {
	f := newWorkflowFixture(t)
	seedStudents(f)
	req := f.submitChange(t, models.ChangeTypeUpdateStudent, fmt.Sprintf(`{"studentId":%q,"course":"Chemistry","phone":"555-0101"}`, danaID))

	result, err := f.approve(t, req.ID)
	require.NoError(t, err)
	assert.Equal(t, danaID, result.EntityID)

	student := f.db.student(danaID)
	assert.Equal(t, "Chemistry", *student.Course)
	assert.Equal(t, "555-0101", *student.Phone)
	assert.Equal(t, "Dana", student.Name)
	assert.Equal(t, "2023-09-01", student.EnrollmentDate.Format(models.DateLayout))

	entry := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, models.AuditActionStudentUpdate, entry.Action)
	assert.Contains(t, string(entry.OldValues), "Physics")
	assert.Contains(t, string(entry.NewValues), "Chemistry")
}

func TestStudentUpdateTargetMissingStaysPending(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.submitChange(t, models.ChangeTypeUpdateStudent, fmt.Sprintf(`{"studentId":%q,"name":"Ghost"}`, danaID))

	_, err := f.approve(t, req.ID)
	requireCode(t, err, appErrors.ErrTargetNotFound)
	assert.Equal(t, models.RequestStatusPending, f.db.request(req.ID).Status)

	result, err := f.svc.Decide(context.Background(), reviewer, dto.DecisionInput{RequestID: req.ID, Outcome: models.OutcomeReject})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, result.Request.Status)
}

func TestStudentUpdateDuplicateEmailIsConflict(t *testing.T) {
	f := newWorkflowFixture(t)
	seedStudents(f)
	req := f.submitChange(t, models.ChangeTypeUpdateStudent, fmt.Sprintf(`{"studentId":%q,"email":"ELI@school.io"}`, danaID))

	_, err := f.approve(t, req.ID)
	requireCode(t, err, appErrors.ErrConflictingEntity)
	assert.Equal(t, "dana@school.io", f.db.student(danaID).Email)
	assert.Equal(t, models.RequestStatusPending, f.db.request(req.ID).Status)
}

func TestStudentUpdateAlreadyReflectedSkipsAudit(t *testing.T) {
	f := newWorkflowFixture(t)
	seedStudents(f)
	req := f.submitChange(t, models.ChangeTypeUpdateStudent, fmt.Sprintf(`{"studentId":%q,"course":"Physics"}`, danaID))

	result, err := f.approve(t, req.ID)
	require.NoError(t, err)
	assert.True(t, result.AlreadyApplied)
	assert.Equal(t, []string{models.AuditActionRequestSubmit, models.AuditActionRequestApprove}, f.audit.actions())
}

func TestStudentDeleteRemovesRecord(t *testing.T) {
	f := newWorkflowFixture(t)
	seedStudents(f)
	req := f.submitChange(t, models.ChangeTypeDeleteStudent, fmt.Sprintf(`{"studentId":%q}`, danaID))

	_, err := f.approve(t, req.ID)
	require.NoError(t, err)
	assert.Nil(t, f.db.student(danaID))

	entry := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, models.AuditActionStudentDelete, entry.Action)
	assert.Contains(t, string(entry.OldValues), "Dana")

	again := f.submitChange(t, models.ChangeTypeDeleteStudent, fmt.Sprintf(`{"studentId":%q}`, danaID))
	_, err = f.approve(t, again.ID)
	requireCode(t, err, appErrors.ErrTargetNotFound)
}

func TestStudentApplierRejectsOtherPayloads(t *testing.T) {
	applier := NewStudentApplier(memStudents{db: newMemDB()}, nil)

	_, err := applier.Apply(context.Background(), nil, &models.Request{ID: "req-1"}, models.ChangeEmailPayload{Email: "x@y.z"})
	requireCode(t, err, appErrors.ErrInvalidPayload)
}

func TestStudentCreateDefaultsEnrollmentToApprovalDay(t *testing.T) {
	db := newMemDB()
	applier := NewStudentApplier(memStudents{db: db}, nil)
	applier.now = func() time.Time { return time.Date(2024, 3, 5, 17, 30, 0, 0, time.UTC) }

	req := &models.Request{
		ID:          "6f1c2e0a-3b7d-4c1e-9a55-0d2f4b8e7a21",
		Kind:        models.RequestKindChange,
		RequestType: models.ChangeTypeCreateStudent,
		Payload:     []byte(`{"name":"Gus","email":"gus@school.io"}`),
	}
	result, err := applyInTx(t, db, applier, req)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", db.student(result.EntityID).EnrollmentDate.Format(models.DateLayout))
	assert.Contains(t, string(result.After), `"enrollmentDate":"2024-03-05"`)
}
