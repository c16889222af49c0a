package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadRegistration(t *testing.T) {
	payload, err := DecodePayload(RequestKindRegistration, "ignored", json.RawMessage(`{"username":"  Alice ","email":"ALICE@Example.com","password":"secret1"}`))
	require.NoError(t, err)

	reg, ok := payload.(RegistrationPayload)
	require.True(t, ok)
	assert.Equal(t, "alice", reg.Username)
	assert.Equal(t, "alice@example.com", reg.Email)
	assert.Equal(t, RequestKindRegistration, reg.Kind())
}

func TestDecodePayloadChangeVariants(t *testing.T) {
	cases := []struct {
		name        string
		requestType string
		raw         string
		fields      map[string]interface{}
	}{
		{name: "email", requestType: ChangeTypeUpdateEmail, raw: `{"email":"A@B.com"}`, fields: map[string]interface{}{"email": "a@b.com"}},
		{name: "profile", requestType: ChangeTypeUpdateProfile, raw: `{"fullName":" Bob "}`, fields: map[string]interface{}{"fullName": "Bob"}},
		{name: "username", requestType: ChangeTypeUpdateUsername, raw: `{"username":"Bobby"}`, fields: map[string]interface{}{"username": "bobby"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := DecodePayload(RequestKindChange, tc.requestType, json.RawMessage(tc.raw))
			require.NoError(t, err)
			change, ok := payload.(ChangePayload)
			require.True(t, ok)
			assert.Equal(t, tc.fields, change.Fields())
		})
	}
}

func TestDecodePayloadRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name        string
		kind        RequestKind
		requestType string
		raw         string
	}{
		{name: "empty", kind: RequestKindRegistration, raw: ``},
		{name: "malformed json", kind: RequestKindRegistration, raw: `{"username":`},
		{name: "short username", kind: RequestKindRegistration, raw: `{"username":"al"}`},
		{name: "username charset", kind: RequestKindRegistration, raw: `{"username":"al ice"}`},
		{name: "unknown field", kind: RequestKindChange, requestType: ChangeTypeUpdateEmail, raw: `{"email":"a@b.com","role":"ADMIN"}`},
		{name: "bad email", kind: RequestKindChange, requestType: ChangeTypeUpdateEmail, raw: `{"email":"nope"}`},
		{name: "empty profile", kind: RequestKindChange, requestType: ChangeTypeUpdateProfile, raw: `{}`},
		{name: "unknown kind", kind: RequestKind("other"), raw: `{}`},
		{name: "student without email", kind: RequestKindChange, requestType: ChangeTypeCreateStudent, raw: `{"name":"Dana"}`},
		{name: "student bad date", kind: RequestKindChange, requestType: ChangeTypeCreateStudent, raw: `{"name":"Dana","email":"d@x.io","enrollmentDate":"05/01/2024"}`},
		{name: "student update without target", kind: RequestKindChange, requestType: ChangeTypeUpdateStudent, raw: `{"name":"Dana"}`},
		{name: "student update without fields", kind: RequestKindChange, requestType: ChangeTypeUpdateStudent, raw: `{"studentId":"7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01"}`},
		{name: "student update blank name", kind: RequestKindChange, requestType: ChangeTypeUpdateStudent, raw: `{"studentId":"7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01","name":"  "}`},
		{name: "student delete bad id", kind: RequestKindChange, requestType: ChangeTypeDeleteStudent, raw: `{"studentId":"42"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePayload(tc.kind, tc.requestType, json.RawMessage(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodePayloadStudentVariants(t *testing.T) {
	payload, err := DecodePayload(RequestKindChange, ChangeTypeCreateStudent, json.RawMessage(`{"name":" Dana ","email":"Dana@School.io","course":"Physics","enrollmentDate":"2024-09-01"}`))
	require.NoError(t, err)
	created, ok := payload.(CreateStudentPayload)
	require.True(t, ok)
	assert.Equal(t, "Dana", created.Name)
	assert.Equal(t, "dana@school.io", created.Email)
	assert.Empty(t, created.TargetStudent())

	payload, err = DecodePayload(RequestKindChange, ChangeTypeUpdateStudent, json.RawMessage(`{"studentId":"7D0E5B7C-8F43-4A55-9D0C-2A8F4D1C9E01","email":" NEW@School.io ","course":"Chemistry"}`))
	require.NoError(t, err)
	updated, ok := payload.(StudentPayload)
	require.True(t, ok)
	assert.Equal(t, "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01", updated.TargetStudent())
	assert.Equal(t, map[string]interface{}{"email": "new@school.io", "course": "Chemistry"}, updated.(UpdateStudentPayload).Patch())
	_, isUserChange := payload.(ChangePayload)
	assert.False(t, isUserChange)

	payload, err = DecodePayload(RequestKindChange, ChangeTypeDeleteStudent, json.RawMessage(`{"studentId":"7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01"}`))
	require.NoError(t, err)
	assert.Equal(t, "7d0e5b7c-8f43-4a55-9d0c-2a8f4d1c9e01", payload.(StudentPayload).TargetStudent())
}

func TestDecodePayloadUnknownRequestType(t *testing.T) {
	_, err := DecodePayload(RequestKindChange, "update-role", json.RawMessage(`{"role":"ADMIN"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRequestType))
}

func TestDecisionOutcomeStatus(t *testing.T) {
	status, ok := OutcomeApprove.Status()
	assert.True(t, ok)
	assert.Equal(t, RequestStatusApproved, status)

	status, ok = OutcomeReject.Status()
	assert.True(t, ok)
	assert.True(t, status.Terminal())

	_, ok = DecisionOutcome("maybe").Status()
	assert.False(t, ok)
	assert.False(t, RequestStatusPending.Terminal())
}

func TestRequestPublicRedactsCredentials(t *testing.T) {
	req := Request{
		ID:      "req-1",
		Kind:    RequestKindRegistration,
		Payload: json.RawMessage(`{"username":"alice","passwordHash":"$2a$10$abc"}`),
	}
	public := req.Public()
	assert.JSONEq(t, `{"username":"alice"}`, string(public.Payload))
	assert.Contains(t, string(req.Payload), "passwordHash")

	change := Request{Kind: RequestKindChange, Payload: json.RawMessage(`{"email":"a@b.com"}`)}
	assert.JSONEq(t, `{"email":"a@b.com"}`, string(change.Public().Payload))
}
