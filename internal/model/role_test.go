package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAckCategoryFor(t *testing.T) {
	cases := []struct {
		role     Role
		category AckCategory
		ok       bool
	}{
		{RoleTheatreManager, AckCategoryManager, true},
		{RoleDutyManager, AckCategoryManager, true},
		{RoleAnesthetist, AckCategoryAnesthetist, true},
		{RoleScrubNurse, AckCategoryNurse, true},
		{RoleRecoveryNurse, AckCategoryNurse, true},
		{RoleChargeNurse, AckCategoryNurse, true},
		{RoleSurgeon, "", false},
		{RoleAdministrator, "", false},
		{Role("porter"), "", false},
	}

	for _, tc := range cases {
		category, ok := AckCategoryFor(tc.role)
		assert.Equal(t, tc.ok, ok, "role %s", tc.role)
		assert.Equal(t, tc.category, category, "role %s", tc.role)
	}
}

func TestAlertAcknowledged(t *testing.T) {
	alert := &Alert{NurseAck: true}
	assert.True(t, alert.Acknowledged(AckCategoryNurse))
	assert.False(t, alert.Acknowledged(AckCategoryManager))
	assert.False(t, alert.Acknowledged(AckCategoryAnesthetist))
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &NotFoundError{Entity: "alert", ID: "x"}
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))

	wrapped := &DependencyError{Dependency: "audit", Err: errors.New("down")}
	assert.True(t, IsDependency(wrapped))
	assert.ErrorContains(t, wrapped, "audit")

	assert.True(t, IsInvalidState(&InvalidStateError{Entity: "alert", ID: "x", State: "RESOLVED", Op: "resolve"}))
	assert.True(t, IsPermission(&PermissionError{Actor: "u", Role: "surgeon", Op: "acknowledge"}))
}

func TestAlertStatusIsTerminal(t *testing.T) {
	assert.False(t, AlertStatusActive.IsTerminal())
	assert.True(t, AlertStatusResolved.IsTerminal())
	assert.True(t, AlertStatusCancelled.IsTerminal())
}
