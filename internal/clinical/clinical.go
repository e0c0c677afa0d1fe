package clinical

import (
	"context"
	"time"

	"github.com/t77yq/theatre-ops/internal/model"
)

// Case holds the patient display fields and scheduling metadata the alert
// engine needs from the surgical case record
type Case struct {
	ID          string     `json:"id"`
	PatientName string     `json:"patient_name"`
	Procedure   string     `json:"procedure"`
	Theatre     string     `json:"theatre"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// CaseDirectory looks up surgical case records. The record system itself is
// external; only this surface is consumed here.
type CaseDirectory interface {
	// Lookup returns the case, or a NotFoundError if absent
	Lookup(ctx context.Context, caseID string) (*Case, error)
}

// StaffDirectory resolves role names to currently active staff
type StaffDirectory interface {
	// ActiveStaff returns the active staff holding the given role
	ActiveStaff(ctx context.Context, role model.Role) ([]model.StaffMember, error)
}

// BloodRequest is the derived record created when an alert declares a
// transfusion need
type BloodRequest struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	Product     string    `json:"product"`
	Units       int       `json:"units"`
	Urgency     string    `json:"urgency"`
	RequestedAt time.Time `json:"requested_at"`
}

// UrgencyEmergency is the urgency applied to alert-derived blood requests
const UrgencyEmergency = "EMERGENCY"

// BloodBank creates derived blood-product requests. Failures here never roll
// back alert creation.
type BloodBank interface {
	CreateRequest(ctx context.Context, req *BloodRequest) error
}
