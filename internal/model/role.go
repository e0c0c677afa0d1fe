package model

// AckCategory is the acknowledgment category a staff role maps to.
// Acknowledging as one category never satisfies another.
type AckCategory string

const (
	AckCategoryManager     AckCategory = "manager"
	AckCategoryAnesthetist AckCategory = "anesthetist"
	AckCategoryNurse       AckCategory = "nurse"
)

// Role is a staff job title as known to the staff directory
type Role string

const (
	RoleTheatreManager     Role = "theatre_manager"
	RoleDutyManager        Role = "duty_manager"
	RoleAnesthetist        Role = "anesthetist"
	RoleScrubNurse         Role = "scrub_nurse"
	RoleRecoveryNurse      Role = "recovery_nurse"
	RoleChargeNurse        Role = "charge_nurse"
	RoleAdministrator      Role = "administrator"
	RoleClinicalDirector   Role = "clinical_director"
	RoleSurgeon            Role = "surgeon"
)

// ackCategories maps job titles onto acknowledgment categories. Kept as a
// table rather than inline conditionals so new roles slot in without touching
// lifecycle code. Roles absent from the table carry no acknowledgment duty.
var ackCategories = map[Role]AckCategory{
	RoleTheatreManager: AckCategoryManager,
	RoleDutyManager:    AckCategoryManager,
	RoleAnesthetist:    AckCategoryAnesthetist,
	RoleScrubNurse:     AckCategoryNurse,
	RoleRecoveryNurse:  AckCategoryNurse,
	RoleChargeNurse:    AckCategoryNurse,
}

// AckCategoryFor returns the acknowledgment category for a role, if any
func AckCategoryFor(role Role) (AckCategory, bool) {
	category, ok := ackCategories[role]
	return category, ok
}

// StaffMember is one active member of staff returned by the directory
type StaffMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
