package clinical

import (
	"context"
	"sync"

	"github.com/t77yq/theatre-ops/internal/model"
)

// MemoryCaseDirectory is an in-memory CaseDirectory used for local wiring
// and tests; production deployments point at the hospital record system.
type MemoryCaseDirectory struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

// NewMemoryCaseDirectory creates an empty in-memory case directory
func NewMemoryCaseDirectory() *MemoryCaseDirectory {
	return &MemoryCaseDirectory{cases: make(map[string]*Case)}
}

// Add registers a case
func (d *MemoryCaseDirectory) Add(c *Case) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cases[c.ID] = c
}

// Lookup implements CaseDirectory.Lookup
func (d *MemoryCaseDirectory) Lookup(ctx context.Context, caseID string) (*Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cases[caseID]
	if !ok {
		return nil, &model.NotFoundError{Entity: "case", ID: caseID}
	}
	return c, nil
}

// MemoryStaffDirectory is an in-memory StaffDirectory
type MemoryStaffDirectory struct {
	mu    sync.RWMutex
	staff []model.StaffMember
}

// NewMemoryStaffDirectory creates a staff directory with the given members
func NewMemoryStaffDirectory(staff ...model.StaffMember) *MemoryStaffDirectory {
	return &MemoryStaffDirectory{staff: staff}
}

// Add registers a staff member
func (d *MemoryStaffDirectory) Add(m model.StaffMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staff = append(d.staff, m)
}

// ActiveStaff implements StaffDirectory.ActiveStaff
func (d *MemoryStaffDirectory) ActiveStaff(ctx context.Context, role model.Role) ([]model.StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.StaffMember
	for _, m := range d.staff {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out, nil
}

// MemoryBloodBank records blood requests in memory
type MemoryBloodBank struct {
	mu       sync.Mutex
	requests []*BloodRequest

	// FailNext makes the next CreateRequest fail, for testing the
	// fire-and-forget path.
	FailNext error
}

// NewMemoryBloodBank creates an empty in-memory blood bank
func NewMemoryBloodBank() *MemoryBloodBank {
	return &MemoryBloodBank{}
}

// CreateRequest implements BloodBank.CreateRequest
func (b *MemoryBloodBank) CreateRequest(ctx context.Context, req *BloodRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return err
	}
	b.requests = append(b.requests, req)
	return nil
}

// Requests returns a copy of the recorded requests
func (b *MemoryBloodBank) Requests() []*BloodRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*BloodRequest, len(b.requests))
	copy(out, b.requests)
	return out
}
