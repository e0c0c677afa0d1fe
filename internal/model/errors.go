package model

import (
	"errors"
	"fmt"
)

// ValidationError is returned when request input is malformed or incomplete.
// It is rejected before any write occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when a referenced entity does not exist
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// InvalidStateError is returned when an operation is illegal for the
// entity's current lifecycle state, e.g. resolving an already-terminal alert
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

// PermissionError is returned when the actor's role cannot perform the action
type PermissionError struct {
	Actor string
	Role  string
	Op    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Op)
}

// DependencyError wraps a failed collaborator call. Side-effect dependency
// failures are logged and do not abort the primary operation.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidState reports whether err is an InvalidStateError
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsPermission reports whether err is a PermissionError
func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

// IsDependency reports whether err is a DependencyError
func IsDependency(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}
