// Package access maps staff and patient roles to what they may do with
// bookings.
package access

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleBranchAdmin  Role = "branch_admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleCashier      Role = "cashier"
	RolePharmacist   Role = "pharmacist"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

type Capability uint16

const (
	ViewSlots Capability = 1 << iota
	CreateBooking
	CancelBooking
	RescheduleBooking
	UpdateStatus
	OverrideRestrictions
	CrossBranch
	ViewAudit
	RunMaintenance
	ViewBookings
)

// capabilities is the whole authorization table; it is not modified after init.
var capabilities = map[Role]Capability{
	RoleSuperAdmin: ViewSlots | CreateBooking | CancelBooking | RescheduleBooking | UpdateStatus |
		OverrideRestrictions | CrossBranch | ViewAudit | RunMaintenance | ViewBookings,
	RoleBranchAdmin:  ViewSlots | CreateBooking | CancelBooking | RescheduleBooking | UpdateStatus | ViewAudit | ViewBookings,
	RoleDoctor:       ViewSlots | UpdateStatus | ViewBookings,
	RoleNurse:        ViewSlots | UpdateStatus | ViewBookings,
	RoleCashier:      ViewSlots | CreateBooking | ViewBookings,
	RolePharmacist:   ViewSlots,
	RoleReceptionist: ViewSlots | CreateBooking | CancelBooking | RescheduleBooking | UpdateStatus | ViewBookings,
	RolePatient:      ViewSlots | CreateBooking | CancelBooking | RescheduleBooking,
}

var (
	ErrUnknownRole = errors.New("unknown role")
	ErrForbidden   = errors.New("forbidden")
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) Can(c Capability) bool {
	return capabilities[r]&c == c
}

// Actor is the caller as established by the upstream auth layer.
type Actor struct {
	ID       uuid.UUID
	Role     Role
	BranchID *uuid.UUID
}

// System is the actor for scheduled and webhook-driven changes.
var System = Actor{Role: RoleSuperAdmin}

func (a Actor) Can(c Capability) bool { return a.Role.Can(c) }

// IDPtr returns nil for the system actor.
func (a Actor) IDPtr() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// Require returns ErrForbidden unless the actor holds c.
func (a Actor) Require(c Capability) error {
	if !a.Can(c) {
		return fmt.Errorf("%w: role %s", ErrForbidden, a.Role)
	}
	return nil
}

// ResolveBranch picks the branch a request operates on. Cross-branch roles may
// name any branch or none; everyone else is pinned to their own.
func (a Actor) ResolveBranch(requested *uuid.UUID) (*uuid.UUID, error) {
	if a.Can(CrossBranch) {
		return requested, nil
	}
	if a.BranchID == nil {
		if a.Role == RolePatient {
			return requested, nil
		}
		return nil, fmt.Errorf("%w: no branch assigned to %s", ErrForbidden, a.Role)
	}
	if requested != nil && *requested != *a.BranchID {
		return nil, fmt.Errorf("%w: branch %s is outside the caller's branch", ErrForbidden, requested)
	}
	return a.BranchID, nil
}

const (
	HeaderActorID     = "X-Actor-ID"
	HeaderActorRole   = "X-Actor-Role"
	HeaderActorBranch = "X-Actor-Branch"
)

// FromRequest reads the actor headers set by the gateway in front of the API.
func FromRequest(r *http.Request) (Actor, error) {
	role, err := ParseRole(r.Header.Get(HeaderActorRole))
	if err != nil {
		return Actor{}, err
	}
	a := Actor{Role: role}
	if v := r.Header.Get(HeaderActorID); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return Actor{}, fmt.Errorf("invalid %s: %w", HeaderActorID, err)
		}
		a.ID = id
	}
	if v := r.Header.Get(HeaderActorBranch); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return Actor{}, fmt.Errorf("invalid %s: %w", HeaderActorBranch, err)
		}
		a.BranchID = &id
	}
	return a, nil
}
