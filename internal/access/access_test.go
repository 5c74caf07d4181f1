package access

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleSuperAdmin.Can(OverrideRestrictions))
	assert.True(t, RoleSuperAdmin.Can(CrossBranch|RunMaintenance))
	assert.False(t, RoleBranchAdmin.Can(OverrideRestrictions))
	assert.True(t, RoleReceptionist.Can(CreateBooking))
	assert.False(t, RolePharmacist.Can(CreateBooking))
	assert.True(t, RoleDoctor.Can(UpdateStatus))
	assert.False(t, RoleDoctor.Can(CancelBooking))
	assert.False(t, Role("janitor").Can(ViewSlots))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Receptionist ")
	require.NoError(t, err)
	assert.Equal(t, RoleReceptionist, r)

	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestResolveBranch(t *testing.T) {
	own := uuid.New()
	other := uuid.New()

	super := Actor{Role: RoleSuperAdmin}
	got, err := super.ResolveBranch(&other)
	require.NoError(t, err)
	assert.Equal(t, &other, got)

	got, err = super.ResolveBranch(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	desk := Actor{Role: RoleReceptionist, BranchID: &own}
	got, err = desk.ResolveBranch(nil)
	require.NoError(t, err)
	assert.Equal(t, own, *got)

	_, err = desk.ResolveBranch(&other)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = Actor{Role: RoleNurse}.ResolveBranch(nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFromRequest(t *testing.T) {
	id := uuid.New()
	branch := uuid.New()
	r := httptest.NewRequest("GET", "/bookings", nil)
	r.Header.Set(HeaderActorID, id.String())
	r.Header.Set(HeaderActorRole, "branch_admin")
	r.Header.Set(HeaderActorBranch, branch.String())

	a, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, RoleBranchAdmin, a.Role)
	assert.Equal(t, branch, *a.BranchID)
	assert.Equal(t, &id, a.IDPtr())

	r.Header.Set(HeaderActorID, "not-a-uuid")
	_, err = FromRequest(r)
	assert.Error(t, err)

	missing := httptest.NewRequest("GET", "/bookings", nil)
	_, err = FromRequest(missing)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestActorRequire(t *testing.T) {
	assert.NoError(t, Actor{Role: RoleCashier}.Require(CreateBooking))
	assert.ErrorIs(t, Actor{Role: RoleCashier}.Require(CancelBooking), ErrForbidden)
	assert.Nil(t, System.IDPtr())
}
