package state_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/state"
)

func TestRolePermissions(t *testing.T) {
	admin := state.AdminRole()
	for _, p := range state.AllPermissions {
		require.True(t, admin.Has(p), p)
	}
	require.Empty(t, state.MemberRole().Permissions)

	roles := state.Roles{state.NewRole("suspender", state.SuspendMembership)}
	require.True(t, roles.CanModifyMembership())
	require.False(t, roles.HasPermission(state.ModifyGroups))
	require.False(t, state.Roles{state.NewRole("groups", state.ModifyGroups)}.CanModifyMembership())
	require.True(t, roles.HasAny(state.ModifyRoles, state.SuspendMembership))
	require.False(t, roles.HasAll(state.ModifyRoles, state.SuspendMembership))
}

func TestRoleEqualityIgnoresOrder(t *testing.T) {
	a := state.NewRole("ops", state.ModifyGroups, state.SuspendMembership, state.ModifyGroups)
	b := state.Role{Name: "ops", Permissions: []state.Permission{state.SuspendMembership, state.ModifyGroups}}
	require.True(t, a.Equal(b))
	require.Len(t, a.Permissions, 2)

	require.True(t, state.Roles{a, state.AdminRole()}.Equal(state.Roles{state.AdminRole(), b}))
	require.False(t, state.Roles{a}.Equal(state.Roles{state.AdminRole()}))
	require.False(t, state.Roles{a}.Equal(nil))
}

func TestCustomRoleAuthorizesByPermission(t *testing.T) {
	// a role name the system has never heard of still authorizes by its
	// permission set
	custom := state.Roles{state.NewRole("Auditor", state.RevokeMembership)}
	require.True(t, custom.HasPermission(state.RevokeMembership))
	require.Equal(t, []state.Permission{state.RevokeMembership}, custom.Permissions())
}

func TestBusinessIdentityEqual(t *testing.T) {
	require.True(t, state.BusinessIdentity(nil).Equal(state.BusinessIdentity{}))
	require.True(t, state.BusinessIdentity{"lei": "1"}.Equal(state.BusinessIdentity{"lei": "1"}))
	require.False(t, state.BusinessIdentity{"lei": "1"}.Equal(state.BusinessIdentity{"lei": "2"}))
	require.False(t, state.BusinessIdentity{"lei": "1"}.Equal(state.BusinessIdentity{"bic": "1"}))
}

func TestTransactionStateEnvelope(t *testing.T) {
	now := time.Now().UTC()
	m := state.Membership{LinearID: state.NewLinearID(), NetworkID: "n", Status: state.Active, Issued: now, Modified: now}
	s := state.WrapMembership(m)
	require.NoError(t, s.Validate())
	require.Equal(t, state.KindMembership, s.Kind())
	require.Equal(t, m.LinearID, s.LinearID())
	require.Equal(t, state.MembershipContract, s.Contract)

	require.Error(t, state.TransactionState{}.Validate())
	both := s
	both.Group = &state.Group{}
	require.Error(t, both.Validate())
}

func TestUpdateDoesNotAlias(t *testing.T) {
	now := time.Now().UTC()
	m := state.Membership{
		Roles:    state.Roles{state.MemberRole()},
		Identity: state.Identity{Business: state.BusinessIdentity{"lei": "1"}},
	}
	next := m.Update(now)
	next.Roles[0] = state.AdminRole()
	next.Identity.Business["lei"] = "2"
	require.Equal(t, state.MemberRoleName, m.Roles[0].Name)
	require.Equal(t, "1", m.Identity.Business["lei"])
	require.Equal(t, now, next.Modified)
}

func TestTxIDText(t *testing.T) {
	var id state.TxID
	id[0] = 0xab
	ref := state.StateRef{TxID: id, Index: 1}
	bz, err := json.Marshal(ref)
	require.NoError(t, err)

	var decoded state.StateRef
	require.NoError(t, json.Unmarshal(bz, &decoded))
	require.Equal(t, ref, decoded)
	require.False(t, decoded.TxID.IsZero())
}

func TestChangeRequestProposal(t *testing.T) {
	roles := state.Roles{state.AdminRole()}
	r := state.ChangeRequest{ProposedRoles: &roles}
	require.Equal(t, []state.Permission{state.ModifyRoles}, r.RequiredPermissions())

	r.ProposedBusinessIdentity = state.BusinessIdentity{"lei": "1"}
	require.Equal(t, []state.Permission{state.ModifyRoles, state.ModifyBusinessIdentity}, r.RequiredPermissions())

	other := r
	otherRoles := state.Roles{state.MemberRole()}
	other.ProposedRoles = &otherRoles
	require.False(t, r.SameProposal(other))
	require.True(t, r.SameProposal(r))
}
