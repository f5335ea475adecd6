package contract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/contract"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func bootstrap(f fixture) (state.Membership, state.Group) {
	m := f.adminMembership()
	g := f.group(f.admin)
	return m, g
}

func TestBootstrap(t *testing.T) {
	f := newFixture()
	m, g := bootstrap(f)
	requireValid(t, build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(m), state.WrapGroup(g)), nil))

	t.Run("membership only", func(t *testing.T) {
		requireReason(t, contract.ReasonBootstrapOutputs, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(m)), nil)))
	})
	t.Run("member role", func(t *testing.T) {
		bad := m
		bad.Roles = state.Roles{state.MemberRole()}
		requireReason(t, contract.ReasonBootstrapRoles, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(bad), state.WrapGroup(g)), nil)))
	})
	t.Run("pending", func(t *testing.T) {
		bad := m
		bad.Status = state.Pending
		requireReason(t, contract.ReasonBootstrapNotActive, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(bad), state.WrapGroup(g)), nil)))
	})
	t.Run("extra group participant", func(t *testing.T) {
		bad := g
		bad.Participants = []party.Party{f.admin, f.alice}
		requireReason(t, contract.ReasonBootstrapParticipants, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(m), state.WrapGroup(bad)), nil)))
	})
	t.Run("group in other network", func(t *testing.T) {
		bad := g
		bad.NetworkID = "other"
		requireReason(t, contract.ReasonBootstrapGroup, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(m), state.WrapGroup(bad)), nil)))
	})
	t.Run("issued after modified", func(t *testing.T) {
		bad := m
		bad.Issued = f.later()
		requireReason(t, contract.ReasonIssuedAfterModified, contract.Verify(build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(bad), state.WrapGroup(g)), nil)))
	})
}

func TestSignerSets(t *testing.T) {
	f := newFixture()
	m, g := bootstrap(f)
	transaction := build(tx.Bootstrap, keys(f.admin), nil, outs(state.WrapMembership(m), state.WrapGroup(g)), nil)

	mismatch := transaction
	mismatch.Signers = keys(f.admin, f.alice)
	requireReason(t, contract.ReasonSignersMismatch, contract.Verify(mismatch))

	none := build(tx.Bootstrap, nil, nil, outs(state.WrapMembership(m), state.WrapGroup(g)), nil)
	requireReason(t, contract.ReasonNoRequiredSigners, contract.Verify(none))

	unknown := build("Teleport", keys(f.admin), nil, outs(state.WrapMembership(m)), nil)
	requireReason(t, contract.ReasonUnknownCommand, contract.Verify(unknown))
}

func TestRequestMembership(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	requested := f.membership(f.alice, state.Pending, nil, f.alice, f.admin)

	requireValid(t, build(tx.RequestMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(requested)), refs(state.WrapMembership(authority))))

	t.Run("without authority", func(t *testing.T) {
		requireReason(t, contract.ReasonReferenceRequired,
			contract.Verify(build(tx.RequestMembership, keys(f.alice), nil, outs(state.WrapMembership(requested)), nil)))
	})
	t.Run("holder does not sign", func(t *testing.T) {
		requireReason(t, contract.ReasonHolderMustSign,
			contract.Verify(build(tx.RequestMembership, keys(f.admin), nil, outs(state.WrapMembership(requested)), refs(state.WrapMembership(authority)))))
	})
	t.Run("with roles", func(t *testing.T) {
		bad := requested
		bad.Roles = state.Roles{state.MemberRole()}
		requireReason(t, contract.ReasonRolesNotEmpty,
			contract.Verify(build(tx.RequestMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(bad)), refs(state.WrapMembership(authority)))))
	})
	t.Run("active", func(t *testing.T) {
		bad := requested
		bad.Status = state.Active
		requireReason(t, contract.ReasonNotPending,
			contract.Verify(build(tx.RequestMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(bad)), refs(state.WrapMembership(authority)))))
	})
	t.Run("authority cannot activate", func(t *testing.T) {
		weak := authority
		weak.Roles = state.Roles{state.NewRole("groups", state.ModifyGroups)}
		requireReason(t, contract.ReasonMissingPermission,
			contract.Verify(build(tx.RequestMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(requested)), refs(state.WrapMembership(weak)))))
	})
	t.Run("signer is not a participant", func(t *testing.T) {
		requireReason(t, contract.ReasonSignerNotParticipant,
			contract.Verify(build(tx.RequestMembership, keys(f.alice, f.admin, f.admin2), nil, outs(state.WrapMembership(requested)), refs(state.WrapMembership(authority)))))
	})
}

func TestOnboardMembership(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	onboarded := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	onboarded.Issuer = f.admin

	requireValid(t, build(tx.OnboardMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(onboarded)), refs(state.WrapMembership(authority))))

	selfIssued := onboarded
	selfIssued.Issuer = f.alice
	requireReason(t, contract.ReasonOnboardIssuer,
		contract.Verify(build(tx.OnboardMembership, keys(f.alice, f.admin), nil, outs(state.WrapMembership(selfIssued)), refs(state.WrapMembership(authority)))))

	requireReason(t, contract.ReasonHolderMustSign,
		contract.Verify(build(tx.OnboardMembership, keys(f.admin), nil, outs(state.WrapMembership(onboarded)), refs(state.WrapMembership(authority)))))
}

func TestActivateMembership(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	pending := f.membership(f.alice, state.Pending, nil, f.alice, f.admin)
	pending.Modified = f.now.Add(time.Second)
	active := pending.Update(f.later())
	active.Status = state.Active

	in := refs(state.WrapMembership(pending))
	ref := refs(state.WrapMembership(authority))
	requireValid(t, build(tx.ActivateMembership, keys(f.admin), in, outs(state.WrapMembership(active)), ref))

	cases := []struct {
		name    string
		signers []party.Party
		mutate  func(out *state.Membership)
		ref     func(ref *state.Membership)
		reason  string
	}{
		{name: "holder signs", signers: []party.Party{f.admin, f.alice}, reason: contract.ReasonHolderMustNotSign},
		{name: "roles change", mutate: func(out *state.Membership) { out.Roles = state.Roles{state.AdminRole()} }, reason: contract.ReasonRolesChanged},
		{name: "participants change", mutate: func(out *state.Membership) { out.Participants = []party.Party{f.alice, f.admin, f.admin2} }, reason: contract.ReasonParticipantsChanged},
		{name: "still pending", mutate: func(out *state.Membership) { out.Status = state.Pending }, reason: contract.ReasonNotActive},
		{name: "modified goes back", mutate: func(out *state.Membership) { out.Modified = f.now }, reason: contract.ReasonModifiedDecreased},
		{name: "network changes", mutate: func(out *state.Membership) { out.NetworkID = "other" }, reason: contract.ReasonNetworkIDChanged},
		{name: "issuer changes", mutate: func(out *state.Membership) { out.Issuer = f.admin }, reason: contract.ReasonIssuerChanged},
		{name: "linear id changes", mutate: func(out *state.Membership) { out.LinearID = state.NewLinearID() }, reason: contract.ReasonLinearIDChanged},
		{name: "suspended authority", ref: func(ref *state.Membership) { ref.Status = state.Suspended }, reason: contract.ReasonReferenceNotActive},
		{name: "authority in other network", ref: func(ref *state.Membership) { ref.NetworkID = "other" }, reason: contract.ReasonReferenceWrongNet},
		{name: "authority lacks permission", ref: func(ref *state.Membership) { ref.Roles = state.Roles{state.NewRole("s", state.SuspendMembership)} }, reason: contract.ReasonMissingPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := active.Update(active.Modified)
			if tc.mutate != nil {
				tc.mutate(&out)
			}
			authority := f.adminMembership()
			if tc.ref != nil {
				tc.ref(&authority)
			}
			signers := []party.Party{f.admin}
			if tc.signers != nil {
				signers = tc.signers
			}
			requireReason(t, tc.reason, contract.Verify(build(tx.ActivateMembership, keys(signers...), in, outs(state.WrapMembership(out)), refs(state.WrapMembership(authority)))))
		})
	}

	t.Run("already active", func(t *testing.T) {
		requireReason(t, contract.ReasonAlreadyActive,
			contract.Verify(build(tx.ActivateMembership, keys(f.admin), refs(state.WrapMembership(active)), outs(state.WrapMembership(active)), ref)))
	})
	t.Run("initiator not a participant", func(t *testing.T) {
		outsider := f.membership(f.admin2, state.Active, state.Roles{state.AdminRole()}, f.admin2)
		requireReason(t, contract.ReasonSignerNotParticipant,
			contract.Verify(build(tx.ActivateMembership, keys(f.admin2), in, outs(state.WrapMembership(active)), refs(state.WrapMembership(outsider)))))
	})
	t.Run("two references", func(t *testing.T) {
		requireReason(t, contract.ReasonTooManyReferences,
			contract.Verify(build(tx.ActivateMembership, keys(f.admin), in, outs(state.WrapMembership(active)), refs(state.WrapMembership(authority), state.WrapMembership(authority)))))
	})
	t.Run("group as reference", func(t *testing.T) {
		requireReason(t, contract.ReasonReferenceNotMember,
			contract.Verify(build(tx.ActivateMembership, keys(f.admin), in, outs(state.WrapMembership(active)), refs(state.WrapGroup(f.group(f.admin))))))
	})
	t.Run("wrong output type", func(t *testing.T) {
		requireReason(t, contract.ReasonWrongStateType,
			contract.Verify(build(tx.ActivateMembership, keys(f.admin), in, outs(state.TransactionState{Contract: state.MembershipContract, Group: &state.Group{}}), ref)))
	})
	t.Run("rejection is deterministic", func(t *testing.T) {
		bad := build(tx.ActivateMembership, keys(f.admin, f.alice), in, outs(state.WrapMembership(active)), ref)
		first := contract.Verify(bad)
		second := contract.Verify(bad)
		require.Equal(t, first.Error(), second.Error())
	})
}

func TestSuspendAndRevoke(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	member := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	suspended := member.Update(f.later())
	suspended.Status = state.Suspended
	ref := refs(state.WrapMembership(authority))

	requireValid(t, build(tx.SuspendMembership, keys(f.admin), refs(state.WrapMembership(member)), outs(state.WrapMembership(suspended)), ref))
	requireReason(t, contract.ReasonAlreadySuspended,
		contract.Verify(build(tx.SuspendMembership, keys(f.admin), refs(state.WrapMembership(suspended)), outs(state.WrapMembership(suspended)), ref)))
	requireReason(t, contract.ReasonHolderMustNotSign,
		contract.Verify(build(tx.SuspendMembership, keys(f.admin, f.alice), refs(state.WrapMembership(member)), outs(state.WrapMembership(suspended)), ref)))

	requireValid(t, build(tx.RevokeMembership, keys(f.admin), refs(state.WrapMembership(member)), nil, ref))
	requireValid(t, build(tx.RevokeMembership, keys(f.admin), refs(state.WrapMembership(suspended)), nil, ref))
	requireReason(t, contract.ReasonNoOutputExpect,
		contract.Verify(build(tx.RevokeMembership, keys(f.admin), refs(state.WrapMembership(member)), outs(state.WrapMembership(suspended)), ref)))
	requireReason(t, contract.ReasonHolderMustNotSign,
		contract.Verify(build(tx.RevokeMembership, keys(f.admin, f.alice), refs(state.WrapMembership(member)), nil, ref)))

	// the initiator can not revoke itself
	requireReason(t, contract.ReasonRevokeSelf,
		contract.Verify(build(tx.RevokeMembership, keys(f.admin), refs(state.WrapMembership(authority)), nil, ref)))

	revoker := f.membership(f.admin2, state.Active, state.Roles{state.NewRole("suspender", state.SuspendMembership)}, f.admin2)
	member.Participants = append(member.Participants, f.admin2)
	requireReason(t, contract.ReasonMissingPermission,
		contract.Verify(build(tx.RevokeMembership, keys(f.admin2), refs(state.WrapMembership(member)), nil, refs(state.WrapMembership(revoker)))))
}

func TestModifyRoles(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	member := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	promoted := member.Update(f.later())
	promoted.Roles = state.Roles{state.AdminRole()}
	ref := refs(state.WrapMembership(authority))
	in := refs(state.WrapMembership(member))

	requireValid(t, build(tx.ModifyRoles, keys(f.admin), in, outs(state.WrapMembership(promoted)), ref))
	requireReason(t, contract.ReasonHolderSignerIff,
		contract.Verify(build(tx.ModifyRoles, keys(f.admin, f.alice), in, outs(state.WrapMembership(promoted)), ref)))
	requireReason(t, contract.ReasonRolesUnchanged,
		contract.Verify(build(tx.ModifyRoles, keys(f.admin), in, outs(state.WrapMembership(member.Update(f.later()))), ref)))

	pending := f.membership(f.alice, state.Pending, nil, f.alice, f.admin)
	pendingPromoted := pending.Update(f.later())
	pendingPromoted.Roles = state.Roles{state.AdminRole()}
	requireReason(t, contract.ReasonStatusNotModifiable,
		contract.Verify(build(tx.ModifyRoles, keys(f.admin), refs(state.WrapMembership(pending)), outs(state.WrapMembership(pendingPromoted)), ref)))

	// modifying your own roles requires your own signature
	self := authority.Update(f.later())
	self.Roles = state.Roles{state.AdminRole(), state.MemberRole()}
	requireValid(t, build(tx.ModifyRoles, keys(f.admin), refs(state.WrapMembership(authority)), outs(state.WrapMembership(self)), ref))

	suspended := member.Update(f.later())
	suspended.Status = state.Suspended
	changed := suspended.Update(f.later())
	changed.Roles = state.Roles{state.MemberRole()}
	requireValid(t, build(tx.ModifyRoles, keys(f.admin), refs(state.WrapMembership(suspended)), outs(state.WrapMembership(changed)), ref))
}

func TestModifyBusinessIdentity(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	member := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	member.Identity.Business = state.BusinessIdentity{"lei": "1"}
	changed := member.Update(f.later())
	changed.Identity.Business["lei"] = "2"
	ref := refs(state.WrapMembership(authority))
	in := refs(state.WrapMembership(member))

	requireValid(t, build(tx.ModifyBusinessID, keys(f.admin), in, outs(state.WrapMembership(changed)), ref))
	requireReason(t, contract.ReasonBusinessIDUnchanged,
		contract.Verify(build(tx.ModifyBusinessID, keys(f.admin), in, outs(state.WrapMembership(member.Update(f.later()))), ref)))

	roles := changed.Update(f.later())
	roles.Roles = state.Roles{state.MemberRole()}
	requireReason(t, contract.ReasonRolesChanged,
		contract.Verify(build(tx.ModifyBusinessID, keys(f.admin), in, outs(state.WrapMembership(roles)), ref)))
	requireReason(t, contract.ReasonHolderSignerIff,
		contract.Verify(build(tx.ModifyBusinessID, keys(f.admin, f.alice), in, outs(state.WrapMembership(changed)), ref)))
}

func TestModifyNetworkIdentity(t *testing.T) {
	f := newFixture()
	member := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	rotated := party.New(f.alice.Name, f.admin2.ID)
	next := member.Update(f.later())
	next.Identity.Party = rotated
	next.Participants = party.Replace(next.Participants, f.alice.ID, rotated)
	in := refs(state.WrapMembership(member))

	requireValid(t, build(tx.ModifyNetworkIdentity, keys(rotated, f.admin), in, outs(state.WrapMembership(next)), nil))

	renamed := next.Update(f.later())
	renamed.Identity.Party = party.New("mallory", f.admin2.ID)
	renamed.Participants = party.Replace(renamed.Participants, f.admin2.ID, renamed.Identity.Party)
	requireReason(t, contract.ReasonDisplayNameChanged,
		contract.Verify(build(tx.ModifyNetworkIdentity, keys(rotated), in, outs(state.WrapMembership(renamed)), nil)))

	requireReason(t, contract.ReasonNetworkIdentityKept,
		contract.Verify(build(tx.ModifyNetworkIdentity, keys(f.alice), in, outs(state.WrapMembership(member.Update(f.later()))), nil)))

	// the old key is no longer a participant and can not sign
	requireReason(t, contract.ReasonSignerNotParticipant,
		contract.Verify(build(tx.ModifyNetworkIdentity, keys(f.alice, rotated), in, outs(state.WrapMembership(next)), nil)))
}

func TestModifyParticipants(t *testing.T) {
	f := newFixture()
	authority := f.adminMembership()
	member := f.membership(f.alice, state.Active, nil, f.alice, f.admin)
	next := member.Update(f.later())
	next.Participants = append(next.Participants, f.admin2)
	in := refs(state.WrapMembership(member))

	requireValid(t, build(tx.ModifyParticipants, keys(f.admin), in, outs(state.WrapMembership(next)), refs(state.WrapMembership(authority))))

	noGroups := authority
	noGroups.Roles = state.Roles{state.NewRole("ops", state.ActivateMembership, state.SuspendMembership)}
	requireReason(t, contract.ReasonMissingPermission,
		contract.Verify(build(tx.ModifyParticipants, keys(f.admin), in, outs(state.WrapMembership(next)), refs(state.WrapMembership(noGroups)))))

	dup := next.Update(f.later())
	dup.Participants = append(dup.Participants, f.alice)
	requireReason(t, contract.ReasonDuplicateParticipant,
		contract.Verify(build(tx.ModifyParticipants, keys(f.admin), in, outs(state.WrapMembership(dup)), refs(state.WrapMembership(authority)))))
}
