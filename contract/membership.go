package contract

import (
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func membershipHeader(m *state.Membership) *header {
	if m == nil {
		return nil
	}
	return &header{linearID: m.LinearID, networkID: m.NetworkID, issuer: m.Issuer, issued: m.Issued, modified: m.Modified}
}

func verifyBootstrap(t tx.Transaction) error {
	if len(t.Inputs) != 0 {
		return reject(ReasonNoInputExpected)
	}
	if len(t.References) != 0 {
		return reject(ReasonBootstrapReferences)
	}
	if len(t.Outputs) != 2 {
		return reject(ReasonBootstrapOutputs)
	}
	var m *state.Membership
	var g *state.Group
	for _, out := range t.Outputs {
		switch {
		case out.Membership != nil && out.Contract == state.MembershipContract:
			m = out.Membership
		case out.Group != nil && out.Contract == state.GroupContract:
			g = out.Group
		}
	}
	if m == nil || g == nil {
		return reject(ReasonBootstrapOutputs)
	}
	if err := checkHeaders(nil, membershipHeader(m)); err != nil {
		return err
	}
	if err := checkHeaders(nil, groupHeader(g)); err != nil {
		return err
	}
	holder := m.Holder()
	only := []party.Party{holder}
	switch {
	case !m.IsActive():
		return reject(ReasonBootstrapNotActive)
	case !m.Roles.Equal(state.Roles{state.AdminRole()}):
		return reject(ReasonBootstrapRoles)
	case m.Issuer.ID != holder.ID:
		return reject(ReasonBootstrapIssuer)
	case !party.EqualSets(m.Participants, only):
		return reject(ReasonBootstrapParticipants)
	case g.Issuer.ID != m.Issuer.ID || g.NetworkID != m.NetworkID:
		return reject(ReasonBootstrapGroup)
	case !party.EqualSets(g.Participants, only):
		return reject(ReasonBootstrapParticipants)
	case len(t.Command.RequiredSigners) != 1 || t.Command.RequiredSigners[0] != holder.ID:
		return reject(ReasonBootstrapSigners)
	}
	return nil
}

func verifyMembership(t tx.Transaction) error {
	in, out, err := single(t, state.MembershipContract, state.KindMembership)
	if err != nil {
		return err
	}
	var input, output *state.Membership
	if in != nil {
		input = in.Membership
	}
	if out != nil {
		output = out.Membership
	}
	if err := checkHeaders(membershipHeader(input), membershipHeader(output)); err != nil {
		return err
	}

	subject := output
	if subject == nil {
		subject = input
	}
	if output != nil && output.Holder().ID == "" {
		return reject(ReasonEmptyHolder)
	}
	ref, err := reference(t, subject.NetworkID)
	if err != nil {
		return err
	}
	signers := t.Command.RequiredSigners
	if err := signersParticipate(signers, subject.Participants); err != nil {
		return err
	}
	holderSigns := party.ContainsKey(signers, subject.Holder().ID)
	auth := func(perm state.Permission) error {
		return authorize(ref, subject.NetworkID, subject.Participants, signers, perm)
	}

	switch t.Command.Tag {
	case tx.RequestMembership:
		if err := issuance(input, output); err != nil {
			return err
		}
		switch {
		case !output.IsPending():
			return reject(ReasonNotPending)
		case len(output.Roles) != 0:
			return reject(ReasonRolesNotEmpty)
		case output.Issuer.ID != output.Holder().ID:
			return reject(ReasonSelfIssued)
		case !holderSigns:
			return reject(ReasonHolderMustSign)
		}
		return auth(state.ActivateMembership)

	case tx.OnboardMembership:
		if err := issuance(input, output); err != nil {
			return err
		}
		switch {
		case !output.IsActive():
			return reject(ReasonNotActive)
		case len(output.Roles) != 0:
			return reject(ReasonRolesNotEmpty)
		case !holderSigns:
			return reject(ReasonHolderMustSign)
		}
		if err := auth(state.ActivateMembership); err != nil {
			return err
		}
		if output.Issuer.ID != ref.Holder().ID {
			return reject(ReasonOnboardIssuer)
		}
		return nil

	case tx.ActivateMembership:
		if err := evolution(input, output); err != nil {
			return err
		}
		switch {
		case input.IsActive():
			return reject(ReasonAlreadyActive)
		case !output.IsActive():
			return reject(ReasonNotActive)
		}
		if err := unchanged(input, output, true, true, true); err != nil {
			return err
		}
		if holderSigns {
			return reject(ReasonHolderMustNotSign)
		}
		return auth(state.ActivateMembership)

	case tx.SuspendMembership:
		if err := evolution(input, output); err != nil {
			return err
		}
		switch {
		case input.IsSuspended():
			return reject(ReasonAlreadySuspended)
		case !output.IsSuspended():
			return reject(ReasonNotSuspended)
		}
		if err := unchanged(input, output, true, true, true); err != nil {
			return err
		}
		if holderSigns {
			return reject(ReasonHolderMustNotSign)
		}
		return auth(state.SuspendMembership)

	case tx.RevokeMembership:
		if input == nil {
			return reject(ReasonInputExpected)
		}
		if output != nil {
			return reject(ReasonNoOutputExpect)
		}
		if ref != nil && input.Holder().ID == ref.Holder().ID {
			return reject(ReasonRevokeSelf)
		}
		if holderSigns {
			return reject(ReasonHolderMustNotSign)
		}
		return auth(state.RevokeMembership)

	case tx.ModifyRoles:
		if err := modification(input, output); err != nil {
			return err
		}
		if input.Roles.Equal(output.Roles) {
			return reject(ReasonRolesUnchanged)
		}
		if err := unchanged(input, output, false, true, true); err != nil {
			return err
		}
		if err := auth(state.ModifyRoles); err != nil {
			return err
		}
		return holderSignsIffInitiator(holderSigns, subject, ref)

	case tx.ModifyBusinessID:
		if err := modification(input, output); err != nil {
			return err
		}
		if !input.Roles.Equal(output.Roles) {
			return reject(ReasonRolesChanged)
		}
		if input.Holder() != output.Holder() {
			return reject(ReasonIdentityChanged)
		}
		if !party.EqualSets(input.Participants, output.Participants) {
			return reject(ReasonParticipantsChanged)
		}
		if input.Identity.Business.Equal(output.Identity.Business) {
			return reject(ReasonBusinessIDUnchanged)
		}
		if err := auth(state.ModifyBusinessIdentity); err != nil {
			return err
		}
		return holderSignsIffInitiator(holderSigns, subject, ref)

	case tx.ModifyNetworkIdentity:
		if err := evolution(input, output); err != nil {
			return err
		}
		switch {
		case input.Status != output.Status:
			return reject(ReasonStatusChanged)
		case !input.Roles.Equal(output.Roles):
			return reject(ReasonRolesChanged)
		case input.Holder().ID == output.Holder().ID && party.EqualSets(input.Participants, output.Participants):
			return reject(ReasonNetworkIdentityKept)
		case input.Holder().Name != output.Holder().Name:
			return reject(ReasonDisplayNameChanged)
		case !input.Identity.Business.Equal(output.Identity.Business):
			return reject(ReasonBusinessIDChanged)
		}
		return nil

	case tx.ModifyParticipants:
		if err := evolution(input, output); err != nil {
			return err
		}
		if input.Status != output.Status {
			return reject(ReasonStatusChanged)
		}
		if err := unchanged(input, output, true, true, false); err != nil {
			return err
		}
		return auth(state.ModifyGroups)

	default:
		return reject(ReasonUnknownCommand)
	}
}

func issuance(input, output *state.Membership) error {
	if input != nil {
		return reject(ReasonNoInputExpected)
	}
	if output == nil {
		return reject(ReasonOutputExpected)
	}
	return nil
}

func evolution(input, output *state.Membership) error {
	if input == nil {
		return reject(ReasonInputExpected)
	}
	if output == nil {
		return reject(ReasonOutputExpected)
	}
	return nil
}

// modification covers the commands that edit an active or suspended
// membership without changing its status.
func modification(input, output *state.Membership) error {
	if err := evolution(input, output); err != nil {
		return err
	}
	if input.Status != output.Status {
		return reject(ReasonStatusChanged)
	}
	if !output.IsActive() && !output.IsSuspended() {
		return reject(ReasonStatusNotModifiable)
	}
	return nil
}

func unchanged(input, output *state.Membership, roles, identity, participants bool) error {
	if roles && !input.Roles.Equal(output.Roles) {
		return reject(ReasonRolesChanged)
	}
	if identity && (input.Holder() != output.Holder() || !input.Identity.Business.Equal(output.Identity.Business)) {
		return reject(ReasonIdentityChanged)
	}
	if participants && !party.EqualSets(input.Participants, output.Participants) {
		return reject(ReasonParticipantsChanged)
	}
	return nil
}

func holderSignsIffInitiator(holderSigns bool, subject, ref *state.Membership) error {
	if holderSigns != (subject.Holder().ID == ref.Holder().ID) {
		return reject(ReasonHolderSignerIff)
	}
	return nil
}
