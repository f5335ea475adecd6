package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/network"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/lock"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// CreateNetwork bootstraps a business network with the node as its sole
// administrator and a first group containing only the node. A random
// network id is chosen if none is given.
func (e *Engine) CreateNetwork(ctx context.Context, networkID, groupName string, business state.BusinessIdentity) (membership, group state.StateAndRef, err error) {
	defer e.observe(FlowCreateNetwork, e.clock(), &err)
	if networkID == "" {
		networkID = uuid.NewString()
	}
	release, err := e.locks.Acquire(lock.CreateNetwork, networkID)
	if err != nil {
		return membership, group, err
	}
	defer release()

	exists, err := e.query.NetworkExists(ctx, networkID)
	if err != nil {
		return membership, group, err
	}
	if exists {
		return membership, group, bnerrors.DuplicateRequest("network %q already exists", networkID)
	}

	self := e.Party()
	now := e.timestamp()
	m := state.Membership{
		LinearID:     state.NewLinearID(),
		NetworkID:    networkID,
		Identity:     state.Identity{Party: self, Business: business.Clone()},
		Status:       state.Active,
		Roles:        state.Roles{state.AdminRole()},
		Issuer:       self,
		Participants: []party.Party{self},
		Issued:       now,
		Modified:     now,
	}
	g := state.Group{
		LinearID:     state.NewLinearID(),
		NetworkID:    networkID,
		Name:         groupName,
		Participants: []party.Party{self},
		Issuer:       self,
		Issued:       now,
		Modified:     now,
	}
	t := tx.New(
		tx.NewCommand(tx.Bootstrap, self.ID),
		nil,
		[]state.TransactionState{state.WrapMembership(m), state.WrapGroup(g)},
		nil,
	)
	stx, err := e.finalize(ctx, FlowCreateNetwork, t, nil)
	if err != nil {
		return membership, group, err
	}
	out := stx.Tx.OutputsAndRefs()
	return out[0], out[1], nil
}

// RequestMembership asks an authorised member of a network to issue a
// pending membership for the node. The returned membership is held by the
// node and every member authorised to modify memberships.
func (e *Engine) RequestMembership(ctx context.Context, authority party.Party, networkID string, business state.BusinessIdentity) (m state.StateAndRef, err error) {
	defer e.observe(FlowRequestMembership, e.clock(), &err)
	release, err := e.locks.Acquire(lock.RequestMembership, networkID)
	if err != nil {
		return m, err
	}
	defer release()

	self := e.Party()
	member, err := e.query.IsMember(ctx, networkID, self.ID)
	if err != nil {
		return m, err
	}
	if member {
		return m, bnerrors.DuplicateRequest("%s already holds a membership of %q", self, networkID)
	}

	session, err := e.messenger.Open(ctx, authority)
	if err != nil {
		return m, err
	}
	defer session.Close()
	req, err := network.NewMessage(membershipRequestType, membershipRequest{NetworkID: networkID, Party: self, Business: business})
	if err != nil {
		return m, err
	}
	reply, err := network.Call(ctx, session, req)
	if err != nil {
		return m, fmt.Errorf("requesting membership from %s: %w", authority, err)
	}
	var res membershipResult
	switch reply.Type {
	case membershipResultType:
		if err := reply.Decode(&res); err != nil {
			return m, err
		}
	case rejectType:
		var r rejection
		if err := reply.Decode(&r); err != nil {
			return m, err
		}
		return m, r.err(authority.Name)
	default:
		return m, fmt.Errorf("unexpected reply %q from %s", reply.Type, authority)
	}
	if res.Rejection != nil {
		return m, res.Rejection.err(authority.Name)
	}
	if res.Tx == nil {
		return m, fmt.Errorf("empty membership result from %s", authority)
	}

	stx := *res.Tx
	if err := e.verifyFinal(stx); err != nil {
		return m, err
	}
	if stx.Tx.Command.Tag != tx.RequestMembership || stx.Tx.Outputs[0].Membership.Holder().ID != self.ID {
		return m, bnerrors.Rejected("%s returned an unrelated transaction", authority)
	}
	if _, err := e.vault.Record(ctx, stx); err != nil {
		return m, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

// membership resolves the current version of a membership visible to the
// node.
func (e *Engine) membership(ctx context.Context, id state.LinearID) (state.StateAndRef, error) {
	m, err := e.query.MembershipByID(ctx, id)
	if err != nil {
		return state.StateAndRef{}, err
	}
	if m == nil {
		return state.StateAndRef{}, bnerrors.NotFound("membership %s", id)
	}
	return *m, nil
}

// ActivateMembership activates a pending or suspended membership and shares
// the memberships of the network's administrators with its holder.
func (e *Engine) ActivateMembership(ctx context.Context, id state.LinearID) (m state.StateAndRef, err error) {
	defer e.observe(FlowActivateMembership, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return m, err
	}
	current := in.State.Membership
	out := current.Update(e.timestamp(current.Modified))
	out.Status = state.Active
	output := state.WrapMembership(out)

	stx, err := e.run(ctx, transition{
		flow:      FlowActivateMembership,
		tag:       tx.ActivateMembership,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ActivateMembership},
		exclude:   []peer.ID{current.Holder().ID},
	})
	if err != nil {
		return m, err
	}
	e.shareAdmins(ctx, current.NetworkID, current.Holder())
	return stx.Tx.OutputsAndRefs()[0], nil
}

// OnboardMembership issues an active membership directly to a party. The
// party countersigns its own membership.
func (e *Engine) OnboardMembership(ctx context.Context, networkID string, holder party.Party, business state.BusinessIdentity) (m state.StateAndRef, err error) {
	defer e.observe(FlowOnboardMembership, e.clock(), &err)
	existing, err := e.query.Membership(ctx, networkID, holder.ID)
	if err != nil {
		return m, err
	}
	if existing != nil {
		return m, bnerrors.DuplicateRequest("%s already holds a membership of %q", holder, networkID)
	}
	admins, _, err := e.authorisedParties(ctx, networkID)
	if err != nil {
		return m, err
	}
	now := e.timestamp()
	out := state.WrapMembership(state.Membership{
		LinearID:     state.NewLinearID(),
		NetworkID:    networkID,
		Identity:     state.Identity{Party: holder, Business: business.Clone()},
		Status:       state.Active,
		Issuer:       e.Party(),
		Participants: party.Dedup(append([]party.Party{holder}, admins...)),
		Issued:       now,
		Modified:     now,
	})
	stx, err := e.run(ctx, transition{
		flow:      FlowOnboardMembership,
		tag:       tx.OnboardMembership,
		networkID: networkID,
		output:    &out,
		quorum:    []state.Permission{state.ActivateMembership},
		exclude:   []peer.ID{holder.ID},
		signers:   []peer.ID{holder.ID},
	})
	if err != nil {
		return m, err
	}
	e.shareAdmins(ctx, networkID, holder)
	return stx.Tx.OutputsAndRefs()[0], nil
}

// checkRemovable fails if taking perms from the holder would leave any of
// them without an active holder.
func (e *Engine) checkRemovable(ctx context.Context, networkID string, holder party.Party, perms ...state.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	safe, err := e.query.SafeToRemovePermissions(ctx, networkID, holder.ID, perms...)
	if err != nil {
		return err
	}
	if !safe {
		return bnerrors.InvalidNetworkState("%s holds the last active grant of one of %v in %q", holder, perms, networkID)
	}
	return nil
}

// SuspendMembership suspends a membership. Suspending the last active
// holder of any permission is refused.
func (e *Engine) SuspendMembership(ctx context.Context, id state.LinearID) (m state.StateAndRef, err error) {
	defer e.observe(FlowSuspendMembership, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return m, err
	}
	current := in.State.Membership
	if current.IsActive() {
		if err := e.checkRemovable(ctx, current.NetworkID, current.Holder(), current.Roles.Permissions()...); err != nil {
			return m, err
		}
	}
	out := current.Update(e.timestamp(current.Modified))
	out.Status = state.Suspended
	output := state.WrapMembership(out)

	stx, err := e.run(ctx, transition{
		flow:      FlowSuspendMembership,
		tag:       tx.SuspendMembership,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.SuspendMembership},
		exclude:   []peer.ID{current.Holder().ID},
	})
	if err != nil {
		return m, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

// RevokeMembership consumes a membership and then removes its holder from
// every group the node administers.
func (e *Engine) RevokeMembership(ctx context.Context, id state.LinearID) (err error) {
	defer e.observe(FlowRevokeMembership, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return err
	}
	current := in.State.Membership
	if current.IsActive() {
		if err := e.checkRemovable(ctx, current.NetworkID, current.Holder(), current.Roles.Permissions()...); err != nil {
			return err
		}
	}
	_, err = e.run(ctx, transition{
		flow:      FlowRevokeMembership,
		tag:       tx.RevokeMembership,
		networkID: current.NetworkID,
		input:     &in,
		quorum:    []state.Permission{state.RevokeMembership},
		exclude:   []peer.ID{current.Holder().ID},
	})
	if err != nil {
		return err
	}

	groups, err := e.query.Groups(ctx, current.NetworkID)
	if err != nil {
		e.logger.Error().Err(err).Msg("listing groups of revoked member")
		return nil
	}
	holder := current.Holder()
	for _, g := range groups {
		if !party.Contains(g.State.Group.Participants, holder.ID) {
			continue
		}
		remaining := party.Without(g.State.Group.Participants, holder.ID)
		if _, err := e.modifyGroup(ctx, g, g.State.Group.Name, remaining); err != nil {
			e.logger.Info().Err(err).Stringer("group", g.State.Group.LinearID).Str("party", holder.String()).Msg("removing revoked member from group")
		}
	}
	return nil
}

// ModifyRoles replaces the roles of a membership. A member newly able to
// modify memberships is given a copy of every membership and group of the
// network.
func (e *Engine) ModifyRoles(ctx context.Context, id state.LinearID, roles state.Roles) (m state.StateAndRef, err error) {
	defer e.observe(FlowModifyRoles, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return m, err
	}
	current := in.State.Membership
	if current.IsActive() {
		var removed []state.Permission
		for _, p := range current.Roles.Permissions() {
			if !roles.HasPermission(p) {
				removed = append(removed, p)
			}
		}
		if err := e.checkRemovable(ctx, current.NetworkID, current.Holder(), removed...); err != nil {
			return m, err
		}
	}
	out := current.Update(e.timestamp(current.Modified))
	out.Roles = append(state.Roles(nil), roles...)
	output := state.WrapMembership(out)

	stx, err := e.run(ctx, transition{
		flow:      FlowModifyRoles,
		tag:       tx.ModifyRoles,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyRoles},
		exclude:   []peer.ID{current.Holder().ID},
	})
	if err != nil {
		return m, err
	}
	if !current.CanModifyMembership() && out.CanModifyMembership() {
		e.promote(ctx, current.NetworkID, out.Holder())
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

// ModifyBusinessIdentity replaces the business identity of a membership.
func (e *Engine) ModifyBusinessIdentity(ctx context.Context, id state.LinearID, business state.BusinessIdentity) (m state.StateAndRef, err error) {
	defer e.observe(FlowModifyBusinessIdentity, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return m, err
	}
	current := in.State.Membership
	out := current.Update(e.timestamp(current.Modified))
	out.Identity.Business = business.Clone()
	output := state.WrapMembership(out)

	stx, err := e.run(ctx, transition{
		flow:      FlowModifyBusinessIdentity,
		tag:       tx.ModifyBusinessID,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyBusinessIdentity},
		exclude:   []peer.ID{current.Holder().ID},
	})
	if err != nil {
		return m, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

// ModifyParticipants changes the set of parties holding a copy of a
// membership. Removed parties receive the final version as observers.
func (e *Engine) ModifyParticipants(ctx context.Context, id state.LinearID, participants []party.Party) (m state.StateAndRef, err error) {
	defer e.observe(FlowModifyParticipants, e.clock(), &err)
	in, err := e.membership(ctx, id)
	if err != nil {
		return m, err
	}
	stx, err := e.modifyParticipants(ctx, in, participants, nil)
	if err != nil {
		return m, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

func (e *Engine) modifyParticipants(ctx context.Context, in state.StateAndRef, participants []party.Party, signers []peer.ID) (tx.SignedTransaction, error) {
	current := in.State.Membership
	out := current.Update(e.timestamp(current.Modified))
	out.Participants = party.Dedup(participants)
	output := state.WrapMembership(out)
	return e.run(ctx, transition{
		flow:      FlowModifyParticipants,
		tag:       tx.ModifyParticipants,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyGroups},
		signers:   signers,
		observers: removed(current.Participants, out.Participants),
	})
}

// removed returns the parties of before missing from after.
func removed(before, after []party.Party) []party.Party {
	var out []party.Party
	for _, p := range before {
		if !party.Contains(after, p.ID) {
			out = append(out, p)
		}
	}
	return out
}
