package flow

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// RequestAttributeChange proposes new roles, a new business identity or
// both for the node's own membership. The request is shared with the
// authority that decides on it. Nil roles leave the roles untouched.
func (e *Engine) RequestAttributeChange(ctx context.Context, networkID string, authority party.Party, roles *state.Roles, business state.BusinessIdentity) (r state.StateAndRef, err error) {
	defer e.observe(FlowRequestChange, e.clock(), &err)
	m, err := e.query.Self(ctx, networkID)
	if err != nil {
		return r, err
	}
	if m == nil {
		return r, bnerrors.Authorization("%s is not a member of network %q", e.Party(), networkID)
	}
	var proposed *state.Roles
	if roles != nil {
		cp := append(state.Roles{}, (*roles)...)
		proposed = &cp
	}
	self := e.Party()
	now := e.timestamp()
	output := state.WrapChangeRequest(state.ChangeRequest{
		LinearID:                 state.NewLinearID(),
		NetworkID:                networkID,
		MembershipID:             m.State.Membership.LinearID,
		Status:                   state.RequestPending,
		ProposedRoles:            proposed,
		ProposedBusinessIdentity: business.Clone(),
		Participants:             party.Dedup([]party.Party{self, authority}),
		Issued:                   now,
		Modified:                 now,
	})
	t := tx.New(tx.NewCommand(tx.RequestChange, self.ID), nil, []state.TransactionState{output}, nil)
	stx, err := e.finalize(ctx, FlowRequestChange, t, nil)
	if err != nil {
		return r, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

func (e *Engine) changeRequest(ctx context.Context, id state.LinearID) (state.StateAndRef, error) {
	r, err := e.query.ChangeRequest(ctx, id)
	if err != nil {
		return state.StateAndRef{}, err
	}
	if r == nil {
		return state.StateAndRef{}, bnerrors.NotFound("change request %s", id)
	}
	return *r, nil
}

// decide moves a pending change request to its final status.
func (e *Engine) decide(ctx context.Context, flow string, tag tx.Tag, status state.RequestStatus, id state.LinearID) (tx.SignedTransaction, state.StateAndRef, error) {
	in, err := e.changeRequest(ctx, id)
	if err != nil {
		return tx.SignedTransaction{}, state.StateAndRef{}, err
	}
	current := in.State.ChangeRequest
	m, err := e.membership(ctx, current.MembershipID)
	if err != nil {
		return tx.SignedTransaction{}, state.StateAndRef{}, err
	}
	out := current.Update(e.timestamp(current.Modified))
	out.Status = status
	output := state.WrapChangeRequest(out)
	stx, err := e.run(ctx, transition{
		flow:      flow,
		tag:       tag,
		networkID: current.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    out.RequiredPermissions(),
		exclude:   []peer.ID{m.State.Membership.Holder().ID},
	})
	return stx, m, err
}

// ApproveChangeRequest approves a pending change request and applies the
// proposed changes to the requester's membership.
func (e *Engine) ApproveChangeRequest(ctx context.Context, id state.LinearID) (r state.StateAndRef, err error) {
	defer e.observe(FlowApproveChange, e.clock(), &err)
	stx, m, err := e.decide(ctx, FlowApproveChange, tx.ApproveChange, state.RequestApproved, id)
	if err != nil {
		return r, err
	}
	r = stx.Tx.OutputsAndRefs()[0]
	req := r.State.ChangeRequest
	current := m.State.Membership
	if req.ProposesRoles() && !current.Roles.Equal(*req.ProposedRoles) {
		if m, err = e.ModifyRoles(ctx, current.LinearID, *req.ProposedRoles); err != nil {
			return r, err
		}
	}
	if req.ProposesBusinessIdentity() && !m.State.Membership.Identity.Business.Equal(req.ProposedBusinessIdentity) {
		if _, err = e.ModifyBusinessIdentity(ctx, current.LinearID, req.ProposedBusinessIdentity); err != nil {
			return r, err
		}
	}
	return r, nil
}

// DeclineChangeRequest declines a pending change request.
func (e *Engine) DeclineChangeRequest(ctx context.Context, id state.LinearID) (r state.StateAndRef, err error) {
	defer e.observe(FlowDeclineChange, e.clock(), &err)
	stx, _, err := e.decide(ctx, FlowDeclineChange, tx.DeclineChange, state.RequestDeclined, id)
	if err != nil {
		return r, err
	}
	return stx.Tx.OutputsAndRefs()[0], nil
}

// DeleteChangeRequest consumes a change request. Any of its participants
// may delete it.
func (e *Engine) DeleteChangeRequest(ctx context.Context, id state.LinearID) (err error) {
	defer e.observe(FlowDeleteChange, e.clock(), &err)
	in, err := e.changeRequest(ctx, id)
	if err != nil {
		return err
	}
	t := tx.New(tx.NewCommand(tx.DeleteChange, e.Party().ID), []state.StateAndRef{in}, nil, nil)
	_, err = e.finalize(ctx, FlowDeleteChange, t, nil)
	return err
}
