package flow

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/contract"
	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/network"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/lock"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// Flow names. Counterparties only countersign the command tag the named
// flow is allowed to propose.
const (
	FlowCreateNetwork          = "CreateNetwork"
	FlowRequestMembership      = "RequestMembership"
	FlowActivateMembership     = "ActivateMembership"
	FlowOnboardMembership      = "OnboardMembership"
	FlowSuspendMembership      = "SuspendMembership"
	FlowRevokeMembership       = "RevokeMembership"
	FlowModifyRoles            = "ModifyRoles"
	FlowModifyBusinessIdentity = "ModifyBusinessIdentity"
	FlowModifyParticipants     = "ModifyParticipants"
	FlowCreateGroup            = "CreateGroup"
	FlowModifyGroup            = "ModifyGroup"
	FlowDeleteGroup            = "DeleteGroup"
	FlowRequestChange          = "RequestAttributeChange"
	FlowApproveChange          = "ApproveChangeRequest"
	FlowDeclineChange          = "DeclineChangeRequest"
	FlowDeleteChange           = "DeleteChangeRequest"
	FlowRotateIdentity         = "RotateIdentity"
)

var countersigned = map[string]tx.Tag{
	FlowRequestMembership:      tx.RequestMembership,
	FlowActivateMembership:     tx.ActivateMembership,
	FlowOnboardMembership:      tx.OnboardMembership,
	FlowSuspendMembership:      tx.SuspendMembership,
	FlowRevokeMembership:       tx.RevokeMembership,
	FlowModifyRoles:            tx.ModifyRoles,
	FlowModifyBusinessIdentity: tx.ModifyBusinessID,
	FlowModifyParticipants:     tx.ModifyParticipants,
	FlowCreateGroup:            tx.CreateGroup,
	FlowModifyGroup:            tx.ModifyGroup,
	FlowDeleteGroup:            tx.ExitGroup,
	FlowApproveChange:          tx.ApproveChange,
	FlowDeclineChange:          tx.DeclineChange,
	FlowDeleteChange:           tx.DeleteChange,
	FlowRotateIdentity:         tx.ModifyNetworkIdentity,
}

// Handle serves a session opened by another node. It is registered with the
// messenger by Start.
func (e *Engine) Handle(ctx context.Context, s network.Session) {
	msg, err := s.Receive(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("peer", s.Counterparty()).Msg("reading inbound message")
		return
	}
	var reply network.Message
	switch msg.Type {
	case proposeType:
		reply, err = e.respondProposal(ctx, s, msg)
	case finalityType:
		reply, err = e.respondFinality(ctx, s, msg)
	case syncType:
		reply, err = e.respondSync(ctx, s, msg)
	case membershipRequestType:
		reply, err = e.respondMembershipRequest(ctx, s, msg)
	default:
		err = bnerrors.Rejected("unsupported message %q", msg.Type)
	}
	if err != nil {
		e.logger.Info().Err(err).Str("peer", s.Counterparty()).Str("type", string(msg.Type)).Msg("rejecting inbound message")
		reply, err = network.NewMessage(rejectType, newRejection(err))
		if err != nil {
			return
		}
	}
	if err := s.Send(ctx, reply); err != nil {
		e.logger.Error().Err(err).Str("peer", s.Counterparty()).Msg("sending reply")
	}
}

func (e *Engine) respondProposal(ctx context.Context, s network.Session, msg network.Message) (network.Message, error) {
	var p proposal
	if err := msg.Decode(&p); err != nil {
		return network.Message{}, err
	}
	if err := e.checkProposal(ctx, s, p); err != nil {
		return network.Message{}, err
	}
	sig, err := tx.Sign(ctx, e.currentSigner(), p.Tx.Tx)
	if err != nil {
		return network.Message{}, bnerrors.Wrap(bnerrors.KindRejected, err, "signing %s", p.Flow)
	}
	e.logger.Debug().Str("flow", p.Flow).Stringer("tx", p.Tx.ID()).Str("peer", s.Counterparty()).Msg("countersigned")
	return network.NewMessage(signatureType, sig)
}

// checkProposal decides whether the node countersigns. The transaction must
// pass the validator and the flow must be one the node takes part in.
func (e *Engine) checkProposal(ctx context.Context, s network.Session, p proposal) error {
	t := p.Tx.Tx
	tag, ok := countersigned[p.Flow]
	if !ok {
		return bnerrors.Rejected("flow %q is not countersigned", p.Flow)
	}
	if t.Command.Tag != tag {
		return bnerrors.Rejected("flow %q may not propose %s", p.Flow, t.Command.Tag)
	}
	self := e.Party()
	if !party.ContainsKey(t.Signers, self.ID) {
		return bnerrors.Rejected("%s is not a required signer", self)
	}
	if err := p.Tx.VerifySignatures(true); err != nil {
		return err
	}
	if err := contract.Verify(t); err != nil {
		return err
	}
	if err := e.checkFresh(ctx, t); err != nil {
		return err
	}

	switch p.Flow {
	case FlowRequestMembership:
		m := t.Outputs[0].Membership
		if m.Holder().ID != self.ID {
			return bnerrors.Rejected("membership is not requested for %s", self)
		}
		if !e.locks.Held(lock.RequestMembership, m.NetworkID) {
			return bnerrors.Rejected("%s has no membership request in flight for %q", self, m.NetworkID)
		}
	case FlowOnboardMembership:
		if t.Outputs[0].Membership.Holder().ID != self.ID {
			return bnerrors.Rejected("membership is not issued to %s", self)
		}
	case FlowRotateIdentity:
		if holder := t.Inputs[0].State.Membership.Holder(); holder.Name != s.Counterparty() {
			return bnerrors.Rejected("%s may not rotate the identity of %s", s.Counterparty(), holder)
		}
	}
	return nil
}

// checkFresh refuses to sign over an input that is older than the version
// held locally.
func (e *Engine) checkFresh(ctx context.Context, t tx.Transaction) error {
	for _, in := range t.Inputs {
		local, err := e.vault.Get(ctx, in.State.Kind(), in.State.LinearID())
		if err != nil {
			return err
		}
		if local != nil && local.Ref != in.Ref && local.State.Modified().After(in.State.Modified()) {
			return bnerrors.Rejected("input %s is not the latest version", in.Ref)
		}
	}
	return nil
}

// respondFinality records a transaction committed by another node. Only
// notarized transactions the node holds a state of are accepted.
func (e *Engine) respondFinality(ctx context.Context, s network.Session, msg network.Message) (network.Message, error) {
	var stx tx.SignedTransaction
	if err := msg.Decode(&stx); err != nil {
		return network.Message{}, err
	}
	if err := e.verifyFinal(stx); err != nil {
		return network.Message{}, err
	}
	self := e.Party()
	if !party.Contains(stx.Tx.Participants(), self.ID) {
		return network.Message{}, bnerrors.Rejected("%s is not a participant of %s", self, stx.ID())
	}
	stored, err := e.vault.Record(ctx, stx)
	if err != nil {
		return network.Message{}, err
	}
	e.logger.Info().
		Stringer("tx", stx.ID()).
		Str("command", string(stx.Tx.Command.Tag)).
		Str("peer", s.Counterparty()).
		Int("stored", len(stored)).
		Msg("recorded finalized transaction")
	return network.NewMessage(ackType, nil)
}

// respondSync stores states pushed by a member of their network. Every
// state must come from a notarized transaction and the sender must hold an
// active membership of the state's network. A push failing either check is
// refused as a whole.
func (e *Engine) respondSync(ctx context.Context, s network.Session, msg network.Message) (network.Message, error) {
	var push syncPush
	if err := msg.Decode(&push); err != nil {
		return network.Message{}, err
	}
	var pushed []state.StateAndRef
	for _, synced := range push.Txs {
		if err := e.verifyFinal(synced.Tx); err != nil {
			return network.Message{}, err
		}
		outputs := synced.Tx.Tx.OutputsAndRefs()
		for _, i := range synced.Outputs {
			if i < 0 || i >= len(outputs) {
				return network.Message{}, bnerrors.Rejected("transaction %s has no output %d", synced.Tx.ID(), i)
			}
			pushed = append(pushed, outputs[i])
		}
	}

	sender := s.Counterparty()
	checked := make(map[string]struct{})
	for _, st := range pushed {
		networkID := st.State.NetworkID()
		if _, ok := checked[networkID]; ok {
			continue
		}
		if err := e.checkSender(ctx, sender, networkID, pushed); err != nil {
			return network.Message{}, err
		}
		checked[networkID] = struct{}{}
	}

	var stored int
	for _, synced := range push.Txs {
		states, err := e.vault.Store(ctx, synced.Tx, synced.Outputs...)
		if err != nil {
			return network.Message{}, err
		}
		stored += len(states)
	}
	e.metrics.ObserveSync(metrics.DirectionReceived, stored)
	e.logger.Debug().Str("peer", sender).Int("received", len(pushed)).Int("stored", stored).Msg("synchronized states")
	return network.NewMessage(ackType, nil)
}

// checkSender requires the named party to hold an active membership of the
// network. The latest unconsumed version known, locally or among the pushed
// states, decides.
func (e *Engine) checkSender(ctx context.Context, name, networkID string, pushed []state.StateAndRef) error {
	isSender := func(st state.StateAndRef) bool {
		m := st.State.Membership
		return m != nil && m.NetworkID == networkID && m.Holder().Name == name
	}
	candidates, err := e.vault.List(ctx, state.KindMembership, isSender)
	if err != nil {
		return err
	}
	for _, st := range pushed {
		if isSender(st) {
			candidates = append(candidates, st)
		}
	}
	var latest *state.StateAndRef
	for i, c := range candidates {
		consumed, err := e.vault.Consumed(ctx, c.Ref)
		if err != nil {
			return err
		}
		if consumed {
			continue
		}
		if latest == nil || c.State.Modified().After(latest.State.Modified()) {
			latest = &candidates[i]
		}
	}
	if latest == nil || !latest.State.Membership.IsActive() {
		return bnerrors.Authorization("%s holds no active membership of %q", name, networkID)
	}
	return nil
}

// respondMembershipRequest issues a pending membership on behalf of a
// requester. The reply carries the committed transaction or the reason the
// request was refused.
func (e *Engine) respondMembershipRequest(ctx context.Context, s network.Session, msg network.Message) (network.Message, error) {
	var req membershipRequest
	if err := msg.Decode(&req); err != nil {
		return network.Message{}, err
	}
	if req.Party.Name != s.Counterparty() {
		return network.Message{}, bnerrors.Rejected("%s may not request membership for %s", s.Counterparty(), req.Party)
	}
	stx, err := e.issueMembership(ctx, req)
	if err != nil {
		r := newRejection(err)
		return network.NewMessage(membershipResultType, membershipResult{Rejection: &r})
	}
	return network.NewMessage(membershipResultType, membershipResult{Tx: &stx})
}

// issueMembership builds and finalizes the pending membership of a
// requester. The requester and every member authorised to modify
// memberships hold a copy.
func (e *Engine) issueMembership(ctx context.Context, req membershipRequest) (stx tx.SignedTransaction, err error) {
	defer e.observe(FlowRequestMembership, e.clock(), &err)

	ref, err := e.self(ctx, req.NetworkID)
	if err != nil {
		return stx, err
	}
	existing, err := e.query.Membership(ctx, req.NetworkID, req.Party.ID)
	if err != nil {
		return stx, err
	}
	if existing != nil {
		return stx, bnerrors.DuplicateRequest("%s already holds a membership of %q", req.Party, req.NetworkID)
	}
	admins, _, err := e.authorisedParties(ctx, req.NetworkID)
	if err != nil {
		return stx, err
	}
	now := e.timestamp()
	m := state.Membership{
		LinearID:     state.NewLinearID(),
		NetworkID:    req.NetworkID,
		Identity:     state.Identity{Party: req.Party, Business: req.Business.Clone()},
		Status:       state.Pending,
		Issuer:       req.Party,
		Participants: party.Dedup(append([]party.Party{req.Party}, admins...)),
		Issued:       now,
		Modified:     now,
	}
	quorum, err := e.quorum(ctx, req.NetworkID, m.Participants, []peer.ID{req.Party.ID}, state.ActivateMembership)
	if err != nil {
		return stx, err
	}
	signers := append(quorum, req.Party.ID, e.Party().ID)
	t := tx.New(
		tx.NewCommand(tx.RequestMembership, dedupKeys(signers)...),
		nil,
		[]state.TransactionState{state.WrapMembership(m)},
		[]state.StateAndRef{ref},
	)
	return e.finalize(ctx, FlowRequestMembership, t, nil)
}

func dedupKeys(keys []peer.ID) []peer.ID {
	seen := make(map[peer.ID]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
