package flow

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/contract"
	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/network"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// finalize takes a built transaction through validation, signature
// collection, notarization and distribution. Nothing is recorded unless the
// notary commits; a refusing counterparty aborts the attempt.
//
// Local signers default to the node's current identity. Observers receive
// the finalized transaction in addition to its participants.
func (e *Engine) finalize(ctx context.Context, flow string, t tx.Transaction, observers []party.Party, local ...sign.Signer) (tx.SignedTransaction, error) {
	if err := contract.Verify(t); err != nil {
		return tx.SignedTransaction{}, err
	}
	if len(local) == 0 {
		local = []sign.Signer{e.currentSigner()}
	}
	stx := tx.SignedTransaction{Tx: t}
	for _, s := range local {
		if !party.ContainsKey(t.Signers, s.Party().ID) {
			continue
		}
		sig, err := tx.Sign(ctx, s, t)
		if err != nil {
			return stx, fmt.Errorf("signing %s: %w", flow, err)
		}
		if err := stx.AddSignature(sig); err != nil {
			return stx, err
		}
	}

	directory := parties(t, observers)
	for _, k := range stx.MissingSigners() {
		p, ok := directory[k]
		if !ok {
			return stx, fmt.Errorf("no known party for required signer %s", k)
		}
		sig, err := e.requestSignature(ctx, flow, p, stx)
		if err != nil {
			return stx, err
		}
		if err := stx.AddSignature(sig); err != nil {
			return stx, bnerrors.Wrap(bnerrors.KindRejected, err, "invalid signature from %s", p)
		}
	}

	notarization, err := e.notary.Commit(ctx, stx)
	if err != nil {
		return stx, err
	}
	stx.Notarization = &notarization
	if _, err := e.vault.Record(ctx, stx); err != nil {
		return stx, err
	}
	e.logger.Info().
		Str("flow", flow).
		Stringer("tx", stx.ID()).
		Int("signers", len(stx.Signatures)).
		Msg("transaction committed")

	e.broadcast(ctx, stx, observers, local)
	return stx, nil
}

// verifyFinal checks that a transaction received from another node was
// committed: it is fully signed, notarized by the node's notary and valid.
func (e *Engine) verifyFinal(stx tx.SignedTransaction) error {
	if err := stx.VerifySignatures(false); err != nil {
		return bnerrors.Wrap(bnerrors.KindRejected, err, "transaction %s is not fully signed", stx.ID())
	}
	if err := stx.VerifyNotarization(e.notary.Identity()); err != nil {
		return bnerrors.Wrap(bnerrors.KindRejected, err, "transaction %s is not notarized by %s", stx.ID(), e.notary.Identity())
	}
	return contract.Verify(stx.Tx)
}

// parties indexes every party the transaction mentions by key.
func parties(t tx.Transaction, extra []party.Party) map[peer.ID]party.Party {
	out := make(map[peer.ID]party.Party)
	add := func(ps []party.Party) {
		for _, p := range ps {
			out[p.ID] = p
		}
	}
	add(t.Participants())
	for _, r := range t.References {
		add(r.State.Participants())
	}
	add(extra)
	return out
}

func (e *Engine) requestSignature(ctx context.Context, flow string, p party.Party, stx tx.SignedTransaction) (tx.Signature, error) {
	session, err := e.messenger.Open(ctx, p)
	if err != nil {
		return tx.Signature{}, err
	}
	defer session.Close()

	req, err := network.NewMessage(proposeType, proposal{Flow: flow, Tx: stx})
	if err != nil {
		return tx.Signature{}, err
	}
	reply, err := network.Call(ctx, session, req)
	if err != nil {
		return tx.Signature{}, fmt.Errorf("requesting signature from %s: %w", p, err)
	}
	switch reply.Type {
	case signatureType:
		var sig tx.Signature
		if err := reply.Decode(&sig); err != nil {
			return tx.Signature{}, err
		}
		if sig.Signer != p.ID {
			return tx.Signature{}, bnerrors.Rejected("%s signed with an unexpected key", p)
		}
		return sig, nil
	case rejectType:
		var r rejection
		if err := reply.Decode(&r); err != nil {
			return tx.Signature{}, err
		}
		return tx.Signature{}, bnerrors.Wrap(bnerrors.KindRejected, r.err(p.Name), "%s refused to sign %s", p, flow)
	default:
		return tx.Signature{}, fmt.Errorf("unexpected reply %q from %s", reply.Type, p)
	}
}

// isSelf reports whether p is served by this node: either one of the local
// signers or a party under the node's name.
func (e *Engine) isSelf(p party.Party, local []sign.Signer) bool {
	if p.Name == e.Party().Name {
		return true
	}
	for _, s := range local {
		if s.Party().ID == p.ID {
			return true
		}
	}
	return false
}

// broadcast delivers a committed transaction to every participant and
// observer. The commit has already happened so failures are only logged.
func (e *Engine) broadcast(ctx context.Context, stx tx.SignedTransaction, observers []party.Party, local []sign.Signer) {
	recipients := party.Dedup(append(stx.Tx.Participants(), observers...))
	sent := make(map[string]struct{})
	for _, p := range recipients {
		if e.isSelf(p, local) {
			continue
		}
		if _, ok := sent[p.Name]; ok {
			continue
		}
		sent[p.Name] = struct{}{}
		if err := e.deliver(ctx, p, finalityType, stx); err != nil {
			e.logger.Error().Err(err).Stringer("tx", stx.ID()).Str("party", p.String()).Msg("delivering finalized transaction")
		}
	}
}

// deliver sends a one-shot message and waits for it to be acknowledged.
func (e *Engine) deliver(ctx context.Context, to party.Party, t network.MessageType, payload any) error {
	session, err := e.messenger.Open(ctx, to)
	if err != nil {
		return err
	}
	defer session.Close()
	msg, err := network.NewMessage(t, payload)
	if err != nil {
		return err
	}
	reply, err := network.Call(ctx, session, msg)
	if err != nil {
		return err
	}
	switch reply.Type {
	case ackType:
		return nil
	case rejectType:
		var r rejection
		if err := reply.Decode(&r); err != nil {
			return err
		}
		return r.err(to.Name)
	default:
		return fmt.Errorf("unexpected reply %q from %s", reply.Type, to)
	}
}

// push sends copies of states to a party that has just gained visibility of
// them. Each state travels with the transaction that created it so the
// receiver can check it was committed.
func (e *Engine) push(ctx context.Context, to party.Party, states []state.StateAndRef) {
	if len(states) == 0 || e.isSelf(to, nil) {
		return
	}
	var msg syncPush
	index := make(map[state.TxID]int)
	for _, s := range states {
		i, ok := index[s.Ref.TxID]
		if !ok {
			stx, err := e.vault.Transaction(ctx, s.Ref.TxID)
			if err != nil || stx == nil {
				e.logger.Error().Err(err).Stringer("ref", s.Ref).Msg("no transaction behind state to synchronize")
				continue
			}
			i = len(msg.Txs)
			index[s.Ref.TxID] = i
			msg.Txs = append(msg.Txs, syncedTx{Tx: *stx})
		}
		msg.Txs[i].Outputs = append(msg.Txs[i].Outputs, s.Ref.Index)
	}
	if len(msg.Txs) == 0 {
		return
	}
	if err := e.deliver(ctx, to, syncType, msg); err != nil {
		e.logger.Error().Err(err).Str("party", to.String()).Int("states", len(states)).Msg("synchronizing states")
		return
	}
	e.metrics.ObserveSync(metrics.DirectionSent, len(states))
	e.logger.Debug().Str("party", to.String()).Int("states", len(states)).Msg("synchronized states")
}

// quorum returns the keys of the active members of the network holding all
// of perms that are among participants, minus the excluded keys.
func (e *Engine) quorum(ctx context.Context, networkID string, participants []party.Party, exclude []peer.ID, perms ...state.Permission) ([]peer.ID, error) {
	members, err := e.query.MembersWithPermissions(ctx, networkID, perms...)
	if err != nil {
		return nil, err
	}
	var keys []peer.ID
	for _, m := range members {
		holder := m.State.Membership.Holder()
		if party.Contains(participants, holder.ID) && !party.ContainsKey(exclude, holder.ID) {
			keys = append(keys, holder.ID)
		}
	}
	return keys, nil
}

// self returns the node's active membership of the network, used as the
// reference state authorizing its transactions.
func (e *Engine) self(ctx context.Context, networkID string) (state.StateAndRef, error) {
	m, err := e.query.Self(ctx, networkID)
	if err != nil {
		return state.StateAndRef{}, err
	}
	if m == nil {
		return state.StateAndRef{}, bnerrors.Authorization("%s is not a member of network %q", e.Party(), networkID)
	}
	return *m, nil
}

// authorisedParties returns the holders of the memberships authorised to
// modify memberships of the network.
func (e *Engine) authorisedParties(ctx context.Context, networkID string) ([]party.Party, []state.StateAndRef, error) {
	authorised, err := e.query.MembersAuthorisedToModifyMembership(ctx, networkID)
	if err != nil {
		return nil, nil, err
	}
	out := make([]party.Party, 0, len(authorised))
	for _, m := range authorised {
		out = append(out, m.State.Membership.Holder())
	}
	return out, authorised, nil
}

// transition describes a single-state change authorized by the initiator's
// own membership.
type transition struct {
	flow      string
	tag       tx.Tag
	networkID string
	input     *state.StateAndRef
	output    *state.TransactionState
	// quorum lists the permissions whose active holders among the
	// participants must countersign. No quorum is collected if empty.
	quorum []state.Permission
	// exclude removes keys from the quorum.
	exclude []peer.ID
	// signers are required in addition to the quorum and the initiator.
	signers   []peer.ID
	observers []party.Party
	// reference authorizes the transition in place of the initiator's own
	// membership.
	reference *state.StateAndRef
}

func (tr transition) participants() []party.Party {
	if tr.output != nil {
		return tr.output.Participants()
	}
	return tr.input.State.Participants()
}

// run builds the transaction of a transition and finalizes it.
func (e *Engine) run(ctx context.Context, tr transition) (tx.SignedTransaction, error) {
	ref := tr.reference
	if ref == nil {
		self, err := e.self(ctx, tr.networkID)
		if err != nil {
			return tx.SignedTransaction{}, err
		}
		ref = &self
	}
	signers := append([]peer.ID{e.Party().ID, ref.State.Membership.Holder().ID}, tr.signers...)
	if len(tr.quorum) > 0 {
		q, err := e.quorum(ctx, tr.networkID, tr.participants(), tr.exclude, tr.quorum...)
		if err != nil {
			return tx.SignedTransaction{}, err
		}
		signers = append(signers, q...)
	}
	var inputs []state.StateAndRef
	if tr.input != nil {
		inputs = []state.StateAndRef{*tr.input}
	}
	var outputs []state.TransactionState
	if tr.output != nil {
		outputs = []state.TransactionState{*tr.output}
	}
	t := tx.New(tx.NewCommand(tr.tag, dedupKeys(signers)...), inputs, outputs, []state.StateAndRef{*ref})
	return e.finalize(ctx, tr.flow, t, tr.observers)
}
