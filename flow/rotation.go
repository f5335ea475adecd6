package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// RotationStage orders the transitions of an identity rotation.
type RotationStage int

const (
	// StageIdentity rewrites the rotating member's own memberships.
	StageIdentity RotationStage = iota + 1
	// StageGroups rewrites the groups listing the old identity.
	StageGroups
	// StageParticipants rewrites the memberships listing the old identity
	// among their participants.
	StageParticipants
)

// RotationResult is the outcome of rewriting one state.
type RotationResult struct {
	Stage     RotationStage
	NetworkID string
	Tx        state.TxID
	Err       error
}

// RotationReport is indexed by the linear id of every state the rotation
// tried to rewrite. Committed rewrites are never rolled back.
type RotationReport struct {
	Previous party.Party
	Current  party.Party
	Results  map[state.LinearID]RotationResult
}

func (r RotationReport) record(id state.LinearID, res RotationResult) {
	r.Results[id] = res
}

// Failed returns the ids of the states that still reference the previous
// identity.
func (r RotationReport) Failed() []state.LinearID {
	var ids []state.LinearID
	for id, res := range r.Results {
		if res.Err != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Err joins the errors of every failed rewrite.
func (r RotationReport) Err() error {
	var errs []error
	for id, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, res.Err))
		}
	}
	return errors.Join(errs...)
}

// RotateIdentity replaces the node's network identity key with next's in
// three stages. First the node's own memberships move to the new key, after
// which the engine signs as next. Then every group and every membership
// listing the old identity as participant is rewritten. Each rewrite is
// signed by the new identity and the administrators holding a copy.
//
// An error is returned only if no membership could be rotated. Failures of
// individual rewrites are reported per state.
func (e *Engine) RotateIdentity(ctx context.Context, next sign.Signer) (report RotationReport, err error) {
	defer e.observe(FlowRotateIdentity, e.clock(), &err)
	previous, current := e.Party(), next.Party()
	report = RotationReport{Previous: previous, Current: current, Results: make(map[state.LinearID]RotationResult)}
	if previous.Name != current.Name {
		return report, bnerrors.Rejected("rotated identity must keep the name %q", previous.Name)
	}
	if previous.ID == current.ID {
		return report, bnerrors.Rejected("identity %s is unchanged", previous)
	}

	own, err := e.vault.List(ctx, state.KindMembership, func(s state.StateAndRef) bool {
		return s.State.Membership.Holder().ID == previous.ID
	})
	if err != nil {
		return report, err
	}
	if len(own) == 0 {
		return report, bnerrors.NotFound("%s holds no membership", previous)
	}

	var rotated []string
	for _, m := range own {
		networkID := m.State.Membership.NetworkID
		stx, err := e.rotateMembership(ctx, m, next)
		res := RotationResult{Stage: StageIdentity, NetworkID: networkID, Err: err}
		if err == nil {
			res.Tx = stx.ID()
			rotated = append(rotated, networkID)
		}
		report.record(m.State.Membership.LinearID, res)
	}
	if len(rotated) == 0 {
		return report, report.Err()
	}
	e.setSigner(next)
	e.logger.Info().Str("previous", previous.String()).Str("current", current.String()).Strs("networks", rotated).Msg("rotated network identity")

	for _, networkID := range rotated {
		e.rotateGroups(ctx, networkID, previous, current, report)
	}
	for _, networkID := range rotated {
		e.rotateParticipants(ctx, networkID, previous, current, report)
	}
	return report, nil
}

// rotateMembership moves one of the node's memberships to the new key. The
// administrators among its participants countersign.
func (e *Engine) rotateMembership(ctx context.Context, in state.StateAndRef, next sign.Signer) (tx.SignedTransaction, error) {
	current := in.State.Membership
	previous := current.Holder()
	out := current.Update(e.timestamp(current.Modified))
	out.Identity.Party = next.Party()
	out.Participants = party.Replace(out.Participants, previous.ID, next.Party())

	admins, _, err := e.authorisedParties(ctx, current.NetworkID)
	if err != nil {
		return tx.SignedTransaction{}, err
	}
	signers := []peer.ID{next.Party().ID}
	for _, a := range admins {
		if a.ID != previous.ID && party.Contains(out.Participants, a.ID) {
			signers = append(signers, a.ID)
		}
	}
	t := tx.New(
		tx.NewCommand(tx.ModifyNetworkIdentity, signers...),
		[]state.StateAndRef{in},
		[]state.TransactionState{state.WrapMembership(out)},
		nil,
	)
	return e.finalize(ctx, FlowRotateIdentity, t, nil, next)
}

// rotationReference picks the membership authorizing the rewrite of a
// state with the given participants: the node's own if it may modify
// groups, otherwise that of an administrator holding a copy.
func (e *Engine) rotationReference(ctx context.Context, networkID string, participants []party.Party) (*state.StateAndRef, error) {
	self, err := e.self(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if self.State.Membership.Roles.HasPermission(state.ModifyGroups) {
		return &self, nil
	}
	admins, err := e.query.MembersWithPermissions(ctx, networkID, state.ModifyGroups)
	if err != nil {
		return nil, err
	}
	for _, a := range admins {
		if party.Contains(participants, a.State.Membership.Holder().ID) {
			return &a, nil
		}
	}
	return nil, bnerrors.Authorization("no member of %q may authorize the rewrite", networkID)
}

func (e *Engine) rotateGroups(ctx context.Context, networkID string, previous, current party.Party, report RotationReport) {
	groups, err := e.query.Groups(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing groups to rotate")
		return
	}
	for _, g := range groups {
		if !party.Contains(g.State.Group.Participants, previous.ID) {
			continue
		}
		stx, err := e.rotateGroup(ctx, g, previous, current)
		report.record(g.State.Group.LinearID, result(StageGroups, networkID, stx, err))
	}
}

func (e *Engine) rotateGroup(ctx context.Context, in state.StateAndRef, previous, current party.Party) (tx.SignedTransaction, error) {
	g := in.State.Group
	out := g.Update(e.timestamp(g.Modified))
	out.Participants = party.Replace(out.Participants, previous.ID, current)
	ref, err := e.rotationReference(ctx, g.NetworkID, out.Participants)
	if err != nil {
		return tx.SignedTransaction{}, err
	}
	output := state.WrapGroup(out)
	return e.run(ctx, transition{
		flow:      FlowModifyGroup,
		tag:       tx.ModifyGroup,
		networkID: g.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyGroups},
		exclude:   []peer.ID{previous.ID},
		reference: ref,
	})
}

func (e *Engine) rotateParticipants(ctx context.Context, networkID string, previous, current party.Party, report RotationReport) {
	memberships, err := e.query.Memberships(ctx, networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network", networkID).Msg("listing memberships to rotate")
		return
	}
	for _, m := range memberships {
		participants := m.State.Membership.Participants
		if !party.Contains(participants, previous.ID) {
			continue
		}
		replaced := party.Replace(participants, previous.ID, current)
		stx, err := e.rotateMembershipParticipants(ctx, m, replaced, previous)
		report.record(m.State.Membership.LinearID, result(StageParticipants, networkID, stx, err))
	}
}

func (e *Engine) rotateMembershipParticipants(ctx context.Context, in state.StateAndRef, participants []party.Party, previous party.Party) (tx.SignedTransaction, error) {
	m := in.State.Membership
	ref, err := e.rotationReference(ctx, m.NetworkID, participants)
	if err != nil {
		return tx.SignedTransaction{}, err
	}
	out := m.Update(e.timestamp(m.Modified))
	out.Participants = participants
	output := state.WrapMembership(out)
	return e.run(ctx, transition{
		flow:      FlowModifyParticipants,
		tag:       tx.ModifyParticipants,
		networkID: m.NetworkID,
		input:     &in,
		output:    &output,
		quorum:    []state.Permission{state.ModifyGroups},
		exclude:   []peer.ID{previous.ID},
		reference: ref,
	})
}

func result(stage RotationStage, networkID string, stx tx.SignedTransaction, err error) RotationResult {
	res := RotationResult{Stage: stage, NetworkID: networkID, Err: err}
	if err == nil {
		res.Tx = stx.ID()
	}
	return res
}
