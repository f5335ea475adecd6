// Package contract is the state transition validator. Verify is a pure
// function of the transaction: the initiator, every responder and the
// notary evaluate it and must reach the same verdict.
package contract

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func reject(reason string) error {
	return bnerrors.Validation(reason)
}

// Verify accepts or rejects a transaction. A rejection is a validation
// error carrying one of the Reason constants.
func Verify(t tx.Transaction) error {
	cmd := t.Command
	if len(cmd.RequiredSigners) == 0 {
		return reject(ReasonNoRequiredSigners)
	}
	if !party.EqualKeys(t.Signers, cmd.RequiredSigners) {
		return reject(ReasonSignersMismatch)
	}
	for _, s := range append(append([]state.StateAndRef(nil), t.Inputs...), t.References...) {
		if s.State.Validate() != nil {
			return reject(ReasonMalformedState)
		}
	}
	for _, s := range t.Outputs {
		if s.Validate() != nil {
			return reject(ReasonMalformedState)
		}
		if len(party.Dedup(s.Participants())) != len(s.Participants()) {
			return reject(ReasonDuplicateParticipant)
		}
	}

	switch cmd.Tag.Contract() {
	case state.MembershipContract:
		if cmd.Tag == tx.Bootstrap {
			return verifyBootstrap(t)
		}
		return verifyMembership(t)
	case state.GroupContract:
		return verifyGroup(t)
	case state.ChangeRequestContract:
		return verifyChangeRequest(t)
	default:
		return reject(ReasonUnknownCommand)
	}
}

// single extracts the at most one input and output of a contract.
func single(t tx.Transaction, contract string, kind state.Kind) (in, out *state.TransactionState, err error) {
	if len(t.Inputs) > 1 {
		return nil, nil, reject(ReasonTooManyInputs)
	}
	if len(t.Outputs) > 1 {
		return nil, nil, reject(ReasonTooManyOutputs)
	}
	check := func(s state.TransactionState) error {
		if s.Contract != contract {
			return reject(ReasonWrongContract)
		}
		if s.Kind() != kind {
			return reject(ReasonWrongStateType)
		}
		return nil
	}
	if len(t.Inputs) == 1 {
		in = &t.Inputs[0].State
		if err := check(*in); err != nil {
			return nil, nil, err
		}
	}
	if len(t.Outputs) == 1 {
		out = &t.Outputs[0]
		if err := check(*out); err != nil {
			return nil, nil, err
		}
	}
	if in == nil && out == nil {
		return nil, nil, reject(ReasonOutputExpected)
	}
	return in, out, nil
}

// reference returns the optional reference membership, which must be
// active and belong to the network of the modified state.
func reference(t tx.Transaction, networkID string) (*state.Membership, error) {
	switch len(t.References) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, reject(ReasonTooManyReferences)
	}
	ref := t.References[0].State
	if ref.Membership == nil || ref.Contract != state.MembershipContract {
		return nil, reject(ReasonReferenceNotMember)
	}
	if ref.Membership.NetworkID != networkID {
		return nil, reject(ReasonReferenceWrongNet)
	}
	if !ref.Membership.IsActive() {
		return nil, reject(ReasonReferenceNotActive)
	}
	return ref.Membership, nil
}

// header holds the fields every linear state shares.
type header struct {
	linearID  state.LinearID
	networkID string
	issuer    party.Party
	issued    time.Time
	modified  time.Time
}

func checkHeaders(in, out *header) error {
	if out != nil {
		if out.networkID == "" {
			return reject(ReasonEmptyNetworkID)
		}
		if out.issued.After(out.modified) {
			return reject(ReasonIssuedAfterModified)
		}
	}
	if in == nil || out == nil {
		return nil
	}
	switch {
	case in.linearID != out.linearID:
		return reject(ReasonLinearIDChanged)
	case in.networkID != out.networkID:
		return reject(ReasonNetworkIDChanged)
	case in.issuer.ID != out.issuer.ID:
		return reject(ReasonIssuerChanged)
	case !in.issued.Equal(out.issued):
		return reject(ReasonIssuedChanged)
	case out.modified.Before(in.modified):
		return reject(ReasonModifiedDecreased)
	}
	return nil
}

// signersParticipate checks every required signer holds a copy of the
// resulting state.
func signersParticipate(signers []peer.ID, participants []party.Party) error {
	for _, k := range signers {
		if !party.Contains(participants, k) {
			return reject(ReasonSignerNotParticipant)
		}
	}
	return nil
}

// authorize is evaluated against the initiator's membership, passed as
// reference state.
func authorize(ref *state.Membership, networkID string, participants []party.Party, signers []peer.ID, perms ...state.Permission) error {
	if ref == nil {
		return reject(ReasonReferenceRequired)
	}
	if ref.NetworkID != networkID {
		return reject(ReasonReferenceWrongNet)
	}
	if !ref.IsActive() {
		return reject(ReasonReferenceNotActive)
	}
	if !ref.Roles.HasAll(perms...) {
		return reject(ReasonMissingPermission)
	}
	if !party.Contains(participants, ref.Holder().ID) {
		return reject(ReasonInitiatorNotParty)
	}
	if !party.ContainsKey(signers, ref.Holder().ID) {
		return reject(ReasonInitiatorNotSigner)
	}
	return nil
}
