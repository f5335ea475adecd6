package contract

import (
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func requestHeader(r *state.ChangeRequest) *header {
	if r == nil {
		return nil
	}
	return &header{linearID: r.LinearID, networkID: r.NetworkID, issued: r.Issued, modified: r.Modified}
}

func verifyChangeRequest(t tx.Transaction) error {
	in, out, err := single(t, state.ChangeRequestContract, state.KindChangeRequest)
	if err != nil {
		return err
	}
	var input, output *state.ChangeRequest
	if in != nil {
		input = in.ChangeRequest
	}
	if out != nil {
		output = out.ChangeRequest
	}
	if err := checkHeaders(requestHeader(input), requestHeader(output)); err != nil {
		return err
	}
	if input != nil && output != nil && input.MembershipID != output.MembershipID {
		return reject(ReasonMembershipIDChanged)
	}
	subject := output
	if subject == nil {
		subject = input
	}
	ref, err := reference(t, subject.NetworkID)
	if err != nil {
		return err
	}
	signers := t.Command.RequiredSigners
	if err := signersParticipate(signers, subject.Participants); err != nil {
		return err
	}

	switch t.Command.Tag {
	case tx.RequestChange:
		if input != nil {
			return reject(ReasonNoInputExpected)
		}
		if output.Status != state.RequestPending {
			return reject(ReasonRequestNotPending)
		}
		if !output.ProposesRoles() && !output.ProposesBusinessIdentity() {
			return reject(ReasonRequestEmpty)
		}
		return nil

	case tx.ApproveChange, tx.DeclineChange:
		if input == nil {
			return reject(ReasonInputExpected)
		}
		if output == nil {
			return reject(ReasonOutputExpected)
		}
		if input.Status != state.RequestPending {
			return reject(ReasonRequestNotPending)
		}
		if t.Command.Tag == tx.ApproveChange && output.Status != state.RequestApproved {
			return reject(ReasonRequestNotApproved)
		}
		if t.Command.Tag == tx.DeclineChange && output.Status != state.RequestDeclined {
			return reject(ReasonRequestNotDeclined)
		}
		if !input.SameProposal(*output) {
			return reject(ReasonRequestProposalEdit)
		}
		if !party.EqualSets(input.Participants, output.Participants) {
			return reject(ReasonParticipantsChanged)
		}
		return authorize(ref, subject.NetworkID, subject.Participants, signers, output.RequiredPermissions()...)

	case tx.DeleteChange:
		if input == nil {
			return reject(ReasonInputExpected)
		}
		if output != nil {
			return reject(ReasonNoOutputExpect)
		}
		return nil

	default:
		return reject(ReasonUnknownCommand)
	}
}
