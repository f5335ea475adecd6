package contract

import (
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

func groupHeader(g *state.Group) *header {
	if g == nil {
		return nil
	}
	return &header{linearID: g.LinearID, networkID: g.NetworkID, issuer: g.Issuer, issued: g.Issued, modified: g.Modified}
}

func verifyGroup(t tx.Transaction) error {
	in, out, err := single(t, state.GroupContract, state.KindGroup)
	if err != nil {
		return err
	}
	var input, output *state.Group
	if in != nil {
		input = in.Group
	}
	if out != nil {
		output = out.Group
	}
	if err := checkHeaders(groupHeader(input), groupHeader(output)); err != nil {
		return err
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
	case tx.CreateGroup:
		if input != nil {
			return reject(ReasonNoInputExpected)
		}
	case tx.ModifyGroup:
		if input == nil {
			return reject(ReasonInputExpected)
		}
		if output == nil {
			return reject(ReasonOutputExpected)
		}
		if input.Name == output.Name && party.EqualSets(input.Participants, output.Participants) {
			return reject(ReasonGroupUnchanged)
		}
	case tx.ExitGroup:
		if input == nil {
			return reject(ReasonInputExpected)
		}
		if output != nil {
			return reject(ReasonNoOutputExpect)
		}
	default:
		return reject(ReasonUnknownCommand)
	}
	return authorize(ref, subject.NetworkID, subject.Participants, signers, state.ModifyGroups)
}
