package tx

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
)

// Tag names the state transition a transaction performs. Together with the
// declared required signers it is the contract between the initiator and
// every responder.
type Tag string

const (
	// Bootstrap jointly issues the founding membership and group of a
	// network.
	Bootstrap Tag = "Bootstrap"

	RequestMembership     Tag = "RequestMembership"
	ActivateMembership    Tag = "ActivateMembership"
	OnboardMembership     Tag = "OnboardMembership"
	SuspendMembership     Tag = "SuspendMembership"
	RevokeMembership      Tag = "RevokeMembership"
	ModifyRoles           Tag = "ModifyRoles"
	ModifyNetworkIdentity Tag = "ModifyNetworkIdentity"
	ModifyBusinessID      Tag = "ModifyBusinessIdentity"
	ModifyParticipants    Tag = "ModifyParticipants"

	CreateGroup Tag = "CreateGroup"
	ModifyGroup Tag = "ModifyGroup"
	ExitGroup   Tag = "ExitGroup"

	RequestChange Tag = "RequestChange"
	ApproveChange Tag = "ApproveChange"
	DeclineChange Tag = "DeclineChange"
	DeleteChange  Tag = "DeleteChange"
)

// Contract returns the identifier of the contract validating the tag, or
// the empty string for an unknown tag. Bootstrap belongs to the membership
// contract.
func (t Tag) Contract() string {
	switch t {
	case Bootstrap, RequestMembership, ActivateMembership, OnboardMembership,
		SuspendMembership, RevokeMembership, ModifyRoles, ModifyNetworkIdentity,
		ModifyBusinessID, ModifyParticipants:
		return state.MembershipContract
	case CreateGroup, ModifyGroup, ExitGroup:
		return state.GroupContract
	case RequestChange, ApproveChange, DeclineChange, DeleteChange:
		return state.ChangeRequestContract
	default:
		return ""
	}
}

// Command is the declared intent of a transaction.
type Command struct {
	Tag             Tag       `json:"tag"`
	RequiredSigners []peer.ID `json:"required_signers"`
}

func NewCommand(tag Tag, signers ...peer.ID) Command {
	return Command{Tag: tag, RequiredSigners: party.SortKeys(append([]peer.ID(nil), signers...))}
}
