package state

import (
	"time"

	"github.com/cmwaters/bnms/pkg/party"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestDeclined RequestStatus = "DECLINED"
)

// ChangeRequest is a member's proposal to change the roles or business
// identity of a membership. Proposed roles overwrite the whole role set; a
// nil pointer means no change to roles was proposed.
type ChangeRequest struct {
	LinearID                 LinearID         `json:"linear_id"`
	NetworkID                string           `json:"network_id"`
	MembershipID             LinearID         `json:"membership_id"`
	Status                   RequestStatus    `json:"status"`
	ProposedRoles            *Roles           `json:"proposed_roles,omitempty"`
	ProposedBusinessIdentity BusinessIdentity `json:"proposed_business_identity,omitempty"`
	Participants             []party.Party    `json:"participants"`
	Issued                   time.Time        `json:"issued"`
	Modified                 time.Time        `json:"modified"`
}

func (r ChangeRequest) ProposesRoles() bool {
	return r.ProposedRoles != nil
}

func (r ChangeRequest) ProposesBusinessIdentity() bool {
	return len(r.ProposedBusinessIdentity) > 0
}

// RequiredPermissions returns the permissions an authority needs to approve
// or decline the request.
func (r ChangeRequest) RequiredPermissions() []Permission {
	var perms []Permission
	if r.ProposesRoles() {
		perms = append(perms, ModifyRoles)
	}
	if r.ProposesBusinessIdentity() {
		perms = append(perms, ModifyBusinessIdentity)
	}
	return perms
}

// SameProposal compares the proposed changes of two versions.
func (r ChangeRequest) SameProposal(other ChangeRequest) bool {
	if r.ProposesRoles() != other.ProposesRoles() {
		return false
	}
	if r.ProposesRoles() && !r.ProposedRoles.Equal(*other.ProposedRoles) {
		return false
	}
	return r.ProposedBusinessIdentity.Equal(other.ProposedBusinessIdentity)
}

func (r ChangeRequest) Update(now time.Time) ChangeRequest {
	next := r
	next.Participants = append([]party.Party(nil), r.Participants...)
	next.Modified = now
	return next
}
