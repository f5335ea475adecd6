package state

import (
	"time"

	"github.com/cmwaters/bnms/pkg/party"
)

type Status string

const (
	Pending   Status = "PENDING"
	Active    Status = "ACTIVE"
	Suspended Status = "SUSPENDED"
)

// BusinessIdentity is the opaque, application defined payload attached to a
// member's network identity.
type BusinessIdentity map[string]string

func (b BusinessIdentity) Equal(other BusinessIdentity) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		if w, ok := other[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (b BusinessIdentity) Clone() BusinessIdentity {
	if b == nil {
		return nil
	}
	out := make(BusinessIdentity, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Identity is the holder of a membership.
type Identity struct {
	Party    party.Party      `json:"party"`
	Business BusinessIdentity `json:"business,omitempty"`
}

// Membership records a party's admission to a business network. Revoked
// memberships are not represented: revoking consumes the state.
type Membership struct {
	LinearID     LinearID      `json:"linear_id"`
	NetworkID    string        `json:"network_id"`
	Identity     Identity      `json:"identity"`
	Status       Status        `json:"status"`
	Roles        Roles         `json:"roles"`
	Issuer       party.Party   `json:"issuer"`
	Participants []party.Party `json:"participants"`
	Issued       time.Time     `json:"issued"`
	Modified     time.Time     `json:"modified"`
}

func (m Membership) Holder() party.Party {
	return m.Identity.Party
}

func (m Membership) IsPending() bool   { return m.Status == Pending }
func (m Membership) IsActive() bool    { return m.Status == Active }
func (m Membership) IsSuspended() bool { return m.Status == Suspended }

func (m Membership) CanModifyMembership() bool {
	return m.Roles.CanModifyMembership()
}

// Update returns a copy stamped with a new modified time. The role set,
// business identity and participants are cloned so the copy can be changed
// without touching the receiver.
func (m Membership) Update(now time.Time) Membership {
	next := m
	next.Roles = append(Roles(nil), m.Roles...)
	next.Identity.Business = m.Identity.Business.Clone()
	next.Participants = append([]party.Party(nil), m.Participants...)
	next.Modified = now
	return next
}
