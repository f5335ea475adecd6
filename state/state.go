// Package state holds the data model of a business network: memberships,
// groups and change requests, plus the envelope that carries them through
// transactions.
package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cmwaters/bnms/pkg/party"
)

// LinearID is stable across every version of one logical entity.
type LinearID = uuid.UUID

func NewLinearID() LinearID {
	return uuid.New()
}

func ParseLinearID(s string) (LinearID, error) {
	return uuid.Parse(s)
}

// Contract identifiers. A transaction state names the contract that
// validates it.
const (
	MembershipContract    = "bnms.MembershipContract"
	GroupContract         = "bnms.GroupContract"
	ChangeRequestContract = "bnms.ChangeRequestContract"
)

// Kind distinguishes the three state types.
type Kind string

const (
	KindMembership    Kind = "membership"
	KindGroup         Kind = "group"
	KindChangeRequest Kind = "change-request"
)

// TransactionState wraps exactly one of the three state types together with
// the contract it belongs to.
type TransactionState struct {
	Contract      string         `json:"contract"`
	Membership    *Membership    `json:"membership,omitempty"`
	Group         *Group         `json:"group,omitempty"`
	ChangeRequest *ChangeRequest `json:"change_request,omitempty"`
}

func WrapMembership(m Membership) TransactionState {
	return TransactionState{Contract: MembershipContract, Membership: &m}
}

func WrapGroup(g Group) TransactionState {
	return TransactionState{Contract: GroupContract, Group: &g}
}

func WrapChangeRequest(r ChangeRequest) TransactionState {
	return TransactionState{Contract: ChangeRequestContract, ChangeRequest: &r}
}

func (s TransactionState) Kind() Kind {
	switch {
	case s.Membership != nil:
		return KindMembership
	case s.Group != nil:
		return KindGroup
	case s.ChangeRequest != nil:
		return KindChangeRequest
	default:
		return ""
	}
}

func (s TransactionState) LinearID() LinearID {
	switch {
	case s.Membership != nil:
		return s.Membership.LinearID
	case s.Group != nil:
		return s.Group.LinearID
	case s.ChangeRequest != nil:
		return s.ChangeRequest.LinearID
	default:
		return uuid.Nil
	}
}

func (s TransactionState) NetworkID() string {
	switch {
	case s.Membership != nil:
		return s.Membership.NetworkID
	case s.Group != nil:
		return s.Group.NetworkID
	case s.ChangeRequest != nil:
		return s.ChangeRequest.NetworkID
	default:
		return ""
	}
}

func (s TransactionState) Participants() []party.Party {
	switch {
	case s.Membership != nil:
		return s.Membership.Participants
	case s.Group != nil:
		return s.Group.Participants
	case s.ChangeRequest != nil:
		return s.ChangeRequest.Participants
	default:
		return nil
	}
}

func (s TransactionState) Modified() time.Time {
	switch {
	case s.Membership != nil:
		return s.Membership.Modified
	case s.Group != nil:
		return s.Group.Modified
	case s.ChangeRequest != nil:
		return s.ChangeRequest.Modified
	default:
		return time.Time{}
	}
}

// Validate checks the envelope holds exactly one state.
func (s TransactionState) Validate() error {
	n := 0
	if s.Membership != nil {
		n++
	}
	if s.Group != nil {
		n++
	}
	if s.ChangeRequest != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("transaction state must hold exactly one state, got %d", n)
	}
	return nil
}

// TxID identifies a transaction: the sha256 of its canonical encoding.
type TxID [32]byte

func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

func (id TxID) IsZero() bool {
	return id == TxID{}
}

func (id TxID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TxID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(id) {
		return errors.New("invalid transaction id length")
	}
	copy(id[:], b)
	return nil
}

// StateRef points at one output of a committed transaction.
type StateRef struct {
	TxID  TxID `json:"tx_id"`
	Index int  `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s(%d)", r.TxID, r.Index)
}

// StateAndRef is a resolved state together with where it was created.
type StateAndRef struct {
	State TransactionState `json:"state"`
	Ref   StateRef         `json:"ref"`
}
