package state

import (
	"time"

	"github.com/cmwaters/bnms/pkg/party"
)

// Group is a visibility group inside a business network: every participant
// receives every membership of the other participants.
type Group struct {
	LinearID     LinearID      `json:"linear_id"`
	NetworkID    string        `json:"network_id"`
	Name         string        `json:"name,omitempty"`
	Participants []party.Party `json:"participants"`
	Issuer       party.Party   `json:"issuer"`
	Issued       time.Time     `json:"issued"`
	Modified     time.Time     `json:"modified"`
}

func (g Group) Update(now time.Time) Group {
	next := g
	next.Participants = append([]party.Party(nil), g.Participants...)
	next.Modified = now
	return next
}
