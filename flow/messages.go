package flow

import (
	"github.com/cmwaters/bnms/network"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

const (
	proposeType           network.MessageType = "flow/propose"
	signatureType         network.MessageType = "flow/signature"
	rejectType            network.MessageType = "flow/reject"
	finalityType          network.MessageType = "flow/finality"
	syncType              network.MessageType = "flow/sync"
	ackType               network.MessageType = "flow/ack"
	membershipRequestType network.MessageType = "flow/membership-request"
	membershipResultType  network.MessageType = "flow/membership-result"
)

// proposal asks a counterparty to countersign a transaction on behalf of a
// named flow.
type proposal struct {
	Flow string               `json:"flow"`
	Tx   tx.SignedTransaction `json:"tx"`
}

// rejection carries a failure back to the other side of a session.
type rejection struct {
	Kind    bnerrors.Kind `json:"kind"`
	Message string        `json:"message"`
}

func newRejection(err error) rejection {
	if kind := bnerrors.KindOf(err); kind != 0 {
		return rejection{Kind: kind, Message: bnerrors.Reason(err)}
	}
	return rejection{Kind: bnerrors.KindRejected, Message: err.Error()}
}

func (r rejection) err(counterparty string) error {
	return &bnerrors.Error{Kind: r.Kind, Message: r.Message + " (from " + counterparty + ")"}
}

// syncPush carries committed transactions and the indexes of their outputs
// the receiver should hold.
type syncPush struct {
	Txs []syncedTx `json:"txs"`
}

type syncedTx struct {
	Tx      tx.SignedTransaction `json:"tx"`
	Outputs []int                `json:"outputs"`
}

type membershipRequest struct {
	NetworkID string                 `json:"network_id"`
	Party     party.Party            `json:"party"`
	Business  state.BusinessIdentity `json:"business,omitempty"`
}

type membershipResult struct {
	Tx        *tx.SignedTransaction `json:"tx,omitempty"`
	Rejection *rejection            `json:"rejection,omitempty"`
}
