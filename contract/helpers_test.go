package contract_test

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/contract"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

const testNetwork = "MyBusinessNetwork"

type fixture struct {
	now                  time.Time
	admin, admin2, alice party.Party
}

func newFixture() fixture {
	return fixture{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		admin:  sign.NewTestSigner("admin").Party(),
		admin2: sign.NewTestSigner("admin2").Party(),
		alice:  sign.NewTestSigner("alice").Party(),
	}
}

func (f fixture) membership(holder party.Party, status state.Status, roles state.Roles, participants ...party.Party) state.Membership {
	return state.Membership{
		LinearID:     state.NewLinearID(),
		NetworkID:    testNetwork,
		Identity:     state.Identity{Party: holder},
		Status:       status,
		Roles:        roles,
		Issuer:       holder,
		Participants: participants,
		Issued:       f.now,
		Modified:     f.now,
	}
}

// adminMembership is the initiator's reference state.
func (f fixture) adminMembership() state.Membership {
	return f.membership(f.admin, state.Active, state.Roles{state.AdminRole()}, f.admin)
}

func (f fixture) group(participants ...party.Party) state.Group {
	return state.Group{
		LinearID:     state.NewLinearID(),
		NetworkID:    testNetwork,
		Name:         "group",
		Participants: participants,
		Issuer:       f.admin,
		Issued:       f.now,
		Modified:     f.now,
	}
}

func (f fixture) later() time.Time {
	return f.now.Add(time.Minute)
}

func committed(s state.TransactionState) state.StateAndRef {
	var id state.TxID
	_, _ = rand.Read(id[:])
	return state.StateAndRef{State: s, Ref: state.StateRef{TxID: id}}
}

func refs(states ...state.TransactionState) []state.StateAndRef {
	out := make([]state.StateAndRef, len(states))
	for i, s := range states {
		out[i] = committed(s)
	}
	return out
}

func outs(states ...state.TransactionState) []state.TransactionState {
	return states
}

func build(tag tx.Tag, signers []peer.ID, inputs []state.StateAndRef, outputs []state.TransactionState, references []state.StateAndRef) tx.Transaction {
	return tx.New(tx.NewCommand(tag, signers...), inputs, outputs, references)
}

func keys(parties ...party.Party) []peer.ID {
	return party.Keys(parties)
}

func requireReason(t *testing.T, reason string, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, bnerrors.ErrValidation)
	require.Equal(t, reason, bnerrors.Reason(err))
}

func requireValid(t *testing.T, transaction tx.Transaction) {
	t.Helper()
	require.NoError(t, contract.Verify(transaction))
}
