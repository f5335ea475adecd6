package notary_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/network"
	"github.com/cmwaters/bnms/notary"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

type fixture struct {
	admin *sign.TestSigner
	now   time.Time
}

func newFixture() fixture {
	return fixture{admin: sign.NewTestSigner("admin"), now: time.Now().UTC()}
}

func (f fixture) sign(t *testing.T, transaction tx.Transaction, signers ...sign.Signer) tx.SignedTransaction {
	t.Helper()
	stx := tx.SignedTransaction{Tx: transaction}
	for _, s := range signers {
		sig, err := tx.Sign(context.Background(), s, transaction)
		require.NoError(t, err)
		require.NoError(t, stx.AddSignature(sig))
	}
	return stx
}

func (f fixture) bootstrap(t *testing.T, networkID string) tx.SignedTransaction {
	t.Helper()
	admin := f.admin.Party()
	m := state.Membership{
		LinearID:     state.NewLinearID(),
		NetworkID:    networkID,
		Identity:     state.Identity{Party: admin},
		Status:       state.Active,
		Roles:        state.Roles{state.AdminRole()},
		Issuer:       admin,
		Participants: []party.Party{admin},
		Issued:       f.now,
		Modified:     f.now,
	}
	g := state.Group{
		LinearID:     state.NewLinearID(),
		NetworkID:    networkID,
		Participants: []party.Party{admin},
		Issuer:       admin,
		Issued:       f.now,
		Modified:     f.now,
	}
	return f.sign(t, tx.New(tx.NewCommand(tx.Bootstrap, admin.ID), nil, []state.TransactionState{state.WrapMembership(m), state.WrapGroup(g)}, nil), f.admin)
}

// createGroup issues a group with a caller chosen id, referencing the
// admin's membership from the bootstrap transaction.
func (f fixture) createGroup(t *testing.T, boot tx.SignedTransaction, id state.LinearID, name string) tx.SignedTransaction {
	t.Helper()
	admin := f.admin.Party()
	g := state.Group{
		LinearID:     id,
		NetworkID:    boot.Tx.Outputs[0].Membership.NetworkID,
		Name:         name,
		Participants: []party.Party{admin},
		Issuer:       admin,
		Issued:       f.now,
		Modified:     f.now,
	}
	ref := boot.Tx.OutputsAndRefs()[0]
	return f.sign(t, tx.New(tx.NewCommand(tx.CreateGroup, admin.ID), nil, []state.TransactionState{state.WrapGroup(g)}, []state.StateAndRef{ref}), f.admin)
}

// commit commits stx and checks the notarization it gets back.
func commit(t *testing.T, ctx context.Context, n notary.Notary, stx tx.SignedTransaction) error {
	t.Helper()
	sig, err := n.Commit(ctx, stx)
	if err != nil {
		return err
	}
	stx.Notarization = &sig
	require.NoError(t, stx.VerifyNotarization(n.Identity()))
	return nil
}

func TestMemoryCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	m := metrics.New()
	n := notary.NewMemory(sign.NewTestSigner("notary"), notary.WithMetrics(m), notary.WithLogger(zerolog.Nop()))

	boot := f.bootstrap(t, "network")
	require.NoError(t, commit(t, ctx, n, boot))
	// committing the same transaction again is idempotent
	require.NoError(t, commit(t, ctx, n, boot))

	// a second network with the same id conflicts
	err := commit(t, ctx, n, f.bootstrap(t, "network"))
	require.ErrorIs(t, err, bnerrors.ErrConflict)

	groupID := state.NewLinearID()
	require.NoError(t, commit(t, ctx, n, f.createGroup(t, boot, groupID, "a")))
	err = commit(t, ctx, n, f.createGroup(t, boot, groupID, "b"))
	require.ErrorIs(t, err, bnerrors.ErrConflict)
	require.Equal(t, 2.0, testutil.ToFloat64(m.NotaryConflicts))
}

func TestMemoryDoubleSpend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	n := notary.NewMemory(sign.NewTestSigner("notary"))

	boot := f.bootstrap(t, "network")
	require.NoError(t, commit(t, ctx, n, boot))
	ref := boot.Tx.OutputsAndRefs()[0]
	group := boot.Tx.OutputsAndRefs()[1]

	rename := func(name string) tx.SignedTransaction {
		next := group.State.Group.Update(f.now.Add(time.Second))
		next.Name = name
		return f.sign(t, tx.New(tx.NewCommand(tx.ModifyGroup, f.admin.Party().ID),
			[]state.StateAndRef{group}, []state.TransactionState{state.WrapGroup(next)}, []state.StateAndRef{ref}), f.admin)
	}
	require.NoError(t, commit(t, ctx, n, rename("first")))
	require.ErrorIs(t, commit(t, ctx, n, rename("second")), bnerrors.ErrConflict)
}

func TestMemoryRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	n := notary.NewMemory(sign.NewTestSigner("notary"))

	boot := f.bootstrap(t, "network")
	unsigned := tx.SignedTransaction{Tx: boot.Tx}
	require.ErrorIs(t, commit(t, ctx, n, unsigned), bnerrors.ErrValidation)

	// a reference the notary never committed
	orphan := f.createGroup(t, boot, state.NewLinearID(), "orphan")
	require.ErrorIs(t, commit(t, ctx, n, orphan), bnerrors.ErrNotFound)

	require.NoError(t, commit(t, ctx, n, boot))
	tampered := boot.Tx.OutputsAndRefs()[0]
	m := tampered.State.Membership.Update(f.now)
	m.Identity.Business = state.BusinessIdentity{"lei": "forged"}
	tampered.State = state.WrapMembership(m)
	g := *orphan.Tx.Outputs[0].Group
	g.LinearID = state.NewLinearID()
	forged := f.sign(t, tx.New(tx.NewCommand(tx.CreateGroup, f.admin.Party().ID), nil,
		[]state.TransactionState{state.WrapGroup(g)}, []state.StateAndRef{tampered}), f.admin)
	require.ErrorIs(t, commit(t, ctx, n, forged), bnerrors.ErrValidation)
}

func TestServiceOverLocalNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture()

	signer := sign.NewTestSigner("notary")
	net := network.NewLocalNetwork()
	notary.NewService(notary.NewMemory(signer), zerolog.Nop()).Serve(net.Join("notary"))
	client := notary.NewClient(net.Join("admin"), signer.Party())

	boot := f.bootstrap(t, "network")
	require.NoError(t, commit(t, ctx, client, boot))

	err := commit(t, ctx, client, f.bootstrap(t, "network"))
	require.ErrorIs(t, err, bnerrors.ErrConflict)
	require.Contains(t, bnerrors.Reason(err), "network")
}

func TestClientChecksNotaryKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture()

	net := network.NewLocalNetwork()
	notary.NewService(notary.NewMemory(sign.NewTestSigner("notary")), zerolog.Nop()).Serve(net.Join("notary"))
	impostor := party.New("notary", sign.NewTestSigner("expected").Party().ID)
	client := notary.NewClient(net.Join("admin"), impostor)

	_, err := client.Commit(ctx, f.bootstrap(t, "network"))
	require.ErrorIs(t, err, tx.ErrNotNotarized)
}
