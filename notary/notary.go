// Package notary is the uniqueness service that finally commits
// transactions. It guarantees that a state is consumed at most once and
// that a linear id or network id is issued at most once.
package notary

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/contract"
	"github.com/cmwaters/bnms/metrics"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

// Notary commits fully signed transactions. Of two transactions consuming
// the same state only the first to arrive commits; the other fails with a
// conflict error.
//
// A committed transaction is attested by the notary's signature. Parties
// only accept transactions and states carrying it.
type Notary interface {
	Commit(context.Context, tx.SignedTransaction) (tx.Signature, error)
	// Identity is the key the notary signs with.
	Identity() peer.ID
}

var _ Notary = (*Memory)(nil)

// Memory is a validating notary keeping its ledger in memory. Besides
// uniqueness it checks signatures, runs the contracts and checks that the
// inputs and references are the committed versions.
type Memory struct {
	signer  sign.Signer
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mtx       sync.Mutex
	committed map[state.TxID]struct{}
	// unspent holds the canonical encoding of every live output.
	unspent  map[state.StateRef][]byte
	consumed map[state.StateRef]state.TxID
	issued   map[state.LinearID]state.TxID
	networks map[string]state.TxID
}

type Option func(*Memory)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Memory) {
		m.metrics = mt
	}
}

func NewMemory(signer sign.Signer, opts ...Option) *Memory {
	m := &Memory{
		signer:    signer,
		logger:    zerolog.Nop(),
		committed: make(map[state.TxID]struct{}),
		unspent:   make(map[state.StateRef][]byte),
		consumed:  make(map[state.StateRef]state.TxID),
		issued:    make(map[state.LinearID]state.TxID),
		networks:  make(map[string]state.TxID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Identity() peer.ID {
	return m.signer.Party().ID
}

func (m *Memory) Commit(ctx context.Context, stx tx.SignedTransaction) (tx.Signature, error) {
	id := stx.ID()
	if err := stx.VerifySignatures(false); err != nil {
		return tx.Signature{}, bnerrors.Wrap(bnerrors.KindValidation, err, "transaction %s is not fully signed", id)
	}
	if err := contract.Verify(stx.Tx); err != nil {
		return tx.Signature{}, err
	}
	if err := m.commit(stx); err != nil {
		return tx.Signature{}, err
	}
	return tx.Notarize(ctx, m.signer, stx.Tx)
}

// commit applies the transaction to the ledger. Committing the same
// transaction again is a no-op.
func (m *Memory) commit(stx tx.SignedTransaction) error {
	id := stx.ID()
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.committed[id]; ok {
		return nil
	}

	if err := m.checkInputs(stx.Tx); err != nil {
		m.logger.Info().Err(err).Stringer("tx", id).Msg("rejected commit")
		if bnerrors.KindOf(err) == bnerrors.KindConflict {
			m.metrics.ObserveConflict()
		}
		return err
	}

	for _, in := range stx.Tx.Inputs {
		m.consumed[in.Ref] = id
		delete(m.unspent, in.Ref)
	}
	for _, out := range stx.Tx.OutputsAndRefs() {
		bz, _ := json.Marshal(out.State)
		m.unspent[out.Ref] = bz
		if _, ok := m.issued[out.State.LinearID()]; !ok {
			m.issued[out.State.LinearID()] = id
		}
	}
	if stx.Tx.Command.Tag == tx.Bootstrap {
		for _, out := range stx.Tx.Outputs {
			if out.Membership != nil {
				m.networks[out.Membership.NetworkID] = id
			}
		}
	}
	m.committed[id] = struct{}{}
	m.logger.Debug().Stringer("tx", id).Str("command", string(stx.Tx.Command.Tag)).Msg("committed")
	return nil
}

func (m *Memory) checkInputs(t tx.Transaction) error {
	check := func(s state.StateAndRef) error {
		if by, ok := m.consumed[s.Ref]; ok {
			return bnerrors.Conflict("state %s was consumed by %s", s.Ref, by)
		}
		committed, ok := m.unspent[s.Ref]
		if !ok {
			return bnerrors.NotFound("state %s is unknown to the notary", s.Ref)
		}
		bz, err := json.Marshal(s.State)
		if err != nil {
			return err
		}
		if string(bz) != string(committed) {
			return bnerrors.New(bnerrors.KindValidation, "state %s does not match the committed version", s.Ref)
		}
		return nil
	}
	evolving := make(map[state.LinearID]struct{})
	for _, in := range t.Inputs {
		if err := check(in); err != nil {
			return err
		}
		evolving[in.State.LinearID()] = struct{}{}
	}
	for _, ref := range t.References {
		if err := check(ref); err != nil {
			return err
		}
	}
	for _, out := range t.Outputs {
		if _, ok := evolving[out.LinearID()]; ok {
			continue
		}
		if by, ok := m.issued[out.LinearID()]; ok {
			return bnerrors.Conflict("linear id %s was already issued by %s", out.LinearID(), by)
		}
	}
	if t.Command.Tag == tx.Bootstrap {
		for _, out := range t.Outputs {
			if out.Membership == nil {
				continue
			}
			if by, ok := m.networks[out.Membership.NetworkID]; ok {
				return bnerrors.Conflict("network %q was already created by %s", out.Membership.NetworkID, by)
			}
		}
	}
	return nil
}
