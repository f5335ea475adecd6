// Package vault is a node's local store of live states and finalized
// transactions, backed by badger.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/state"
	"github.com/cmwaters/bnms/tx"
)

const (
	livePrefix  = "live/"
	txPrefix    = "tx/"
	spentPrefix = "spent/"
)

var ErrClosed = errors.New("vault closed")

// Vault holds the latest known version of every linear state the node has a
// copy of, whether as participant or as observer, together with the
// transactions that produced them. A consumed state is removed: its absence
// is how revocation, group exit and request deletion are represented.
type Vault struct {
	db     *badger.DB
	logger zerolog.Logger
	closed atomic.Bool
}

type Option func(*Vault)

func WithLogger(logger zerolog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// Open opens a persistent vault under path.
func Open(path string, opts ...Option) (*Vault, error) {
	if path == "" {
		return nil, errors.New("vault path cannot be empty")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewInMemory opens a vault that lives only as long as the process.
func NewInMemory(opts ...Option) (*Vault, error) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory vault: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

func NewWithDB(db *badger.DB, opts ...Option) *Vault {
	v := &Vault{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) Close() error {
	if v.closed.Swap(true) {
		return nil
	}
	return v.db.Close()
}

func liveKey(kind state.Kind, id state.LinearID) []byte {
	return []byte(livePrefix + string(kind) + "/" + id.String())
}

func txKey(id state.TxID) []byte {
	return []byte(txPrefix + id.String())
}

func spentKey(ref state.StateRef) []byte {
	return []byte(spentPrefix + ref.String())
}

// Record applies a finalized transaction: consumed inputs are removed and
// outputs replace older versions. A consumed input also removes a live
// version that is not newer than it, so a node that missed an update still
// drops a revoked or exited state. Consumed refs are remembered and never
// stored again. Recording the same transaction twice is a no-op. It returns
// the outputs that were stored.
func (v *Vault) Record(_ context.Context, stx tx.SignedTransaction) ([]state.StateAndRef, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	id := stx.ID()
	bz, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction %s: %w", id, err)
	}
	var stored []state.StateAndRef
	err = v.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(txKey(id), bz); err != nil {
			return err
		}
		for _, in := range stx.Tx.Inputs {
			if err := txn.Set(spentKey(in.Ref), id[:]); err != nil {
				return err
			}
			current, err := get(txn, in.State.Kind(), in.State.LinearID())
			if err != nil {
				return err
			}
			if current != nil && (current.Ref == in.Ref || !current.State.Modified().After(in.State.Modified())) {
				if err := txn.Delete(liveKey(in.State.Kind(), in.State.LinearID())); err != nil {
					return err
				}
			}
		}
		for _, out := range stx.Tx.OutputsAndRefs() {
			spent, err := isSpent(txn, out.Ref)
			if err != nil {
				return err
			}
			if spent {
				continue
			}
			ok, err := put(txn, out)
			if err != nil {
				return err
			}
			if ok {
				stored = append(stored, out)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording transaction %s: %w", id, err)
	}
	v.logger.Debug().Stringer("tx", id).Str("command", string(stx.Tx.Command.Tag)).Int("stored", len(stored)).Msg("recorded transaction")
	return stored, nil
}

// Store saves copies of outputs of a finalized transaction received from
// another party, without applying its inputs. The transaction is kept
// alongside so the states can be passed on. An output older than the local
// version, or one already consumed, is ignored. It returns the states that
// were stored.
func (v *Vault) Store(_ context.Context, stx tx.SignedTransaction, indexes ...int) ([]state.StateAndRef, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	id := stx.ID()
	outputs := stx.Tx.OutputsAndRefs()
	for _, i := range indexes {
		if i < 0 || i >= len(outputs) {
			return nil, fmt.Errorf("transaction %s has no output %d", id, i)
		}
		if err := outputs[i].State.Validate(); err != nil {
			return nil, err
		}
	}
	bz, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction %s: %w", id, err)
	}
	var stored []state.StateAndRef
	err = v.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(txKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(txKey(id), bz); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		for _, i := range indexes {
			s := outputs[i]
			spent, err := isSpent(txn, s.Ref)
			if err != nil {
				return err
			}
			if spent {
				continue
			}
			ok, err := put(txn, s)
			if err != nil {
				return err
			}
			if ok {
				stored = append(stored, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing outputs of %s: %w", id, err)
	}
	return stored, nil
}

func isSpent(txn *badger.Txn, ref state.StateRef) (bool, error) {
	_, err := txn.Get(spentKey(ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// put writes s unless a strictly newer version is already held.
func put(txn *badger.Txn, s state.StateAndRef) (bool, error) {
	kind, id := s.State.Kind(), s.State.LinearID()
	current, err := get(txn, kind, id)
	if err != nil {
		return false, err
	}
	if current != nil && current.State.Modified().After(s.State.Modified()) {
		return false, nil
	}
	bz, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	return true, txn.Set(liveKey(kind, id), bz)
}

func get(txn *badger.Txn, kind state.Kind, id state.LinearID) (*state.StateAndRef, error) {
	item, err := txn.Get(liveKey(kind, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s state.StateAndRef
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Consumed reports whether a recorded transaction consumed the state at ref.
func (v *Vault) Consumed(_ context.Context, ref state.StateRef) (bool, error) {
	if v.closed.Load() {
		return false, ErrClosed
	}
	var spent bool
	err := v.db.View(func(txn *badger.Txn) error {
		var err error
		spent, err = isSpent(txn, ref)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("vault consumed %s: %w", ref, err)
	}
	return spent, nil
}

// Get returns the live version of a state, or nil if none is held.
func (v *Vault) Get(_ context.Context, kind state.Kind, id state.LinearID) (*state.StateAndRef, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	var s *state.StateAndRef
	err := v.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = get(txn, kind, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vault get %s %s: %w", kind, id, err)
	}
	return s, nil
}

// List returns every live state of a kind accepted by filter. A nil filter
// accepts everything.
func (v *Vault) List(_ context.Context, kind state.Kind, filter func(state.StateAndRef) bool) ([]state.StateAndRef, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	prefix := []byte(livePrefix + string(kind) + "/")
	var out []state.StateAndRef
	err := v.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s state.StateAndRef
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			if filter == nil || filter(s) {
				out = append(out, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault list %s: %w", kind, err)
	}
	return out, nil
}

// Transaction returns a recorded transaction, or nil if unknown.
func (v *Vault) Transaction(_ context.Context, id state.TxID) (*tx.SignedTransaction, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	var stx *tx.SignedTransaction
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stx = new(tx.SignedTransaction)
			return json.Unmarshal(val, stx)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vault transaction %s: %w", id, err)
	}
	return stx, nil
}
