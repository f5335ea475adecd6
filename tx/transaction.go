// Package tx defines the transactions that carry state transitions between
// the parties of a business network, their identifiers and their signatures.
package tx

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/state"
)

// Transaction consumes its inputs and creates its outputs. References are
// read but not consumed. Signers is the set of keys the transaction is
// signed by; validators require it to equal the command's declared signers.
type Transaction struct {
	Inputs     []state.StateAndRef      `json:"inputs,omitempty"`
	Outputs    []state.TransactionState `json:"outputs,omitempty"`
	References []state.StateAndRef      `json:"references,omitempty"`
	Command    Command                  `json:"command"`
	Signers    []peer.ID                `json:"signers"`
}

// New builds a transaction to be signed by exactly the command's declared
// signers.
func New(cmd Command, inputs []state.StateAndRef, outputs []state.TransactionState, references []state.StateAndRef) Transaction {
	return Transaction{
		Inputs:     inputs,
		Outputs:    outputs,
		References: references,
		Command:    cmd,
		Signers:    party.SortKeys(append([]peer.ID(nil), cmd.RequiredSigners...)),
	}
}

// ID is the sha256 of the transaction's JSON encoding. Struct fields encode
// in declaration order and maps with sorted keys, so every node derives the
// same id.
func (t Transaction) ID() state.TxID {
	bz, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("encoding transaction: %v", err))
	}
	return sha256.Sum256(bz)
}

// OutputRef returns the reference of the i'th output once committed.
func (t Transaction) OutputRef(i int) state.StateRef {
	return state.StateRef{TxID: t.ID(), Index: i}
}

// OutputsAndRefs pairs every output with its reference.
func (t Transaction) OutputsAndRefs() []state.StateAndRef {
	id := t.ID()
	out := make([]state.StateAndRef, len(t.Outputs))
	for i, s := range t.Outputs {
		out[i] = state.StateAndRef{State: s, Ref: state.StateRef{TxID: id, Index: i}}
	}
	return out
}

// Participants returns every party holding an input or an output of the
// transaction, deduplicated.
func (t Transaction) Participants() []party.Party {
	var all []party.Party
	for _, in := range t.Inputs {
		all = append(all, in.State.Participants()...)
	}
	for _, out := range t.Outputs {
		all = append(all, out.Participants()...)
	}
	return party.Dedup(all)
}

const (
	signatureDomain    byte = 0x01
	notarizationDomain byte = 0x02
)

// SignBytes is the message every signer signs: a domain byte followed by
// the transaction id.
func SignBytes(id state.TxID) []byte {
	msg := make([]byte, 0, 1+len(id))
	msg = append(msg, signatureDomain)
	return append(msg, id[:]...)
}

type Signature struct {
	Signer peer.ID `json:"signer"`
	Bytes  []byte  `json:"bytes"`
}

// NotarizeBytes is the message the notary signs once it has committed the
// transaction. It differs from SignBytes so a party's signature can never
// stand in for a notarization.
func NotarizeBytes(id state.TxID) []byte {
	msg := make([]byte, 0, 1+len(id))
	msg = append(msg, notarizationDomain)
	return append(msg, id[:]...)
}

// Sign produces the signer's signature over the transaction.
func Sign(ctx context.Context, signer sign.Signer, t Transaction) (Signature, error) {
	sig, err := signer.Sign(ctx, SignBytes(t.ID()))
	if err != nil {
		return Signature{}, err
	}
	return Signature{Signer: signer.Party().ID, Bytes: sig}, nil
}

// Notarize produces the notary's attestation that the transaction was
// committed.
func Notarize(ctx context.Context, notary sign.Signer, t Transaction) (Signature, error) {
	sig, err := notary.Sign(ctx, NotarizeBytes(t.ID()))
	if err != nil {
		return Signature{}, err
	}
	return Signature{Signer: notary.Party().ID, Bytes: sig}, nil
}

// SignedTransaction is a transaction with the signatures collected so far.
// Notarization is set once the notary has committed it.
type SignedTransaction struct {
	Tx           Transaction `json:"tx"`
	Signatures   []Signature `json:"signatures"`
	Notarization *Signature  `json:"notarization,omitempty"`
}

func (s SignedTransaction) ID() state.TxID {
	return s.Tx.ID()
}

var (
	ErrUnexpectedSigner = errors.New("signature from a key that is not a signer of the transaction")
	ErrMissingSignature = errors.New("transaction is missing signatures")
	ErrNotNotarized     = errors.New("transaction is not notarized")
)

// Verify checks a single signature against the transaction.
func (s SignedTransaction) Verify(sig Signature) error {
	if !party.ContainsKey(s.Tx.Signers, sig.Signer) {
		return fmt.Errorf("%w: %s", ErrUnexpectedSigner, sig.Signer)
	}
	return party.Verify(sig.Signer, SignBytes(s.ID()), sig.Bytes)
}

// AddSignature verifies and appends sig, replacing a previous signature by
// the same key.
func (s *SignedTransaction) AddSignature(sig Signature) error {
	if err := s.Verify(sig); err != nil {
		return err
	}
	for i, existing := range s.Signatures {
		if existing.Signer == sig.Signer {
			s.Signatures[i] = sig
			return nil
		}
	}
	s.Signatures = append(s.Signatures, sig)
	return nil
}

// SignedBy returns the keys that have a signature attached, sorted.
func (s SignedTransaction) SignedBy() []peer.ID {
	keys := make([]peer.ID, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		keys = append(keys, sig.Signer)
	}
	return party.SortKeys(keys)
}

// MissingSigners returns the signers that have not yet signed.
func (s SignedTransaction) MissingSigners() []peer.ID {
	var missing []peer.ID
	signed := s.SignedBy()
	for _, k := range s.Tx.Signers {
		if !party.ContainsKey(signed, k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// VerifySignatures checks every attached signature and, unless partial is
// set, that no signer is missing.
func (s SignedTransaction) VerifySignatures(partial bool) error {
	for _, sig := range s.Signatures {
		if err := s.Verify(sig); err != nil {
			return err
		}
	}
	if partial {
		return nil
	}
	if missing := s.MissingSigners(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingSignature, missing)
	}
	return nil
}

// VerifyNotarization checks that the transaction carries a valid
// notarization by the given notary key.
func (s SignedTransaction) VerifyNotarization(notary peer.ID) error {
	if s.Notarization == nil {
		return ErrNotNotarized
	}
	if s.Notarization.Signer != notary {
		return fmt.Errorf("%w: notarized by %s, expected %s", ErrNotNotarized, s.Notarization.Signer, notary)
	}
	return party.Verify(notary, NotarizeBytes(s.ID()), s.Notarization.Bytes)
}
