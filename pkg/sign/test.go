package sign

import (
	"context"
	"crypto/rand"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// TestSigner wraps a freshly generated key and can be told to refuse signing,
// which is how tests model a counterparty declining a transaction.
type TestSigner struct {
	*KeySigner
	refuse atomic.Bool
}

func NewTestSigner(name string) *TestSigner {
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	s, err := NewKeySigner(name, key)
	if err != nil {
		panic(err)
	}
	return &TestSigner{KeySigner: s}
}

func (s *TestSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if s.refuse.Load() {
		return nil, ErrRefused
	}
	return s.KeySigner.Sign(ctx, msg)
}

// Refuse toggles whether the signer declines every subsequent request.
func (s *TestSigner) Refuse(refuse bool) {
	s.refuse.Store(refuse)
}
