package sign

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cmwaters/bnms/pkg/party"
)

// Signer is a service that securely manages a node's private key and signs
// transaction ids on behalf of the node's network identity.
//
// Make sure the key type is ed25519 so that counterparties can recover the
// public key from the party id alone.
type Signer interface {
	// Party returns the network identity the signer signs for. This must
	// always return the same value for the lifetime of the signer.
	Party() party.Party

	Sign(ctx context.Context, msg []byte) ([]byte, error)
}

var _ Signer = (*KeySigner)(nil)

// KeySigner signs with an in-process libp2p private key.
type KeySigner struct {
	name string
	id   peer.ID
	key  crypto.PrivKey
}

func NewKeySigner(name string, key crypto.PrivKey) (*KeySigner, error) {
	if key.Type() != crypto.Ed25519 {
		return nil, fmt.Errorf("unsupported key type %s, expected ed25519", key.Type())
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &KeySigner{name: name, id: id, key: key}, nil
}

func (s *KeySigner) Party() party.Party {
	return party.New(s.name, s.id)
}

func (s *KeySigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.key.Sign(msg)
}

// PrivKey exposes the key so that the same identity can be used for the
// libp2p host.
func (s *KeySigner) PrivKey() crypto.PrivKey {
	return s.key
}

// LoadOrCreateKey reads a marshalled private key from path, generating and
// persisting a fresh ed25519 key if the file does not exist yet.
func LoadOrCreateKey(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err = crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, nil
}
