// Package party describes the network identities that hold, sign and
// exchange business network states.
package party

import (
	"errors"
	"fmt"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Party is a network identity: a human readable name paired with the peer
// id of the key that signs on its behalf. The peer id doubles as the
// transport address. Only ed25519 keys are used, so the public key is
// always recoverable from the id.
type Party struct {
	Name string  `json:"name"`
	ID   peer.ID `json:"id"`
}

func New(name string, id peer.ID) Party {
	return Party{Name: name, ID: id}
}

func (p Party) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, p.ID.ShortString())
}

// Verify checks that sig is a valid signature of msg by the party's key.
func (p Party) Verify(msg, sig []byte) error {
	return Verify(p.ID, msg, sig)
}

// Verify checks a signature against the key embedded in id.
func Verify(id peer.ID, msg, sig []byte) error {
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("extracting public key of %s: %w", id, err)
	}
	ok, err := pub.Verify(msg, sig)
	if err != nil {
		return fmt.Errorf("verifying signature of %s: %w", id, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

var ErrInvalidSignature = errors.New("invalid signature")

// Keys returns the sorted, de-duplicated set of ids of the given parties.
func Keys(parties []Party) []peer.ID {
	keys := make([]peer.ID, 0, len(parties))
	for _, p := range parties {
		keys = append(keys, p.ID)
	}
	return SortKeys(keys)
}

// SortKeys sorts ids in place, removes duplicates and returns the result.
func SortKeys(keys []peer.ID) []peer.ID {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ContainsKey reports whether id is one of keys.
func ContainsKey(keys []peer.ID, id peer.ID) bool {
	for _, k := range keys {
		if k == id {
			return true
		}
	}
	return false
}

// EqualKeys compares two key lists as sets.
func EqualKeys(a, b []peer.ID) bool {
	as := SortKeys(append([]peer.ID(nil), a...))
	bs := SortKeys(append([]peer.ID(nil), b...))
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Contains reports whether a party with the same id is in parties.
func Contains(parties []Party, id peer.ID) bool {
	for _, p := range parties {
		if p.ID == id {
			return true
		}
	}
	return false
}

// EqualSets compares two party lists as sets, by id and name.
func EqualSets(a, b []Party) bool {
	if len(Dedup(a)) != len(Dedup(b)) {
		return false
	}
	for _, p := range a {
		found := false
		for _, q := range b {
			if p == q {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Dedup returns parties without repeated ids, sorted by id.
func Dedup(parties []Party) []Party {
	seen := make(map[peer.ID]struct{}, len(parties))
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Without returns parties excluding any with the given id.
func Without(parties []Party, id peer.ID) []Party {
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Replace swaps every occurrence of old with replacement.
func Replace(parties []Party, old peer.ID, replacement Party) []Party {
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		if p.ID == old {
			out = append(out, replacement)
			continue
		}
		out = append(out, p)
	}
	return Dedup(out)
}
