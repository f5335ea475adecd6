// Package lock provides the node-local advisory locks that stop a node from
// issuing the same caller chosen identifier twice concurrently.
package lock

import (
	"sync"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
)

// Kind namespaces lock keys so that unrelated requests never contend.
type Kind string

const (
	CreateNetwork Kind = "create-network"
	CreateGroupID Kind = "create-group-id"
	GroupName     Kind = "group-name"
	// RequestMembership guards a node sending two membership requests for
	// the same network at once.
	RequestMembership Kind = "request-membership"
)

type key struct {
	kind Kind
	key  string
}

// Storage is a set of held (kind, key) pairs. It lives for the lifetime of
// the node process and is safe for concurrent use.
type Storage struct {
	mtx  sync.Mutex
	held map[key]struct{}
}

func NewStorage() *Storage {
	return &Storage{held: make(map[key]struct{})}
}

// Acquire takes the lock for (kind, k) or fails immediately with a
// duplicate request error. The returned release func is idempotent and is
// meant to be deferred.
func (s *Storage) Acquire(kind Kind, k string) (release func(), err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	id := key{kind: kind, key: k}
	if _, ok := s.held[id]; ok {
		return nil, bnerrors.DuplicateRequest("%s request for %q is already in progress", kind, k)
	}
	s.held[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() { s.Release(kind, k) })
	}, nil
}

func (s *Storage) Release(kind Kind, k string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.held, key{kind: kind, key: k})
}

func (s *Storage) Held(kind Kind, k string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.held[key{kind: kind, key: k}]
	return ok
}

// AcquireAll takes every lock in order, releasing the ones already taken if
// any of them is contended.
func (s *Storage) AcquireAll(locks ...Request) (release func(), err error) {
	releases := make([]func(), 0, len(locks))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range locks {
		r, err := s.Acquire(l.Kind, l.Key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, r)
	}
	return releaseAll, nil
}

type Request struct {
	Kind Kind
	Key  string
}
