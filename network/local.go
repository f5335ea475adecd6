package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/cmwaters/bnms/pkg/party"
)

// LocalNetwork connects messengers living in the same process. It is used
// by tests and single process deployments.
type LocalNetwork struct {
	mtx   sync.RWMutex
	nodes map[string]*LocalMessenger
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{nodes: make(map[string]*LocalMessenger)}
}

// Join registers a messenger reachable under name.
func (n *LocalNetwork) Join(name string) *LocalMessenger {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	m := &LocalMessenger{name: name, network: n}
	n.nodes[name] = m
	return m
}

// Leave makes name unreachable.
func (n *LocalNetwork) Leave(name string) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	delete(n.nodes, name)
}

func (n *LocalNetwork) node(name string) (*LocalMessenger, bool) {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	m, ok := n.nodes[name]
	return m, ok
}

var _ Messenger = (*LocalMessenger)(nil)

type LocalMessenger struct {
	name    string
	network *LocalNetwork

	mtx     sync.RWMutex
	handler Handler
}

func (m *LocalMessenger) Handle(h Handler) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.handler = h
}

func (m *LocalMessenger) getHandler() Handler {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.handler
}

// Open starts a session with the messenger registered under the party's
// name. The remote handler runs in its own goroutine for the lifetime of the
// session.
func (m *LocalMessenger) Open(ctx context.Context, to party.Party) (Session, error) {
	remote, ok := m.network.node(to.Name)
	if !ok {
		return nil, fmt.Errorf("no route to %s", to)
	}
	handler := remote.getHandler()
	if handler == nil {
		return nil, fmt.Errorf("%s is not accepting sessions", to)
	}
	local, other := newPipe(m.name, remote.name)
	go func() {
		defer other.Close()
		handler(context.Background(), other)
	}()
	return local, nil
}

// pipeSession is one end of an in-memory session.
type pipeSession struct {
	counterparty string
	in           <-chan Message
	out          chan<- Message
	closed       chan struct{}
	remoteClosed <-chan struct{}
	once         sync.Once
}

func newPipe(a, b string) (*pipeSession, *pipeSession) {
	ab, ba := make(chan Message, 16), make(chan Message, 16)
	aClosed, bClosed := make(chan struct{}), make(chan struct{})
	return &pipeSession{counterparty: b, in: ba, out: ab, closed: aClosed, remoteClosed: bClosed},
		&pipeSession{counterparty: a, in: ab, out: ba, closed: bClosed, remoteClosed: aClosed}
}

func (s *pipeSession) Counterparty() string {
	return s.counterparty
}

func (s *pipeSession) Send(ctx context.Context, msg Message) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	case <-s.remoteClosed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-s.remoteClosed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pipeSession) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.in:
		return msg, nil
	case <-s.closed:
		return Message{}, ErrSessionClosed
	case <-s.remoteClosed:
		// drain anything sent before the remote closed
		select {
		case msg := <-s.in:
			return msg, nil
		default:
			return Message{}, ErrSessionClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *pipeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
