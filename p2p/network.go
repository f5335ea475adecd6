// Package p2p carries network sessions over libp2p streams.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	lpnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/network"
	"github.com/cmwaters/bnms/pkg/party"
)

const (
	// FlowProtocol carries transaction flows between nodes.
	FlowProtocol protocol.ID = "/bnms/flow/1.0.0"
	// NotaryProtocol carries commit requests to the notary.
	NotaryProtocol protocol.ID = "/bnms/notary/1.0.0"
)

var _ network.Messenger = (*Network)(nil)

// Network opens one libp2p stream per session. Parties are resolved to
// hosts through an address book keyed by party name; a party without an
// entry is assumed to run on the host whose id is the party's own key.
type Network struct {
	host     host.Host
	protocol protocol.ID
	logger   zerolog.Logger

	mtx   sync.RWMutex
	peers map[string]peer.ID
	names map[peer.ID]string
}

type Option func(*Network)

func WithLogger(logger zerolog.Logger) Option {
	return func(n *Network) {
		n.logger = logger
	}
}

func NewNetwork(h host.Host, proto protocol.ID, opts ...Option) *Network {
	n := &Network{
		host:     h,
		protocol: proto,
		logger:   zerolog.Nop(),
		peers:    make(map[string]peer.ID),
		names:    make(map[peer.ID]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddPeer records the host serving name and its addresses.
func (n *Network) AddPeer(name string, info peer.AddrInfo) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.peers[name] = info.ID
	n.names[info.ID] = name
	if len(info.Addrs) > 0 {
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, time.Hour)
	}
}

func (n *Network) resolve(p party.Party) peer.ID {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	if id, ok := n.peers[p.Name]; ok {
		return id
	}
	return p.ID
}

func (n *Network) nameOf(id peer.ID) string {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	if name, ok := n.names[id]; ok {
		return name
	}
	return id.String()
}

func (n *Network) Open(ctx context.Context, to party.Party) (network.Session, error) {
	id := n.resolve(to)
	stream, err := n.host.NewStream(ctx, id, n.protocol)
	if err != nil {
		return nil, fmt.Errorf("opening stream to %s: %w", to, err)
	}
	return newSession(stream, n.nameOf(id)), nil
}

func (n *Network) Handle(h network.Handler) {
	n.host.SetStreamHandler(n.protocol, func(stream lpnetwork.Stream) {
		s := newSession(stream, n.nameOf(stream.Conn().RemotePeer()))
		defer s.Close()
		n.logger.Debug().Str("peer", s.Counterparty()).Str("protocol", string(n.protocol)).Msg("inbound session")
		h(context.Background(), s)
	})
}

// Close stops accepting sessions.
func (n *Network) Close() error {
	n.host.RemoveStreamHandler(n.protocol)
	return nil
}

// session frames messages as a stream of JSON values.
type session struct {
	stream       lpnetwork.Stream
	counterparty string
	enc          *json.Encoder
	dec          *json.Decoder
}

func newSession(stream lpnetwork.Stream, counterparty string) *session {
	return &session{
		stream:       stream,
		counterparty: counterparty,
		enc:          json.NewEncoder(stream),
		dec:          json.NewDecoder(stream),
	}
}

func (s *session) Counterparty() string {
	return s.counterparty
}

func (s *session) Send(ctx context.Context, msg network.Message) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.stream.SetWriteDeadline(deadline)
		defer s.stream.SetWriteDeadline(time.Time{})
	}
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("sending %s to %s: %w", msg.Type, s.counterparty, err)
	}
	return nil
}

func (s *session) Receive(ctx context.Context) (network.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.stream.SetReadDeadline(deadline)
		defer s.stream.SetReadDeadline(time.Time{})
	}
	// unblock the decoder if the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = s.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	var msg network.Message
	if err := s.dec.Decode(&msg); err != nil {
		if ctx.Err() != nil {
			return network.Message{}, ctx.Err()
		}
		return network.Message{}, fmt.Errorf("%w: %v", network.ErrSessionClosed, err)
	}
	return msg, nil
}

func (s *session) Close() error {
	return s.stream.Close()
}
