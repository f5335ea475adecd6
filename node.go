package bnms

import (
	"errors"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/flow"
	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/notary"
	"github.com/cmwaters/bnms/p2p"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/vault"
)

// Node is a flow engine attached to a libp2p host.
type Node struct {
	*flow.Engine

	flows    *p2p.Network
	notaries *p2p.Network
	vault    *vault.Vault
}

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	serve   *notary.Memory
	remote  *party.Party
	peers   map[string]peer.AddrInfo
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ServeNotary makes the node the notary of its networks. Other nodes
// commit through it over the notary protocol.
func ServeNotary(m *notary.Memory) Option {
	return func(o *options) {
		o.serve = m
	}
}

// UseNotary commits through the notary running on the given host. The
// party's key is the one the notary signs its notarizations with.
func UseNotary(notary party.Party, info peer.AddrInfo) Option {
	return func(o *options) {
		o.remote = &notary
		o.peers[notary.Name] = info
	}
}

var ErrNoNotary = errors.New("no notary configured")

// New starts a node on the host, signing as signer and storing states in v.
// The vault is closed with the node; the host is not.
func New(h host.Host, signer sign.Signer, v *vault.Vault, opts ...Option) (*Node, error) {
	o := options{logger: zerolog.Nop(), peers: make(map[string]peer.AddrInfo)}
	for _, opt := range opts {
		opt(&o)
	}

	flows := p2p.NewNetwork(h, p2p.FlowProtocol, p2p.WithLogger(o.logger))
	notaries := p2p.NewNetwork(h, p2p.NotaryProtocol, p2p.WithLogger(o.logger))
	for name, info := range o.peers {
		notaries.AddPeer(name, info)
	}

	var n notary.Notary
	switch {
	case o.serve != nil:
		notary.NewService(o.serve, o.logger.With().Str("component", "notary").Logger()).Serve(notaries)
		n = o.serve
	case o.remote != nil:
		n = notary.NewClient(notaries, *o.remote)
	default:
		return nil, ErrNoNotary
	}

	engine := flow.New(signer, v, n, flows,
		flow.WithLogger(o.logger.With().Str("component", "flow").Logger()),
		flow.WithMetrics(o.metrics),
	)
	engine.Start()
	o.logger.Info().Str("party", signer.Party().String()).Str("host", h.ID().String()).Msg("node started")
	return &Node{Engine: engine, flows: flows, notaries: notaries, vault: v}, nil
}

// AddPeer makes the party with the given name reachable through info.
func (n *Node) AddPeer(name string, info peer.AddrInfo) {
	n.flows.AddPeer(name, info)
}

func (n *Node) Close() error {
	return errors.Join(n.flows.Close(), n.notaries.Close(), n.vault.Close())
}
