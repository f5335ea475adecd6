// Package flow realizes state transitions across the parties of a business
// network: it builds transactions, collects the counter-signatures the
// contracts require, commits through the notary and distributes the result
// to every participant.
package flow

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/network"
	"github.com/cmwaters/bnms/notary"
	"github.com/cmwaters/bnms/pkg/lock"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/query"
	"github.com/cmwaters/bnms/vault"
)

// Engine runs the flows of a single node. Every call runs as its own
// protocol instance; instances only share the vault and the advisory locks.
//
// The engine initiates flows through its exported methods and responds to
// flows initiated by other nodes once Start has registered it with the
// messenger.
type Engine struct {
	// signer holds the node's network identity. It is replaced when the
	// identity is rotated.
	mtx    sync.RWMutex
	signer sign.Signer

	vault     *vault.Vault
	query     *query.Service
	notary    notary.Notary
	messenger network.Messenger
	locks     *lock.Storage

	clock   func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option is a set of configurable parameters. If left empty, defaults will
// be used.
type Option func(e *Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the source of state timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLocks shares advisory locks between engines of the same process.
func WithLocks(locks *lock.Storage) Option {
	return func(e *Engine) {
		e.locks = locks
	}
}

func New(signer sign.Signer, v *vault.Vault, n notary.Notary, m network.Messenger, opts ...Option) *Engine {
	e := &Engine{
		signer:    signer,
		vault:     v,
		notary:    n,
		messenger: m,
		locks:     lock.NewStorage(),
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.query = query.New(v, e)
	return e
}

// Start begins responding to flows initiated by other nodes.
func (e *Engine) Start() {
	e.messenger.Handle(e.Handle)
}

// Party is the node's current network identity.
func (e *Engine) Party() party.Party {
	return e.currentSigner().Party()
}

func (e *Engine) currentSigner() sign.Signer {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.signer
}

func (e *Engine) setSigner(s sign.Signer) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.signer = s
}

// Query gives read access to the node's local view.
func (e *Engine) Query() *query.Service {
	return e.query
}

func (e *Engine) Vault() *vault.Vault {
	return e.vault
}

func (e *Engine) Locks() *lock.Storage {
	return e.locks
}

// timestamp returns the current time, never earlier than any of the given
// times so that modified timestamps do not go backwards under clock skew.
func (e *Engine) timestamp(notBefore ...time.Time) time.Time {
	now := e.clock()
	for _, t := range notBefore {
		if t.After(now) {
			now = t
		}
	}
	return now
}

// observe records the outcome of an initiated flow.
func (e *Engine) observe(flow string, start time.Time, err *error) {
	e.metrics.ObserveFlow(flow, start, *err)
	if *err != nil {
		e.logger.Info().Err(*err).Str("flow", flow).Dur("took", time.Since(start)).Msg("flow failed")
	}
}
