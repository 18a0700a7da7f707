// Package engine is the matching and settlement state machine. Every
// public call runs to completion under one lock and either commits all of
// its effects or none of them.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
	"github.com/uhyunpark/zklite/pkg/crypto"
	"github.com/uhyunpark/zklite/pkg/storage"
	"github.com/uhyunpark/zklite/pkg/util"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

// StateStore persists committed changesets and reloads them on start.
type StateStore interface {
	LoadState() (*storage.Snapshot, error)
	CommitState(cs *storage.ChangeSet) error
}

type Config struct {
	// Address is the engine's identity on the ledger: the spender owners
	// approve, and the verifying contract of the signing domain.
	Address common.Address
	// Admin is used only when no admin has been persisted yet.
	Admin  common.Address
	Domain crypto.EIP712Domain
}

type Engine struct {
	mu sync.Mutex

	address  common.Address
	admin    common.Address
	registry *market.Registry
	orders   *orderbook.Store
	nonces   *transaction.NonceRegistry
	verifier *transaction.Verifier
	ledger   ledger.Ledger

	store StateStore
	sink  events.Sink
	clock Clock
	log   *zap.SugaredLogger

	nextOrderID  uint64
	nextEventSeq uint64
}

type Option func(*Engine)

func WithStore(s StateStore) Option { return func(e *Engine) { e.store = s } }
func WithSink(s events.Sink) Option { return func(e *Engine) { e.sink = s } }
func WithClock(c Clock) Option      { return func(e *Engine) { e.clock = c } }
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// New builds an engine over l. With a store, previously committed state
// is restored before New returns.
func New(cfg Config, l ledger.Ledger, opts ...Option) (*Engine, error) {
	if l == nil {
		return nil, fmt.Errorf("engine requires a ledger")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine address must be set")
	}
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("admin address must be set")
	}

	domain := cfg.Domain
	domain.VerifyingContract = cfg.Address

	e := &Engine{
		address:      cfg.Address,
		admin:        cfg.Admin,
		registry:     market.NewRegistry(),
		orders:       orderbook.NewStore(),
		nonces:       transaction.NewNonceRegistry(),
		verifier:     transaction.NewVerifier(domain),
		ledger:       l,
		clock:        util.RealClock{},
		log:          zap.NewNop().Sugar(),
		nextOrderID:  1,
		nextEventSeq: 1,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil {
		snap, err := e.store.LoadState()
		if err != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
		e.restore(snap)
	}
	return e, nil
}

func (e *Engine) restore(s *storage.Snapshot) {
	if s == nil {
		return
	}
	e.registry.Restore(s.Pairs)
	for _, o := range s.Orders {
		e.orders.Put(o)
	}
	e.nonces.Restore(s.Nonces)
	if s.Admin != (common.Address{}) {
		e.admin = s.Admin
	}
	if s.NextOrderID > e.nextOrderID {
		e.nextOrderID = s.NextOrderID
	}
	if s.NextEventSeq > e.nextEventSeq {
		e.nextEventSeq = s.NextEventSeq
	}
	e.log.Infow("state_restored",
		"pairs", len(s.Pairs),
		"orders", len(s.Orders),
		"nonces", len(s.Nonces),
		"next_order_id", e.nextOrderID,
	)
}

// Address is the spender owners must approve.
func (e *Engine) Address() common.Address { return e.address }

// Verifier exposes the signing domain so clients can build typed data.
func (e *Engine) Verifier() *transaction.Verifier { return e.verifier }

func (e *Engine) now() uint64 { return uint64(e.clock.Now().Unix()) }
