package storage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
)

// ChangeSet is everything one committed engine call changed. It is
// written as a single Pebble batch.
type ChangeSet struct {
	Orders       []orderbook.Order // upserted live orders
	Erased       []uint64          // closed order ids
	Pairs        []market.Pair
	Nonces       []transaction.NonceEntry
	Admin        *common.Address
	NextOrderID  uint64
	NextEventSeq uint64
	Events       []events.Record
	Balances     []ledger.BalanceEntry // settled rows of a RowLedger
	Allowances   []ledger.AllowanceEntry
}

// Snapshot is the engine state reconstructed from the store.
type Snapshot struct {
	Pairs        []market.Pair
	Orders       []orderbook.Order
	Nonces       []transaction.NonceEntry
	Admin        common.Address
	NextOrderID  uint64
	NextEventSeq uint64
}
