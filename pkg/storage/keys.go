package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Key schema. Numeric ids are zero-padded hex so lexicographic order is
// numeric order and prefix scans come back sorted.
//
//   pair:<id:04x>                          → pairRecord
//   ord:<id:016x>                          → orderRecord (live orders only)
//   nonce:<owner>:<nonce:064x>             → empty
//   evt:<seq:016x>                         → JournalEntry
//   bal:<asset>:<account>                  → decimal string
//   alw:<asset>:<owner>:<spender>          → decimal string
//   meta:*                                 → engine counters and admin
const (
	prefixPair      = "pair:"
	prefixOrder     = "ord:"
	prefixNonce     = "nonce:"
	prefixEvent     = "evt:"
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
)

var (
	keyAdmin         = []byte("meta:admin")
	keyNextOrderID   = []byte("meta:next_order_id")
	keyNextEventSeq  = []byte("meta:next_event_seq")
	keyJournalDigest = []byte("meta:journal_digest")
)

func pairKey(id uint16) []byte {
	return []byte(fmt.Sprintf("%s%04x", prefixPair, id))
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixOrder, id))
}

func nonceKey(owner common.Address, nonce uint256.Int) []byte {
	b := nonce.Bytes32()
	return []byte(fmt.Sprintf("%s%s:%x", prefixNonce, owner.Hex(), b[:]))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEvent, seq))
}

func balanceKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, asset.Hex(), owner.Hex(), spender.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
