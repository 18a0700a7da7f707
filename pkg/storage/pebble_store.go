package storage

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
)

// PebbleStore persists engine state, the event journal, and the dev
// ledger in one Pebble database.
type PebbleStore struct {
	db *pebble.DB

	mu     sync.Mutex // serializes journal appends
	digest [32]byte   // digest of the last journal entry
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	s := &PebbleStore{db: db}
	if val, ok, err := s.get(keyJournalDigest); err != nil {
		db.Close()
		return nil, err
	} else if ok {
		copy(s.digest[:], val)
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// CommitState writes cs atomically and synced.
func (s *PebbleStore) CommitState(cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	for _, o := range cs.Orders {
		if err := setJSON(b, orderKey(o.ID), encodeOrder(o)); err != nil {
			return err
		}
	}
	for _, id := range cs.Erased {
		if err := b.Delete(orderKey(id), nil); err != nil {
			return fmt.Errorf("failed to delete order %d: %w", id, err)
		}
	}
	for _, p := range cs.Pairs {
		if err := setJSON(b, pairKey(p.ID), encodePair(p)); err != nil {
			return err
		}
	}
	for _, n := range cs.Nonces {
		if err := b.Set(nonceKey(n.Owner, n.Nonce), nil, nil); err != nil {
			return fmt.Errorf("failed to write nonce: %w", err)
		}
	}
	if err := putLedgerRows(b, cs.Balances, cs.Allowances); err != nil {
		return err
	}
	if cs.Admin != nil {
		if err := b.Set(keyAdmin, cs.Admin.Bytes(), nil); err != nil {
			return fmt.Errorf("failed to write admin: %w", err)
		}
	}
	if err := b.Set(keyNextOrderID, u64(cs.NextOrderID), nil); err != nil {
		return fmt.Errorf("failed to write order counter: %w", err)
	}
	if err := b.Set(keyNextEventSeq, u64(cs.NextEventSeq), nil); err != nil {
		return fmt.Errorf("failed to write event counter: %w", err)
	}

	digest := s.digest
	for _, rec := range cs.Events {
		env, err := rec.Envelope()
		if err != nil {
			return err
		}
		digest = chainDigest(digest, env)
		if err := setJSON(b, eventKey(rec.Seq), journalEntry(env, digest)); err != nil {
			return err
		}
	}
	if err := b.Set(keyJournalDigest, digest[:], nil); err != nil {
		return fmt.Errorf("failed to write journal digest: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit changeset: %w", err)
	}
	s.digest = digest
	return nil
}

// LoadState rebuilds the engine snapshot. A fresh database yields an
// empty snapshot.
func (s *PebbleStore) LoadState() (*Snapshot, error) {
	snap := &Snapshot{}

	err := s.scan(prefixPair, func(_, val []byte) error {
		var rec pairRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal pair: %w", err)
		}
		p, err := rec.decode()
		if err != nil {
			return err
		}
		snap.Pairs = append(snap.Pairs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixOrder, func(_, val []byte) error {
		var rec orderRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		o, err := rec.decode()
		if err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixNonce, func(key, _ []byte) error {
		entry, err := parseNonceKey(key)
		if err != nil {
			return err
		}
		snap.Nonces = append(snap.Nonces, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if val, ok, err := s.get(keyAdmin); err != nil {
		return nil, err
	} else if ok {
		snap.Admin = common.BytesToAddress(val)
	}
	if val, ok, err := s.get(keyNextOrderID); err != nil {
		return nil, err
	} else if ok {
		snap.NextOrderID = binary.BigEndian.Uint64(val)
	}
	if val, ok, err := s.get(keyNextEventSeq); err != nil {
		return nil, err
	} else if ok {
		snap.NextEventSeq = binary.BigEndian.Uint64(val)
	}
	return snap, nil
}

func parseNonceKey(key []byte) (transaction.NonceEntry, error) {
	rest := strings.TrimPrefix(string(key), prefixNonce)
	owner, nonceHex, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(owner) {
		return transaction.NonceEntry{}, fmt.Errorf("malformed nonce key %q", key)
	}
	raw, err := hex.DecodeString(nonceHex)
	if err != nil || len(raw) != 32 {
		return transaction.NonceEntry{}, fmt.Errorf("malformed nonce in key %q", key)
	}
	var nonce uint256.Int
	nonce.SetBytes(raw)
	return transaction.NonceEntry{Owner: common.HexToAddress(owner), Nonce: nonce}, nil
}

func (s *PebbleStore) scan(prefix string, fn func(key, val []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LoadEvents returns up to limit journal entries with seq >= from.
func (s *PebbleStore) LoadEvents(from uint64, limit int) ([]JournalEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []JournalEntry
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var e JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// JournalDigest is the digest of the most recent journal entry.
func (s *PebbleStore) JournalDigest() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest
}

// SaveLedger implements ledger.Persister.
func (s *PebbleStore) SaveLedger(balances []ledger.BalanceEntry, allowances []ledger.AllowanceEntry) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := putLedgerRows(b, balances, allowances); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return nil
}

func putLedgerRows(b *pebble.Batch, balances []ledger.BalanceEntry, allowances []ledger.AllowanceEntry) error {
	for _, e := range balances {
		if err := b.Set(balanceKey(e.Asset, e.Account), []byte(e.Amount.Dec()), nil); err != nil {
			return fmt.Errorf("failed to write balance: %w", err)
		}
	}
	for _, e := range allowances {
		if err := b.Set(allowanceKey(e.Asset, e.Owner, e.Spender), []byte(e.Amount.Dec()), nil); err != nil {
			return fmt.Errorf("failed to write allowance: %w", err)
		}
	}
	return nil
}

// LoadLedger reads every persisted balance and allowance.
func (s *PebbleStore) LoadLedger() ([]ledger.BalanceEntry, []ledger.AllowanceEntry, error) {
	var balances []ledger.BalanceEntry
	err := s.scan(prefixBalance, func(key, val []byte) error {
		parts := strings.Split(strings.TrimPrefix(string(key), prefixBalance), ":")
		if len(parts) != 2 {
			return fmt.Errorf("malformed balance key %q", key)
		}
		amount, err := decodeAmount(string(val))
		if err != nil {
			return err
		}
		balances = append(balances, ledger.BalanceEntry{
			Asset:   common.HexToAddress(parts[0]),
			Account: common.HexToAddress(parts[1]),
			Amount:  amount,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var allowances []ledger.AllowanceEntry
	err = s.scan(prefixAllowance, func(key, val []byte) error {
		parts := strings.Split(strings.TrimPrefix(string(key), prefixAllowance), ":")
		if len(parts) != 3 {
			return fmt.Errorf("malformed allowance key %q", key)
		}
		amount, err := decodeAmount(string(val))
		if err != nil {
			return err
		}
		allowances = append(allowances, ledger.AllowanceEntry{
			Asset:   common.HexToAddress(parts[0]),
			Owner:   common.HexToAddress(parts[1]),
			Spender: common.HexToAddress(parts[2]),
			Amount:  amount,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return balances, allowances, nil
}

var _ ledger.Persister = (*PebbleStore)(nil)
