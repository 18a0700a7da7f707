package storage

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"golang.org/x/crypto/sha3"
)

// JournalEntry is one stored event. Digest chains every entry to all
// earlier ones: keccak256(prevDigest || seq || type || data), so an
// indexer replaying the journal can detect gaps or rewrites.
type JournalEntry struct {
	Seq    uint64          `json:"seq"`
	Type   events.Kind     `json:"type"`
	Data   json.RawMessage `json:"data"`
	Digest string          `json:"digest"`
}

func chainDigest(prev [32]byte, env events.Envelope) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], env.Seq)

	h := sha3.NewLegacyKeccak256()
	h.Write(prev[:])
	h.Write(seq[:])
	h.Write([]byte(env.Type))
	h.Write(env.Data)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func journalEntry(env events.Envelope, digest [32]byte) JournalEntry {
	return JournalEntry{
		Seq:    env.Seq,
		Type:   env.Type,
		Data:   env.Data,
		Digest: "0x" + hex.EncodeToString(digest[:]),
	}
}

// VerifyJournal recomputes the digest chain of consecutive entries
// starting after prev. It returns the index of the first bad entry, or -1.
func VerifyJournal(prev [32]byte, entries []JournalEntry) int {
	for i, e := range entries {
		next := chainDigest(prev, events.Envelope{Seq: e.Seq, Type: e.Type, Data: e.Data})
		if "0x"+hex.EncodeToString(next[:]) != e.Digest {
			return i
		}
		prev = next
	}
	return -1
}
