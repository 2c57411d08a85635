// Package events publishes deposit lifecycle events observed by the sync
// daemon. Events are advisory: the ledger remains the source of truth, and
// consumers must tolerate duplicates.
package events

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
)

// Kind names one observable lifecycle change.
type Kind string

const (
	KindObserved  Kind = "observed"  // record seen for the first time
	KindRefreshed Kind = "refreshed" // lastProofTimestamp moved forward
	KindClosed    Kind = "closed"    // record turned terminal
)

// Event is the published envelope, one JSON object per record change.
type Event struct {
	Version string         `json:"version"`
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Chain   chain.Chain    `json:"chain"`
	Network chain.Network  `json:"network"`
	Record  custody.Record `json:"record"`
	SeenAt  time.Time      `json:"seenAt"`
}

const eventIDPrefixV1 = "custody-event"

// EventIDV1 computes the canonical event id:
//
//	keccak256("custody-event" || chain || "/" || network || depositor ||
//	          seed || lastProofTimestampBE64 || closedByte || kind)
//
// Two observers of the same change derive the same id, so consumers can
// de-duplicate without coordination.
func EventIDV1(c chain.Chain, n chain.Network, rec custody.Record, kind Kind) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(eventIDPrefixV1))
	_, _ = h.Write([]byte(c))
	_, _ = h.Write([]byte("/"))
	_, _ = h.Write([]byte(n))
	_, _ = h.Write(rec.Depositor[:])
	_, _ = h.Write(rec.Seed)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rec.LastProofAt))
	_, _ = h.Write(ts[:])

	closed := byte(0)
	if rec.Closed {
		closed = 1
	}
	_, _ = h.Write([]byte{closed})
	_, _ = h.Write([]byte(kind))

	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}

// New builds the published envelope for one observed change.
func New(c chain.Chain, n chain.Network, rec custody.Record, kind Kind, seenAt time.Time) Event {
	id := EventIDV1(c, n, rec, kind)
	return Event{
		Version: "v1",
		ID:      hex.EncodeToString(id[:]),
		Kind:    kind,
		Chain:   c,
		Network: n,
		Record:  rec,
		SeenAt:  seenAt.UTC(),
	}
}

// Encode renders the event as one JSON line.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal event: %w", err)
	}
	return b, nil
}

// Diff derives the events implied by moving from a previously indexed record
// to the freshly scanned one. A nil prev means the record is new.
func Diff(prev *custody.Record, next custody.Record) []Kind {
	if prev == nil {
		kinds := []Kind{KindObserved}
		if next.Closed {
			kinds = append(kinds, KindClosed)
		}
		return kinds
	}
	var kinds []Kind
	if next.LastProofAt > prev.LastProofAt {
		kinds = append(kinds, KindRefreshed)
	}
	if next.Closed && !prev.Closed {
		kinds = append(kinds, KindClosed)
	}
	return kinds
}
