package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
)

// Snapshot is one full scan of a ledger's deposit records.
type Snapshot struct {
	Version string           `json:"version"`
	Chain   chain.Chain      `json:"chain"`
	Network chain.Network    `json:"network"`
	TakenAt time.Time        `json:"takenAt"`
	Records []custody.Record `json:"records"`
}

const snapshotContentType = "application/json"

// SnapshotKey names the immutable object for one scan.
func SnapshotKey(c chain.Chain, n chain.Network, takenAt time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s/%d.json", c, n, takenAt.UTC().Unix())
}

// LatestKey names the mutable pointer rewritten on every scan.
func LatestKey(c chain.Chain, n chain.Network) string {
	return fmt.Sprintf("snapshots/%s/%s/latest.json", c, n)
}

// WriteSnapshot stores the snapshot under its timestamped key and rewrites
// the latest pointer. The timestamped object is written first so a crash
// between the two writes never leaves latest pointing at a missing object.
func WriteSnapshot(ctx context.Context, store Store, snap Snapshot) error {
	if store == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	snap.Version = "v1"
	snap.TakenAt = snap.TakenAt.UTC()

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	opts := PutOptions{
		ContentType: snapshotContentType,
		Metadata: map[string]string{
			"chain":   string(snap.Chain),
			"network": string(snap.Network),
		},
	}
	if err := store.Put(ctx, SnapshotKey(snap.Chain, snap.Network, snap.TakenAt), body, opts); err != nil {
		return err
	}
	return store.Put(ctx, LatestKey(snap.Chain, snap.Network), body, opts)
}

// ReadLatest loads the most recent snapshot for a chain/network pair.
func ReadLatest(ctx context.Context, store Store, c chain.Chain, n chain.Network) (Snapshot, error) {
	if store == nil {
		return Snapshot{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	obj, err := store.Get(ctx, LatestKey(c, n))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(obj.Data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("archive: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
