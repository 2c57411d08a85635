// Package index mirrors on-chain deposit records into a local store so the
// sync daemon can detect changes and serve queries without rescanning the
// ledger. The chain remains authoritative; the index is rebuilt by scans.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

var (
	ErrNotFound      = errors.New("index: not found")
	ErrInvalidRecord = errors.New("index: invalid record")
)

// Entry is one indexed record with its provenance.
type Entry struct {
	Chain   chain.Chain
	Network chain.Network
	Key     string // locator string, unique per chain/network
	Record  custody.Record
	SeenAt  time.Time
}

// Store persists scanned records. Upsert reports the previously stored
// record so callers can derive change events; prev is nil when the entry is
// new and changed is false when the stored record already matches.
type Store interface {
	Upsert(ctx context.Context, e Entry) (prev *custody.Record, changed bool, err error)
	Get(ctx context.Context, c chain.Chain, n chain.Network, key string) (Entry, error)
	ListByDepositor(ctx context.Context, c chain.Chain, n chain.Network, depositor identity.Identity) ([]Entry, error)
	ListOpen(ctx context.Context, c chain.Chain, n chain.Network) ([]Entry, error)
}

func validateEntry(e Entry) error {
	if e.Chain == "" || e.Network == "" {
		return errors.New("index: entry missing chain or network")
	}
	if e.Key == "" {
		return errors.New("index: entry missing key")
	}
	if e.Record.Depositor.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}
