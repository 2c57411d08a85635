// Package syncer mirrors on-chain deposit records into the local index,
// archives full-scan snapshots, and publishes lifecycle events for the
// changes each scan reveals.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dielemma/custody/internal/archive"
	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/events"
	"github.com/dielemma/custody/internal/index"
)

var ErrInvalidConfig = errors.New("syncer: invalid config")

type Config struct {
	// Interval between scans. Defaults to one minute.
	Interval time.Duration

	// Archive and Producer are optional; nil disables snapshots or event
	// publishing respectively.
	Archive  archive.Store
	Producer events.Producer

	Now func() time.Time
	Log *slog.Logger
}

type Syncer struct {
	registry *chain.Registry
	store    index.Store
	arch     archive.Store
	producer events.Producer
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func New(cfg Config, registry *chain.Registry, store index.Store) (*Syncer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil index store", ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{
		registry: registry,
		store:    store,
		arch:     cfg.Archive,
		producer: cfg.Producer,
		interval: cfg.Interval,
		now:      cfg.Now,
		log:      cfg.Log,
	}, nil
}

// Run scans every registered pair on the configured interval until ctx is
// canceled. The first scan happens immediately.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	if err := s.SyncAll(ctx); err != nil {
		s.log.Error("initial sync", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.SyncAll(ctx); err != nil {
				s.log.Error("sync", "err", err)
			}
		}
	}
}

// SyncAll scans every registered pair. One pair failing does not stop the
// others; the first error is returned after all pairs ran.
func (s *Syncer) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, adapter := range s.registry.All() {
		if err := s.SyncPair(ctx, adapter); err != nil {
			s.log.Error("sync pair", "chain", adapter.Chain(), "network", adapter.Network(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncPair runs one full scan of a single ledger: drop the read cache so the
// scan is fresh, upsert every record, publish the implied events, and archive
// the snapshot.
func (s *Syncer) SyncPair(ctx context.Context, adapter chain.Adapter) error {
	c, n := adapter.Chain(), adapter.Network()
	seenAt := s.now().UTC()

	adapter.InvalidateCache()
	located, err := adapter.ListDeposits(ctx)
	if err != nil {
		return fmt.Errorf("syncer: list deposits %s/%s: %w", c, n, err)
	}

	var pending []events.Event
	records := make([]custody.Record, 0, len(located))
	for _, l := range located {
		records = append(records, l.Record)
		prev, changed, err := s.store.Upsert(ctx, index.Entry{
			Chain:   c,
			Network: n,
			Key:     l.Locator.String(),
			Record:  l.Record,
			SeenAt:  seenAt,
		})
		if err != nil {
			return fmt.Errorf("syncer: upsert %s: %w", l.Locator, err)
		}
		if !changed {
			continue
		}
		for _, kind := range events.Diff(prev, l.Record) {
			pending = append(pending, events.New(c, n, l.Record, kind, seenAt))
		}
	}

	if s.producer != nil && len(pending) > 0 {
		if err := s.producer.Publish(ctx, pending...); err != nil {
			return fmt.Errorf("syncer: publish events: %w", err)
		}
	}

	if s.arch != nil {
		err := archive.WriteSnapshot(ctx, s.arch, archive.Snapshot{
			Chain:   c,
			Network: n,
			TakenAt: seenAt,
			Records: records,
		})
		if err != nil {
			return fmt.Errorf("syncer: archive snapshot: %w", err)
		}
	}

	s.log.Info("scan complete",
		"chain", c,
		"network", n,
		"records", len(records),
		"events", len(pending),
	)
	return nil
}
