package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

func fillIdentity(t *testing.T, b byte) identity.Identity {
	t.Helper()

	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	id, err := identity.FromBytes(raw[:])
	if err != nil {
		t.Fatalf("identity from bytes: %v", err)
	}
	return id
}

func sampleEntry(t *testing.T, key string, depositor byte) Entry {
	t.Helper()

	return Entry{
		Chain:   chain.ChainSolana,
		Network: chain.NetworkDevnet,
		Key:     key,
		Record: custody.Record{
			Depositor:      fillIdentity(t, depositor),
			Receiver:       fillIdentity(t, 0x02),
			Asset:          fillIdentity(t, 0x03),
			Amount:         1_000_000,
			LastProofAt:    1_700_000_000,
			TimeoutSeconds: 86_400,
			Bump:           254,
			Seed:           []byte("savings"),
		},
		SeenAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func TestMemoryStoreUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	e := sampleEntry(t, "dep/savings", 0x01)

	prev, changed, err := s.Upsert(ctx, e)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if prev != nil || !changed {
		t.Fatalf("first upsert: prev=%v changed=%v", prev, changed)
	}

	// Same record again: no change, previous returned.
	prev, changed, err = s.Upsert(ctx, e)
	if err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	if prev == nil || changed {
		t.Fatalf("repeat upsert: prev=%v changed=%v", prev, changed)
	}
	if !prev.Equal(e.Record) {
		t.Fatalf("repeat upsert prev = %+v", prev)
	}

	// Refreshed timer: change reported with the old record.
	refreshed := e
	refreshed.Record.LastProofAt = 1_700_050_000
	prev, changed, err = s.Upsert(ctx, refreshed)
	if err != nil {
		t.Fatalf("refresh upsert: %v", err)
	}
	if prev == nil || !changed {
		t.Fatalf("refresh upsert: prev=%v changed=%v", prev, changed)
	}
	if prev.LastProofAt != 1_700_000_000 {
		t.Fatalf("refresh upsert prev.LastProofAt = %d", prev.LastProofAt)
	}

	got, err := s.Get(ctx, e.Chain, e.Network, e.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Record.LastProofAt != 1_700_050_000 {
		t.Fatalf("stored LastProofAt = %d", got.Record.LastProofAt)
	}
}

func TestMemoryStoreUpsertValidation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	e := sampleEntry(t, "dep/savings", 0x01)
	e.Key = ""
	if _, _, err := s.Upsert(context.Background(), e); err == nil {
		t.Fatal("missing key accepted")
	}

	e = sampleEntry(t, "dep/savings", 0x01)
	e.Record.Depositor = identity.Identity{}
	if _, _, err := s.Upsert(context.Background(), e); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("zero depositor: got %v", err)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), chain.ChainSolana, chain.NetworkDevnet, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing entry: got %v", err)
	}
}

func TestMemoryStoreLists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	a := sampleEntry(t, "a", 0x01)
	b := sampleEntry(t, "b", 0x01)
	b.Record.Closed = true
	c := sampleEntry(t, "c", 0x04)
	other := sampleEntry(t, "a", 0x01)
	other.Network = chain.NetworkMainnet

	for _, e := range []Entry{a, b, c, other} {
		if _, _, err := s.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert %s: %v", e.Key, err)
		}
	}

	byDep, err := s.ListByDepositor(ctx, chain.ChainSolana, chain.NetworkDevnet, fillIdentity(t, 0x01))
	if err != nil {
		t.Fatalf("list by depositor: %v", err)
	}
	if len(byDep) != 2 || byDep[0].Key != "a" || byDep[1].Key != "b" {
		t.Fatalf("list by depositor = %+v", byDep)
	}

	open, err := s.ListOpen(ctx, chain.ChainSolana, chain.NetworkDevnet)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 || open[0].Key != "a" || open[1].Key != "c" {
		t.Fatalf("list open = %+v", open)
	}
}

func TestMemoryStoreCopiesSeeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	e := sampleEntry(t, "dep/savings", 0x01)
	if _, _, err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e.Record.Seed[0] = 'X'

	got, err := s.Get(ctx, e.Chain, e.Network, e.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Record.Seed) != "savings" {
		t.Fatalf("stored seed mutated: %q", got.Record.Seed)
	}
	got.Record.Seed[0] = 'Y'

	again, err := s.Get(ctx, e.Chain, e.Network, e.Key)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if string(again.Record.Seed) != "savings" {
		t.Fatalf("returned seed aliases store: %q", again.Record.Seed)
	}
}
