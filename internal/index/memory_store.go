package index

import (
	"context"
	"sync"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[memKey]Entry
	order   []memKey
}

type memKey struct {
	chain   chain.Chain
	network chain.Network
	key     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[memKey]Entry),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, e Entry) (*custody.Record, bool, error) {
	if err := validateEntry(e); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{chain: e.Chain, network: e.Network, key: e.Key}
	e.Record = cloneRecord(e.Record)

	existing, ok := s.entries[k]
	if !ok {
		s.entries[k] = e
		s.order = append(s.order, k)
		return nil, true, nil
	}

	prev := cloneRecord(existing.Record)
	if prev.Equal(e.Record) {
		return &prev, false, nil
	}

	s.entries[k] = e
	return &prev, true, nil
}

func (s *MemoryStore) Get(_ context.Context, c chain.Chain, n chain.Network, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[memKey{chain: c, network: n, key: key}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Record = cloneRecord(e.Record)
	return e, nil
}

func (s *MemoryStore) ListByDepositor(_ context.Context, c chain.Chain, n chain.Network, depositor identity.Identity) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, k := range s.order {
		if k.chain != c || k.network != n {
			continue
		}
		e := s.entries[k]
		if e.Record.Depositor != depositor {
			continue
		}
		e.Record = cloneRecord(e.Record)
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) ListOpen(_ context.Context, c chain.Chain, n chain.Network) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, k := range s.order {
		if k.chain != c || k.network != n {
			continue
		}
		e := s.entries[k]
		if e.Record.Closed {
			continue
		}
		e.Record = cloneRecord(e.Record)
		out = append(out, e)
	}
	return out, nil
}

func cloneRecord(r custody.Record) custody.Record {
	if r.Seed != nil {
		r.Seed = append([]byte(nil), r.Seed...)
	}
	return r
}

var _ Store = (*MemoryStore)(nil)
