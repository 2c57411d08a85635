// Package postgres stores the record index in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
	"github.com/dielemma/custody/internal/index"
)

var ErrInvalidConfig = errors.New("index/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("index/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, e index.Entry) (*custody.Record, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if e.Chain == "" || e.Network == "" || e.Key == "" {
		return nil, false, fmt.Errorf("%w: entry missing chain, network or key", index.ErrInvalidRecord)
	}
	if e.Record.Amount > math.MaxInt64 || e.Record.TimeoutSeconds > math.MaxInt64 {
		return nil, false, fmt.Errorf("%w: value out of range", index.ErrInvalidRecord)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("index/postgres: begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := getRecordTx(ctx, tx, e.Chain, e.Network, e.Key)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return nil, false, err
	}

	if prev != nil && prev.Equal(e.Record) {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("index/postgres: commit upsert tx: %w", err)
		}
		return prev, false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO custody_records (
			chain, network, record_key,
			depositor, receiver, asset,
			amount, last_proof_at, timeout_seconds,
			bump, is_closed, seed,
			seen_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (chain, network, record_key) DO UPDATE SET
			depositor = EXCLUDED.depositor,
			receiver = EXCLUDED.receiver,
			asset = EXCLUDED.asset,
			amount = EXCLUDED.amount,
			last_proof_at = EXCLUDED.last_proof_at,
			timeout_seconds = EXCLUDED.timeout_seconds,
			bump = EXCLUDED.bump,
			is_closed = EXCLUDED.is_closed,
			seed = EXCLUDED.seed,
			seen_at = EXCLUDED.seen_at,
			updated_at = now()
	`,
		string(e.Chain), string(e.Network), e.Key,
		e.Record.Depositor.Bytes(), e.Record.Receiver.Bytes(), e.Record.Asset.Bytes(),
		int64(e.Record.Amount), e.Record.LastProofAt, int64(e.Record.TimeoutSeconds),
		int16(e.Record.Bump), e.Record.Closed, seedBytes(e.Record.Seed),
		e.SeenAt.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("index/postgres: upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("index/postgres: commit upsert tx: %w", err)
	}
	return prev, true, nil
}

func (s *Store) Get(ctx context.Context, c chain.Chain, n chain.Network, key string) (index.Entry, error) {
	if s == nil || s.pool == nil {
		return index.Entry{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return scanEntry(s.pool.QueryRow(ctx, selectSQL+`
		WHERE chain = $1 AND network = $2 AND record_key = $3
	`, string(c), string(n), key))
}

func (s *Store) ListByDepositor(ctx context.Context, c chain.Chain, n chain.Network, depositor identity.Identity) ([]index.Entry, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, selectSQL+`
		WHERE chain = $1 AND network = $2 AND depositor = $3
		ORDER BY record_key ASC
	`, string(c), string(n), depositor.Bytes())
	if err != nil {
		return nil, fmt.Errorf("index/postgres: list by depositor: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) ListOpen(ctx context.Context, c chain.Chain, n chain.Network) ([]index.Entry, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, selectSQL+`
		WHERE chain = $1 AND network = $2 AND NOT is_closed
		ORDER BY record_key ASC
	`, string(c), string(n))
	if err != nil {
		return nil, fmt.Errorf("index/postgres: list open: %w", err)
	}
	return scanEntries(rows)
}

const selectSQL = `
	SELECT
		chain, network, record_key,
		depositor, receiver, asset,
		amount, last_proof_at, timeout_seconds,
		bump, is_closed, seed,
		seen_at
	FROM custody_records
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (index.Entry, error) {
	var (
		chainRaw   string
		networkRaw string
		key        string

		depositorRaw []byte
		receiverRaw  []byte
		assetRaw     []byte
		amount       int64
		lastProofAt  int64
		timeout      int64
		bump         int16
		closed       bool
		seed         []byte
		seenAt       time.Time
	)
	err := row.Scan(
		&chainRaw, &networkRaw, &key,
		&depositorRaw, &receiverRaw, &assetRaw,
		&amount, &lastProofAt, &timeout,
		&bump, &closed, &seed,
		&seenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return index.Entry{}, index.ErrNotFound
		}
		return index.Entry{}, fmt.Errorf("index/postgres: scan record: %w", err)
	}

	depositor, err := identity.FromBytes(depositorRaw)
	if err != nil {
		return index.Entry{}, fmt.Errorf("index/postgres: depositor column: %w", err)
	}
	receiver, err := identity.FromBytes(receiverRaw)
	if err != nil {
		return index.Entry{}, fmt.Errorf("index/postgres: receiver column: %w", err)
	}
	asset, err := identity.FromBytes(assetRaw)
	if err != nil {
		return index.Entry{}, fmt.Errorf("index/postgres: asset column: %w", err)
	}
	if amount < 0 || timeout < 0 || bump < 0 || bump > 255 {
		return index.Entry{}, fmt.Errorf("index/postgres: value out of range in db")
	}

	return index.Entry{
		Chain:   chain.Chain(chainRaw),
		Network: chain.Network(networkRaw),
		Key:     key,
		Record: custody.Record{
			Depositor:      depositor,
			Receiver:       receiver,
			Asset:          asset,
			Amount:         uint64(amount),
			LastProofAt:    lastProofAt,
			TimeoutSeconds: uint64(timeout),
			Bump:           uint8(bump),
			Closed:         closed,
			Seed:           append([]byte(nil), seed...),
		},
		SeenAt: seenAt,
	}, nil
}

func scanEntries(rows pgx.Rows) ([]index.Entry, error) {
	defer rows.Close()

	var out []index.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index/postgres: list rows: %w", err)
	}
	return out, nil
}

func getRecordTx(ctx context.Context, tx pgx.Tx, c chain.Chain, n chain.Network, key string) (*custody.Record, error) {
	e, err := scanEntry(tx.QueryRow(ctx, selectSQL+`
		WHERE chain = $1 AND network = $2 AND record_key = $3
		FOR UPDATE
	`, string(c), string(n), key))
	if err != nil {
		return nil, err
	}
	rec := e.Record
	return &rec, nil
}

func seedBytes(seed []byte) []byte {
	if seed == nil {
		return []byte{}
	}
	return seed
}

var _ index.Store = (*Store)(nil)
