package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/depositcache"
	"github.com/dielemma/custody/internal/identity"
	"github.com/dielemma/custody/internal/pda"
	"github.com/dielemma/custody/internal/wire"
)

// Adapter builds unsigned custody-program instructions and reads deposit
// records by scanning program-owned accounts.
type Adapter struct {
	cfg    NetworkConfig
	client *Client
	cache  *depositcache.Cache
	log    *slog.Logger
	now    func() time.Time
}

func NewAdapter(cfg NetworkConfig, client *Client, cache *depositcache.Cache, log *slog.Logger) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: nil rpc client", ErrInvalidConfig)
	}
	if cache == nil {
		cache = depositcache.New(depositcache.DefaultTTL, nil)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{cfg: cfg, client: client, cache: cache, log: log, now: time.Now}, nil
}

func (a *Adapter) Chain() chain.Chain     { return chain.ChainSolana }
func (a *Adapter) Network() chain.Network { return a.cfg.Network }

func (a *Adapter) cacheKey() string {
	return string(chain.ChainSolana) + "/" + string(a.cfg.Network)
}

// CreateDeposit derives the deposit and custody addresses, verifies the
// depositor holds a token account for the custody asset, and assembles the
// unsigned Deposit instruction.
func (a *Adapter) CreateDeposit(ctx context.Context, req chain.DepositRequest) (*chain.TxPlan, error) {
	if err := custody.ValidateNew(req.Depositor, req.Receiver, req.Seed, req.Amount, req.TimeoutSeconds); err != nil {
		return nil, err
	}

	depositAddr, _, err := pda.DepositAddress(a.cfg.ProgramID, req.Depositor, req.Seed)
	if err != nil {
		return nil, err
	}
	custodyAddr, _, err := pda.CustodyAddress(a.cfg.ProgramID, depositAddr)
	if err != nil {
		return nil, err
	}
	depositorToken, err := a.tokenAccount(req.Depositor, a.cfg.CustodyMint)
	if err != nil {
		return nil, err
	}

	// The deposit record must not already exist for this (depositor, seed).
	switch _, err := a.client.GetAccountInfo(ctx, depositAddr); {
	case err == nil:
		return nil, fmt.Errorf("%w: deposit already exists for this seed", custody.ErrState)
	case errors.Is(err, ErrNoAccount):
	default:
		return nil, chain.Transport("check deposit account", err)
	}

	// Prerequisite: the depositor needs a custody-asset token account to
	// fund the deposit from. An RPC failure here must not block plan
	// construction; a missing account must.
	switch _, err := a.client.GetAccountInfo(ctx, depositorToken); {
	case err == nil:
	case errors.Is(err, ErrNoAccount):
		return nil, fmt.Errorf("%w: depositor has no token account for the custody asset", custody.ErrValidation)
	default:
		a.log.Warn("token account check failed, proceeding", "err", err)
	}

	payload, err := wire.EncodeDeposit(req.Seed, req.Receiver, req.Amount, req.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	return &chain.TxPlan{
		Chain:   chain.ChainSolana,
		Network: a.cfg.Network,
		Op:      wire.OpDeposit.String(),
		To:      a.cfg.ProgramID.String(),
		Payload: payload,
		Accounts: []chain.AccountMeta{
			{Address: req.Depositor, Signer: true, Writable: true},
			{Address: depositAddr, Writable: true},
			{Address: depositorToken, Writable: true},
			{Address: custodyAddr, Writable: true},
			{Address: tokenProgram},
			{Address: systemProgram},
			{Address: rentSysvar},
		},
		Identifier: custody.BySeed{Depositor: req.Depositor, Seed: append([]byte(nil), req.Seed...)},
	}, nil
}

// CreateProofOfLife assembles the unsigned ProofOfLife instruction. The
// ledger burns one whole unit of the life-proof mint from the caller.
func (a *Adapter) CreateProofOfLife(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	loc, err := a.locate(req)
	if err != nil {
		return nil, err
	}
	rec, depositAddr, err := a.fetchRecord(ctx, loc)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(wire.OpProofOfLife, rec, req.Caller, a.now()); err != nil {
		return nil, err
	}

	lifeToken, err := a.tokenAccount(req.Caller, a.cfg.LifeProofMint)
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodeSeedOnly(wire.OpProofOfLife, loc.Seed)
	if err != nil {
		return nil, err
	}

	return &chain.TxPlan{
		Chain:   chain.ChainSolana,
		Network: a.cfg.Network,
		Op:      wire.OpProofOfLife.String(),
		To:      a.cfg.ProgramID.String(),
		Payload: payload,
		Accounts: []chain.AccountMeta{
			{Address: req.Caller, Signer: true},
			{Address: depositAddr, Writable: true},
			{Address: lifeToken, Writable: true},
			{Address: a.cfg.LifeProofMint, Writable: true},
			{Address: tokenProgram},
		},
		Identifier: loc,
	}, nil
}

// CreateWithdraw assembles the unsigned Withdraw instruction.
func (a *Adapter) CreateWithdraw(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	return a.createRelease(ctx, wire.OpWithdraw, req)
}

// CreateClaim assembles the unsigned Claim instruction.
func (a *Adapter) CreateClaim(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	return a.createRelease(ctx, wire.OpClaim, req)
}

// createRelease covers the two terminal transitions, which share the same
// account shape: signer, record, signer's token account, custody account.
func (a *Adapter) createRelease(ctx context.Context, op wire.Op, req chain.MutationRequest) (*chain.TxPlan, error) {
	loc, err := a.locate(req)
	if err != nil {
		return nil, err
	}
	rec, depositAddr, err := a.fetchRecord(ctx, loc)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(op, rec, req.Caller, a.now()); err != nil {
		return nil, err
	}

	custodyAddr, _, err := pda.CustodyAddress(a.cfg.ProgramID, depositAddr)
	if err != nil {
		return nil, err
	}
	callerToken, err := a.tokenAccount(req.Caller, a.cfg.CustodyMint)
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodeSeedOnly(op, loc.Seed)
	if err != nil {
		return nil, err
	}

	return &chain.TxPlan{
		Chain:   chain.ChainSolana,
		Network: a.cfg.Network,
		Op:      op.String(),
		To:      a.cfg.ProgramID.String(),
		Payload: payload,
		Accounts: []chain.AccountMeta{
			{Address: req.Caller, Signer: true},
			{Address: depositAddr, Writable: true},
			{Address: callerToken, Writable: true},
			{Address: custodyAddr, Writable: true},
			{Address: tokenProgram},
		},
		Identifier: loc,
	}, nil
}

// CreateClose assembles the unsigned CloseAccount instruction reclaiming the
// record's rent after a terminal transition.
func (a *Adapter) CreateClose(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	loc, err := a.locate(req)
	if err != nil {
		return nil, err
	}
	rec, depositAddr, err := a.fetchRecord(ctx, loc)
	if err != nil {
		return nil, err
	}
	if err := rec.AuthorizeClose(req.Caller); err != nil {
		return nil, err
	}

	payload, err := wire.EncodeSeedOnly(wire.OpClose, loc.Seed)
	if err != nil {
		return nil, err
	}

	return &chain.TxPlan{
		Chain:   chain.ChainSolana,
		Network: a.cfg.Network,
		Op:      wire.OpClose.String(),
		To:      a.cfg.ProgramID.String(),
		Payload: payload,
		Accounts: []chain.AccountMeta{
			{Address: req.Caller, Signer: true},
			{Address: depositAddr, Writable: true},
			{Address: req.Caller, Writable: true},
			{Address: systemProgram},
		},
		Identifier: loc,
	}, nil
}

// GetDeposit fetches and decodes one record by its derived address.
func (a *Adapter) GetDeposit(ctx context.Context, loc custody.Locator) (custody.Record, error) {
	bySeed, ok := loc.(custody.BySeed)
	if !ok {
		return custody.Record{}, fmt.Errorf("%w: account-model backend locates deposits by seed", custody.ErrValidation)
	}
	rec, _, err := a.fetchRecord(ctx, bySeed)
	return rec, err
}

// GetUserDeposits returns every record in which the identity participates,
// as depositor or receiver, from one cached full scan.
func (a *Adapter) GetUserDeposits(ctx context.Context, id identity.Identity) ([]custody.Record, error) {
	all, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []custody.Record
	for _, r := range all {
		if r.Depositor == id || r.Receiver == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetClaimableDeposits filters the scan to open records naming the identity
// as receiver. Expiry is left to the caller: a not-yet-expired deposit is
// still worth showing with its countdown.
func (a *Adapter) GetClaimableDeposits(ctx context.Context, id identity.Identity) ([]custody.Record, error) {
	all, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []custody.Record
	for _, r := range all {
		if r.Receiver == id && !r.Closed {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListDeposits returns the full cached scan, each record paired with the
// seed locator that derives its account address.
func (a *Adapter) ListDeposits(ctx context.Context) ([]chain.Located, error) {
	all, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chain.Located, 0, len(all))
	for _, r := range all {
		out = append(out, chain.Located{
			Locator: custody.BySeed{Depositor: r.Depositor, Seed: append([]byte(nil), r.Seed...)},
			Record:  r,
		})
	}
	return out, nil
}

func (a *Adapter) InvalidateCache() {
	a.cache.Invalidate(a.cacheKey())
}

func (a *Adapter) scanAll(ctx context.Context) ([]custody.Record, error) {
	return a.cache.Get(ctx, a.cacheKey(), func(ctx context.Context) ([]custody.Record, error) {
		accounts, err := a.client.GetProgramAccounts(ctx, a.cfg.ProgramID, wire.RecordLen)
		if err != nil {
			return nil, chain.Transport("scan program accounts", err)
		}
		records := make([]custody.Record, 0, len(accounts))
		for _, acc := range accounts {
			rec, err := wire.DecodeRecord(acc.Account.Data)
			if err != nil {
				return nil, fmt.Errorf("solana: account %s: %w", acc.Address, err)
			}
			records = append(records, rec)
		}
		return records, nil
	})
}

func (a *Adapter) locate(req chain.MutationRequest) (custody.BySeed, error) {
	loc, ok := req.Deposit.(custody.BySeed)
	if !ok {
		return custody.BySeed{}, fmt.Errorf("%w: account-model backend locates deposits by seed", custody.ErrValidation)
	}
	if loc.Depositor.IsZero() {
		return custody.BySeed{}, fmt.Errorf("%w: zero depositor in locator", custody.ErrValidation)
	}
	if err := custody.ValidateSeed(loc.Seed); err != nil {
		return custody.BySeed{}, err
	}
	if req.Caller.IsZero() {
		return custody.BySeed{}, fmt.Errorf("%w: zero caller", custody.ErrValidation)
	}
	return loc, nil
}

func (a *Adapter) fetchRecord(ctx context.Context, loc custody.BySeed) (custody.Record, identity.Identity, error) {
	addr, _, err := pda.DepositAddress(a.cfg.ProgramID, loc.Depositor, loc.Seed)
	if err != nil {
		return custody.Record{}, identity.Identity{}, err
	}
	info, err := a.client.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNoAccount) {
			return custody.Record{}, identity.Identity{}, custody.ErrNotFound
		}
		return custody.Record{}, identity.Identity{}, chain.Transport("get deposit account", err)
	}
	if info.Owner != a.cfg.ProgramID {
		return custody.Record{}, identity.Identity{}, fmt.Errorf("%w: account owned by %s", custody.ErrEncoding, info.Owner)
	}
	rec, err := wire.DecodeRecord(info.Data)
	if err != nil {
		return custody.Record{}, identity.Identity{}, err
	}
	return rec, addr, nil
}

// tokenAccount derives the associated token account of owner for mint.
func (a *Adapter) tokenAccount(owner, mint identity.Identity) (identity.Identity, error) {
	addr, _, err := pda.Derive(ataProgram, owner[:], tokenProgram[:], mint[:])
	if err != nil {
		return identity.Identity{}, err
	}
	return addr, nil
}

// authorizeMutation applies the transition preconditions against the current
// record so unauthorized or stale plans fail before any payload is built.
// The ledger re-checks all of this atomically at execution.
func authorizeMutation(op wire.Op, rec custody.Record, caller identity.Identity, now time.Time) error {
	switch op {
	case wire.OpProofOfLife, wire.OpWithdraw:
		if caller != rec.Depositor {
			return fmt.Errorf("%w: caller is not the depositor", custody.ErrUnauthorized)
		}
	case wire.OpClaim:
		if caller != rec.Receiver {
			return fmt.Errorf("%w: caller is not the receiver", custody.ErrUnauthorized)
		}
	}
	if rec.Closed {
		return custody.ErrClosed
	}
	if op == wire.OpClaim && !rec.Expired(now) {
		return fmt.Errorf("%w: %d of %d seconds elapsed",
			custody.ErrNotExpired, rec.Elapsed(now), rec.TimeoutSeconds)
	}
	return nil
}
