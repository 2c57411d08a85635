package evm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/depositcache"
	"github.com/dielemma/custody/internal/identity"
)

var ErrInvalidConfig = errors.New("evm: invalid config")

// Gas fallbacks per operation, used when estimation fails. Estimation is
// best-effort and must never block plan construction.
const (
	depositGasFallback  uint64 = 260_000
	proofGasFallback    uint64 = 80_000
	withdrawGasFallback uint64 = 130_000
	claimGasFallback    uint64 = 130_000
)

var defaultMinTipCap = big.NewInt(1_000_000_000) // 1 gwei

// Backend is the read/estimate surface the adapter needs from a node.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// NetworkConfig pins one vault deployment.
type NetworkConfig struct {
	Network chain.Network
	ChainID *big.Int
	Vault   common.Address

	MinTipCap *big.Int
}

// SepoliaConfig returns the test deployment constants.
func SepoliaConfig(vault common.Address) NetworkConfig {
	return NetworkConfig{
		Network: chain.NetworkSepolia,
		ChainID: big.NewInt(11155111),
		Vault:   vault,
	}
}

// MainnetConfig returns the mainnet deployment constants.
func MainnetConfig(vault common.Address) NetworkConfig {
	return NetworkConfig{
		Network: chain.NetworkMainnet,
		ChainID: big.NewInt(1),
		Vault:   vault,
	}
}

// Adapter builds unsigned vault call data and reads deposits by walking the
// contract's deposit array.
type Adapter struct {
	cfg     NetworkConfig
	backend Backend
	cache   *depositcache.Cache
	log     *slog.Logger
	now     func() time.Time
}

func NewAdapter(cfg NetworkConfig, backend Backend, cache *depositcache.Cache, log *slog.Logger) (*Adapter, error) {
	if cfg.Network == "" {
		return nil, fmt.Errorf("%w: missing network", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if (cfg.Vault == common.Address{}) {
		return nil, fmt.Errorf("%w: zero vault address", ErrInvalidConfig)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = defaultMinTipCap
	}
	if cache == nil {
		cache = depositcache.New(depositcache.DefaultTTL, nil)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{cfg: cfg, backend: backend, cache: cache, log: log, now: time.Now}, nil
}

func (a *Adapter) Chain() chain.Chain     { return chain.ChainEVM }
func (a *Adapter) Network() chain.Network { return a.cfg.Network }

func (a *Adapter) cacheKey() string {
	return string(chain.ChainEVM) + "/" + string(a.cfg.Network)
}

// CreateDeposit builds deposit call data. The assigned identifier is the
// vault's current deposit count: the index this deposit receives if no other
// deposit lands first. Callers racing other writers should re-resolve via
// GetUserDeposits after confirmation.
func (a *Adapter) CreateDeposit(ctx context.Context, req chain.DepositRequest) (*chain.TxPlan, error) {
	// The contract-storage backend has no seed; only the shared terms apply.
	if err := custody.ValidateTerms(req.Depositor, req.Receiver, req.Amount, req.TimeoutSeconds); err != nil {
		return nil, err
	}
	depositor, err := AddressFromIdentity(req.Depositor)
	if err != nil {
		return nil, err
	}
	receiver, err := AddressFromIdentity(req.Receiver)
	if err != nil {
		return nil, err
	}

	payload, err := PackDeposit(receiver, req.Amount, req.TimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", custody.ErrValidation, err)
	}

	index, err := a.depositCount(ctx)
	if err != nil {
		return nil, err
	}

	plan := a.newPlan("deposit", payload, custody.ByIndex{Owner: req.Depositor, Index: index})
	a.fillGas(ctx, plan, depositor, depositGasFallback)
	return plan, nil
}

func (a *Adapter) CreateProofOfLife(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	return a.createMutation(ctx, "proofOfLife", req, proofGasFallback)
}

func (a *Adapter) CreateWithdraw(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	return a.createMutation(ctx, "withdraw", req, withdrawGasFallback)
}

func (a *Adapter) CreateClaim(ctx context.Context, req chain.MutationRequest) (*chain.TxPlan, error) {
	return a.createMutation(ctx, "claim", req, claimGasFallback)
}

func (a *Adapter) createMutation(ctx context.Context, method string, req chain.MutationRequest, gasFallback uint64) (*chain.TxPlan, error) {
	loc, ok := req.Deposit.(custody.ByIndex)
	if !ok {
		return nil, fmt.Errorf("%w: contract-storage backend locates deposits by index", custody.ErrValidation)
	}
	if req.Caller.IsZero() {
		return nil, fmt.Errorf("%w: zero caller", custody.ErrValidation)
	}
	caller, err := AddressFromIdentity(req.Caller)
	if err != nil {
		return nil, err
	}

	rec, err := a.getDepositAt(ctx, loc.Index)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(method, rec, req.Caller); err != nil {
		return nil, err
	}

	payload, err := PackByIndex(method, loc.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", custody.ErrValidation, err)
	}

	plan := a.newPlan(method, payload, loc)
	a.fillGas(ctx, plan, caller, gasFallback)
	return plan, nil
}

// GetDeposit reads one deposit by index.
func (a *Adapter) GetDeposit(ctx context.Context, loc custody.Locator) (custody.Record, error) {
	byIndex, ok := loc.(custody.ByIndex)
	if !ok {
		return custody.Record{}, fmt.Errorf("%w: contract-storage backend locates deposits by index", custody.ErrValidation)
	}
	return a.getDepositAt(ctx, byIndex.Index)
}

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

// ListDeposits returns the full cached scan, each record paired with its
// array index.
func (a *Adapter) ListDeposits(ctx context.Context) ([]chain.Located, error) {
	all, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chain.Located, 0, len(all))
	for i, r := range all {
		out = append(out, chain.Located{
			Locator: custody.ByIndex{Owner: r.Depositor, Index: uint64(i)},
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
		count, err := a.depositCount(ctx)
		if err != nil {
			return nil, err
		}
		records := make([]custody.Record, 0, count)
		for i := uint64(0); i < count; i++ {
			rec, err := a.getDepositAt(ctx, i)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	})
}

func (a *Adapter) depositCount(ctx context.Context) (uint64, error) {
	data, err := PackDepositCount()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", custody.ErrValidation, err)
	}
	ret, err := a.call(ctx, data)
	if err != nil {
		return 0, chain.Transport("depositCount", err)
	}
	return UnpackDepositCount(ret)
}

func (a *Adapter) getDepositAt(ctx context.Context, index uint64) (custody.Record, error) {
	data, err := PackGetDeposit(index)
	if err != nil {
		return custody.Record{}, fmt.Errorf("%w: %v", custody.ErrValidation, err)
	}
	ret, err := a.call(ctx, data)
	if err != nil {
		return custody.Record{}, chain.Transport("getDeposit", err)
	}
	rec, err := UnpackDeposit(ret)
	if err != nil {
		return custody.Record{}, err
	}
	if rec.Depositor.IsZero() {
		return custody.Record{}, custody.ErrNotFound
	}
	return rec, nil
}

func (a *Adapter) call(ctx context.Context, data []byte) ([]byte, error) {
	return a.backend.CallContract(ctx, ethereum.CallMsg{To: &a.cfg.Vault, Data: data}, nil)
}

func (a *Adapter) newPlan(op string, payload []byte, loc custody.Locator) *chain.TxPlan {
	return &chain.TxPlan{
		Chain:      chain.ChainEVM,
		Network:    a.cfg.Network,
		Op:         op,
		To:         a.cfg.Vault.Hex(),
		Payload:    payload,
		Identifier: loc,
	}
}

// fillGas populates gas and fee fields best-effort. Any estimation failure
// falls back to the per-op constant and a plan without fee caps; it never
// fails the plan.
func (a *Adapter) fillGas(ctx context.Context, plan *chain.TxPlan, from common.Address, fallback uint64) {
	msg := ethereum.CallMsg{From: from, To: &a.cfg.Vault, Data: plan.Payload}
	gas, err := a.backend.EstimateGas(ctx, msg)
	if err != nil {
		a.log.Warn("gas estimation failed, using fallback", "op", plan.Op, "fallback", fallback, "err", err)
		gas = fallback
	}
	plan.GasLimit = gas

	header, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		a.log.Warn("base fee unavailable, omitting fee caps", "op", plan.Op, "err", err)
		return
	}
	tip, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		a.log.Warn("tip suggestion failed, using min tip", "op", plan.Op, "err", err)
		tip = new(big.Int).Set(a.cfg.MinTipCap)
	}
	tipCap, feeCap, err := calc1559Fees(header.BaseFee, tip, a.cfg.MinTipCap)
	if err != nil {
		a.log.Warn("fee calculation failed, omitting fee caps", "op", plan.Op, "err", err)
		return
	}
	plan.GasTipCap = tipCap
	plan.GasFeeCap = feeCap
}

func (a *Adapter) authorize(method string, rec custody.Record, caller identity.Identity) error {
	switch method {
	case "proofOfLife", "withdraw":
		if caller != rec.Depositor {
			return fmt.Errorf("%w: caller is not the depositor", custody.ErrUnauthorized)
		}
	case "claim":
		if caller != rec.Receiver {
			return fmt.Errorf("%w: caller is not the receiver", custody.ErrUnauthorized)
		}
	}
	if rec.Closed {
		return custody.ErrClosed
	}
	if method == "claim" && !rec.Expired(a.now()) {
		return fmt.Errorf("%w: %d of %d seconds elapsed",
			custody.ErrNotExpired, rec.Elapsed(a.now()), rec.TimeoutSeconds)
	}
	return nil
}
