// Package chain defines the uniform adapter contract shared by both ledger
// backends. Shared logic never branches on chain identity; new backends are
// added by implementing Adapter, not by widening switches.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

// Chain names a ledger backend model.
type Chain string

const (
	// ChainSolana is the deterministic-address, account-model backend.
	ChainSolana Chain = "solana"
	// ChainEVM is the index-addressed, contract-storage backend.
	ChainEVM Chain = "evm"
)

// Network names one deployment of a backend.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
	NetworkSepolia Network = "sepolia"
)

// DepositRequest carries the caller-supplied fields of a Deposit operation.
// The custody asset is fixed per network and supplied by the adapter.
type DepositRequest struct {
	Depositor identity.Identity
	Receiver  identity.Identity
	// Seed is required on the account-model backend and ignored by
	// index-addressed backends.
	Seed           []byte
	Amount         uint64
	TimeoutSeconds uint64
}

// MutationRequest identifies an existing deposit and the identity acting
// on it.
type MutationRequest struct {
	Deposit custody.Locator
	Caller  identity.Identity
}

// AccountMeta is one entry of an account-model instruction's account list.
type AccountMeta struct {
	Address  identity.Identity `json:"address"`
	Signer   bool              `json:"signer"`
	Writable bool              `json:"writable"`
}

// TxPlan is an unsigned, unsubmitted operation. Adapters build plans; they
// never sign and never submit.
type TxPlan struct {
	Chain   Chain   `json:"chain"`
	Network Network `json:"network"`
	Op      string  `json:"op"`

	// To is the program id or contract address the payload targets.
	To string `json:"to"`
	// Payload is the instruction data (account model) or call data (contract
	// storage), unsigned.
	Payload []byte `json:"payload"`

	// Accounts is the ordered account list; account-model backends only.
	Accounts []AccountMeta `json:"accounts,omitempty"`

	// Identifier locates the deposit this plan creates or mutates.
	Identifier custody.Locator `json:"-"`

	// Gas fields are populated by contract-storage backends only. They are
	// best-effort: estimation failure falls back to fixed constants and
	// never blocks plan construction.
	GasLimit  uint64   `json:"gasLimit,omitempty"`
	GasFeeCap *big.Int `json:"gasFeeCap,omitempty"`
	GasTipCap *big.Int `json:"gasTipCap,omitempty"`
}

// Located pairs a record with the locator that addresses it on its backend.
type Located struct {
	Locator custody.Locator
	Record  custody.Record
}

// Adapter is the uniform operation set implemented once per backend.
//
// Create* methods build unsigned plans. Read methods decode ledger state;
// GetUserDeposits returns every record whose depositor or receiver matches
// the identity, and GetClaimableDeposits filters to open records the
// identity could eventually claim.
type Adapter interface {
	Chain() Chain
	Network() Network

	CreateDeposit(ctx context.Context, req DepositRequest) (*TxPlan, error)
	CreateProofOfLife(ctx context.Context, req MutationRequest) (*TxPlan, error)
	CreateWithdraw(ctx context.Context, req MutationRequest) (*TxPlan, error)
	CreateClaim(ctx context.Context, req MutationRequest) (*TxPlan, error)

	GetDeposit(ctx context.Context, loc custody.Locator) (custody.Record, error)
	GetUserDeposits(ctx context.Context, id identity.Identity) ([]custody.Record, error)
	GetClaimableDeposits(ctx context.Context, id identity.Identity) ([]custody.Record, error)
	ListDeposits(ctx context.Context) ([]Located, error)

	// InvalidateCache drops this adapter's cached read state. The cache has
	// no mutation-observing mechanism, so every successful write path must
	// call this before its next read.
	InvalidateCache()
}

// Transport wraps a backend failure so callers can distinguish it from the
// deterministic error classes.
func Transport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", custody.ErrTransport, op, err)
}
