// Package solana implements the chain adapter for the deterministic-address,
// account-model backend.
package solana

import (
	"fmt"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

// Well-known program ids shared by every network.
var (
	systemProgram     = identity.MustParse("11111111111111111111111111111111")
	tokenProgram      = identity.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	ataProgram        = identity.MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	rentSysvar        = identity.MustParse("SysvarRent111111111111111111111111111111111")
	wrappedNativeMint = identity.MustParse("So11111111111111111111111111111111111111112")
)

// NetworkConfig pins the per-network constants: the custody program, the
// custody asset, and the life-proof mint consumed on every proof of life.
// The life-proof asset is deliberately decoupled from the custody asset.
type NetworkConfig struct {
	Network chain.Network

	ProgramID   identity.Identity
	CustodyMint identity.Identity

	LifeProofMint identity.Identity
	// LifeProofDecimals sizes the burn: one whole unit, 10^decimals smallest
	// units, is consumed per proof of life.
	LifeProofDecimals uint8

	RPCEndpoint string
}

// BurnAmount is the smallest-unit quantity burned per proof of life.
func (c NetworkConfig) BurnAmount() uint64 {
	n := uint64(1)
	for i := uint8(0); i < c.LifeProofDecimals; i++ {
		n *= 10
	}
	return n
}

// MainnetConfig returns the mainnet deployment constants.
func MainnetConfig() NetworkConfig {
	return NetworkConfig{
		Network:           chain.NetworkMainnet,
		ProgramID:         identity.MustParse("EyFvSrD8X5DDGrWpyRRJsxLsrJqngQRAHVponPmR9mmm"),
		CustodyMint:       wrappedNativeMint,
		LifeProofMint:     identity.MustParse("dVA6zfXBRieUCPS8GR4hve5ugmp5naPvKGFquUDpump"),
		LifeProofDecimals: 6,
		RPCEndpoint:       "https://api.mainnet-beta.solana.com",
	}
}

// DevnetConfig returns the devnet deployment constants.
func DevnetConfig() NetworkConfig {
	return NetworkConfig{
		Network:           chain.NetworkDevnet,
		ProgramID:         identity.MustParse("45BVWUn3fdnLwikmk9WZjcXjLBQNiBprsYKKhV1NhCQj"),
		CustodyMint:       wrappedNativeMint,
		LifeProofMint:     identity.MustParse("6WnV2dFQwvdJvMhWrg4d8ngYcgt6vvtKAkGrYovGjpwF"),
		LifeProofDecimals: 6,
		RPCEndpoint:       "https://api.devnet.solana.com",
	}
}

// ConfigFor maps a network name to its deployment constants.
func ConfigFor(n chain.Network) (NetworkConfig, error) {
	switch n {
	case chain.NetworkMainnet:
		return MainnetConfig(), nil
	case chain.NetworkDevnet:
		return DevnetConfig(), nil
	default:
		return NetworkConfig{}, fmt.Errorf("%w: unknown solana network %q", custody.ErrValidation, n)
	}
}

func (c NetworkConfig) validate() error {
	if c.Network == "" {
		return fmt.Errorf("%w: missing network", custody.ErrValidation)
	}
	if c.ProgramID.IsZero() || c.CustodyMint.IsZero() || c.LifeProofMint.IsZero() {
		return fmt.Errorf("%w: missing program or mint constants", custody.ErrValidation)
	}
	return nil
}
