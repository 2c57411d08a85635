// Package backend constructs chain adapters from flat configuration. Every
// entrypoint that needs an adapter goes through New, so the set of supported
// chain+network pairs is defined in one place.
package backend

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/chain/evm"
	"github.com/dielemma/custody/internal/chain/solana"
	"github.com/dielemma/custody/internal/custody"
)

// Config is the per-backend configuration collected from flags.
type Config struct {
	// RPCURL overrides the network's default endpoint. Account-model
	// networks carry a public default; contract-storage backends require
	// an explicit endpoint.
	RPCURL string

	// VaultAddress is the hex vault contract address; contract-storage
	// backends only.
	VaultAddress string

	Timeout time.Duration
	Log     *slog.Logger
}

// New builds the adapter for one chain+network pair. Unknown pairs and
// malformed configuration are validation errors; only a failed dial is a
// transport error.
func New(c chain.Chain, n chain.Network, cfg Config) (chain.Adapter, error) {
	switch c {
	case chain.ChainSolana:
		netCfg, err := solana.ConfigFor(n)
		if err != nil {
			return nil, err
		}
		url := strings.TrimSpace(cfg.RPCURL)
		if url == "" {
			url = netCfg.RPCEndpoint
		}
		var opts []solana.Option
		if cfg.Timeout > 0 {
			opts = append(opts, solana.WithTimeout(cfg.Timeout))
		}
		client, err := solana.NewClient(url, opts...)
		if err != nil {
			return nil, err
		}
		return solana.NewAdapter(netCfg, client, nil, cfg.Log)

	case chain.ChainEVM:
		if strings.TrimSpace(cfg.RPCURL) == "" {
			return nil, fmt.Errorf("%w: rpc url is required", custody.ErrValidation)
		}
		vaultRaw := strings.TrimSpace(cfg.VaultAddress)
		if !common.IsHexAddress(vaultRaw) {
			return nil, fmt.Errorf("%w: vault address %q is not a valid hex address", custody.ErrValidation, cfg.VaultAddress)
		}
		vault := common.HexToAddress(vaultRaw)
		var netCfg evm.NetworkConfig
		switch n {
		case chain.NetworkMainnet:
			netCfg = evm.MainnetConfig(vault)
		case chain.NetworkSepolia:
			netCfg = evm.SepoliaConfig(vault)
		default:
			return nil, fmt.Errorf("%w: unsupported evm network %q", custody.ErrValidation, n)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, chain.Transport("dial evm rpc", err)
		}
		return evm.NewAdapter(netCfg, client, nil, cfg.Log)

	default:
		return nil, fmt.Errorf("%w: unsupported chain %q", custody.ErrValidation, c)
	}
}
