// custody-deposits queries deposit records from a ledger backend and prints
// them as JSON.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dielemma/custody/internal/backend"
	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/chain/evm"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("subcommand is required: get|user|claimable")
	}
	sub := strings.TrimSpace(args[0])
	switch sub {
	case "get", "user", "claimable":
	default:
		return fmt.Errorf("unsupported subcommand %q (want get|user|claimable)", sub)
	}

	fs := flag.NewFlagSet("custody-deposits "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	chainName := fs.String("chain", "", "ledger backend: solana|evm")
	networkName := fs.String("network", "", "network: mainnet|devnet|sepolia")
	rpcURL := fs.String("rpc-url", "", "node RPC endpoint")
	vaultRaw := fs.String("vault", "", "vault contract address (evm only)")
	timeout := fs.Duration("timeout", 30*time.Second, "overall RPC timeout")

	idRaw := fs.String("identity", "", "identity to query (user|claimable)")
	depositorRaw := fs.String("depositor", "", "deposit owner (get, account model)")
	seedRaw := fs.String("seed", "", "deposit seed, utf-8 or 0x-hex (get, account model)")
	indexRaw := fs.Int64("index", -1, "deposit index (get, contract storage)")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	adapter, err := buildAdapter(*chainName, *networkName, *rpcURL, *vaultRaw, *timeout)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch sub {
	case "get":
		loc, err := parseLocator(*depositorRaw, *seedRaw, *indexRaw)
		if err != nil {
			return err
		}
		rec, err := adapter.GetDeposit(ctx, loc)
		if err != nil {
			return err
		}
		return writeJSON(stdout, rec)
	case "user":
		id, err := parseIdentity(*idRaw)
		if err != nil {
			return err
		}
		recs, err := adapter.GetUserDeposits(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(stdout, recs)
	default:
		id, err := parseIdentity(*idRaw)
		if err != nil {
			return err
		}
		recs, err := adapter.GetClaimableDeposits(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(stdout, recs)
	}
}

func buildAdapter(chainName, networkName, rpcURL, vaultRaw string, timeout time.Duration) (chain.Adapter, error) {
	return backend.New(
		chain.Chain(strings.TrimSpace(chainName)),
		chain.Network(strings.TrimSpace(networkName)),
		backend.Config{
			RPCURL:       rpcURL,
			VaultAddress: vaultRaw,
			Timeout:      timeout,
		},
	)
}

func parseLocator(depositorRaw, seedRaw string, index int64) (custody.Locator, error) {
	hasSeed := strings.TrimSpace(seedRaw) != ""
	switch {
	case hasSeed:
		depositor, err := parseIdentityNamed(depositorRaw, "--depositor")
		if err != nil {
			return nil, err
		}
		seed, err := parseSeed(seedRaw)
		if err != nil {
			return nil, err
		}
		return custody.BySeed{Depositor: depositor, Seed: seed}, nil
	case index >= 0:
		return custody.ByIndex{Index: uint64(index)}, nil
	default:
		return nil, errors.New("get needs --depositor and --seed, or --index")
	}
}

func parseIdentity(raw string) (identity.Identity, error) {
	return parseIdentityNamed(raw, "--identity")
}

func parseIdentityNamed(raw, flagName string) (identity.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.Identity{}, fmt.Errorf("%s is required", flagName)
	}
	if common.IsHexAddress(raw) {
		return evm.IdentityFromAddress(common.HexToAddress(raw)), nil
	}
	id, err := identity.Parse(raw)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%s: %w", flagName, err)
	}
	return id, nil
}

func parseSeed(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		seed, err := hex.DecodeString(raw[2:])
		if err != nil {
			return nil, fmt.Errorf("parse --seed hex: %w", err)
		}
		return seed, nil
	}
	return []byte(raw), nil
}

func writeJSON(stdout io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = stdout.Write(encoded)
	return err
}
