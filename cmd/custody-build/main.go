// custody-build constructs unsigned custody operation plans and prints them
// as JSON. It never holds keys: the output is handed to an external signer.
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
		return errors.New("subcommand is required: deposit|prove|withdraw|claim|close")
	}
	sub := strings.TrimSpace(args[0])
	switch sub {
	case "deposit":
		return runDeposit(args[1:], stdout)
	case "prove", "withdraw", "claim", "close":
		return runMutation(sub, args[1:], stdout)
	default:
		return fmt.Errorf("unsupported subcommand %q (want deposit|prove|withdraw|claim|close)", sub)
	}
}

type backendFlags struct {
	chain   *string
	network *string
	rpcURL  *string
	vault   *string
	timeout *time.Duration
}

func registerBackendFlags(fs *flag.FlagSet) backendFlags {
	return backendFlags{
		chain:   fs.String("chain", "", "ledger backend: solana|evm"),
		network: fs.String("network", "", "network: mainnet|devnet|sepolia"),
		rpcURL:  fs.String("rpc-url", "", "node RPC endpoint"),
		vault:   fs.String("vault", "", "vault contract address (evm only)"),
		timeout: fs.Duration("timeout", 30*time.Second, "overall RPC timeout"),
	}
}

func (bf backendFlags) build() (chain.Adapter, error) {
	return backend.New(
		chain.Chain(strings.TrimSpace(*bf.chain)),
		chain.Network(strings.TrimSpace(*bf.network)),
		backend.Config{
			RPCURL:       *bf.rpcURL,
			VaultAddress: *bf.vault,
			Timeout:      *bf.timeout,
		},
	)
}

func runDeposit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("custody-build deposit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bf := registerBackendFlags(fs)

	depositorRaw := fs.String("depositor", "", "depositor identity")
	receiverRaw := fs.String("receiver", "", "receiver identity")
	seedRaw := fs.String("seed", "", "deposit seed, utf-8 or 0x-hex (account model only)")
	amount := fs.Uint64("amount", 0, "deposit amount in base units")
	timeoutSecs := fs.Uint64("timeout-seconds", 0, "inactivity timeout in seconds")

	if err := fs.Parse(args); err != nil {
		return err
	}
	depositor, err := parseIdentity(*depositorRaw, "--depositor")
	if err != nil {
		return err
	}
	receiver, err := parseIdentity(*receiverRaw, "--receiver")
	if err != nil {
		return err
	}
	seed, err := parseSeed(*seedRaw)
	if err != nil {
		return err
	}

	adapter, err := bf.build()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *bf.timeout)
	defer cancel()

	plan, err := adapter.CreateDeposit(ctx, chain.DepositRequest{
		Depositor:      depositor,
		Receiver:       receiver,
		Seed:           seed,
		Amount:         *amount,
		TimeoutSeconds: *timeoutSecs,
	})
	if err != nil {
		return err
	}
	return writePlan(stdout, plan)
}

func runMutation(sub string, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("custody-build "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bf := registerBackendFlags(fs)

	callerRaw := fs.String("caller", "", "identity signing the operation")
	depositorRaw := fs.String("depositor", "", "deposit owner (account model)")
	seedRaw := fs.String("seed", "", "deposit seed, utf-8 or 0x-hex (account model)")
	indexRaw := fs.Int64("index", -1, "deposit index (contract storage)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	caller, err := parseIdentity(*callerRaw, "--caller")
	if err != nil {
		return err
	}
	loc, err := parseLocator(*depositorRaw, *seedRaw, *indexRaw, caller)
	if err != nil {
		return err
	}

	adapter, err := bf.build()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *bf.timeout)
	defer cancel()

	req := chain.MutationRequest{Deposit: loc, Caller: caller}
	var plan *chain.TxPlan
	switch sub {
	case "prove":
		plan, err = adapter.CreateProofOfLife(ctx, req)
	case "withdraw":
		plan, err = adapter.CreateWithdraw(ctx, req)
	case "claim":
		plan, err = adapter.CreateClaim(ctx, req)
	case "close":
		closer, ok := adapter.(interface {
			CreateClose(context.Context, chain.MutationRequest) (*chain.TxPlan, error)
		})
		if !ok {
			return errors.New("close is only supported on the account-model backend")
		}
		plan, err = closer.CreateClose(ctx, req)
	}
	if err != nil {
		return err
	}
	return writePlan(stdout, plan)
}

// parseLocator picks the backend-appropriate locator. A seed selects the
// account model; an index selects contract storage. The depositor defaults to
// the caller when omitted.
func parseLocator(depositorRaw, seedRaw string, index int64, caller identity.Identity) (custody.Locator, error) {
	hasSeed := strings.TrimSpace(seedRaw) != ""
	if hasSeed && index >= 0 {
		return nil, errors.New("--seed and --index are mutually exclusive")
	}
	switch {
	case hasSeed:
		seed, err := parseSeed(seedRaw)
		if err != nil {
			return nil, err
		}
		depositor := caller
		if strings.TrimSpace(depositorRaw) != "" {
			var err error
			depositor, err = parseIdentity(depositorRaw, "--depositor")
			if err != nil {
				return nil, err
			}
		}
		return custody.BySeed{Depositor: depositor, Seed: seed}, nil
	case index >= 0:
		return custody.ByIndex{Owner: caller, Index: uint64(index)}, nil
	default:
		return nil, errors.New("either --seed or --index is required")
	}
}

func parseIdentity(raw, flagName string) (identity.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.Identity{}, fmt.Errorf("%s is required", flagName)
	}
	id, err := parseIdentityAny(raw)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%s: %w", flagName, err)
	}
	return id, nil
}

// parseIdentityAny accepts base58 or a 20-byte 0x-hex EVM address.
func parseIdentityAny(raw string) (identity.Identity, error) {
	if common.IsHexAddress(raw) {
		return evm.IdentityFromAddress(common.HexToAddress(raw)), nil
	}
	return identity.Parse(raw)
}

func parseSeed(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		seed, err := hex.DecodeString(raw[2:])
		if err != nil {
			return nil, fmt.Errorf("parse --seed hex: %w", err)
		}
		return seed, nil
	}
	return []byte(raw), nil
}

func writePlan(stdout io.Writer, plan *chain.TxPlan) error {
	out := struct {
		*chain.TxPlan
		Identifier string `json:"identifier"`
	}{TxPlan: plan, Identifier: plan.Identifier.String()}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = stdout.Write(encoded)
	return err
}
