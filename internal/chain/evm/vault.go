// Package evm implements the chain adapter for the index-addressed,
// contract-storage backend. Deposits live in an array inside the vault
// contract and are located by an auto-incrementing index; there is no
// derived-address step on this backend.
package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

var ErrInvalidInput = errors.New("evm: invalid input")

var (
	initOnce sync.Once
	initErr  error

	vaultABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		vaultABI, err = abi.JSON(strings.NewReader(vaultABIJSON))
		if err != nil {
			initErr = fmt.Errorf("evm: parse vault ABI: %w", err)
		}
	})
	return initErr
}

// vaultDeposit mirrors CustodyVault.Deposit (the contract's storage struct).
type vaultDeposit struct {
	Depositor          common.Address
	Receiver           common.Address
	Asset              common.Address
	Amount             uint64
	LastProofTimestamp int64
	TimeoutSeconds     uint64
	IsClosed           bool
}

// PackDeposit builds deposit(receiver, amount, timeoutSeconds) call data.
func PackDeposit(receiver common.Address, amount, timeoutSeconds uint64) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if (receiver == common.Address{}) {
		return nil, fmt.Errorf("%w: zero receiver", ErrInvalidInput)
	}
	b, err := vaultABI.Pack("deposit", receiver, amount, timeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("evm: pack deposit calldata: %w", err)
	}
	return b, nil
}

// PackByIndex builds call data for the single-argument mutations:
// proofOfLife, withdraw, claim.
func PackByIndex(method string, index uint64) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	switch method {
	case "proofOfLife", "withdraw", "claim":
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidInput, method)
	}
	b, err := vaultABI.Pack(method, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s calldata: %w", method, err)
	}
	return b, nil
}

// PackGetDeposit builds getDeposit(index) call data.
func PackGetDeposit(index uint64) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := vaultABI.Pack("getDeposit", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("evm: pack getDeposit calldata: %w", err)
	}
	return b, nil
}

// PackDepositCount builds depositCount() call data.
func PackDepositCount() ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := vaultABI.Pack("depositCount")
	if err != nil {
		return nil, fmt.Errorf("evm: pack depositCount calldata: %w", err)
	}
	return b, nil
}

// UnpackDeposit decodes a getDeposit return into the backend-agnostic record
// shape. Index-addressed records carry no seed and no bump.
func UnpackDeposit(ret []byte) (custody.Record, error) {
	if err := initABI(); err != nil {
		return custody.Record{}, err
	}
	out, err := vaultABI.Unpack("getDeposit", ret)
	if err != nil {
		return custody.Record{}, fmt.Errorf("%w: unpack getDeposit: %v", custody.ErrEncoding, err)
	}
	if len(out) != 1 {
		return custody.Record{}, fmt.Errorf("%w: getDeposit returned %d values", custody.ErrEncoding, len(out))
	}
	d := *abi.ConvertType(out[0], new(vaultDeposit)).(*vaultDeposit)

	return custody.Record{
		Depositor:      IdentityFromAddress(d.Depositor),
		Receiver:       IdentityFromAddress(d.Receiver),
		Asset:          IdentityFromAddress(d.Asset),
		Amount:         d.Amount,
		LastProofAt:    d.LastProofTimestamp,
		TimeoutSeconds: d.TimeoutSeconds,
		Closed:         d.IsClosed,
	}, nil
}

// UnpackDepositCount decodes a depositCount return.
func UnpackDepositCount(ret []byte) (uint64, error) {
	if err := initABI(); err != nil {
		return 0, err
	}
	out, err := vaultABI.Unpack("depositCount", ret)
	if err != nil {
		return 0, fmt.Errorf("%w: unpack depositCount: %v", custody.ErrEncoding, err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: depositCount returned %d values", custody.ErrEncoding, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%w: depositCount out of range", custody.ErrEncoding)
	}
	return n.Uint64(), nil
}

// IdentityFromAddress left-pads a 20-byte contract address into the uniform
// 32-byte identity.
func IdentityFromAddress(a common.Address) identity.Identity {
	var id identity.Identity
	copy(id[12:], a[:])
	return id
}

// AddressFromIdentity narrows a 32-byte identity to a contract address. The
// top 12 bytes must be zero; anything else never came from this backend.
func AddressFromIdentity(id identity.Identity) (common.Address, error) {
	for _, b := range id[:12] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("%w: identity is not an evm address", custody.ErrValidation)
		}
	}
	var a common.Address
	copy(a[:], id[12:])
	return a, nil
}

const vaultABIJSON = `[
  {
    "inputs": [
      {"internalType":"address","name":"receiver","type":"address"},
      {"internalType":"uint64","name":"amount","type":"uint64"},
      {"internalType":"uint64","name":"timeoutSeconds","type":"uint64"}
    ],
    "name":"deposit",
    "outputs":[{"internalType":"uint256","name":"index","type":"uint256"}],
    "stateMutability":"payable",
    "type":"function"
  },
  {
    "inputs":[{"internalType":"uint256","name":"index","type":"uint256"}],
    "name":"proofOfLife",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "inputs":[{"internalType":"uint256","name":"index","type":"uint256"}],
    "name":"withdraw",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "inputs":[{"internalType":"uint256","name":"index","type":"uint256"}],
    "name":"claim",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "inputs":[{"internalType":"uint256","name":"index","type":"uint256"}],
    "name":"getDeposit",
    "outputs":[
      {
        "components":[
          {"internalType":"address","name":"depositor","type":"address"},
          {"internalType":"address","name":"receiver","type":"address"},
          {"internalType":"address","name":"asset","type":"address"},
          {"internalType":"uint64","name":"amount","type":"uint64"},
          {"internalType":"int64","name":"lastProofTimestamp","type":"int64"},
          {"internalType":"uint64","name":"timeoutSeconds","type":"uint64"},
          {"internalType":"bool","name":"isClosed","type":"bool"}
        ],
        "internalType":"struct CustodyVault.Deposit",
        "name":"",
        "type":"tuple"
      }
    ],
    "stateMutability":"view",
    "type":"function"
  },
  {
    "inputs":[],
    "name":"depositCount",
    "outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
    "stateMutability":"view",
    "type":"function"
  }
]`
