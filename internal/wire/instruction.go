package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

// Op is the 4-byte instruction discriminant preceding operation arguments.
type Op uint32

const (
	OpDeposit Op = iota
	OpProofOfLife
	OpWithdraw
	OpClaim
	OpClose
)

func (op Op) String() string {
	switch op {
	case OpDeposit:
		return "deposit"
	case OpProofOfLife:
		return "proof_of_life"
	case OpWithdraw:
		return "withdraw"
	case OpClaim:
		return "claim"
	case OpClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(op))
	}
}

// Instruction is the decoded form of one instruction payload. Receiver,
// Amount, and TimeoutSeconds are populated for OpDeposit only.
type Instruction struct {
	Op             Op
	Seed           []byte
	Receiver       identity.Identity
	Amount         uint64
	TimeoutSeconds uint64
}

// EncodeDeposit builds the Deposit payload:
// discriminant, length-prefixed seed, receiver, amount, timeout.
// The custody asset is fixed per network and never travels in the payload.
func EncodeDeposit(seed []byte, receiver identity.Identity, amount, timeoutSeconds uint64) ([]byte, error) {
	if err := custody.ValidateSeed(seed); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+4+len(seed)+identity.Len+16)
	out = appendOp(out, OpDeposit)
	out = appendSeed(out, seed)
	out = append(out, receiver[:]...)
	out = binary.LittleEndian.AppendUint64(out, amount)
	out = binary.LittleEndian.AppendUint64(out, timeoutSeconds)
	return out, nil
}

// EncodeSeedOnly builds the ProofOfLife, Withdraw, Claim, or Close payload:
// discriminant followed by the length-prefixed seed.
func EncodeSeedOnly(op Op, seed []byte) ([]byte, error) {
	switch op {
	case OpProofOfLife, OpWithdraw, OpClaim, OpClose:
	default:
		return nil, fmt.Errorf("%w: %s takes more than a seed", ErrUnknownOp, op)
	}
	if err := custody.ValidateSeed(seed); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+4+len(seed))
	out = appendOp(out, op)
	out = appendSeed(out, seed)
	return out, nil
}

// DecodeInstruction parses an instruction payload, validating lengths before
// every read.
func DecodeInstruction(b []byte) (Instruction, error) {
	if len(b) < 4 {
		return Instruction{}, fmt.Errorf("%w: missing discriminant", ErrShortBuffer)
	}
	op := Op(binary.LittleEndian.Uint32(b[:4]))
	rest := b[4:]

	seed, rest, err := readSeed(rest)
	if err != nil {
		return Instruction{}, err
	}

	ins := Instruction{Op: op, Seed: seed}
	switch op {
	case OpDeposit:
		if len(rest) < identity.Len+16 {
			return Instruction{}, fmt.Errorf("%w: deposit arguments are %d bytes, want %d",
				ErrShortBuffer, len(rest), identity.Len+16)
		}
		ins.Receiver, _ = identity.FromBytes(rest[:identity.Len])
		ins.Amount = binary.LittleEndian.Uint64(rest[identity.Len : identity.Len+8])
		ins.TimeoutSeconds = binary.LittleEndian.Uint64(rest[identity.Len+8 : identity.Len+16])
	case OpProofOfLife, OpWithdraw, OpClaim, OpClose:
	default:
		return Instruction{}, fmt.Errorf("%w: discriminant %d", ErrUnknownOp, uint32(op))
	}
	return ins, nil
}

func appendOp(b []byte, op Op) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(op))
}

func appendSeed(b, seed []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(seed)))
	return append(b, seed...)
}

func readSeed(b []byte) (seed, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: missing seed length", ErrShortBuffer)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if n == 0 || n > custody.MaxSeedLen {
		return nil, nil, fmt.Errorf("%w: seed length %d", ErrSeedLength, n)
	}
	if len(b) < 4+int(n) {
		return nil, nil, fmt.Errorf("%w: seed truncated", ErrShortBuffer)
	}
	seed = append([]byte(nil), b[4:4+n]...)
	return seed, b[4+n:], nil
}
