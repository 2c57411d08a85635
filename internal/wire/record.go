// Package wire implements the byte-exact storage and instruction layouts of
// the custody program on the account-model backend. All integers are
// little-endian; identities are raw 32-byte keys; the seed is carried
// length-prefixed on the wire and zero-padded to 32 bytes in storage.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

var (
	ErrShortBuffer = fmt.Errorf("wire: buffer too short: %w", custody.ErrEncoding)
	ErrSeedLength  = fmt.Errorf("wire: invalid seed length: %w", custody.ErrEncoding)
	ErrUnknownOp   = fmt.Errorf("wire: unknown operation: %w", custody.ErrEncoding)
)

// Record layout:
//
//	depositor[32]
//	receiver[32]
//	asset[32]
//	amount[8]
//	lastProofTimestamp[8]   (i64, two's complement)
//	timeoutSeconds[8]
//	bump[1]
//	isClosed[1]
//	seedLen[4]
//	seed[32]                (zero-padded)
const (
	recReceiverOff = 32
	recAssetOff    = 64
	recAmountOff   = 96
	recProofOff    = 104
	recTimeoutOff  = 112
	recBumpOff     = 120
	recClosedOff   = 121
	recSeedLenOff  = 122
	recSeedOff     = 126

	// RecordLen is the exact serialized record size. Backends use it as an
	// existence/type filter when scanning program-owned accounts.
	RecordLen = recSeedOff + custody.MaxSeedLen
)

// EncodeRecord serializes a record into its canonical storage form.
func EncodeRecord(r custody.Record) ([RecordLen]byte, error) {
	var out [RecordLen]byte
	if err := custody.ValidateSeed(r.Seed); err != nil {
		return out, fmt.Errorf("%w: seed is %d bytes", ErrSeedLength, len(r.Seed))
	}

	copy(out[0:recReceiverOff], r.Depositor[:])
	copy(out[recReceiverOff:recAssetOff], r.Receiver[:])
	copy(out[recAssetOff:recAmountOff], r.Asset[:])
	binary.LittleEndian.PutUint64(out[recAmountOff:recProofOff], r.Amount)
	binary.LittleEndian.PutUint64(out[recProofOff:recTimeoutOff], uint64(r.LastProofAt))
	binary.LittleEndian.PutUint64(out[recTimeoutOff:recBumpOff], r.TimeoutSeconds)
	out[recBumpOff] = r.Bump
	if r.Closed {
		out[recClosedOff] = 1
	}
	binary.LittleEndian.PutUint32(out[recSeedLenOff:recSeedOff], uint32(len(r.Seed)))
	copy(out[recSeedOff:], r.Seed)
	return out, nil
}

// DecodeRecord parses a stored record. The buffer must be at least RecordLen
// bytes; anything shorter is data corruption, not a crash.
func DecodeRecord(b []byte) (custody.Record, error) {
	if len(b) < RecordLen {
		return custody.Record{}, fmt.Errorf("%w: record is %d bytes, want %d", ErrShortBuffer, len(b), RecordLen)
	}

	seedLen := binary.LittleEndian.Uint32(b[recSeedLenOff:recSeedOff])
	if seedLen == 0 || seedLen > custody.MaxSeedLen {
		return custody.Record{}, fmt.Errorf("%w: stored seed length %d", ErrSeedLength, seedLen)
	}

	var r custody.Record
	r.Depositor, _ = identity.FromBytes(b[0:recReceiverOff])
	r.Receiver, _ = identity.FromBytes(b[recReceiverOff:recAssetOff])
	r.Asset, _ = identity.FromBytes(b[recAssetOff:recAmountOff])
	r.Amount = binary.LittleEndian.Uint64(b[recAmountOff:recProofOff])
	r.LastProofAt = int64(binary.LittleEndian.Uint64(b[recProofOff:recTimeoutOff]))
	r.TimeoutSeconds = binary.LittleEndian.Uint64(b[recTimeoutOff:recBumpOff])
	r.Bump = b[recBumpOff]
	r.Closed = b[recClosedOff] != 0
	r.Seed = append([]byte(nil), b[recSeedOff:recSeedOff+int(seedLen)]...)
	return r, nil
}
