package wire

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

func fillIdentity(t *testing.T, b byte) identity.Identity {
	t.Helper()

	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	id, err := identity.FromBytes(raw[:])
	if err != nil {
		t.Fatalf("identity from bytes: %v", err)
	}
	return id
}

func sampleRecord(t *testing.T) custody.Record {
	t.Helper()

	return custody.Record{
		Depositor:      fillIdentity(t, 0x11),
		Receiver:       fillIdentity(t, 0x22),
		Asset:          fillIdentity(t, 0x33),
		Amount:         1_000_000,
		LastProofAt:    1_700_000_000,
		TimeoutSeconds: 86_400,
		Bump:           254,
		Closed:         false,
		Seed:           []byte("savings"),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleRecord(t)
	buf, err := EncodeRecord(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(buf[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestRecordLayout(t *testing.T) {
	t.Parallel()

	rec := sampleRecord(t)
	rec.Closed = true
	buf, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if len(buf) != 158 {
		t.Fatalf("record length = %d, want 158", len(buf))
	}
	if got := binary.LittleEndian.Uint64(buf[96:104]); got != rec.Amount {
		t.Fatalf("amount at offset 96 = %d, want %d", got, rec.Amount)
	}
	if got := int64(binary.LittleEndian.Uint64(buf[104:112])); got != rec.LastProofAt {
		t.Fatalf("lastProofAt at offset 104 = %d, want %d", got, rec.LastProofAt)
	}
	if buf[120] != rec.Bump {
		t.Fatalf("bump at offset 120 = %d, want %d", buf[120], rec.Bump)
	}
	if buf[121] != 1 {
		t.Fatalf("isClosed at offset 121 = %d, want 1", buf[121])
	}
	if got := binary.LittleEndian.Uint32(buf[122:126]); got != uint32(len(rec.Seed)) {
		t.Fatalf("seedLen at offset 122 = %d, want %d", got, len(rec.Seed))
	}
	if string(buf[126:126+len(rec.Seed)]) != string(rec.Seed) {
		t.Fatalf("seed bytes at offset 126 = %q, want %q", buf[126:126+len(rec.Seed)], rec.Seed)
	}
	// Seed padding is zero.
	for i := 126 + len(rec.Seed); i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("nonzero seed padding at offset %d", i)
		}
	}
}

func TestDecodeRecordShortBuffer(t *testing.T) {
	t.Parallel()

	rec := sampleRecord(t)
	buf, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeRecord(buf[:RecordLen-1])
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("short buffer: got %v", err)
	}
	if !errors.Is(err, custody.ErrEncoding) {
		t.Fatalf("short buffer not classed as encoding error: %v", err)
	}
}

func TestDecodeRecordBadSeedLength(t *testing.T) {
	t.Parallel()

	rec := sampleRecord(t)
	buf, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	binary.LittleEndian.PutUint32(buf[122:126], 0)
	if _, err := DecodeRecord(buf[:]); !errors.Is(err, ErrSeedLength) {
		t.Fatalf("zero seed length: got %v", err)
	}
	binary.LittleEndian.PutUint32(buf[122:126], custody.MaxSeedLen+1)
	if _, err := DecodeRecord(buf[:]); !errors.Is(err, ErrSeedLength) {
		t.Fatalf("oversized seed length: got %v", err)
	}
}

func TestEncodeRecordRejectsBadSeed(t *testing.T) {
	t.Parallel()

	rec := sampleRecord(t)
	rec.Seed = nil
	if _, err := EncodeRecord(rec); !errors.Is(err, ErrSeedLength) {
		t.Fatalf("nil seed: got %v", err)
	}
	rec.Seed = make([]byte, custody.MaxSeedLen+1)
	if _, err := EncodeRecord(rec); !errors.Is(err, ErrSeedLength) {
		t.Fatalf("oversized seed: got %v", err)
	}
}

func TestRecordNegativeTimestamp(t *testing.T) {
	t.Parallel()

	rec := sampleRecord(t)
	rec.LastProofAt = -42
	buf, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(buf[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LastProofAt != -42 {
		t.Fatalf("lastProofAt = %d, want -42", got.LastProofAt)
	}
}
