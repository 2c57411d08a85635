package identity

import (
	"encoding/json"
	"errors"
	"testing"
)

const wrappedNative = "So11111111111111111111111111111111111111112"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	id, err := Parse(wrappedNative)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.IsZero() {
		t.Fatalf("parsed identity is zero")
	}
	if got := id.String(); got != wrappedNative {
		t.Fatalf("round trip = %q, want %q", got, wrappedNative)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"0OIl",         // not base58 alphabet
		"abc",          // decodes to fewer than 32 bytes
		wrappedNative + wrappedNative,
	}
	for _, s := range cases {
		if _, err := Parse(s); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q): got %v, want ErrInvalid", s, err)
		}
	}
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	raw := make([]byte, Len)
	raw[0] = 0xAB
	id, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if id[0] != 0xAB {
		t.Fatalf("byte 0 = %x", id[0])
	}

	// The identity must not alias the input slice.
	raw[0] = 0x00
	if id[0] != 0xAB {
		t.Fatalf("identity aliases input slice")
	}

	if _, err := FromBytes(raw[:31]); !errors.Is(err, ErrInvalid) {
		t.Fatalf("short input: got %v", err)
	}
}

func TestJSONText(t *testing.T) {
	t.Parallel()

	id := MustParse(wrappedNative)
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"`+wrappedNative+`"` {
		t.Fatalf("marshal = %s", b)
	}

	var back Identity
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != id {
		t.Fatalf("unmarshal mismatch")
	}
}
