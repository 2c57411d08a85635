// Package identity holds the 32-byte ledger identity used for depositors,
// receivers, asset mints, and derived storage addresses.
package identity

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const Len = 32

var ErrInvalid = errors.New("identity: invalid identity")

// Identity is a raw 32-byte account-ledger public key or derived address.
type Identity [Len]byte

var zero Identity

// Parse decodes the base58 text form of an identity.
func Parse(s string) (Identity, error) {
	if s == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromBytes(raw)
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies a 32-byte slice into an Identity.
func FromBytes(b []byte) (Identity, error) {
	if len(b) != Len {
		return Identity{}, fmt.Errorf("%w: got %d bytes want %d", ErrInvalid, len(b), Len)
	}
	var id Identity
	copy(id[:], b)
	return id, nil
}

func (id Identity) String() string {
	return base58.Encode(id[:])
}

func (id Identity) Bytes() []byte {
	out := make([]byte, Len)
	copy(out, id[:])
	return out
}

func (id Identity) IsZero() bool {
	return id == zero
}

// MarshalText implements encoding.TextMarshaler so identities render as
// base58 in JSON envelopes.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
