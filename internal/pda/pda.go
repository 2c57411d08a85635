// Package pda derives program-owned storage addresses on the account-model
// backend. Derivation is pure: anyone who knows (depositor, seed) or the
// deposit address can recompute the same addresses with no secret material.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
)

// Domain-separation prefixes, fixed by the on-chain program.
var (
	depositPrefix = []byte("deposit")
	custodyPrefix = []byte("token_account")
)

// derivedMarker is the ledger's domain tag distinguishing derived addresses
// from hashes of other material.
var derivedMarker = []byte("ProgramDerivedAddress")

var ErrNoBump = errors.New("pda: no off-curve address in 256 bump attempts")

// Derive finds the first off-curve address for the given seeds, iterating the
// bump byte from 255 down to 0 the way the ledger's own derivation does. An
// off-curve address has no corresponding private key, so the resulting
// account can only ever be written by the program itself.
func Derive(programID identity.Identity, seeds ...[]byte) (identity.Identity, byte, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID[:])
		h.Write(derivedMarker)

		var addr identity.Identity
		copy(addr[:], h.Sum(nil))
		if !onCurve(addr) {
			return addr, byte(bump), nil
		}
	}
	return identity.Identity{}, 0, ErrNoBump
}

// DepositAddress derives the storage address of the deposit record for
// (depositor, seed).
func DepositAddress(programID, depositor identity.Identity, seed []byte) (identity.Identity, byte, error) {
	if err := custody.ValidateSeed(seed); err != nil {
		return identity.Identity{}, 0, err
	}
	if depositor.IsZero() {
		return identity.Identity{}, 0, fmt.Errorf("%w: zero depositor", custody.ErrValidation)
	}
	return Derive(programID, depositPrefix, depositor[:], seed)
}

// CustodyAddress derives the subaccount holding the escrowed asset,
// keyed by the deposit address.
func CustodyAddress(programID, depositAddr identity.Identity) (identity.Identity, byte, error) {
	if depositAddr.IsZero() {
		return identity.Identity{}, 0, fmt.Errorf("%w: zero deposit address", custody.ErrValidation)
	}
	return Derive(programID, custodyPrefix, depositAddr[:])
}

// onCurve reports whether the 32 bytes decode as a point on the ed25519
// curve, i.e. whether the address is signable.
func onCurve(addr identity.Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(addr[:])
	return err == nil
}
