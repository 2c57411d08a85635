// Package custody implements the proof-of-life deposit lifecycle: who may
// invoke which transition, under what preconditions, with what effects.
// The rules here are pure; ledger atomicity is assumed, not provided.
package custody

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dielemma/custody/internal/identity"
)

// MaxSeedLen bounds the caller-chosen deposit seed.
const MaxSeedLen = 32

// Timeout bounds enforced by the ledger program: one minute to ten years.
const (
	MinTimeoutSeconds uint64 = 60
	MaxTimeoutSeconds uint64 = 315360000
)

// Record is the deposit state persisted on the ledger.
//
// A record is Active until Withdraw or Claim sets Closed; after that it is
// terminal and no transition may mutate it. The stored form does not
// distinguish withdrawn from claimed.
type Record struct {
	Depositor identity.Identity `json:"depositor"`
	Receiver  identity.Identity `json:"receiver"`
	Asset     identity.Identity `json:"asset"`
	Amount    uint64            `json:"amount"`

	// LastProofAt is the unix timestamp of deposit creation or the most
	// recent proof of life. Non-decreasing while the record is Active.
	LastProofAt    int64  `json:"lastProofTimestamp"`
	TimeoutSeconds uint64 `json:"timeoutSeconds"`

	Bump   byte `json:"bump"`
	Closed bool `json:"isClosed"`

	// Seed is the raw caller-chosen seed (<= MaxSeedLen bytes) that derives
	// the record's storage address. Persisted so the seed is recoverable by
	// indexing the ledger alone.
	Seed []byte `json:"seed"`
}

// Elapsed returns the seconds since the last proof of life.
func (r Record) Elapsed(now time.Time) int64 {
	return now.Unix() - r.LastProofAt
}

// Expired reports whether the receiver may claim. The boundary is inclusive:
// a deposit is claimable at the exact instant elapsed == timeout.
func (r Record) Expired(now time.Time) bool {
	elapsed := r.Elapsed(now)
	return elapsed >= 0 && uint64(elapsed) >= r.TimeoutSeconds
}

// ValidateSeed rejects empty or oversized seeds.
func ValidateSeed(seed []byte) error {
	if len(seed) == 0 {
		return fmt.Errorf("%w: empty seed", ErrValidation)
	}
	if len(seed) > MaxSeedLen {
		return fmt.Errorf("%w: seed is %d bytes, max %d", ErrValidation, len(seed), MaxSeedLen)
	}
	return nil
}

// ValidateTerms checks the backend-independent Deposit preconditions.
func ValidateTerms(depositor, receiver identity.Identity, amount, timeoutSeconds uint64) error {
	if depositor.IsZero() {
		return fmt.Errorf("%w: zero depositor", ErrValidation)
	}
	if receiver.IsZero() {
		return fmt.Errorf("%w: zero receiver", ErrValidation)
	}
	if receiver == depositor {
		return fmt.Errorf("%w: receiver equals depositor", ErrValidation)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrValidation)
	}
	if timeoutSeconds < MinTimeoutSeconds || timeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("%w: timeout %d outside [%d, %d] seconds",
			ErrValidation, timeoutSeconds, MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	return nil
}

// ValidateNew checks the full Deposit preconditions for seed-addressed
// backends.
func ValidateNew(depositor, receiver identity.Identity, seed []byte, amount, timeoutSeconds uint64) error {
	if err := ValidateTerms(depositor, receiver, amount, timeoutSeconds); err != nil {
		return err
	}
	return ValidateSeed(seed)
}

// NewRecord allocates the Active record written by a Deposit transition.
func NewRecord(depositor, receiver, asset identity.Identity, seed []byte, amount, timeoutSeconds uint64, bump byte, now time.Time) (Record, error) {
	if err := ValidateNew(depositor, receiver, seed, amount, timeoutSeconds); err != nil {
		return Record{}, err
	}
	if asset.IsZero() {
		return Record{}, fmt.Errorf("%w: zero asset", ErrValidation)
	}
	return Record{
		Depositor:      depositor,
		Receiver:       receiver,
		Asset:          asset,
		Amount:         amount,
		LastProofAt:    now.Unix(),
		TimeoutSeconds: timeoutSeconds,
		Bump:           bump,
		Seed:           append([]byte(nil), seed...),
	}, nil
}

// Equal compares records field by field, including seed bytes.
func (r Record) Equal(o Record) bool {
	return r.Depositor == o.Depositor &&
		r.Receiver == o.Receiver &&
		r.Asset == o.Asset &&
		r.Amount == o.Amount &&
		r.LastProofAt == o.LastProofAt &&
		r.TimeoutSeconds == o.TimeoutSeconds &&
		r.Bump == o.Bump &&
		r.Closed == o.Closed &&
		bytes.Equal(r.Seed, o.Seed)
}
