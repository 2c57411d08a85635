package custody

import (
	"fmt"
	"time"

	"github.com/dielemma/custody/internal/identity"
)

// ProveLife applies the ProofOfLife transition: the depositor refreshes the
// timer. The life-proof burn itself happens on the ledger; this layer only
// enforces the authorization and lifecycle preconditions and the timestamp
// update. LastProofAt never moves backwards.
func (r *Record) ProveLife(caller identity.Identity, now time.Time) error {
	if caller != r.Depositor {
		return fmt.Errorf("%w: only the depositor may prove life", ErrUnauthorized)
	}
	if r.Closed {
		return ErrClosed
	}
	if ts := now.Unix(); ts > r.LastProofAt {
		r.LastProofAt = ts
	}
	return nil
}

// Withdraw applies the Withdraw transition: the depositor reclaims the
// custody amount at any time before a claim succeeds, expired or not.
func (r *Record) Withdraw(caller identity.Identity) error {
	if caller != r.Depositor {
		return fmt.Errorf("%w: only the depositor may withdraw", ErrUnauthorized)
	}
	if r.Closed {
		return ErrClosed
	}
	r.Closed = true
	return nil
}

// Claim applies the Claim transition: the receiver takes the custody amount
// once the deposit has expired.
func (r *Record) Claim(caller identity.Identity, now time.Time) error {
	if caller != r.Receiver {
		return fmt.Errorf("%w: only the receiver may claim", ErrUnauthorized)
	}
	if r.Closed {
		return ErrClosed
	}
	if !r.Expired(now) {
		return fmt.Errorf("%w: %d of %d seconds elapsed",
			ErrNotExpired, r.Elapsed(now), r.TimeoutSeconds)
	}
	r.Closed = true
	return nil
}

// AuthorizeClose checks the CloseAccount transition preconditions: either
// party may reclaim the record's rent, but only once the deposit is terminal.
func (r Record) AuthorizeClose(caller identity.Identity) error {
	if caller != r.Depositor && caller != r.Receiver {
		return fmt.Errorf("%w: only the depositor or receiver may close", ErrUnauthorized)
	}
	if !r.Closed {
		return ErrNotClosed
	}
	return nil
}
