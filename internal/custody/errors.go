package custody

import (
	"errors"
	"fmt"
)

// Error classes. Callers branch on the class, not the message: validation,
// authorization, and state failures are deterministic and must never be
// retried; transport failures are the only retryable class.
var (
	ErrValidation   = errors.New("custody: invalid argument")
	ErrUnauthorized = errors.New("custody: unauthorized")
	ErrState        = errors.New("custody: invalid state")
	ErrEncoding     = errors.New("custody: malformed record")
	ErrTransport    = errors.New("custody: transport failure")
	ErrNotFound     = errors.New("custody: deposit not found")
)

// Common state failures, pre-wrapped so errors.Is(err, ErrState) holds.
var (
	ErrClosed     = fmt.Errorf("%w: deposit already closed", ErrState)
	ErrNotExpired = fmt.Errorf("%w: deposit not expired", ErrState)
	ErrNotClosed  = fmt.Errorf("%w: deposit still active", ErrState)
)
