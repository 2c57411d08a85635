package custody

import (
	"fmt"
	"strconv"

	"github.com/dielemma/custody/internal/identity"
)

// Locator is a backend-agnostic handle to one deposit. The account-model
// backend locates records by (depositor, seed); the contract-storage backend
// by (owner, index). Downstream code that only needs "a handle" takes a
// Locator and leaves interpretation to the adapter.
type Locator interface {
	fmt.Stringer
	locator()
}

// BySeed locates a deposit on a deterministic-address backend.
type BySeed struct {
	Depositor identity.Identity
	Seed      []byte
}

func (BySeed) locator() {}

func (l BySeed) String() string {
	return l.Depositor.String() + "/" + string(l.Seed)
}

// ByIndex locates a deposit on an index-addressed backend.
type ByIndex struct {
	Owner identity.Identity
	Index uint64
}

func (ByIndex) locator() {}

func (l ByIndex) String() string {
	return l.Owner.String() + "#" + strconv.FormatUint(l.Index, 10)
}
