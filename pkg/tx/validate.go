package tx

import (
	"errors"
	"fmt"

	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// ErrInvalidTransaction wraps every structural or stateful transaction
// rejection reason.
var ErrInvalidTransaction = errors.New("invalid transaction")

// ErrTriangleNotFound is returned when a transaction references a
// triangle-id that does not exist in the live set.
var ErrTriangleNotFound = errors.New("triangle not found")

// UTXOProvider is the read-only view of the live triangle set a
// transaction is validated against. internal/utxo's state store satisfies
// this without pkg/tx importing it, avoiding an import cycle (the store
// itself needs to apply transactions, which requires importing pkg/tx).
type UTXOProvider interface {
	Get(id types.Hash) (geometry.Triangle, bool)
}

// Validate performs the full, stateful check for whichever variant is
// populated: existence of referenced triangles, geometric correctness,
// ownership authorization, and signature verification. Structural checks
// (missing fields, oversized memo) are covered by ValidateSignature and
// Coinbase.Validate; this is the entry point chain and mempool code calls.
func (t *Transaction) Validate(state UTXOProvider) error {
	switch t.Kind() {
	case KindCoinbase:
		return t.Coinbase.Validate()
	case KindSubdivision:
		return t.Subdivision.validate(state)
	case KindTransfer:
		return t.Transfer.validate(state)
	default:
		return fmt.Errorf("%w: empty transaction", ErrInvalidTransaction)
	}
}

// validate checks that the parent exists, the declared children are the
// canonical subdivision of it, the signer is authorized to spend it, and
// the signature verifies.
func (s *Subdivision) validate(state UTXOProvider) error {
	if err := s.ValidateSignature(); err != nil {
		return err
	}
	parent, ok := state.Get(s.ParentID)
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrTriangleNotFound, s.ParentID)
	}
	signer := crypto.AddressFromPubKey(s.PubKey)
	if signer != parent.Owner {
		return fmt.Errorf("%w: signer %s is not the parent owner %s", ErrInvalidTransaction, signer, parent.Owner)
	}
	want := geometry.Subdivide(parent)
	for i := range want {
		if !trianglesEqual(want[i], s.Children[i]) {
			return fmt.Errorf("%w: child %d does not match the canonical subdivision of %s", ErrInvalidTransaction, i, s.ParentID)
		}
	}
	return nil
}

// validate checks that the referenced triangle exists, the sender is its
// current owner, and the signature verifies.
func (tr *Transfer) validate(state UTXOProvider) error {
	if err := tr.ValidateSignature(); err != nil {
		return err
	}
	current, ok := state.Get(tr.InputID)
	if !ok {
		return fmt.Errorf("%w: triangle %s", ErrTriangleNotFound, tr.InputID)
	}
	if current.Owner != tr.Sender {
		return fmt.Errorf("%w: sender %s does not own triangle %s", ErrInvalidTransaction, tr.Sender, tr.InputID)
	}
	signer := crypto.AddressFromPubKey(tr.PubKey)
	if signer != tr.Sender {
		return fmt.Errorf("%w: pubkey does not derive the declared sender %s", ErrInvalidTransaction, tr.Sender)
	}
	if tr.NewOwner.IsZero() {
		return fmt.Errorf("%w: new_owner is empty", ErrInvalidTransaction)
	}
	return nil
}

func trianglesEqual(a, b geometry.Triangle) bool {
	return a.A.Equal(b.A) && a.B.Equal(b.B) && a.C.Equal(b.C)
}
