package mempool

import (
	"fmt"

	"github.com/siertrichain/siertrichain/pkg/tx"
)

// DefaultMaxTxSize bounds a single transaction's signable-message size,
// defense-in-depth against oversized Subdivision/Transfer payloads beyond
// what MaxMemoLength already constrains.
const DefaultMaxTxSize = 64 * 1024

// Policy defines node-local transaction acceptance rules, layered on top of
// the consensus-critical checks in pkg/tx. Policy can vary per node without
// affecting consensus.
type Policy struct {
	MaxTxSize int
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{MaxTxSize: DefaultMaxTxSize}
}

// Check validates a transaction against policy rules.
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SignableMessage())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	return nil
}
