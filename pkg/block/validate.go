package block

import (
	"errors"
	"fmt"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader        = errors.New("block has nil header")
	ErrNoTransactions   = errors.New("block has no transactions")
	ErrBadMerkleRoot    = errors.New("merkle root mismatch")
	ErrBadVersion       = errors.New("unsupported block version")
	ErrZeroTimestamp    = errors.New("block timestamp is zero")
	ErrNoCoinbase       = errors.New("first transaction must be coinbase")
	ErrTooManyTxs       = errors.New("too many transactions in block")
	ErrBlockTooLarge    = errors.New("block too large")
	ErrDoubleSpend      = errors.New("triangle spent twice within the same block")
	ErrMultipleCoinbase = errors.New("multiple coinbase transactions in block")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency. This does NOT
// verify consensus rules (proof-of-work, difficulty) — see
// internal/consensus — or reference state (use tx.Validate against the
// live triangle set for that).
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}

	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	blockSize := len(b.Header.SigningBytes())
	for _, t := range b.Transactions {
		blockSize += len(t.SignableMessage())
	}
	if blockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, config.MaxBlockSize)
	}

	if b.Transactions[0].Kind() != tx.KindCoinbase {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if t.Kind() == tx.KindCoinbase {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	txHashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txHashes[i] = t.Hash()
	}
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	// Transaction order past the coinbase is the producer's choice and is
	// committed by the merkle root. Transactions apply sequentially, so a
	// dependent transaction (spending a triangle minted earlier in the
	// block) must appear after the one it depends on.

	// Validate each transaction's stateless shape (signature, structural
	// bounds); state-dependent checks happen separately against the live set.
	for i, t := range b.Transactions {
		if t.Kind() == tx.KindCoinbase {
			if err := t.Coinbase.Validate(); err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
			continue
		}
		if err := t.ValidateSignature(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// No triangle may be consumed twice within the same block. Only a
	// subdivision consumes its input; transfers mutate ownership in place,
	// and a transfer followed by a subdivision of the same triangle is
	// legitimate sequential chaining, resolved by stateful validation.
	consumed := make(map[types.Hash]int) // parent-id -> tx index
	for i, t := range b.Transactions {
		if t.Kind() != tx.KindSubdivision {
			continue
		}
		id := t.Subdivision.ParentID
		if prev, exists := consumed[id]; exists {
			return fmt.Errorf("tx %d: %w: triangle %s also consumed in tx %d", i, ErrDoubleSpend, id, prev)
		}
		consumed[id] = i
	}

	return nil
}
