// Package miner implements block production: selecting mempool
// transactions, minting the coinbase reward, and driving proof-of-work
// sealing via internal/consensus.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/internal/consensus"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// ChainState provides read-only access to the chain state a candidate
// block is built on top of.
type ChainState interface {
	Height() uint64
	TipHash() types.Hash
	TipTimestamp() uint64
	NextDifficulty() uint64
}

// MempoolSelector selects transactions for block inclusion, highest fee
// first.
type MempoolSelector interface {
	TopKByFee(k int) []*tx.Transaction
}

// SupplyFunc returns the current total minted area, used to cap the
// coinbase reward at MaxSupply.
type SupplyFunc func() uint64

// Miner produces candidate blocks but never applies them — the caller
// (internal/chain) owns chain-state mutation.
type Miner struct {
	chain       ChainState
	engine      consensus.Engine
	pool        MempoolSelector
	beneficiary types.Address
	baseReward  func(height uint64) uint64
	maxSupply   uint64
	supplyFn    SupplyFunc
	maxBlockTxs int
}

// New creates a block producer. baseReward computes the halved reward
// area for a given height; supplyFn and maxSupply together cap the
// coinbase so the chain never mints past MaxSupply.
func New(chain ChainState, engine consensus.Engine, pool MempoolSelector,
	beneficiary types.Address, baseReward func(height uint64) uint64, maxSupply uint64, supplyFn SupplyFunc) *Miner {
	return &Miner{
		chain:       chain,
		engine:      engine,
		pool:        pool,
		beneficiary: beneficiary,
		baseReward:  baseReward,
		maxSupply:   maxSupply,
		supplyFn:    supplyFn,
		maxBlockTxs: config.MaxBlockTxs,
	}
}

// ProduceBlock builds and seals a new block using the current time,
// blocking until proof-of-work completes or ctx is cancelled. The block
// is not applied to the chain; the caller must hand it to the chain's
// ProcessBlock.
func (m *Miner) ProduceBlock(ctx context.Context) (*block.Block, error) {
	return m.produceBlock(ctx, uint64(time.Now().Unix()))
}

// ProduceBlockAt is ProduceBlock with an explicit timestamp, bumped to at
// least parent+1 to preserve monotonicity.
func (m *Miner) ProduceBlockAt(ctx context.Context, timestamp uint64) (*block.Block, error) {
	return m.produceBlock(ctx, timestamp)
}

func (m *Miner) produceBlock(ctx context.Context, timestamp uint64) (*block.Block, error) {
	if parentTS := m.chain.TipTimestamp(); timestamp <= parentTS {
		timestamp = parentTS + 1
	}

	height := m.chain.Height() + 1

	var selected []*tx.Transaction
	var totalFees uint64
	if m.pool != nil {
		selected = dropConflicting(m.pool.TopKByFee(m.maxBlockTxs - 1)) // Reserve a slot for the coinbase.
		for _, t := range selected {
			totalFees += t.Fee()
		}
	}

	reward := uint64(0)
	if m.baseReward != nil {
		reward = m.baseReward(height)
	}
	if m.maxSupply > 0 && m.supplyFn != nil {
		current := m.supplyFn()
		switch {
		case current >= m.maxSupply:
			reward = 0
		case current+reward > m.maxSupply:
			reward = m.maxSupply - current
		}
	}

	total := reward + totalFees
	if total > tx.MaxCoinbaseReward {
		total = tx.MaxCoinbaseReward
	}
	coinbase := BuildCoinbase(m.beneficiary, total)
	// Block order: coinbase first, then selection (fee-descending) order.
	// Every selected transaction is valid against the current live set (the
	// pool is revalidated after each applied block), so no selected
	// transaction depends on another one in the same block.
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   m.chain.TipHash(),
		MerkleRoot: merkle,
		Timestamp:  timestamp,
		Height:     height,
		Difficulty: m.chain.NextDifficulty(),
	}

	blk := block.NewBlock(header, txs)
	if err := m.engine.Seal(ctx, blk); err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}
	return blk, nil
}

// dropConflicting keeps at most one spend of any given triangle-id,
// preferring earlier (higher-fee) entries. Two pooled transactions can each
// be valid in isolation yet spend the same parent; including both would
// invalidate the whole block.
func dropConflicting(selected []*tx.Transaction) []*tx.Transaction {
	spent := make(map[types.Hash]bool, len(selected))
	kept := selected[:0]
	for _, t := range selected {
		var id types.Hash
		switch t.Kind() {
		case tx.KindSubdivision:
			id = t.Subdivision.ParentID
		case tx.KindTransfer:
			id = t.Transfer.InputID
		default:
			continue
		}
		if spent[id] {
			continue
		}
		spent[id] = true
		kept = append(kept, t)
	}
	return kept
}

// BuildCoinbase creates a coinbase transaction minting rewardArea to
// beneficiary. Coinbase carries no signature; its legitimacy is checked
// by the chain's reward-accounting rule, not by the mempool.
func BuildCoinbase(beneficiary types.Address, rewardArea uint64) *tx.Transaction {
	return &tx.Transaction{Coinbase: &tx.Coinbase{
		RewardArea:  rewardArea,
		Beneficiary: beneficiary,
	}}
}
