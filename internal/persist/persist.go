// Package persist implements the durable storage path: committing a newly
// applied block, its triangle-set mutations, and the next difficulty as a
// single atomic unit, and reconstructing chain metadata on startup. The
// mempool is never persisted — it is always reinstantiated empty.
package persist

import (
	"fmt"

	"github.com/siertrichain/siertrichain/internal/chain"
	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Store bundles the durable components save_blockchain_state and
// load_blockchain operate over.
type Store struct {
	db        storage.DB
	blocks    *chain.BlockStore
	triangles *utxo.Store
}

// New wires a persist.Store over the given database and its block/triangle
// sub-stores.
func New(db storage.DB, blocks *chain.BlockStore, triangles *utxo.Store) *Store {
	return &Store{db: db, blocks: blocks, triangles: triangles}
}

// SaveBlockchainState lands a newly applied block, its triangle-set
// mutations, the next tip/height/supply, and the retargeted difficulty as
// one atomic unit: either the whole write lands, or none of it does, so a
// crash mid-commit can never leave the block index and triangle set out of
// sync. When the backing database supports batched commits
// (storage.Batcher — true for both BadgerDB and MemoryDB) this is a single
// underlying transaction; otherwise it falls back to sequential writes,
// documented as a known gap in DESIGN.md.
func (s *Store) SaveBlockchainState(blk *block.Block, height, supply, difficulty uint64) error {
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		return s.saveSequential(blk, height, supply, difficulty)
	}

	batch := batcher.NewBatch()
	if err := s.blocks.PutBlockBatch(batch, blk); err != nil {
		return fmt.Errorf("stage block: %w", err)
	}
	if err := s.applyTransactionsBatch(batch, blk, height); err != nil {
		return fmt.Errorf("stage triangle mutations: %w", err)
	}
	if err := s.blocks.SetTipBatch(batch, blk.Hash(), height, supply); err != nil {
		return fmt.Errorf("stage tip: %w", err)
	}
	if err := s.blocks.SetDifficultyBatch(batch, difficulty); err != nil {
		return fmt.Errorf("stage difficulty: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit blockchain state: %w", err)
	}
	return nil
}

// applyTransactionsBatch replays the block's transactions, in block
// order, through a copy-on-write overlay of the triangle set and stages
// the accumulated deltas onto batch. Staged writes aren't visible to
// reads until the batch commits, so applying each transaction against the
// store directly would lose intra-block chaining (a transfer of a child
// minted by an earlier subdivision in the same block); the overlay is
// where later transactions see earlier ones' effects.
func (s *Store) applyTransactionsBatch(batch storage.Batch, blk *block.Block, height uint64) error {
	overlay := utxo.NewOverlay(s.triangles)
	for i, t := range blk.Transactions {
		switch t.Kind() {
		case tx.KindCoinbase:
			overlay.ApplyCoinbase(t.Coinbase.Beneficiary, t.Coinbase.RewardArea, height)
		case tx.KindSubdivision:
			if err := overlay.ApplySubdivision(t.Subdivision.ParentID, t.Subdivision.Children, t.Subdivision.Owner); err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
		case tx.KindTransfer:
			if err := overlay.ApplyTransfer(t.Transfer.InputID, t.Transfer.NewOwner); err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
		}
	}
	return s.triangles.CommitOverlayBatch(batch, overlay)
}

// saveSequential is the non-atomic fallback for a storage.DB that doesn't
// implement storage.Batcher.
func (s *Store) saveSequential(blk *block.Block, height, supply, difficulty uint64) error {
	if err := s.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	for _, t := range blk.Transactions {
		switch t.Kind() {
		case tx.KindCoinbase:
			if _, err := s.triangles.ApplyCoinbase(t.Coinbase.Beneficiary, t.Coinbase.RewardArea, height); err != nil {
				return err
			}
		case tx.KindSubdivision:
			children := [3]utxo.Triangle{t.Subdivision.Children[0], t.Subdivision.Children[1], t.Subdivision.Children[2]}
			if err := s.triangles.ApplySubdivision(t.Subdivision.ParentID, children, t.Subdivision.Owner); err != nil {
				return err
			}
		case tx.KindTransfer:
			if err := s.triangles.ApplyTransfer(t.Transfer.InputID, t.Transfer.NewOwner); err != nil {
				return err
			}
		}
	}
	if err := s.blocks.SetTip(blk.Hash(), height, supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	return s.blocks.SetDifficulty(difficulty)
}

// ChainState is the bootstrap snapshot load_blockchain reconstructs from
// durable storage: everything needed to resume a running chain except the
// mempool, which always restarts empty.
type ChainState struct {
	TipHash    types.Hash
	Height     uint64
	Supply     uint64
	Difficulty uint64
	TipBlock   *block.Block
}

// LoadBlockchain reconstructs chain metadata from durable storage. The
// triangle set itself needs no reconstruction — it is already the live
// view the store reads from directly. If no tip has ever been set (a
// fresh database) it returns a zero-value state and ok=false so the
// caller knows to initialize from genesis instead.
func (s *Store) LoadBlockchain(defaultDifficulty uint64) (ChainState, bool, error) {
	tipHash, height, supply, err := s.blocks.GetTip()
	if err != nil {
		return ChainState{}, false, fmt.Errorf("load tip: %w", err)
	}
	if tipHash.IsZero() {
		return ChainState{}, false, nil
	}

	tipBlock, err := s.blocks.GetBlock(tipHash)
	if err != nil {
		return ChainState{}, false, fmt.Errorf("load tip block: %w", err)
	}

	difficulty := s.blocks.GetDifficulty(defaultDifficulty)

	return ChainState{
		TipHash:    tipHash,
		Height:     height,
		Supply:     supply,
		Difficulty: difficulty,
		TipBlock:   tipBlock,
	}, true, nil
}
