package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/internal/consensus"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Chain-level rejection reasons.
var (
	ErrOrphanBlock         = errors.New("block's parent is unknown")
	ErrInvalidBlockLinkage = errors.New("block height or prev-hash does not extend a known block")
	ErrBadTimestamp        = errors.New("block timestamp outside the allowed range")
	ErrBadDifficulty       = errors.New("block difficulty below the chain's required difficulty")
	ErrRewardTooHigh       = errors.New("coinbase reward exceeds base reward plus fees")
)

// ClockDriftTolerance bounds how far into the future a block's timestamp
// may be, relative to the local clock, before it is rejected.
const ClockDriftTolerance = 2 * time.Hour

// ProcessBlock validates blk and, depending on how it links to the known
// chain, either extends the active tip, registers it as a fork candidate
// (reorging onto it if it outweighs the active chain), or rejects it as an
// orphan whose parent hasn't been seen yet.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlockLinkage)
	}

	hash := blk.Hash()
	if has, _ := c.blocks.HasBlock(hash); has {
		return nil // Already known; idempotent no-op.
	}

	if blk.Header.PrevHash == c.tipHash {
		return c.extendTip(blk)
	}

	parentKnown, _ := c.blocks.HasBlock(blk.Header.PrevHash)
	if !parentKnown {
		return fmt.Errorf("%w: prev_hash %s", ErrOrphanBlock, blk.Header.PrevHash)
	}
	return c.considerFork(blk)
}

// extendTip validates blk against the live triangle set and, if it holds,
// commits it as the new active tip.
func (c *Chain) extendTip(blk *block.Block) error {
	expectedHeight := c.height + 1
	if blk.Header.Height != expectedHeight {
		return fmt.Errorf("%w: got height %d, want %d", ErrInvalidBlockLinkage, blk.Header.Height, expectedHeight)
	}
	if err := c.checkTimestamp(blk, c.tipTimestamp); err != nil {
		return err
	}
	if blk.Header.Difficulty < c.difficulty {
		return fmt.Errorf("%w: got %d, want at least %d", ErrBadDifficulty, blk.Header.Difficulty, c.difficulty)
	}
	if err := c.validator.ValidateBlock(blk); err != nil {
		return err
	}

	newSupply, err := c.validateBlockState(blk, c.supply)
	if err != nil {
		return err
	}

	newDifficulty := c.retargetIfDue(expectedHeight, blk.Header.Timestamp)
	if err := c.commit(blk, expectedHeight, newSupply, newDifficulty); err != nil {
		return err
	}

	c.tipHash = blk.Hash()
	c.height = expectedHeight
	c.supply = newSupply
	c.difficulty = newDifficulty
	c.cumDifficulty = saturatingAdd(c.cumDifficulty, blk.Header.Difficulty)
	c.tipTimestamp = blk.Header.Timestamp
	if err := c.blocks.SetCumulativeDifficulty(c.cumDifficulty); err != nil {
		return fmt.Errorf("set cumulative difficulty: %w", err)
	}

	c.pool.RemoveConfirmed(txHashesOf(blk))
	c.pool.ValidateAndPrune(c.triangles)
	return nil
}

// considerFork performs light (structural, PoW, linkage) validation on a
// block that does not extend the active tip, files it as a fork
// candidate, and reorgs onto it if its chain now outweighs the active one.
// Full state-dependent validation of the whole candidate chain happens
// during Reorg's replay, not here.
func (c *Chain) considerFork(blk *block.Block) error {
	parent, err := c.blocks.GetBlock(blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlockLinkage, err)
	}
	if blk.Header.Height != parent.Header.Height+1 {
		return fmt.Errorf("%w: got height %d, want %d", ErrInvalidBlockLinkage, blk.Header.Height, parent.Header.Height+1)
	}
	if blk.Header.Height+config.MaxForkDepth < c.height {
		return fmt.Errorf("%w: fork block at height %d is more than %d blocks below the active tip", ErrReorgTooDeep, blk.Header.Height, config.MaxForkDepth)
	}
	if err := c.checkTimestamp(blk, parent.Header.Timestamp); err != nil {
		return err
	}
	if err := c.validator.ValidateBlock(blk); err != nil {
		return err
	}
	if err := c.blocks.StoreBlock(blk); err != nil {
		return fmt.Errorf("store fork block: %w", err)
	}

	weight, err := c.chainWeight(blk.Hash())
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	if weight <= c.cumDifficulty {
		return nil // Still the lighter branch; keep it parked.
	}
	return c.Reorg(blk.Hash())
}

// checkTimestamp enforces monotonicity against the parent and the
// forward clock-drift bound.
func (c *Chain) checkTimestamp(blk *block.Block, parentTimestamp uint64) error {
	if blk.Header.Timestamp <= parentTimestamp {
		return fmt.Errorf("%w: timestamp %d does not exceed parent %d", ErrBadTimestamp, blk.Header.Timestamp, parentTimestamp)
	}
	maxTime := uint64(time.Now().Add(ClockDriftTolerance).Unix())
	if blk.Header.Timestamp > maxTime {
		return fmt.Errorf("%w: timestamp %d too far in the future", ErrBadTimestamp, blk.Header.Timestamp)
	}
	return nil
}

// retargetIfDue recomputes the difficulty required of the next block if
// height is a DifficultyWindow boundary, otherwise leaves it unchanged.
func (c *Chain) retargetIfDue(height, tipTimestamp uint64) uint64 {
	if height == 0 || height%consensus.DifficultyWindow != 0 {
		return c.difficulty
	}
	startHeight := height - (consensus.DifficultyWindow - 1)
	startBlk, err := c.blocks.GetBlockByHeight(startHeight)
	if err != nil {
		return c.difficulty
	}
	return consensus.NextDifficulty(c.difficulty, startBlk.Header.Timestamp, tipTimestamp)
}

// validateBlockState checks the state-dependent rules that can't be
// verified structurally. The coinbase reward is bounded by
// base_reward(height) plus the block's declared fees, capped by the
// remaining mintable supply. Then every transaction is replayed, in block
// order, through a copy-on-write overlay of the live triangle set: each
// transaction validates against, and then mutates, a running view that
// already reflects the transactions before it, so a transaction may spend
// a triangle created earlier in the same block, and a second spend of the
// same triangle fails because the first consumed it from the view. The
// live set itself is never mutated, so this can be used both to admit a
// block extending the tip and, repeatedly, while replaying a chain during
// a reorg.
func (c *Chain) validateBlockState(blk *block.Block, currentSupply uint64) (uint64, error) {
	height := blk.Header.Height

	var fees uint64
	for _, t := range blk.Transactions[1:] {
		fees = saturatingAdd(fees, t.Fee())
	}

	coinbase := blk.Transactions[0].Coinbase
	allowed := saturatingAdd(BaseReward(height), fees)
	if remaining := remainingSupply(currentSupply); allowed > remaining {
		allowed = remaining
	}
	if coinbase.RewardArea > allowed {
		return 0, fmt.Errorf("%w: reward_area %d exceeds allowed %d at height %d", ErrRewardTooHigh, coinbase.RewardArea, allowed, height)
	}

	overlay := utxo.NewOverlay(c.triangles)
	overlay.ApplyCoinbase(coinbase.Beneficiary, coinbase.RewardArea, height)
	for i, t := range blk.Transactions[1:] {
		if err := t.Validate(overlay); err != nil {
			return 0, fmt.Errorf("tx %d: %w", i+1, err)
		}
		if err := applyToOverlay(overlay, t); err != nil {
			return 0, fmt.Errorf("tx %d: %w", i+1, err)
		}
	}

	return saturatingAdd(currentSupply, coinbase.RewardArea), nil
}

func applyToOverlay(overlay *utxo.Overlay, t *tx.Transaction) error {
	switch t.Kind() {
	case tx.KindSubdivision:
		return overlay.ApplySubdivision(t.Subdivision.ParentID, t.Subdivision.Children, t.Subdivision.Owner)
	case tx.KindTransfer:
		return overlay.ApplyTransfer(t.Transfer.InputID, t.Transfer.NewOwner)
	}
	return nil
}

// applyBlockDirect mutates the live triangle set for every transaction in
// blk, in block order (coinbase first), the same order validateBlockState
// replayed them in its overlay. Callers must have already validated the
// block via validateBlockState.
func (c *Chain) applyBlockDirect(blk *block.Block) error {
	for i, t := range blk.Transactions {
		switch t.Kind() {
		case tx.KindCoinbase:
			if _, err := c.triangles.ApplyCoinbase(t.Coinbase.Beneficiary, t.Coinbase.RewardArea, blk.Header.Height); err != nil {
				return fmt.Errorf("apply coinbase: %w", err)
			}
		case tx.KindSubdivision:
			if err := c.triangles.ApplySubdivision(t.Subdivision.ParentID, t.Subdivision.Children, t.Subdivision.Owner); err != nil {
				return fmt.Errorf("apply tx %d: %w", i, err)
			}
		case tx.KindTransfer:
			if err := c.triangles.ApplyTransfer(t.Transfer.InputID, t.Transfer.NewOwner); err != nil {
				return fmt.Errorf("apply tx %d: %w", i, err)
			}
		}
	}
	return nil
}

// commit lands blk as the new tip, atomically via the configured
// Committer if one is set, or sequentially otherwise (a documented,
// non-atomic fallback).
func (c *Chain) commit(blk *block.Block, height, supply, difficulty uint64) error {
	if c.committer != nil {
		return c.committer.SaveBlockchainState(blk, height, supply, difficulty)
	}
	if err := c.applyBlockDirect(blk); err != nil {
		return err
	}
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	if err := c.blocks.SetTip(blk.Hash(), height, supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	return c.blocks.SetDifficulty(difficulty)
}

func txHashesOf(blk *block.Block) []types.Hash {
	hashes := make([]types.Hash, len(blk.Transactions))
	for i, t := range blk.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}
