package chain

import (
	"errors"
	"fmt"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/internal/consensus"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Reorg-related rejection reasons.
var (
	ErrReorgTooDeep = errors.New("fork diverges deeper than the maximum reorg depth")
	ErrGenesisReorg = errors.New("reorg candidate does not descend from genesis")
)

// Reorg switches the active chain to the chain ending at newTip. Since a
// Subdivision discards the parent triangle's geometry and a Transfer
// discards the previous owner, triangle mutations are not cheaply
// invertible; rather than maintain per-block undo data, the triangle set
// is cleared and reconstructed from scratch by replaying every block from
// genesis through newTip in order. A ReorgCheckpoint marks the rebuild as
// in-progress so a crash mid-rebuild is detected and finished by New on
// the next startup.
func (c *Chain) Reorg(newTip types.Hash) error {
	path, err := c.pathFromGenesis(newTip)
	if err != nil {
		return err
	}
	depth, err := c.forkDepth(path)
	if err != nil {
		return err
	}
	if depth > config.MaxForkDepth {
		return fmt.Errorf("%w: depth %d", ErrReorgTooDeep, depth)
	}
	return c.rebuildTo(path)
}

// rebuildFromGenesis recovers from a crash that left a reorg checkpoint
// behind: it replays the currently recorded tip's own chain, which is
// exactly what a completed reorg would already have left in place.
func (c *Chain) rebuildFromGenesis() error {
	path, err := c.pathFromGenesis(c.tipHash)
	if err != nil {
		return err
	}
	return c.rebuildTo(path)
}

// rebuildTo clears the triangle set and replays path (genesis-first, full
// chain) to reconstruct it, then installs path's end as the new tip.
func (c *Chain) rebuildTo(path []*block.Block) error {
	if len(path) == 0 || path[0].Header.Height != 0 {
		return ErrGenesisReorg
	}

	if err := c.blocks.PutReorgCheckpoint(path[0].Header.Height); err != nil {
		return fmt.Errorf("mark reorg checkpoint: %w", err)
	}
	if err := c.triangles.ClearAll(); err != nil {
		return fmt.Errorf("clear triangle set: %w", err)
	}

	supply, difficulty, err := c.replay(path)
	if err != nil {
		return fmt.Errorf("replay candidate chain: %w", err)
	}
	weight := chainWeightOf(path)

	tip := path[len(path)-1]
	if err := c.blocks.SetTip(tip.Hash(), tip.Header.Height, supply); err != nil {
		return fmt.Errorf("set tip after reorg: %w", err)
	}
	if err := c.blocks.SetDifficulty(difficulty); err != nil {
		return fmt.Errorf("set difficulty after reorg: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(weight); err != nil {
		return fmt.Errorf("set cumulative difficulty after reorg: %w", err)
	}
	for _, blk := range path {
		if err := c.blocks.PutBlock(blk); err != nil {
			return fmt.Errorf("index block %d: %w", blk.Header.Height, err)
		}
	}
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("clear reorg checkpoint: %w", err)
	}

	c.tipHash = tip.Hash()
	c.height = tip.Header.Height
	c.supply = supply
	c.difficulty = difficulty
	c.cumDifficulty = weight
	c.tipTimestamp = tip.Header.Timestamp

	c.pool.ValidateAndPrune(c.triangles)
	return nil
}

// replay installs the genesis triangle and then validates and applies
// every subsequent block in path in order, tracking the running supply
// and the difficulty each block was required to meet.
func (c *Chain) replay(path []*block.Block) (supply, difficulty uint64, err error) {
	genesisTriangle := genesisTriangleFromBlock(path[0])
	if err := c.triangles.Put(genesisTriangle); err != nil {
		return 0, 0, fmt.Errorf("insert genesis triangle: %w", err)
	}
	difficulty = path[0].Header.Difficulty

	for i, blk := range path[1:] {
		parent := path[i] // path[1:][i] == path[i+1], whose parent is path[i].

		if blk.Header.Difficulty < difficulty {
			return 0, 0, fmt.Errorf("height %d: %w: got %d, want at least %d", blk.Header.Height, ErrBadDifficulty, blk.Header.Difficulty, difficulty)
		}
		if err := c.checkTimestamp(blk, parent.Header.Timestamp); err != nil {
			return 0, 0, fmt.Errorf("height %d: %w", blk.Header.Height, err)
		}
		if err := c.validator.ValidateBlock(blk); err != nil {
			return 0, 0, fmt.Errorf("height %d: %w", blk.Header.Height, err)
		}

		newSupply, err := c.validateBlockState(blk, supply)
		if err != nil {
			return 0, 0, fmt.Errorf("height %d: %w", blk.Header.Height, err)
		}
		if err := c.applyBlockDirect(blk); err != nil {
			return 0, 0, fmt.Errorf("height %d: %w", blk.Header.Height, err)
		}
		supply = newSupply

		if blk.Header.Height > 0 && blk.Header.Height%consensus.DifficultyWindow == 0 {
			startHeight := blk.Header.Height - (consensus.DifficultyWindow - 1)
			difficulty = consensus.NextDifficulty(difficulty, path[startHeight].Header.Timestamp, blk.Header.Timestamp)
		}
	}
	return supply, difficulty, nil
}

// pathFromGenesis walks prev_hash links backward from tip to the genesis
// block and returns the chain genesis-first.
func (c *Chain) pathFromGenesis(tip types.Hash) ([]*block.Block, error) {
	const sanityLimit = 100_000_000 // Guards against a corrupt prev_hash cycle.

	var reversed []*block.Block
	hash := tip
	for {
		blk, err := c.blocks.GetBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("missing ancestor %s: %w", hash, err)
		}
		reversed = append(reversed, blk)
		if blk.Header.Height == 0 {
			break
		}
		if len(reversed) > sanityLimit {
			return nil, fmt.Errorf("ancestor chain exceeds sanity limit; prev_hash links may be corrupt")
		}
		hash = blk.Header.PrevHash
	}

	path := make([]*block.Block, len(reversed))
	for i, blk := range reversed {
		path[len(reversed)-1-i] = blk
	}
	return path, nil
}

// forkDepth returns how many blocks back from the active tip path
// diverges from the currently active chain, by walking down from the tip
// of both chains until a shared block is found at the same height.
func (c *Chain) forkDepth(path []*block.Block) (uint64, error) {
	for h := len(path) - 1; h >= 0; h-- {
		height := uint64(h)
		if height > c.height {
			continue
		}
		active, err := c.blocks.GetBlockByHeight(height)
		if err != nil {
			return 0, fmt.Errorf("load active block at height %d: %w", height, err)
		}
		if active.Hash() == path[h].Hash() {
			return c.height - height, nil
		}
	}
	return c.height, nil
}

// chainWeight sums header.Difficulty across the full chain ending at hash.
// Cumulative difficulty is accumulated linearly rather than as 2^difficulty
// "work": at MaxDifficulty=64 leading hex nibbles, exponential work would
// overflow uint64 long before reaching it. A fork that declares a lower
// difficulty to mine more cheaply is self-defeating under this scheme too,
// since it then contributes less to its own chain's weight.
func (c *Chain) chainWeight(hash types.Hash) (uint64, error) {
	path, err := c.pathFromGenesis(hash)
	if err != nil {
		return 0, err
	}
	return chainWeightOf(path), nil
}

func chainWeightOf(path []*block.Block) uint64 {
	var total uint64
	for _, blk := range path {
		total = saturatingAdd(total, blk.Header.Difficulty)
	}
	return total
}
