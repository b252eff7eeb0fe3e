// Package chain implements block application, fork tracking, and
// proof-of-work chain selection: the component that turns a stream of
// candidate blocks into the single active triangle-set state. The mempool
// rides alongside the active tip rather than as a separate component,
// since every operation that changes the tip (a new block, a reorg) must
// also prune it.
package chain

import (
	"fmt"
	"math"
	"sync"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/internal/consensus"
	"github.com/siertrichain/siertrichain/internal/mempool"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Committer lands a newly applied block, its triangle-set mutations, and
// the retargeted difficulty as a single atomic unit. internal/persist.Store
// satisfies this structurally; Chain depends on the interface rather than
// the concrete type so this package never imports internal/persist, which
// itself imports internal/chain for BlockStore.
type Committer interface {
	SaveBlockchainState(blk *block.Block, height, supply, difficulty uint64) error
}

// Chain tracks the active tip and applies validated blocks to it.
type Chain struct {
	mu sync.Mutex

	blocks    *BlockStore
	triangles *utxo.Store
	engine    consensus.Engine
	validator *consensus.Validator
	pool      *mempool.Pool
	committer Committer

	genesisHash   types.Hash
	tipHash       types.Hash
	height        uint64
	supply        uint64
	difficulty    uint64
	cumDifficulty uint64
	tipTimestamp  uint64
}

// New wires a chain over the given block and triangle stores. If the
// stores already hold a tip (resuming a previous run) state is recovered
// from them, including finishing an interrupted reorg rebuild; otherwise
// the chain is left empty and the caller must call InitFromGenesis before
// processing any block.
func New(blocks *BlockStore, triangles *utxo.Store, engine consensus.Engine) (*Chain, error) {
	c := &Chain{
		blocks:    blocks,
		triangles: triangles,
		engine:    engine,
		validator: consensus.NewValidator(engine),
		pool:      mempool.New(nil),
	}

	tipHash, height, supply, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("load tip: %w", err)
	}
	if tipHash.IsZero() {
		return c, nil // Fresh chain; caller must InitFromGenesis.
	}

	tipBlock, err := blocks.GetBlock(tipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip block: %w", err)
	}
	genesisBlock, err := blocks.GetBlockByHeight(0)
	if err != nil {
		return nil, fmt.Errorf("load genesis block: %w", err)
	}

	c.tipHash = tipHash
	c.height = height
	c.supply = supply
	c.tipTimestamp = tipBlock.Header.Timestamp
	c.difficulty = blocks.GetDifficulty(consensus.MinDifficulty)
	c.cumDifficulty = blocks.GetCumulativeDifficulty()
	c.genesisHash = genesisBlock.Hash()

	// A reorg checkpoint left behind means the process crashed mid-rebuild;
	// finish it before serving any further blocks.
	if _, ok := blocks.GetReorgCheckpoint(); ok {
		if err := c.rebuildFromGenesis(); err != nil {
			return nil, fmt.Errorf("recover from incomplete reorg: %w", err)
		}
	}

	return c, nil
}

// InitFromGenesis constructs the genesis block from gen and installs it as
// the tip at height 0. Genesis bypasses ordinary consensus and
// reward-accounting validation: it is the origin of UTXO history, not a
// validated block.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tipHash.IsZero() {
		return fmt.Errorf("chain already initialized at height %d", c.height)
	}

	blk, triangle, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("build genesis block: %w", err)
	}

	if err := c.triangles.Put(triangle); err != nil {
		return fmt.Errorf("insert genesis triangle: %w", err)
	}
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store genesis block: %w", err)
	}
	hash := blk.Hash()
	if err := c.blocks.SetTip(hash, 0, 0); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}
	if err := c.blocks.SetDifficulty(gen.Protocol.InitialDifficulty); err != nil {
		return fmt.Errorf("set initial difficulty: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(blk.Header.Difficulty); err != nil {
		return fmt.Errorf("set initial cumulative difficulty: %w", err)
	}

	c.genesisHash = hash
	c.tipHash = hash
	c.height = 0
	c.supply = 0
	c.difficulty = gen.Protocol.InitialDifficulty
	c.cumDifficulty = blk.Header.Difficulty
	c.tipTimestamp = blk.Header.Timestamp
	return nil
}

// BaseReward returns the per-block coinbase mint for height, halving every
// config.HalvingInterval blocks until it bottoms out at zero.
func BaseReward(height uint64) uint64 {
	halvings := height / config.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return config.InitialReward >> halvings
}

func remainingSupply(current uint64) uint64 {
	if current >= config.MaxSupply {
		return 0
	}
	return config.MaxSupply - current
}

func saturatingAdd(a, b uint64) uint64 {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}
	return a + b
}

// Height returns the active tip's height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// TipHash returns the active tip's block hash.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tipHash
}

// TipTimestamp returns the active tip's block timestamp.
func (c *Chain) TipTimestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tipTimestamp
}

// NextDifficulty returns the difficulty required of the next block.
func (c *Chain) NextDifficulty() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

// CumulativeDifficulty returns the active chain's accumulated difficulty,
// used to compare against a fork candidate's weight.
func (c *Chain) CumulativeDifficulty() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cumDifficulty
}

// Supply returns the total minted triangle area on the active chain.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supply
}

// GenesisHash returns the hash of the genesis block.
func (c *Chain) GenesisHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genesisHash
}

// Mempool returns the chain's mempool.
func (c *Chain) Mempool() *mempool.Pool {
	return c.pool
}

// Triangles returns the live triangle set, for read-only queries (RPC,
// wallet balance lookups).
func (c *Chain) Triangles() *utxo.Store {
	return c.triangles
}

// Blocks returns the block store, for read-only queries.
func (c *Chain) Blocks() *BlockStore {
	return c.blocks
}

// SetCommitter wires the atomic persistence path. Without one, ProcessBlock
// and Reorg fall back to sequential, non-atomic writes.
func (c *Chain) SetCommitter(committer Committer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committer = committer
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block on the active chain by height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// HasBlock reports whether a block hash is known, on the active chain or
// as a stored fork candidate.
func (c *Chain) HasBlock(hash types.Hash) (bool, error) {
	return c.blocks.HasBlock(hash)
}

// State is a point-in-time snapshot of the active chain, used by the P2P
// layer's handshake and sync exchanges.
type State struct {
	TipHash    types.Hash
	Height     uint64
	Supply     uint64
	Difficulty uint64
}

// State returns a snapshot of the active chain.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{TipHash: c.tipHash, Height: c.height, Supply: c.supply, Difficulty: c.difficulty}
}
