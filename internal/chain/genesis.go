package chain

import (
	"fmt"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// GenesisTriangle is the fixed equilateral triangle every Siertrichain
// network mints at height 0, owned by the network's configured
// beneficiary. Its shape does not follow the ordinary right-isosceles
// coinbase formula (geometry.RewardTriangleSide): genesis is a distinct
// origin for UTXO history, not a validated block reward.
func GenesisTriangle(beneficiary types.Address) geometry.Triangle {
	return geometry.Triangle{
		A:     geometry.Point{X: 0, Y: 0},
		B:     geometry.Point{X: 1, Y: 0},
		C:     geometry.Point{X: 0.5, Y: 0.866025403784},
		Owner: beneficiary,
	}
}

// CreateGenesisBlock builds the genesis block for gen: a single Coinbase
// transaction recording the network's beneficiary, and the corresponding
// genesis triangle to insert directly into the triangle set. The block is
// never run through ordinary consensus or reward-accounting validation —
// InitFromGenesis installs it unconditionally.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, geometry.Triangle, error) {
	if gen == nil {
		return nil, geometry.Triangle{}, fmt.Errorf("genesis config is nil")
	}
	beneficiary, err := types.ParseAddress(gen.Beneficiary)
	if err != nil {
		return nil, geometry.Triangle{}, fmt.Errorf("genesis beneficiary: %w", err)
	}

	triangle := GenesisTriangle(beneficiary)
	coinbase := &tx.Transaction{Coinbase: &tx.Coinbase{
		RewardArea:  1,
		Beneficiary: beneficiary,
	}}
	txs := []*tx.Transaction{coinbase}

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{},
		MerkleRoot: block.ComputeMerkleRoot([]types.Hash{coinbase.Hash()}),
		Timestamp:  gen.Timestamp,
		Height:     0,
		Difficulty: gen.Protocol.InitialDifficulty,
		Nonce:      0,
	}
	return block.NewBlock(header, txs), triangle, nil
}

// genesisTriangleFromBlock re-derives the genesis triangle from a stored
// genesis block. Used when replaying a chain from scratch during a reorg
// rebuild, where the genesis triangle must be reinstalled exactly as
// InitFromGenesis originally installed it.
func genesisTriangleFromBlock(blk *block.Block) geometry.Triangle {
	return GenesisTriangle(blk.Transactions[0].Coinbase.Beneficiary)
}
