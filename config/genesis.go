package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Monetary policy. Reward area halves every HalvingInterval blocks, starting
// from InitialReward, until it floors at zero.
const (
	InitialReward   uint64 = 1000
	HalvingInterval uint64 = 210_000
	// MaxSupply is InitialReward * HalvingInterval * 2, the limit of the
	// geometric halving series; it bounds from above what the integer
	// (right-shift) halving schedule mints in total.
	MaxSupply uint64 = InitialReward * HalvingInterval * 2
)

// Difficulty retargeting. Difficulty is the number of required leading
// zero hex nibbles in a block hash, not a big.Int target.
const (
	TargetBlockTimeSeconds = 60
	DifficultyWindow       = 2016
	MinDifficulty          = 1
	MaxDifficulty          = 64
	RetargetFactorMin      = 0.25
	RetargetFactorMax      = 4.0
)

// Fork and mempool bounds.
const (
	MaxForkDepth   = 1000  // Blocks below the active tip a fork may still be adopted from.
	MaxPerAddress  = 100   // Max pending transactions per sender address in the mempool.
	MaxMempoolSize = 10_000
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize = 2_000_000 // 2 MB max block size (header + all tx signable bytes)
	MaxBlockTxs  = 500       // Max transactions per block (including coinbase)
)

// Genesis holds the genesis block configuration and protocol rules. This is
// immutable after chain launch — changes require a hard fork.
type Genesis struct {
	ChainID     string `json:"chain_id"`
	ChainName   string `json:"chain_name"`
	Timestamp   uint64 `json:"timestamp"`
	ExtraData   string `json:"extra_data,omitempty"`
	Beneficiary string `json:"beneficiary"` // address receiving the canonical genesis triangle

	Protocol ProtocolConfig `json:"protocol"`
}

// ForkSchedule defines block heights at which protocol upgrades activate. A
// zero value means the fork is not scheduled.
type ForkSchedule struct {
	// Future forks are added here as fields.
}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// ProtocolConfig holds consensus-critical rules. All nodes MUST agree on
// these values.
type ProtocolConfig struct {
	InitialDifficulty uint64       `json:"initial_difficulty"`
	BlockTime         int          `json:"block_time"` // Target seconds between blocks
	Forks             ForkSchedule `json:"forks,omitempty"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// mainnetBeneficiary is the address the canonical genesis triangle is minted
// to. It has no known private key; the genesis triangle is never meant to
// move, only to anchor the chain's first triangle-id.
const mainnetBeneficiary = "0000000000000000000000000000000000000000000000000000000000000001"

// testnetBeneficiary is a fixed, well-known testnet fixture address so test
// networks can be bootstrapped deterministically without a wallet.
const testnetBeneficiary = "000000000000000000000000000000000000000000000000000000000000007e"

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:     "siertrichain-mainnet-1",
		ChainName:   "Siertrichain Mainnet",
		Timestamp:   1770734103, // 2026-02-10
		ExtraData:   "Siertrichain Genesis",
		Beneficiary: mainnetBeneficiary,
		Protocol: ProtocolConfig{
			InitialDifficulty: 4,
			BlockTime:         TargetBlockTimeSeconds,
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "siertrichain-testnet-1"
	g.ChainName = "Siertrichain Testnet"
	g.ExtraData = "Siertrichain Testnet Genesis"
	g.Beneficiary = testnetBeneficiary
	g.Protocol.InitialDifficulty = 1 // Cheap to mine for local testing.
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.InitialDifficulty < MinDifficulty || g.Protocol.InitialDifficulty > MaxDifficulty {
		return fmt.Errorf("initial_difficulty must be between %d and %d", MinDifficulty, MaxDifficulty)
	}
	if g.Protocol.BlockTime <= 0 {
		return fmt.Errorf("block_time must be positive")
	}
	if _, err := types.ParseAddress(g.Beneficiary); err != nil {
		return fmt.Errorf("invalid beneficiary address %q: %w", g.Beneficiary, err)
	}
	return nil
}

// Hash returns a SHA-256 hash of the genesis configuration. Used to
// identify the chain and detect genesis mismatches during handshake.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
