// Command testnet boots a 2-node local testnet from scratch.
//
// Usage: go run ./cmd/testnet/
//
// It creates an in-memory genesis, boots two in-process nodes (one miner,
// one follower) connected directly over libp2p, mines a handful of blocks
// with low difficulty, gossips them, and verifies both chains converge.
// Ctrl+C for early shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siertrichain/siertrichain/config"
	"github.com/siertrichain/siertrichain/internal/chain"
	"github.com/siertrichain/siertrichain/internal/consensus"
	klog "github.com/siertrichain/siertrichain/internal/log"
	"github.com/siertrichain/siertrichain/internal/miner"
	"github.com/siertrichain/siertrichain/internal/p2p"
	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/types"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
)

const (
	numBlocks = 10

	// testnetDifficulty is low enough that a laptop CPU seals a block in
	// well under a second, so the whole run finishes quickly.
	testnetDifficulty = 1
)

// nodeBundle groups all components for one logical node.
type nodeBundle struct {
	name  string
	chain *chain.Chain
	p2p   *p2p.Node
	miner *miner.Miner // nil for the follower.
}

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("testnet")

	logger.Info().Msg("=== Siertrichain 2-Node Local Testnet ===")

	// ── Phase 1: Genesis ─────────────────────────────────────────────────

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("generate miner key")
	}
	minerAddr := crypto.AddressFromPubKey(minerKey.PublicKey())

	gen := config.TestnetGenesis()
	gen.ChainID = "siertrichain-testnet-local"
	gen.ChainName = "Local Testnet"
	gen.Timestamp = uint64(time.Now().Unix())
	gen.Beneficiary = minerAddr.String()
	gen.Protocol.InitialDifficulty = testnetDifficulty

	logger.Info().Str("chain_id", gen.ChainID).Str("beneficiary", minerAddr.String()).Msg("Genesis config created")

	// ── Phase 2: Build nodes ─────────────────────────────────────────────

	node1, err := buildNode("node-1", gen, minerAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-1")
	}
	node2, err := buildNode("node-2", gen, types.Address{})
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-2")
	}

	logger.Info().
		Uint64("node1_height", node1.chain.Height()).
		Uint64("node2_height", node2.chain.Height()).
		Msg("Genesis initialized on both nodes")

	// ── Phase 3: Start P2P + connect ─────────────────────────────────────

	if err := node1.p2p.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-1 p2p")
	}
	if err := node2.p2p.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-2 p2p")
	}
	defer cleanup(node1, node2)

	logger.Info().
		Str("node1_id", node1.p2p.ID().String()).
		Str("node2_id", node2.p2p.ID().String()).
		Msg("P2P nodes started")

	connectNodes(node1.p2p, node2.p2p)
	time.Sleep(500 * time.Millisecond) // GossipSub mesh stabilization.

	logger.Info().
		Int("node1_peers", node1.p2p.PeerCount()).
		Int("node2_peers", node2.p2p.PeerCount()).
		Msg("Nodes connected")

	// ── Phase 4: Signal handling ─────────────────────────────────────────

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// ── Phase 5: Block production ────────────────────────────────────────

	logger.Info().Int("blocks", numBlocks).Msg("Starting block production")

	for i := 0; i < numBlocks; i++ {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Production interrupted")
			goto verify
		default:
		}

		blk, err := node1.miner.ProduceBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				goto verify
			}
			logger.Fatal().Err(err).Msg("produce block")
		}

		if err := node1.chain.ProcessBlock(blk); err != nil {
			logger.Fatal().Err(err).Msg("process block on node-1")
		}

		if err := node1.p2p.BroadcastBlock(blk); err != nil {
			logger.Error().Err(err).Msg("broadcast block")
		}

		logger.Info().
			Uint64("height", blk.Header.Height).
			Str("hash", blk.Hash().String()).
			Int("txs", len(blk.Transactions)).
			Uint64("reward", blk.Transactions[0].Coinbase.RewardArea).
			Msg("Block produced")

		time.Sleep(300 * time.Millisecond) // Let gossip land before the next block.
	}

verify:
	// ── Phase 6: Verification ────────────────────────────────────────────

	time.Sleep(2 * time.Second) // Wait for the last block to propagate.

	h1 := node1.chain.Height()
	h2 := node2.chain.Height()
	t1 := node1.chain.TipHash()
	t2 := node2.chain.TipHash()

	logger.Info().
		Uint64("node1_height", h1).
		Uint64("node2_height", h2).
		Str("node1_tip", t1.String()).
		Str("node2_tip", t2.String()).
		Msg("Final chain state")

	if h1 == h2 && t1 == t2 {
		logger.Info().Msg("SUCCESS: both nodes converged — chains match")
		fmt.Println()
		fmt.Printf("  Blocks produced:  %d\n", h1)
		fmt.Printf("  Chain tip:        %s\n", t1)
		fmt.Printf("  Total supply:     %d\n", node1.chain.Supply())
		fmt.Println()
	} else {
		logger.Error().Msg("FAILURE: chain mismatch between nodes")
		os.Exit(1)
	}
}

// buildNode creates a fully wired node with chain, mempool, p2p, and an
// optional miner (coinbaseAddr is the zero address for the follower).
func buildNode(name string, gen *config.Genesis, coinbaseAddr types.Address) (*nodeBundle, error) {
	db := storage.NewMemory()
	blockStore := chain.NewBlockStore(db)
	triangleStore := utxo.NewStore(db)

	engine, err := consensus.NewPoW(gen.Protocol.InitialDifficulty)
	if err != nil {
		return nil, fmt.Errorf("create pow engine: %w", err)
	}

	ch, err := chain.New(blockStore, triangleStore, engine)
	if err != nil {
		return nil, fmt.Errorf("create chain: %w", err)
	}
	if err := ch.InitFromGenesis(gen); err != nil {
		return nil, fmt.Errorf("init genesis: %w", err)
	}
	pool := ch.Mempool()

	p2pNode := p2p.New(p2p.Config{
		ListenAddr: "127.0.0.1",
		Port:       0, // Random port.
		NoDiscover: true,
		NetworkID:  gen.ChainID,
	})

	genesisHash, _ := gen.Hash()
	p2pNode.SetGenesisHash(genesisHash)
	p2pNode.SetHeightFn(func() uint64 { return ch.Height() })

	nodeLogger := klog.WithComponent(name)
	p2pNode.SetBlockHandler(func(_ libp2ppeer.ID, data []byte) {
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			nodeLogger.Error().Err(err).Msg("unmarshal block")
			return
		}
		if err := ch.ProcessBlock(&blk); err != nil {
			nodeLogger.Error().Err(err).Uint64("height", blk.Header.Height).Msg("process block")
			return
		}
		nodeLogger.Info().
			Uint64("height", blk.Header.Height).
			Str("hash", blk.Hash().String()).
			Msg("Block received and applied")
	})

	var m *miner.Miner
	if coinbaseAddr != (types.Address{}) {
		m = miner.New(ch, engine, pool, coinbaseAddr, chain.BaseReward, config.MaxSupply, ch.Supply)
	}

	return &nodeBundle{
		name:  name,
		chain: ch,
		p2p:   p2pNode,
		miner: m,
	}, nil
}

// connectNodes connects two P2P nodes directly.
func connectNodes(a, b *p2p.Node) {
	aHost := a.Host()
	info := libp2ppeer.AddrInfo{
		ID:    aHost.ID(),
		Addrs: aHost.Addrs(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Host().Connect(ctx, info)
}

// cleanup stops all P2P nodes.
func cleanup(nodes ...*nodeBundle) {
	for _, n := range nodes {
		n.p2p.Stop()
	}
}
