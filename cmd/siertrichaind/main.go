// Siertrichain full node daemon.
//
// Usage:
//
//	siertrichaind [--mine --coinbase=...]   Run node
//	siertrichaind --help                    Show help
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
	"github.com/siertrichain/siertrichain/internal/persist"
	"github.com/siertrichain/siertrichain/internal/ratelimit"
	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// startupSyncTimeout bounds how long the node waits, on startup, for a
// single round of catch-up sync against its peers before falling back to
// mining/serving from whatever height it already has.
const startupSyncTimeout = 30 * time.Second

// periodicSyncInterval is how often the node re-polls connected peers for
// blocks past its own tip, beyond the gossip path.
const periodicSyncInterval = 20 * time.Second

// miningBackoff is how long the mining loop pauses after a failed
// iteration before trying again.
const miningBackoff = 10 * time.Second

func main() {
	// ── 1. Load config (defaults → file → env → flags) ─────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/siertrichain.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	log := klog.WithComponent("main")
	log.Info().Str("network", string(cfg.Network)).Str("datadir", cfg.DataDir).Msg("Starting Siertrichain node")

	genesis := config.GenesisFor(cfg.Network)
	genesisHash, err := genesis.Hash()
	if err != nil {
		log.Fatal().Err(err).Msg("computing genesis hash")
	}

	// ── 3. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		log.Fatal().Err(err).Msg("opening chain database")
	}
	defer db.Close()

	blockStore := chain.NewBlockStore(db)
	triangleStore := utxo.NewStore(db)

	// ── 4. Consensus engine ───────────────────────────────────────────────
	engine, err := consensus.NewPoW(genesis.Protocol.InitialDifficulty)
	if err != nil {
		log.Fatal().Err(err).Msg("creating consensus engine")
	}
	engine.Threads = cfg.Mining.Threads

	// ── 5. Chain ───────────────────────────────────────────────────────────
	ch, err := chain.New(blockStore, triangleStore, engine)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing chain")
	}

	persistStore := persist.New(db, blockStore, triangleStore)
	ch.SetCommitter(persistStore)

	if ch.TipHash().IsZero() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			log.Fatal().Err(err).Msg("installing genesis block")
		}
		log.Info().Str("genesis_hash", genesisHash.String()).Msg("Initialized fresh chain from genesis")
	} else {
		log.Info().Uint64("height", ch.Height()).Str("tip", ch.TipHash().String()).Msg("Resumed chain from disk")
	}

	pool := ch.Mempool()

	// ── 6. P2P networking ─────────────────────────────────────────────────
	var p2pNode *p2p.Node
	var syncer *p2p.Syncer
	if cfg.P2P.Enabled {
		firewallRules, err := ratelimit.ParseRules(cfg.RateLimit.FirewallRules)
		if err != nil {
			log.Fatal().Err(err).Msg("parsing firewall rules")
		}

		p2pNode = p2p.New(p2p.Config{
			ListenAddr:    cfg.P2P.ListenAddr,
			Port:          cfg.P2P.Port,
			Seeds:         cfg.P2P.Seeds,
			MaxPeers:      cfg.P2P.MaxPeers,
			NoDiscover:    cfg.P2P.NoDiscover,
			DB:            db,
			DHTServer:     cfg.P2P.DHTServer,
			NetworkID:     genesis.ChainID,
			DataDir:       cfg.ChainDataDir(),
			FirewallRules: firewallRules,
			RequireAuth:   cfg.P2P.RequireAuth,
		})
		p2pNode.SetGenesisHash(genesisHash)
		p2pNode.SetHeightFn(func() uint64 { return ch.Height() })

		p2pNode.SetBlockHandler(func(from peer.ID, data []byte) {
			var blk block.Block
			if err := json.Unmarshal(data, &blk); err != nil {
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidBlock, "malformed block payload")
				return
			}
			if err := ch.ProcessBlock(&blk); err != nil {
				log.Debug().Err(err).Str("peer", from.String()).Msg("rejected gossiped block")
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidBlock, err.Error())
			}
		})
		p2pNode.SetTxHandler(func(from peer.ID, data []byte) {
			var t tx.Transaction
			if err := json.Unmarshal(data, &t); err != nil {
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidTx, "malformed tx payload")
				return
			}
			if err := pool.Add(&t); err != nil {
				log.Debug().Err(err).Str("peer", from.String()).Msg("rejected gossiped tx")
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidTx, err.Error())
			}
		})

		if err := p2pNode.Start(); err != nil {
			log.Fatal().Err(err).Msg("starting p2p node")
		}
		defer p2pNode.Stop()

		syncer = p2p.NewSyncer(p2pNode)
		syncer.RegisterHandler(func(fromHeight uint64, max uint32) []*block.Block {
			return collectBlocks(blockStore, fromHeight, max)
		})

		log.Info().Str("peer_id", p2pNode.ID().String()).Strs("addrs", p2pNode.Addrs()).Msg("P2P node listening")

		runStartupSync(ch, p2pNode, syncer, log)
		go runPeriodicSync(ch, p2pNode, syncer, log)
	}

	// ── 7. Mining ──────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var minerDone chan struct{}
	if cfg.Mining.Enabled {
		coinbase, err := resolveCoinbase(cfg.Mining.Coinbase)
		if err != nil {
			log.Fatal().Err(err).Msg("resolving coinbase address")
		}
		m := miner.New(ch, engine, pool, coinbase, chain.BaseReward, config.MaxSupply, ch.Supply)
		minerDone = make(chan struct{})
		go runMiner(ctx, ch, m, p2pNode, log, minerDone)
	}

	// ── 8. Wait for shutdown ───────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutdown signal received")

	cancel()
	if minerDone != nil {
		<-minerDone
	}
	log.Info().Msg("Siertrichain node stopped")
}

// resolveCoinbase parses the configured coinbase address, or derives one
// from a freshly generated key if none was configured (a convenience for
// first-run single-node testing; a fresh key means the reward cannot be
// recovered after restart unless the operator sets --coinbase explicitly).
func resolveCoinbase(configured string) (types.Address, error) {
	if configured != "" {
		return types.ParseAddress(configured)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return types.Address{}, fmt.Errorf("generating coinbase key: %w", err)
	}
	return crypto.AddressFromPubKey(key.PublicKey()), nil
}

// collectBlocks serves up to max consecutive blocks starting at fromHeight
// from the active chain, stopping at the first missing height.
func collectBlocks(blocks *chain.BlockStore, fromHeight uint64, max uint32) []*block.Block {
	result := make([]*block.Block, 0, max)
	for i := uint32(0); i < max; i++ {
		blk, err := blocks.GetBlockByHeight(fromHeight + uint64(i))
		if err != nil {
			break
		}
		result = append(result, blk)
	}
	return result
}

// runStartupSync requests missing blocks from every connected peer once,
// bounded by startupSyncTimeout, so a restarted node catches up before it
// starts mining on a stale tip.
func runStartupSync(ch *chain.Chain, node *p2p.Node, syncer *p2p.Syncer, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), startupSyncTimeout)
	defer cancel()
	syncOnce(ctx, ch, node, syncer, log)
}

// runPeriodicSync re-polls connected peers for blocks past the local tip
// on a fixed interval, catching anything gossip missed (a peer that
// joined mid-broadcast, a message dropped by the firewall limiter).
func runPeriodicSync(ch *chain.Chain, node *p2p.Node, syncer *p2p.Syncer, log zerolog.Logger) {
	ticker := time.NewTicker(periodicSyncInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), startupSyncTimeout)
		syncOnce(ctx, ch, node, syncer, log)
		cancel()
	}
}

// syncOnce asks every connected peer, in turn, for blocks starting just
// past the local tip (re-read before each request) and applies what it
// gets back, stopping on a peer's batch at its first rejected block.
func syncOnce(ctx context.Context, ch *chain.Chain, node *p2p.Node, syncer *p2p.Syncer, log zerolog.Logger) {
	for _, pr := range node.PeerList() {
		fromHeight := ch.Height() + 1
		blocks, err := syncer.RequestBlocks(ctx, pr.ID, fromHeight, 500)
		if err != nil {
			continue
		}
		for _, blk := range blocks {
			if err := ch.ProcessBlock(blk); err != nil {
				log.Debug().Err(err).Uint64("height", blk.Header.Height).Msg("sync: rejected block")
				break
			}
		}
		if len(blocks) > 0 {
			log.Info().Int("blocks", len(blocks)).Uint64("height", ch.Height()).Msg("synced with peer")
		}
	}
}

// sleepOrDone waits for d, returning false if ctx was cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// runMiner drives a continuous proof-of-work mining loop: produce a
// candidate block (blocking on nonce search until found or ctx is
// cancelled), apply it to the chain, prune the mempool, and broadcast it,
// then repeat against the new tip.
func runMiner(ctx context.Context, ch *chain.Chain, m *miner.Miner, node *p2p.Node, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	log.Info().Msg("Mining started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blk, err := m.ProduceBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("mining: failed to produce block")
			if !sleepOrDone(ctx, miningBackoff) {
				return
			}
			continue
		}

		if err := ch.ProcessBlock(blk); err != nil {
			log.Error().Err(err).Msg("mining: produced block rejected by own chain")
			if !sleepOrDone(ctx, miningBackoff) {
				return
			}
			continue
		}
		log.Info().Uint64("height", blk.Header.Height).Str("hash", blk.Hash().String()).Msg("mined block")

		if node != nil {
			if err := node.BroadcastBlock(blk); err != nil {
				log.Warn().Err(err).Msg("broadcasting mined block")
			}
		}
	}
}
