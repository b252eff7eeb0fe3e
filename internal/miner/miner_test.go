package miner

import (
	"context"
	"testing"

	"github.com/siertrichain/siertrichain/internal/consensus"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

type fakeChainState struct {
	height     uint64
	tipHash    types.Hash
	tipTS      uint64
	difficulty uint64
}

func (f *fakeChainState) Height() uint64         { return f.height }
func (f *fakeChainState) TipHash() types.Hash    { return f.tipHash }
func (f *fakeChainState) TipTimestamp() uint64   { return f.tipTS }
func (f *fakeChainState) NextDifficulty() uint64 { return f.difficulty }

type fakePool struct {
	txs []*tx.Transaction
}

func (f *fakePool) TopKByFee(k int) []*tx.Transaction {
	if k > len(f.txs) {
		k = len(f.txs)
	}
	return f.txs[:k]
}

func TestMiner_ProducesBlockAtNextHeight(t *testing.T) {
	engine, err := consensus.NewPoW(1)
	if err != nil {
		t.Fatal(err)
	}
	chain := &fakeChainState{height: 5, tipHash: types.Hash{0xaa}, tipTS: 1000, difficulty: 1}
	beneficiary := types.Address{0x01}

	m := New(chain, engine, &fakePool{}, beneficiary, func(uint64) uint64 { return 100 }, 0, nil)

	blk, err := m.ProduceBlock(context.Background())
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if blk.Header.Height != 6 {
		t.Fatalf("Height = %d, want 6", blk.Header.Height)
	}
	if blk.Header.PrevHash != chain.tipHash {
		t.Fatalf("PrevHash mismatch")
	}
	if blk.Header.Timestamp <= chain.tipTS {
		t.Fatalf("timestamp must be strictly after parent")
	}
	if len(blk.Transactions) != 1 {
		t.Fatalf("expected only the coinbase, got %d txs", len(blk.Transactions))
	}
	cb := blk.Transactions[0].Coinbase
	if cb == nil {
		t.Fatalf("first tx must be coinbase")
	}
	if cb.RewardArea != 100 {
		t.Fatalf("RewardArea = %d, want 100", cb.RewardArea)
	}
	if cb.Beneficiary != beneficiary {
		t.Fatalf("Beneficiary mismatch")
	}

	v := consensus.NewValidator(engine)
	if err := v.ValidateBlock(blk); err != nil {
		t.Fatalf("mined block should validate: %v", err)
	}
}

func TestMiner_CapsRewardAtMaxSupply(t *testing.T) {
	engine, err := consensus.NewPoW(1)
	if err != nil {
		t.Fatal(err)
	}
	chain := &fakeChainState{height: 0, difficulty: 1}
	m := New(chain, engine, &fakePool{}, types.Address{0x01},
		func(uint64) uint64 { return 100 }, 50, func() uint64 { return 20 })

	blk, err := m.ProduceBlock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := blk.Transactions[0].Coinbase.RewardArea; got != 30 {
		t.Fatalf("RewardArea = %d, want 30 (capped to remaining supply)", got)
	}
}

func TestMiner_CapsCoinbaseAtMaxCoinbaseReward(t *testing.T) {
	engine, err := consensus.NewPoW(1)
	if err != nil {
		t.Fatal(err)
	}
	chain := &fakeChainState{height: 0, difficulty: 1}
	m := New(chain, engine, &fakePool{}, types.Address{0x01},
		func(uint64) uint64 { return tx.MaxCoinbaseReward + 500 }, 0, nil)

	blk, err := m.ProduceBlock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := blk.Transactions[0].Coinbase.RewardArea; got != tx.MaxCoinbaseReward {
		t.Fatalf("RewardArea = %d, want %d", got, tx.MaxCoinbaseReward)
	}
}

func TestMiner_RespectsContextCancellation(t *testing.T) {
	engine, err := consensus.NewPoW(consensus.MaxDifficulty)
	if err != nil {
		t.Fatal(err)
	}
	chain := &fakeChainState{difficulty: consensus.MaxDifficulty}
	m := New(chain, engine, &fakePool{}, types.Address{0x01}, func(uint64) uint64 { return 0 }, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.ProduceBlock(ctx); err == nil {
		t.Fatalf("expected cancellation to surface as an error")
	}
}

