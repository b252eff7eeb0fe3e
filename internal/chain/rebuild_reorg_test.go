package chain

import (
	"testing"

	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/internal/utxo"
	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// snapshot captures every live triangle's id and owner for comparison
// across a rebuild.
func snapshot(t *testing.T, c *Chain) map[types.Hash]types.Address {
	t.Helper()
	out := make(map[types.Hash]types.Address)
	if err := c.Triangles().ForEach(func(tr geometry.Triangle) error {
		out[tr.ID()] = tr.Owner
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	return out
}

func TestNew_RecoversFromInterruptedReorgCheckpoint(t *testing.T) {
	db := storage.NewMemory()
	blocks := NewBlockStore(db)
	triangles := utxo.NewStore(db)

	c, err := New(blocks, triangles, stubEngine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	beneficiary := crypto.AddressFromPubKey(key.PublicKey())
	gen := testGenesisConfig(beneficiary)
	if err := c.InitFromGenesis(gen); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}

	genesisID := soleTriangleID(t, c)
	children := geometry.Subdivide(GenesisTriangle(beneficiary))
	subdiv := signSubdivision(t, key, genesisID, children, beneficiary, 0, 1)
	cb1 := coinbaseTx(BaseReward(1), beneficiary)
	blk1 := buildBlock(t, c.TipHash(), 1, 1, c.TipTimestamp()+60, []*tx.Transaction{cb1, subdiv})
	if err := c.ProcessBlock(blk1); err != nil {
		t.Fatalf("ProcessBlock blk1: %v", err)
	}

	cb2 := coinbaseTx(BaseReward(2), beneficiary)
	blk2 := buildBlock(t, c.TipHash(), 2, 1, c.TipTimestamp()+60, []*tx.Transaction{cb2})
	if err := c.ProcessBlock(blk2); err != nil {
		t.Fatalf("ProcessBlock blk2: %v", err)
	}

	before := snapshot(t, c)
	if len(before) == 0 {
		t.Fatalf("expected a non-empty triangle set before simulating a crash")
	}

	// Simulate a crash that left a reorg checkpoint behind without actually
	// clearing or replaying the triangle set (the state on disk is already
	// fully applied; only the marker was left dangling).
	if err := blocks.PutReorgCheckpoint(0); err != nil {
		t.Fatalf("PutReorgCheckpoint: %v", err)
	}

	recovered, err := New(blocks, triangles, stubEngine{})
	if err != nil {
		t.Fatalf("New after simulated crash: %v", err)
	}

	if _, ok := blocks.GetReorgCheckpoint(); ok {
		t.Fatalf("reorg checkpoint should be cleared after recovery")
	}

	if recovered.Height() != 2 {
		t.Fatalf("Height() after recovery = %d, want 2", recovered.Height())
	}
	if recovered.TipHash() != blk2.Hash() {
		t.Fatalf("TipHash() after recovery does not match the pre-crash tip")
	}

	after := snapshot(t, recovered)
	if len(after) != len(before) {
		t.Fatalf("triangle count after recovery = %d, want %d", len(after), len(before))
	}
	for id, owner := range before {
		gotOwner, ok := after[id]
		if !ok {
			t.Fatalf("triangle %s missing after recovery", id)
		}
		if gotOwner != owner {
			t.Fatalf("triangle %s owner after recovery = %s, want %s", id, gotOwner, owner)
		}
	}
}

func TestRebuildTo_RejectsEmptyPath(t *testing.T) {
	c, _, _ := newTestChain(t)

	if err := c.rebuildTo([]*block.Block{}); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}
