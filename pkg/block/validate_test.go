package block

import (
	"errors"
	"testing"

	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/tx"
	"github.com/siertrichain/siertrichain/pkg/types"
)

func coinbaseTx(t *testing.T) *tx.Transaction {
	t.Helper()
	return &tx.Transaction{Coinbase: &tx.Coinbase{RewardArea: 1000, Beneficiary: types.Address{1}}}
}

func signedTransfer(t *testing.T, inputID types.Hash, nonce uint64) *tx.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tr := &tx.Transfer{
		InputID:  inputID,
		NewOwner: types.Address{9},
		Sender:   crypto.AddressFromPubKey(key.PublicKey()),
		Nonce:    nonce,
		PubKey:   key.PublicKey(),
	}
	sig, err := key.Sign(tr.SignableMessage())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tr.Signature = sig
	return &tx.Transaction{Transfer: tr}
}

func signedSubdivision(t *testing.T, parentID types.Hash, nonce uint64) *tx.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s := &tx.Subdivision{
		ParentID: parentID,
		Owner:    crypto.AddressFromPubKey(key.PublicKey()),
		Nonce:    nonce,
		PubKey:   key.PublicKey(),
	}
	sig, err := key.Sign(s.SignableMessage())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s.Signature = sig
	return &tx.Transaction{Subdivision: s}
}

func buildBlock(t *testing.T, txs []*tx.Transaction) *Block {
	t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i, x := range txs {
		hashes[i] = x.Hash()
	}
	return &Block{
		Header: &Header{
			Version:    CurrentVersion,
			Timestamp:  1,
			Difficulty: 1,
			MerkleRoot: ComputeMerkleRoot(hashes),
		},
		Transactions: txs,
	}
}

func TestBlock_Validate_CoinbaseOnly(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t)})
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestBlock_Validate_NilHeader(t *testing.T) {
	b := &Block{Transactions: []*tx.Transaction{coinbaseTx(t)}}
	if !errors.Is(b.Validate(), ErrNilHeader) {
		t.Error("expected ErrNilHeader")
	}
}

func TestBlock_Validate_ZeroTimestamp(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t)})
	b.Header.Timestamp = 0
	if !errors.Is(b.Validate(), ErrZeroTimestamp) {
		t.Error("expected ErrZeroTimestamp")
	}
}

func TestBlock_Validate_NoTransactions(t *testing.T) {
	b := buildBlock(t, nil)
	if !errors.Is(b.Validate(), ErrNoTransactions) {
		t.Error("expected ErrNoTransactions")
	}
}

func TestBlock_Validate_BadVersion(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t)})
	b.Header.Version = MaxVersion + 1
	if !errors.Is(b.Validate(), ErrBadVersion) {
		t.Error("expected ErrBadVersion")
	}
}

func TestBlock_Validate_MissingCoinbase(t *testing.T) {
	txn := signedTransfer(t, types.Hash{1}, 1)
	b := buildBlock(t, []*tx.Transaction{txn})
	if !errors.Is(b.Validate(), ErrNoCoinbase) {
		t.Error("expected ErrNoCoinbase")
	}
}

func TestBlock_Validate_MultipleCoinbase(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t), coinbaseTx(t)})
	if !errors.Is(b.Validate(), ErrMultipleCoinbase) {
		t.Error("expected ErrMultipleCoinbase")
	}
}

func TestBlock_Validate_BadMerkleRoot(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t)})
	b.Header.MerkleRoot = types.Hash{0xff}
	if !errors.Is(b.Validate(), ErrBadMerkleRoot) {
		t.Error("expected ErrBadMerkleRoot")
	}
}

func TestBlock_Validate_DoubleSpend(t *testing.T) {
	shared := types.Hash{7}
	a := signedSubdivision(t, shared, 1)
	b2 := signedSubdivision(t, shared, 2)
	block := buildBlock(t, []*tx.Transaction{coinbaseTx(t), a, b2})
	if !errors.Is(block.Validate(), ErrDoubleSpend) {
		t.Error("expected ErrDoubleSpend")
	}
}

func TestBlock_Validate_RepeatedTransferAllowedStructurally(t *testing.T) {
	// Two transfers of the same triangle are not a structural double spend:
	// a transfer does not consume its input, and whether the second one is
	// authorized depends on state, which is not this layer's concern.
	shared := types.Hash{8}
	a := signedTransfer(t, shared, 1)
	b2 := signedTransfer(t, shared, 2)
	block := buildBlock(t, []*tx.Transaction{coinbaseTx(t), a, b2})
	if err := block.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestBlock_Validate_RejectsBadSignature(t *testing.T) {
	txn := signedTransfer(t, types.Hash{1}, 1)
	txn.Transfer.Signature[0] ^= 0xff
	block := buildBlock(t, []*tx.Transaction{coinbaseTx(t), txn})
	if err := block.Validate(); err == nil {
		t.Error("expected error for corrupted signature")
	}
}

func TestBlock_Hash(t *testing.T) {
	b := buildBlock(t, []*tx.Transaction{coinbaseTx(t)})
	if b.Hash() != b.Header.Hash() {
		t.Error("Block.Hash() should equal Header.Hash()")
	}
}
