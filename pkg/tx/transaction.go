// Package tx defines the transaction tagged union (Coinbase, Subdivision,
// Transfer) and its hashing, signing, and validation rules.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Kind identifies which transaction variant is populated.
type Kind uint8

const (
	// KindCoinbase mints a new triangle as a block reward.
	KindCoinbase Kind = iota + 1
	// KindSubdivision splits a parent triangle into three children.
	KindSubdivision
	// KindTransfer reassigns ownership of a live triangle.
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindCoinbase:
		return "coinbase"
	case KindSubdivision:
		return "subdivision"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// MaxMemoLength is the maximum length, in bytes, of a Transfer memo.
const MaxMemoLength = 256

// MaxCoinbaseReward is the maximum reward_area a single Coinbase may mint.
const MaxCoinbaseReward = 1000

// Transaction is a tagged union: exactly one of Coinbase, Subdivision, or
// Transfer is populated. This mirrors the upstream header/body split
// (pkg/block.Header) of keeping one canonical, little-endian encoding per
// concrete type rather than a single polymorphic struct.
type Transaction struct {
	Coinbase    *Coinbase    `json:"coinbase,omitempty"`
	Subdivision *Subdivision `json:"subdivision,omitempty"`
	Transfer    *Transfer    `json:"transfer,omitempty"`
}

// Kind reports which variant is populated, or 0 if the transaction is empty.
func (t *Transaction) Kind() Kind {
	switch {
	case t.Coinbase != nil:
		return KindCoinbase
	case t.Subdivision != nil:
		return KindSubdivision
	case t.Transfer != nil:
		return KindTransfer
	default:
		return 0
	}
}

// Hash returns the transaction-id: a SHA-256 digest over the canonical
// signable bytes of whichever variant is populated. The id never commits
// to the signature itself, only to what was signed.
func (t *Transaction) Hash() types.Hash {
	switch t.Kind() {
	case KindCoinbase:
		return t.Coinbase.Hash()
	case KindSubdivision:
		return t.Subdivision.Hash()
	case KindTransfer:
		return t.Transfer.Hash()
	default:
		return types.Hash{}
	}
}

// SignableMessage returns the bytes an authorizing key signs.
func (t *Transaction) SignableMessage() []byte {
	switch t.Kind() {
	case KindCoinbase:
		return t.Coinbase.SignableMessage()
	case KindSubdivision:
		return t.Subdivision.SignableMessage()
	case KindTransfer:
		return t.Transfer.SignableMessage()
	default:
		return nil
	}
}

// ValidateSignature performs the stateless signature check for whichever
// variant is populated. Coinbase transactions have no signature and always
// fail this check (they must never appear in the mempool).
func (t *Transaction) ValidateSignature() error {
	switch t.Kind() {
	case KindCoinbase:
		return fmt.Errorf("%w: coinbase carries no signature", ErrInvalidTransaction)
	case KindSubdivision:
		return t.Subdivision.ValidateSignature()
	case KindTransfer:
		return t.Transfer.ValidateSignature()
	default:
		return fmt.Errorf("%w: empty transaction", ErrInvalidTransaction)
	}
}

// Fee returns the declared fee: 0 for Coinbase, the declared fee for
// Subdivision and Transfer.
func (t *Transaction) Fee() uint64 {
	switch t.Kind() {
	case KindSubdivision:
		return t.Subdivision.Fee
	case KindTransfer:
		return t.Transfer.Fee
	default:
		return 0
	}
}

// SenderAddress returns the address responsible for originating the
// transaction, used for per-address mempool accounting. Coinbase has no
// sender and returns the zero address.
func (t *Transaction) SenderAddress() types.Address {
	switch t.Kind() {
	case KindSubdivision:
		return crypto.AddressFromPubKey(t.Subdivision.PubKey)
	case KindTransfer:
		return t.Transfer.Sender
	default:
		return types.Address{}
	}
}

// Coinbase mints a new triangle as the block reward. It never enters the
// mempool and carries no signature: its legitimacy is checked entirely by
// the chain's reward-accounting rule (reward_area <= base_reward + fees).
type Coinbase struct {
	RewardArea  uint64        `json:"reward_area"`
	Beneficiary types.Address `json:"beneficiary"`
}

// Hash returns the SHA-256 of the canonical encoding of the coinbase.
func (c *Coinbase) Hash() types.Hash {
	return crypto.Hash(c.SignableMessage())
}

// SignableMessage returns the canonical byte encoding of the coinbase.
// Format: kind(1) | reward_area(8) | beneficiary(32)
func (c *Coinbase) SignableMessage() []byte {
	buf := make([]byte, 0, 1+8+types.AddressSize)
	buf = append(buf, byte(KindCoinbase))
	buf = binary.LittleEndian.AppendUint64(buf, c.RewardArea)
	buf = append(buf, c.Beneficiary[:]...)
	return buf
}

// Validate checks the stateless Coinbase invariants: reward_area in
// (0, MAX_COINBASE_REWARD] and a non-empty beneficiary.
func (c *Coinbase) Validate() error {
	if c.RewardArea == 0 || c.RewardArea > MaxCoinbaseReward {
		return fmt.Errorf("%w: coinbase reward_area %d out of range (0, %d]", ErrInvalidTransaction, c.RewardArea, MaxCoinbaseReward)
	}
	if c.Beneficiary.IsZero() {
		return fmt.Errorf("%w: coinbase beneficiary is empty", ErrInvalidTransaction)
	}
	return nil
}

// Subdivision splits a parent triangle into three children, optionally
// reassigning ownership of the children in the same transaction.
type Subdivision struct {
	ParentID  types.Hash           `json:"parent_id"`
	Children  [3]geometry.Triangle `json:"children"`
	Owner     types.Address        `json:"owner"`
	Fee       uint64               `json:"fee"`
	Nonce     uint64               `json:"nonce"`
	Signature []byte               `json:"-"`
	PubKey    []byte               `json:"-"`
}

type subdivisionJSON struct {
	ParentID  types.Hash           `json:"parent_id"`
	Children  [3]geometry.Triangle `json:"children"`
	Owner     types.Address        `json:"owner"`
	Fee       uint64               `json:"fee"`
	Nonce     uint64               `json:"nonce"`
	Signature *string              `json:"signature,omitempty"`
	PubKey    *string              `json:"pubkey,omitempty"`
}

// MarshalJSON hex-encodes the signature and pubkey fields.
func (s Subdivision) MarshalJSON() ([]byte, error) {
	j := subdivisionJSON{
		ParentID: s.ParentID,
		Children: s.Children,
		Owner:    s.Owner,
		Fee:      s.Fee,
		Nonce:    s.Nonce,
	}
	if s.Signature != nil {
		v := hex.EncodeToString(s.Signature)
		j.Signature = &v
	}
	if s.PubKey != nil {
		v := hex.EncodeToString(s.PubKey)
		j.PubKey = &v
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes the hex-encoded signature and pubkey fields.
func (s *Subdivision) UnmarshalJSON(data []byte) error {
	var j subdivisionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.ParentID, s.Children, s.Owner, s.Fee, s.Nonce = j.ParentID, j.Children, j.Owner, j.Fee, j.Nonce
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return fmt.Errorf("decode signature: %w", err)
		}
		s.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return fmt.Errorf("decode pubkey: %w", err)
		}
		s.PubKey = b
	}
	return nil
}

// Hash returns the SHA-256 of the canonical encoding of the subdivision.
func (s *Subdivision) Hash() types.Hash {
	return crypto.Hash(s.SignableMessage())
}

// SignableMessage returns the canonical byte encoding signed by the parent's
// current owner.
// Format: kind(1) | parent_id(32) | children[3]{Ax,Ay,Bx,By,Cx,Cy}(48 each) | owner(32) | fee(8) | nonce(8) | pubkey_len(4) | pubkey
func (s *Subdivision) SignableMessage() []byte {
	buf := make([]byte, 0, 1+32+3*48+32+8+8+4+len(s.PubKey))
	buf = append(buf, byte(KindSubdivision))
	buf = append(buf, s.ParentID[:]...)
	for _, c := range s.Children {
		buf = appendPoint(buf, c.A)
		buf = appendPoint(buf, c.B)
		buf = appendPoint(buf, c.C)
	}
	buf = append(buf, s.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, s.Fee)
	buf = binary.LittleEndian.AppendUint64(buf, s.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.PubKey)))
	buf = append(buf, s.PubKey...)
	return buf
}

// ValidateSignature performs the stateless check: signature present, pubkey
// present, and the signature verifies against the signable message.
func (s *Subdivision) ValidateSignature() error {
	if len(s.Signature) == 0 {
		return fmt.Errorf("%w: subdivision missing signature", ErrInvalidTransaction)
	}
	if len(s.PubKey) == 0 {
		return fmt.Errorf("%w: subdivision missing pubkey", ErrInvalidTransaction)
	}
	if !crypto.VerifySignature(s.SignableMessage(), s.Signature, s.PubKey) {
		return fmt.Errorf("%w: subdivision signature does not verify", ErrInvalidTransaction)
	}
	return nil
}

// Transfer reassigns ownership of a live triangle without re-keying it: the
// triangle-id is unchanged, only its owner field mutates.
type Transfer struct {
	InputID   types.Hash    `json:"input_id"`
	NewOwner  types.Address `json:"new_owner"`
	Sender    types.Address `json:"sender"`
	Fee       uint64        `json:"fee"`
	Nonce     uint64        `json:"nonce"`
	Memo      string        `json:"memo,omitempty"`
	Signature []byte        `json:"-"`
	PubKey    []byte        `json:"-"`
}

type transferJSON struct {
	InputID   types.Hash    `json:"input_id"`
	NewOwner  types.Address `json:"new_owner"`
	Sender    types.Address `json:"sender"`
	Fee       uint64        `json:"fee"`
	Nonce     uint64        `json:"nonce"`
	Memo      string        `json:"memo,omitempty"`
	Signature *string       `json:"signature,omitempty"`
	PubKey    *string       `json:"pubkey,omitempty"`
}

// MarshalJSON hex-encodes the signature and pubkey fields.
func (tr Transfer) MarshalJSON() ([]byte, error) {
	j := transferJSON{
		InputID:  tr.InputID,
		NewOwner: tr.NewOwner,
		Sender:   tr.Sender,
		Fee:      tr.Fee,
		Nonce:    tr.Nonce,
		Memo:     tr.Memo,
	}
	if tr.Signature != nil {
		v := hex.EncodeToString(tr.Signature)
		j.Signature = &v
	}
	if tr.PubKey != nil {
		v := hex.EncodeToString(tr.PubKey)
		j.PubKey = &v
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes the hex-encoded signature and pubkey fields.
func (tr *Transfer) UnmarshalJSON(data []byte) error {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	tr.InputID, tr.NewOwner, tr.Sender, tr.Fee, tr.Nonce, tr.Memo =
		j.InputID, j.NewOwner, j.Sender, j.Fee, j.Nonce, j.Memo
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return fmt.Errorf("decode signature: %w", err)
		}
		tr.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return fmt.Errorf("decode pubkey: %w", err)
		}
		tr.PubKey = b
	}
	return nil
}

// Hash returns the SHA-256 of the canonical encoding of the transfer.
func (tr *Transfer) Hash() types.Hash {
	return crypto.Hash(tr.SignableMessage())
}

// SignableMessage returns the canonical byte encoding signed by the sender.
// Format: kind(1) | input_id(32) | new_owner(32) | sender(32) | fee(8) | nonce(8) | memo_len(4) | memo | pubkey_len(4) | pubkey
func (tr *Transfer) SignableMessage() []byte {
	memo := []byte(tr.Memo)
	buf := make([]byte, 0, 1+32+32+32+8+8+4+len(memo)+4+len(tr.PubKey))
	buf = append(buf, byte(KindTransfer))
	buf = append(buf, tr.InputID[:]...)
	buf = append(buf, tr.NewOwner[:]...)
	buf = append(buf, tr.Sender[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tr.Fee)
	buf = binary.LittleEndian.AppendUint64(buf, tr.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(memo)))
	buf = append(buf, memo...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tr.PubKey)))
	buf = append(buf, tr.PubKey...)
	return buf
}

// ValidateSignature performs the stateless check: signature present, pubkey
// present, and the signature verifies against the signable message.
func (tr *Transfer) ValidateSignature() error {
	if len(tr.Signature) == 0 {
		return fmt.Errorf("%w: transfer missing signature", ErrInvalidTransaction)
	}
	if len(tr.PubKey) == 0 {
		return fmt.Errorf("%w: transfer missing pubkey", ErrInvalidTransaction)
	}
	if len(tr.Memo) > MaxMemoLength {
		return fmt.Errorf("%w: memo too long (%d bytes, max %d)", ErrInvalidTransaction, len(tr.Memo), MaxMemoLength)
	}
	if !crypto.VerifySignature(tr.SignableMessage(), tr.Signature, tr.PubKey) {
		return fmt.Errorf("%w: transfer signature does not verify", ErrInvalidTransaction)
	}
	return nil
}

func appendPoint(buf []byte, p geometry.Point) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.X))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Y))
	return buf
}
