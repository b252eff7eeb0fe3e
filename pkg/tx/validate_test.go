package tx

import (
	"errors"
	"testing"

	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/types"
)

type fakeState struct {
	triangles map[types.Hash]geometry.Triangle
}

func newFakeState() *fakeState {
	return &fakeState{triangles: make(map[types.Hash]geometry.Triangle)}
}

func (f *fakeState) Get(id types.Hash) (geometry.Triangle, bool) {
	t, ok := f.triangles[id]
	return t, ok
}

func (f *fakeState) put(t geometry.Triangle) {
	f.triangles[t.ID()] = t
}

func TestSubdivision_Validate(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	owner := crypto.AddressFromPubKey(key.PublicKey())
	parent := canonicalTriangle()
	parent.Owner = owner

	state := newFakeState()
	state.put(parent)

	children := geometry.Subdivide(parent)
	s := &Subdivision{
		ParentID: parent.ID(),
		Children: children,
		Owner:    owner,
		Fee:      1,
		Nonce:    1,
		PubKey:   key.PublicKey(),
	}
	sig, _ := key.Sign(s.SignableMessage())
	s.Signature = sig

	if err := s.validate(state); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSubdivision_Validate_RejectsUnknownParent(t *testing.T) {
	key, _ := crypto.GenerateKey()
	parent := canonicalTriangle()
	children := geometry.Subdivide(parent)
	s := &Subdivision{
		ParentID: parent.ID(),
		Children: children,
		PubKey:   key.PublicKey(),
	}
	sig, _ := key.Sign(s.SignableMessage())
	s.Signature = sig

	err := s.validate(newFakeState())
	if !errors.Is(err, ErrTriangleNotFound) {
		t.Errorf("validate() error = %v, want ErrTriangleNotFound", err)
	}
}

func TestSubdivision_Validate_RejectsWrongSigner(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	attackerKey, _ := crypto.GenerateKey()
	owner := crypto.AddressFromPubKey(ownerKey.PublicKey())

	parent := canonicalTriangle()
	parent.Owner = owner

	state := newFakeState()
	state.put(parent)

	children := geometry.Subdivide(parent)
	s := &Subdivision{
		ParentID: parent.ID(),
		Children: children,
		Owner:    owner,
		PubKey:   attackerKey.PublicKey(),
	}
	sig, _ := attackerKey.Sign(s.SignableMessage())
	s.Signature = sig

	err := s.validate(state)
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("validate() error = %v, want ErrInvalidTransaction", err)
	}
}

func TestSubdivision_Validate_RejectsBadGeometry(t *testing.T) {
	key, _ := crypto.GenerateKey()
	owner := crypto.AddressFromPubKey(key.PublicKey())
	parent := canonicalTriangle()
	parent.Owner = owner

	state := newFakeState()
	state.put(parent)

	children := geometry.Subdivide(parent)
	children[0].A.X += 1 // corrupt one vertex
	s := &Subdivision{
		ParentID: parent.ID(),
		Children: children,
		Owner:    owner,
		PubKey:   key.PublicKey(),
	}
	sig, _ := key.Sign(s.SignableMessage())
	s.Signature = sig

	err := s.validate(state)
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("validate() error = %v, want ErrInvalidTransaction", err)
	}
}

func TestTransfer_Validate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.AddressFromPubKey(key.PublicKey())
	tri := canonicalTriangle()
	tri.Owner = sender

	state := newFakeState()
	state.put(tri)

	tr := &Transfer{
		InputID:  tri.ID(),
		NewOwner: types.Address{9, 9, 9},
		Sender:   sender,
		PubKey:   key.PublicKey(),
	}
	sig, _ := key.Sign(tr.SignableMessage())
	tr.Signature = sig

	if err := tr.validate(state); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestTransfer_Validate_RejectsNonOwnerSender(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	senderKey, _ := crypto.GenerateKey()
	owner := crypto.AddressFromPubKey(ownerKey.PublicKey())
	sender := crypto.AddressFromPubKey(senderKey.PublicKey())

	tri := canonicalTriangle()
	tri.Owner = owner

	state := newFakeState()
	state.put(tri)

	tr := &Transfer{
		InputID:  tri.ID(),
		NewOwner: types.Address{9, 9, 9},
		Sender:   sender,
		PubKey:   senderKey.PublicKey(),
	}
	sig, _ := senderKey.Sign(tr.SignableMessage())
	tr.Signature = sig

	err := tr.validate(state)
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("validate() error = %v, want ErrInvalidTransaction", err)
	}
}

func TestTransfer_Validate_RejectsMissingTriangle(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tr := &Transfer{
		InputID:  types.Hash{1},
		NewOwner: types.Address{2},
		Sender:   crypto.AddressFromPubKey(key.PublicKey()),
		PubKey:   key.PublicKey(),
	}
	sig, _ := key.Sign(tr.SignableMessage())
	tr.Signature = sig

	err := tr.validate(newFakeState())
	if !errors.Is(err, ErrTriangleNotFound) {
		t.Errorf("validate() error = %v, want ErrTriangleNotFound", err)
	}
}
