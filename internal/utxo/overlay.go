package utxo

import (
	"fmt"

	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Getter is the read-only view an Overlay shadows. *Store satisfies it.
type Getter interface {
	Get(id types.Hash) (Triangle, bool)
}

// Overlay is a copy-on-write view over a base triangle set. Block
// application replays every transaction through an Overlay in block order,
// so each transaction validates against, and then mutates, a running view
// that already reflects the transactions before it in the same block — a
// subdivision's children are spendable by the very next transaction. The
// base set stays untouched until the caller commits the accumulated deltas.
//
// The base must not be mutated for the lifetime of the Overlay. Overlay
// satisfies pkg/tx's UTXOProvider, so transactions validate against it
// directly.
type Overlay struct {
	base    Getter
	added   map[types.Hash]Triangle
	removed map[types.Hash]bool
}

// NewOverlay creates an empty overlay over base.
func NewOverlay(base Getter) *Overlay {
	return &Overlay{
		base:    base,
		added:   make(map[types.Hash]Triangle),
		removed: make(map[types.Hash]bool),
	}
}

// Get returns the triangle as the overlay currently sees it: overlay
// mutations shadow the base.
func (o *Overlay) Get(id types.Hash) (Triangle, bool) {
	if o.removed[id] {
		return Triangle{}, false
	}
	if t, ok := o.added[id]; ok {
		return t, true
	}
	return o.base.Get(id)
}

func (o *Overlay) put(t Triangle) {
	id := t.ID()
	delete(o.removed, id)
	o.added[id] = t
}

func (o *Overlay) remove(id types.Hash) {
	delete(o.added, id)
	if _, ok := o.base.Get(id); ok {
		o.removed[id] = true
	}
}

// ApplyCoinbase mints the canonical reward triangle into the overlay.
func (o *Overlay) ApplyCoinbase(beneficiary types.Address, rewardArea, height uint64) Triangle {
	t := RewardTriangle(beneficiary, rewardArea, height)
	o.put(t)
	return t
}

// ApplySubdivision consumes the parent and inserts its three children,
// each owned by newOwner.
func (o *Overlay) ApplySubdivision(parentID types.Hash, children [3]Triangle, newOwner types.Address) error {
	parent, ok := o.Get(parentID)
	if !ok {
		return fmt.Errorf("apply subdivision: parent %s not found", parentID)
	}
	o.remove(parentID)
	id := parent.ID()
	for _, c := range children {
		c.ParentID = &id
		c.Owner = newOwner
		o.put(c)
	}
	return nil
}

// ApplyTransfer mutates a triangle's owner in the overlay.
func (o *Overlay) ApplyTransfer(id types.Hash, newOwner types.Address) error {
	t, ok := o.Get(id)
	if !ok {
		return fmt.Errorf("apply transfer: triangle %s not found", id)
	}
	t.Owner = newOwner
	o.put(t)
	return nil
}

// RewardTriangle is the canonical right-isosceles triangle a coinbase at
// the given height mints: the two legs have length sqrt(2 * reward_area),
// so the area is exactly reward_area, and successive coinbases are placed
// side by side along the x-axis using height as an offset so two blocks
// never mint geometrically identical (and therefore same-id) triangles.
func RewardTriangle(beneficiary types.Address, rewardArea, height uint64) Triangle {
	side := geometry.RewardTriangleSide(rewardArea)
	offsetX := float64(height) * 1000
	return Triangle{
		A:     geometry.Point{X: offsetX, Y: 0},
		B:     geometry.Point{X: offsetX + side, Y: 0},
		C:     geometry.Point{X: offsetX, Y: side},
		Owner: beneficiary,
	}
}

// CommitOverlay lands an overlay's accumulated deltas on the store with
// direct writes. The overlay's base must be this store, unmutated since
// the overlay was created.
func (s *Store) CommitOverlay(o *Overlay) error {
	for id := range o.removed {
		if err := s.Delete(id); err != nil {
			return fmt.Errorf("commit overlay: %w", err)
		}
	}
	for id, t := range o.added {
		if old, ok := s.Get(id); ok && old.Owner != t.Owner {
			s.db.Delete(ownerKey(old.Owner, id))
		}
		if err := s.Put(t); err != nil {
			return fmt.Errorf("commit overlay: %w", err)
		}
	}
	return nil
}

// CommitOverlayBatch stages an overlay's accumulated deltas onto batch.
// Reads go to the store directly (the base is untouched until the batch
// commits), so staged deletes and writes never depend on each other.
func (s *Store) CommitOverlayBatch(batch storage.Batch, o *Overlay) error {
	for id := range o.removed {
		if err := s.DeleteBatch(batch, id); err != nil {
			return fmt.Errorf("commit overlay: %w", err)
		}
	}
	for id, t := range o.added {
		if old, ok := s.Get(id); ok && old.Owner != t.Owner {
			if err := batch.Delete(ownerKey(old.Owner, id)); err != nil {
				return fmt.Errorf("commit overlay: owner index delete: %w", err)
			}
		}
		if err := s.PutBatch(batch, t); err != nil {
			return fmt.Errorf("commit overlay: %w", err)
		}
	}
	return nil
}
