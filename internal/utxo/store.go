package utxo

import (
	"encoding/json"
	"fmt"

	"github.com/siertrichain/siertrichain/internal/storage"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Key prefixes for the triangle store.
var (
	prefixTriangle = []byte("u/") // u/<triangle-id> -> Triangle JSON
	prefixOwner    = []byte("a/") // a/<owner><triangle-id> -> empty (index)
)

// Store implements Set backed by a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a new triangle store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func triangleKey(id types.Hash) []byte {
	key := make([]byte, len(prefixTriangle)+types.HashSize)
	copy(key, prefixTriangle)
	copy(key[len(prefixTriangle):], id[:])
	return key
}

func ownerKey(owner types.Address, id types.Hash) []byte {
	key := make([]byte, len(prefixOwner)+types.AddressSize+types.HashSize)
	copy(key, prefixOwner)
	copy(key[len(prefixOwner):], owner[:])
	off := len(prefixOwner) + types.AddressSize
	copy(key[off:], id[:])
	return key
}

// Get retrieves a triangle by id. It satisfies pkg/tx.UTXOProvider,
// swallowing storage errors as "not found" since that interface has no
// error return.
func (s *Store) Get(id types.Hash) (Triangle, bool) {
	data, err := s.db.Get(triangleKey(id))
	if err != nil {
		return Triangle{}, false
	}
	var t Triangle
	if err := json.Unmarshal(data, &t); err != nil {
		return Triangle{}, false
	}
	return t, true
}

// Put stores a triangle and updates its owner index.
func (s *Store) Put(t Triangle) error {
	id := t.ID()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("triangle marshal: %w", err)
	}
	if err := s.db.Put(triangleKey(id), data); err != nil {
		return fmt.Errorf("triangle put: %w", err)
	}
	if err := s.db.Put(ownerKey(t.Owner, id), []byte{}); err != nil {
		return fmt.Errorf("owner index put: %w", err)
	}
	return nil
}

// PutBatch stages a triangle's storage and owner-index writes onto batch
// instead of writing to the database directly.
func (s *Store) PutBatch(batch storage.Batch, t Triangle) error {
	id := t.ID()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("triangle marshal: %w", err)
	}
	if err := batch.Put(triangleKey(id), data); err != nil {
		return fmt.Errorf("triangle put: %w", err)
	}
	if err := batch.Put(ownerKey(t.Owner, id), []byte{}); err != nil {
		return fmt.Errorf("owner index put: %w", err)
	}
	return nil
}

// DeleteBatch stages a triangle's removal (and owner-index cleanup) onto
// batch. The triangle is read from the database directly since reads
// cannot be staged; only the deletion itself is deferred to the batch.
func (s *Store) DeleteBatch(batch storage.Batch, id types.Hash) error {
	if t, ok := s.Get(id); ok {
		if err := batch.Delete(ownerKey(t.Owner, id)); err != nil {
			return fmt.Errorf("owner index delete: %w", err)
		}
	}
	if err := batch.Delete(triangleKey(id)); err != nil {
		return fmt.Errorf("triangle delete: %w", err)
	}
	return nil
}

// Delete removes a triangle and its owner index entry.
func (s *Store) Delete(id types.Hash) error {
	if t, ok := s.Get(id); ok {
		s.db.Delete(ownerKey(t.Owner, id))
	}
	if err := s.db.Delete(triangleKey(id)); err != nil {
		return fmt.Errorf("triangle delete: %w", err)
	}
	return nil
}

// Has checks if a triangle exists for the given id.
func (s *Store) Has(id types.Hash) (bool, error) {
	return s.db.Has(triangleKey(id))
}

// ForEach iterates over every live triangle.
func (s *Store) ForEach(fn func(Triangle) error) error {
	return s.db.ForEach(prefixTriangle, func(_, value []byte) error {
		var t Triangle
		if err := json.Unmarshal(value, &t); err != nil {
			return fmt.Errorf("triangle unmarshal: %w", err)
		}
		return fn(t)
	})
}

// GetByOwner returns all triangles currently owned by addr.
func (s *Store) GetByOwner(addr types.Address) ([]Triangle, error) {
	prefix := make([]byte, len(prefixOwner)+types.AddressSize)
	copy(prefix, prefixOwner)
	copy(prefix[len(prefixOwner):], addr[:])

	var triangles []Triangle
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		off := len(prefixOwner) + types.AddressSize
		if len(key) < off+types.HashSize {
			return nil // Malformed key, skip.
		}
		var id types.Hash
		copy(id[:], key[off:off+types.HashSize])
		if t, ok := s.Get(id); ok {
			triangles = append(triangles, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan owner index: %w", err)
	}
	return triangles, nil
}

// ClearAll removes every triangle and owner-index entry. Used during
// triangle-set recovery after a crash during reorg.
func (s *Store) ClearAll() error {
	var keys [][]byte
	for _, prefix := range [][]byte{prefixTriangle, prefixOwner} {
		if err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		}); err != nil {
			return fmt.Errorf("scan prefix %s: %w", prefix, err)
		}
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("delete triangle key: %w", err)
		}
	}
	return nil
}

// ApplyCoinbase mints the canonical reward triangle (see RewardTriangle)
// and adds it to the set.
func (s *Store) ApplyCoinbase(beneficiary types.Address, rewardArea, height uint64) (Triangle, error) {
	t := RewardTriangle(beneficiary, rewardArea, height)
	if err := s.Put(t); err != nil {
		return Triangle{}, fmt.Errorf("apply coinbase: %w", err)
	}
	return t, nil
}

// ApplySubdivision removes the parent triangle and inserts its three
// children, each owned by newOwner.
func (s *Store) ApplySubdivision(parentID types.Hash, children [3]Triangle, newOwner types.Address) error {
	parent, ok := s.Get(parentID)
	if !ok {
		return fmt.Errorf("apply subdivision: parent %s not found", parentID)
	}
	if err := s.Delete(parentID); err != nil {
		return fmt.Errorf("apply subdivision: remove parent: %w", err)
	}
	id := parent.ID()
	for _, c := range children {
		c.ParentID = &id
		c.Owner = newOwner
		if err := s.Put(c); err != nil {
			return fmt.Errorf("apply subdivision: add child: %w", err)
		}
	}
	return nil
}

// ApplyTransfer mutates a triangle's owner in place. The triangle-id is
// derived purely from geometry, so this never changes the storage key.
func (s *Store) ApplyTransfer(id types.Hash, newOwner types.Address) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("apply transfer: triangle %s not found", id)
	}
	s.db.Delete(ownerKey(t.Owner, id))
	t.Owner = newOwner
	if err := s.Put(t); err != nil {
		return fmt.Errorf("apply transfer: %w", err)
	}
	return nil
}
