// Package utxo manages the live set of unspent triangles.
package utxo

import (
	"github.com/siertrichain/siertrichain/pkg/geometry"
	"github.com/siertrichain/siertrichain/pkg/types"
)

// Triangle is the unspent-output type this package stores: a plain alias
// of geometry.Triangle so pkg/tx's UTXOProvider interface is satisfied
// without this package needing its own copy of the geometry.
type Triangle = geometry.Triangle

// Set is the interface for triangle storage. A triangle is "unspent" as
// long as it has not been consumed by a Subdivision (which removes the
// parent and mints three children) — a Transfer mutates a triangle's
// owner in place without removing it from the set.
type Set interface {
	Get(id types.Hash) (Triangle, bool)
	Put(t Triangle) error
	Delete(id types.Hash) error
	Has(id types.Hash) (bool, error)
}
