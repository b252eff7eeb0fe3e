package consensus

import (
	"context"

	"github.com/siertrichain/siertrichain/pkg/block"
)

// Engine is the interface consensus implementations satisfy. This codebase
// only ships PoW, but the chain depends on this interface rather than *PoW
// directly so tests can substitute a fixed-difficulty stub.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Seal(ctx context.Context, blk *block.Block) error
}
