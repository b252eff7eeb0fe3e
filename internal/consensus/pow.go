// Package consensus implements proof-of-work validation, difficulty
// retargeting, and the nonce-search primitive the miner drives.
package consensus

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/siertrichain/siertrichain/pkg/block"
	"github.com/siertrichain/siertrichain/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroDifficulty   = errors.New("difficulty must be > 0")
	ErrBadDifficulty    = errors.New("block difficulty does not match expected")
)

// Difficulty bounds: difficulty counts required leading zero hex nibbles in
// the block hash, clamped to prevent a pathological header from demanding
// more nibbles than a hash has.
const (
	MinDifficulty = 1
	MaxDifficulty = 64

	// DifficultyWindow is the number of blocks between retargets.
	DifficultyWindow = 2016

	// TargetBlockSeconds is the desired spacing between blocks.
	TargetBlockSeconds = 60
)

// PoW implements proof-of-work consensus: difficulty is the number of
// required leading zero hex characters in the hex-rendered block hash.
type PoW struct {
	InitialDifficulty uint64

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded. Each goroutine searches a strided
	// partition of the nonce space.
	Threads int
}

// NewPoW creates a new PoW engine with the given genesis difficulty.
func NewPoW(initialDifficulty uint64) (*PoW, error) {
	if initialDifficulty == 0 {
		return nil, ErrZeroDifficulty
	}
	return &PoW{InitialDifficulty: initialDifficulty}, nil
}

// leadingZeroHexChars returns the count of leading '0' characters in the
// hex-encoded hash.
func leadingZeroHexChars(hash [32]byte) int {
	hexStr := hex.EncodeToString(hash[:])
	return len(hexStr) - len(strings.TrimLeft(hexStr, "0"))
}

// VerifyHeader checks that the block header's hash has at least
// header.Difficulty leading zero hex characters. Difficulty is clamped to
// MaxDifficulty so a corrupt or adversarial header can never demand more
// work than is achievable.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header.Difficulty == 0 {
		return ErrZeroDifficulty
	}
	required := header.Difficulty
	if required > MaxDifficulty {
		required = MaxDifficulty
	}
	hash := crypto.Hash(header.SigningBytes())
	if uint64(leadingZeroHexChars(hash)) < required {
		return fmt.Errorf("%w: need %d leading zero hex chars", ErrInsufficientWork, required)
	}
	return nil
}

// signingPrefix returns the header's signing bytes without the trailing
// nonce, so the miner rewrites only the 8 trailing nonce bytes of its
// buffer per attempt.
func signingPrefix(h *block.Header) []byte {
	buf := make([]byte, 0, 96)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint64(buf, h.Difficulty)
	return buf
}

// Seal mines blk by iterating header.Nonce from 0 until the hash meets
// header.Difficulty, or ctx is cancelled. If Threads > 1, nonce search is
// partitioned across goroutines.
func (p *PoW) Seal(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.Difficulty == 0 {
		return ErrZeroDifficulty
	}
	required := blk.Header.Difficulty
	if required > MaxDifficulty {
		required = MaxDifficulty
	}

	if p.Threads <= 1 {
		return p.sealSingle(ctx, blk, required)
	}
	return p.sealParallel(ctx, blk, required, p.Threads)
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block, required uint64) error {
	prefix := signingPrefix(blk.Header)
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)

	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
		hash := crypto.Hash(buf)
		if uint64(leadingZeroHexChars(hash)) >= required {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, required uint64, threads int) error {
	prefix := signingPrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+8)
			copy(buf, prefix)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}
				binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
				hash := crypto.Hash(buf)
				if uint64(leadingZeroHexChars(hash)) >= required {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}
				if nonce > ^uint64(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextDifficulty implements the Bitcoin-style retarget rule. windowStart and
// windowEnd are the timestamps of the first and last block of the just
// completed DIFFICULTY_WINDOW-block window. An elapsed time of zero or less
// (clock anomaly) leaves the difficulty unchanged.
func NextDifficulty(current uint64, windowStartTS, windowEndTS uint64) uint64 {
	elapsed := int64(windowEndTS) - int64(windowStartTS)
	if elapsed <= 0 {
		return current
	}

	target := float64(DifficultyWindow-1) * TargetBlockSeconds
	factor := target / float64(elapsed)
	if factor < 0.25 {
		factor = 0.25
	}
	if factor > 4.0 {
		factor = 4.0
	}

	next := roundHalfAwayFromZero(float64(current) * factor)
	if next < MinDifficulty {
		next = MinDifficulty
	}
	if next > MaxDifficulty {
		next = MaxDifficulty
	}
	return next
}

func roundHalfAwayFromZero(f float64) uint64 {
	if f < 0 {
		return 0
	}
	return uint64(f + 0.5)
}
