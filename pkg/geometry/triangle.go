package geometry

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"

	"github.com/siertrichain/siertrichain/pkg/types"
)

// Triangle is an unspent output: three vertices, an optional parent-id
// (the triangle it was subdivided from), and an owner address.
type Triangle struct {
	A, B, C  Point
	ParentID *types.Hash
	Owner    types.Address
}

// IsValid reports whether all vertices are valid and the triangle has
// non-negligible area.
func (t Triangle) IsValid() bool {
	if !t.A.IsValid() || !t.B.IsValid() || !t.C.IsValid() {
		return false
	}
	return t.Area() > epsilon
}

// Area returns the absolute Shoelace-formula area of the triangle.
func (t Triangle) Area() float64 {
	sum := t.A.X*(t.B.Y-t.C.Y) + t.B.X*(t.C.Y-t.A.Y) + t.C.X*(t.A.Y-t.B.Y)
	return math.Abs(sum) / 2
}

// vertexDigest hashes a single vertex to a fixed-width, canonical digest.
func vertexDigest(p Point) [32]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.Y))
	return sha256.Sum256(buf[:])
}

// ID returns the triangle-id: the SHA-256 of the sorted concatenation of
// per-vertex digests. Sorting the three digests before hashing makes the id
// invariant under any permutation of (A, B, C).
func (t Triangle) ID() types.Hash {
	digests := [][32]byte{vertexDigest(t.A), vertexDigest(t.B), vertexDigest(t.C)}
	sort.Slice(digests, func(i, j int) bool {
		for k := 0; k < 32; k++ {
			if digests[i][k] != digests[j][k] {
				return digests[i][k] < digests[j][k]
			}
		}
		return false
	})
	buf := make([]byte, 0, 96)
	for _, d := range digests {
		buf = append(buf, d[:]...)
	}
	return types.Hash(sha256.Sum256(buf))
}

// RewardTriangleSide returns the leg length of a right-isosceles triangle
// with legs along the axes whose area equals rewardArea: area = side^2/2,
// so side = sqrt(2*rewardArea).
func RewardTriangleSide(rewardArea uint64) float64 {
	return math.Sqrt(2 * float64(rewardArea))
}

// Subdivide splits a triangle into exactly three children via the
// Sierpinski-style rule: each child inherits this triangle's id as its
// parent-id and this triangle's owner, and the fixed A/B/C ordering other
// components rely on by index position:
//
//	child[0] = (A, mid(A,B), mid(C,A))
//	child[1] = (mid(A,B), B, mid(B,C))
//	child[2] = (mid(C,A), mid(B,C), C)
//
// The central triangle formed by the three midpoints is discarded: the sum
// of the children's areas is exactly 3/4 of the parent's area, enforcing
// scarcity.
func Subdivide(parent Triangle) [3]Triangle {
	ab := Midpoint(parent.A, parent.B)
	bc := Midpoint(parent.B, parent.C)
	ca := Midpoint(parent.C, parent.A)

	id := parent.ID()
	return [3]Triangle{
		{A: parent.A, B: ab, C: ca, ParentID: &id, Owner: parent.Owner},
		{A: ab, B: parent.B, C: bc, ParentID: &id, Owner: parent.Owner},
		{A: ca, B: bc, C: parent.C, ParentID: &id, Owner: parent.Owner},
	}
}
