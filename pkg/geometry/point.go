// Package geometry implements the pure triangle-subdivision primitives that
// back every unspent output in the ledger: points, triangles, midpoints,
// area, canonical ids, and the Sierpinski-style subdivision rule. Every
// function here is deterministic and side-effect-free; validity is a
// predicate, not an error return, exactly as it is at this layer in the
// upstream merkle/hash helpers this package is modeled on.
package geometry

import "math"

// maxCoordinate bounds the magnitude of a valid coordinate.
const maxCoordinate = 1e10

// epsilon is the tolerance used for point equality and the minimum area
// floor below which a triangle is considered degenerate.
const epsilon = 1e-9

// Point is a 2-D point with 64-bit float coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsValid reports whether both coordinates are finite and within range.
func (p Point) IsValid() bool {
	return isFinite(p.X) && isFinite(p.Y) &&
		math.Abs(p.X) < maxCoordinate && math.Abs(p.Y) < maxCoordinate
}

// Equal reports whether p and o are the same point within epsilon.
func (p Point) Equal(o Point) bool {
	return math.Abs(p.X-o.X) < epsilon && math.Abs(p.Y-o.Y) < epsilon
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
