package geometry

import (
	"math"
	"testing"

	"github.com/siertrichain/siertrichain/pkg/types"
)

func equilateral() Triangle {
	return Triangle{
		A: Point{X: 0, Y: 0},
		B: Point{X: 1, Y: 0},
		C: Point{X: 0.5, Y: 0.866025403784},
	}
}

func TestTriangle_IDPermutationInvariant(t *testing.T) {
	tri := equilateral()
	perms := [][3]Point{
		{tri.A, tri.B, tri.C},
		{tri.B, tri.C, tri.A},
		{tri.C, tri.A, tri.B},
		{tri.A, tri.C, tri.B},
		{tri.B, tri.A, tri.C},
		{tri.C, tri.B, tri.A},
	}
	want := tri.ID()
	for i, p := range perms {
		got := Triangle{A: p[0], B: p[1], C: p[2]}.ID()
		if got != want {
			t.Errorf("permutation %d: ID mismatch: got %s, want %s", i, got, want)
		}
	}
}

func TestTriangle_Area(t *testing.T) {
	tri := equilateral()
	area := tri.Area()
	// Area of unit-side equilateral triangle ~= sqrt(3)/4 ~= 0.4330127
	want := 0.4330127
	if math.Abs(area-want) > 1e-6 {
		t.Errorf("Area() = %v, want ~%v", area, want)
	}
}

func TestSubdivide_AreaLaw(t *testing.T) {
	parent := equilateral()
	children := Subdivide(parent)

	var sum float64
	for _, c := range children {
		sum += c.Area()
	}
	want := 0.75 * parent.Area()
	if math.Abs(sum-want) > 1e-9 {
		t.Errorf("sum of child areas = %v, want %v (3/4 of parent)", sum, want)
	}
}

func TestSubdivide_InheritsParentIDAndOwner(t *testing.T) {
	owner := types.Address{0xaa}
	parent := equilateral()
	parent.Owner = owner
	pid := parent.ID()

	children := Subdivide(parent)
	for i, c := range children {
		if c.ParentID == nil || *c.ParentID != pid {
			t.Errorf("child %d: parent id mismatch", i)
		}
		if c.Owner != owner {
			t.Errorf("child %d: owner mismatch", i)
		}
		if !c.IsValid() {
			t.Errorf("child %d should be valid", i)
		}
	}
}

func TestTriangle_IsValid(t *testing.T) {
	degenerate := Triangle{A: Point{0, 0}, B: Point{1, 0}, C: Point{2, 0}}
	if degenerate.IsValid() {
		t.Error("collinear triangle should be invalid (zero area)")
	}

	invalidCoord := Triangle{A: Point{X: math.NaN(), Y: 0}, B: Point{1, 0}, C: Point{0, 1}}
	if invalidCoord.IsValid() {
		t.Error("NaN coordinate should be invalid")
	}

	tooLarge := Triangle{A: Point{X: 1e11, Y: 0}, B: Point{1, 0}, C: Point{0, 1}}
	if tooLarge.IsValid() {
		t.Error("out-of-range coordinate should be invalid")
	}

	if !equilateral().IsValid() {
		t.Error("canonical equilateral triangle should be valid")
	}
}

func TestRewardTriangleSide(t *testing.T) {
	side := RewardTriangleSide(1000)
	area := side * side / 2
	if math.Abs(area-1000) > 1e-9 {
		t.Errorf("right-isosceles triangle with side %v has area %v, want 1000", side, area)
	}
}

func TestPoint_Equal(t *testing.T) {
	a := Point{X: 1.0, Y: 2.0}
	b := Point{X: 1.0 + 1e-10, Y: 2.0 - 1e-10}
	if !a.Equal(b) {
		t.Error("points within epsilon should be equal")
	}
	c := Point{X: 1.001, Y: 2.0}
	if a.Equal(c) {
		t.Error("points differing by more than epsilon should not be equal")
	}
}
