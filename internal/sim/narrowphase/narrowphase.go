// Package narrowphase provides the exact convex-polyhedron overlap test consumed by
// the simulator. Any Detector honouring the Result contract can replace SAT.
package narrowphase

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/mathx"
)

// Result describes the overlap of two convex blocks A and B.
type Result struct {
	Colliding bool
	// Point is the world contact point.
	Point mgl64.Vec3
	// Normal is a unit vector oriented from A towards B.
	Normal mgl64.Vec3
	// Penetration is the overlap depth along Normal; >= 0 when Colliding.
	Penetration float64
	// Separation is the largest separating-axis gap when not colliding.
	Separation float64
	// Area is the estimated contact area.
	Area float64
}

// Detector is the narrow-phase capability boundary.
type Detector interface {
	Test(a, b *block.Block) Result
}

const (
	// edgeAxisTol prefers face axes unless an edge axis is clearly shallower.
	edgeAxisTol = 0.95
	// faceAlignCos is cos(10°): faces closer than this to the contact normal count as
	// face-to-face contact.
	faceAlignCos = 0.985
	// pointContactFraction scales the smaller face area for edge/vertex contacts.
	pointContactFraction = 0.05
	minContactArea       = 1e-4
	insideTol            = 1e-9
)

// SAT is a separating-axis test over both blocks' face normals and edge cross products.
type SAT struct{}

func NewSAT() SAT { return SAT{} }

type axisResult struct {
	normal  mgl64.Vec3
	overlap float64
	ok      bool
}

func (SAT) Test(a, b *block.Block) Result {
	if a.Inert || b.Inert {
		return Result{}
	}
	va := a.WorldVertices()
	vb := b.WorldVertices()
	fa := a.WorldFaces()
	fb := b.WorldFaces()

	var best axisResult
	separation := math.Inf(-1)
	separated := false

	try := func(axis mgl64.Vec3, tol float64) {
		n, ok := mathx.Normalize(axis)
		if !ok {
			return
		}
		minA, maxA := project(va, n)
		minB, maxB := project(vb, n)
		d1 := maxA - minB // B lies on the +n side of A
		d2 := maxB - minA
		overlap := math.Min(d1, d2)
		if overlap < 0 {
			separated = true
			if -overlap > separation {
				separation = -overlap
			}
			return
		}
		if best.ok && overlap >= best.overlap*tol {
			return
		}
		oriented := n
		switch {
		case d2 < d1:
			oriented = n.Mul(-1)
		case d1 == d2 && n.Dot(b.Position.Sub(a.Position)) < 0:
			oriented = n.Mul(-1)
		}
		best = axisResult{normal: oriented, overlap: overlap, ok: true}
	}

	for _, f := range fa {
		try(f.Normal, 1)
	}
	for _, f := range fb {
		try(f.Normal, 1)
	}
	if !separated {
		for _, ea := range a.WorldEdges() {
			for _, eb := range b.WorldEdges() {
				try(ea.Cross(eb), edgeAxisTol)
			}
		}
	}

	if separated {
		return Result{Separation: separation}
	}
	if !best.ok || best.overlap <= 0 {
		return Result{}
	}

	n := best.normal
	return Result{
		Colliding:   true,
		Normal:      n,
		Penetration: best.overlap,
		Point:       contactPoint(a, b, va, vb, fa, fb, n),
		Area:        contactArea(a, b, n),
	}
}

func project(vs []mgl64.Vec3, n mgl64.Vec3) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		d := v.Dot(n)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// contactPoint averages the vertices of each block lying inside the other; edge-edge
// crossings fall back to the midpoint of the opposing support points.
func contactPoint(a, b *block.Block, va, vb []mgl64.Vec3, fa, fb []block.Face, n mgl64.Vec3) mgl64.Vec3 {
	var sum mgl64.Vec3
	count := 0
	for _, v := range va {
		if inside(v, fb) {
			sum = sum.Add(v)
			count++
		}
	}
	for _, v := range vb {
		if inside(v, fa) {
			sum = sum.Add(v)
			count++
		}
	}
	if count > 0 {
		return sum.Mul(1 / float64(count))
	}
	return a.Support(n).Add(b.Support(n.Mul(-1))).Mul(0.5)
}

func inside(p mgl64.Vec3, faces []block.Face) bool {
	for _, f := range faces {
		if f.Normal.Dot(p.Sub(f.Centroid)) > insideTol {
			return false
		}
	}
	return len(faces) > 0
}

func contactArea(a, b *block.Block, n mgl64.Vec3) float64 {
	areaA, cosA := a.FaceAreaAlong(n)
	areaB, cosB := b.FaceAreaAlong(n.Mul(-1))
	area := math.Min(areaA, areaB)
	switch {
	case cosA >= faceAlignCos && cosB >= faceAlignCos:
	case cosA >= faceAlignCos || cosB >= faceAlignCos:
		area *= 2 * pointContactFraction
	default:
		area *= pointContactFraction
	}
	return math.Max(area, minContactArea)
}
