// Package block models the rigid convex polyhedra moved by the DEM engine.
//
// Geometry is stored in the block's local frame with the centroid at the origin;
// Position is the world centroid and Orientation rotates local into world.
package block

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/mathx"
)

// Block is a rigid convex polyhedron with mass properties and kinematic state.
type Block struct {
	ID         int
	MaterialID string
	JointSets  []string

	Density  float64
	Vertices []mgl64.Vec3 // local, centroid-relative
	Faces    [][]int      // vertex indices, counter-clockwise seen from outside

	Volume     float64
	Mass       float64
	InvMass    float64
	Inertia    mgl64.Mat3 // body frame
	InvInertia mgl64.Mat3 // body frame

	Position    mgl64.Vec3
	Orientation mgl64.Quat

	Velocity            mgl64.Vec3
	AngularVelocity     mgl64.Vec3
	Acceleration        mgl64.Vec3
	AngularAcceleration mgl64.Vec3

	Force  mgl64.Vec3
	Torque mgl64.Vec3

	InitialPosition mgl64.Vec3
	Displacement    float64 // cumulative path length
	MaxDisplacement float64 // max distance from InitialPosition

	Fixed      bool
	AllowedDOF [3]bool
	// Inert blocks have degenerate geometry; they are never integrated or collided.
	Inert bool

	Touching map[int]struct{}

	faces []faceInfo
	edges [][2]int

	mu sync.Mutex
}

type faceInfo struct {
	normal   mgl64.Vec3 // local, outward unit
	centroid mgl64.Vec3 // local
	area     float64
}

// Face is a world-space face summary.
type Face struct {
	Normal   mgl64.Vec3
	Centroid mgl64.Vec3
	Area     float64
}

// New builds a block from world-space vertices and wound faces.
func New(id int, vertices []mgl64.Vec3, faces [][]int, density float64) *Block {
	b := &Block{
		ID:          id,
		Density:     density,
		Orientation: mgl64.QuatIdent(),
		AllowedDOF:  [3]bool{true, true, true},
		Touching:    map[int]struct{}{},
	}
	b.SetGeometry(vertices, faces)
	return b
}

// SetGeometry replaces the polyhedron (world-space vertices) and recomputes every
// derived mass property. The pose is reset to the new centroid with identity orientation.
func (b *Block) SetGeometry(vertices []mgl64.Vec3, faces [][]int) {
	b.Faces = make([][]int, 0, len(faces))
	for _, f := range faces {
		b.Faces = append(b.Faces, append([]int(nil), f...))
	}
	b.Vertices = append([]mgl64.Vec3(nil), vertices...)
	b.Orientation = mgl64.QuatIdent()

	centroid := b.computeGeometricProperties()
	for i := range b.Vertices {
		b.Vertices[i] = b.Vertices[i].Sub(centroid)
	}
	b.Position = centroid
	b.InitialPosition = centroid
	b.buildFaceInfo()
	b.buildEdges()

	b.Inertia = mgl64.Ident3()
	b.InvInertia = mgl64.Ident3()
	if b.Inert {
		return
	}
	b.Inertia = InertiaModel(b)
	if b.Inertia.Det() <= 0 {
		b.Inertia = mgl64.Ident3()
	}
	b.InvInertia = b.Inertia.Inv()
}

// computeGeometricProperties sets volume/mass and returns the centroid using the
// divergence theorem over fan-triangulated faces.
func (b *Block) computeGeometricProperties() mgl64.Vec3 {
	b.Inert = false
	b.Volume, b.Mass, b.InvMass = 0, 0, 0

	var mean mgl64.Vec3
	for _, v := range b.Vertices {
		mean = mean.Add(v)
	}
	if n := len(b.Vertices); n > 0 {
		mean = mean.Mul(1 / float64(n))
	}
	if len(b.Vertices) < 4 || len(b.Faces) < 4 {
		b.Inert = true
		return mean
	}

	var vol float64
	var moment mgl64.Vec3
	for _, f := range b.Faces {
		if len(f) < 3 || !b.validFace(f) {
			continue
		}
		// Tetrahedra against the vertex mean keep the sums well conditioned.
		a := b.Vertices[f[0]].Sub(mean)
		for i := 1; i+1 < len(f); i++ {
			p := b.Vertices[f[i]].Sub(mean)
			q := b.Vertices[f[i+1]].Sub(mean)
			v := a.Dot(p.Cross(q)) / 6
			vol += v
			moment = moment.Add(a.Add(p).Add(q).Mul(v / 4))
		}
	}
	if vol < 0 {
		// Inward winding: same solid, opposite sign.
		vol = -vol
		moment = moment.Mul(-1)
		for i := range b.Faces {
			reverse(b.Faces[i])
		}
	}
	if vol < 1e-15 {
		b.Inert = true
		return mean
	}
	b.Volume = vol
	b.Mass = b.Density * vol
	if b.Mass > 0 {
		b.InvMass = 1 / b.Mass
	}
	return mean.Add(moment.Mul(1 / vol))
}

func (b *Block) validFace(f []int) bool {
	for _, idx := range f {
		if idx < 0 || idx >= len(b.Vertices) {
			return false
		}
	}
	return true
}

func reverse(f []int) {
	for i, j := 0, len(f)-1; i < j; i, j = i+1, j-1 {
		f[i], f[j] = f[j], f[i]
	}
}

func (b *Block) buildFaceInfo() {
	b.faces = b.faces[:0]
	for _, f := range b.Faces {
		if len(f) < 3 || !b.validFace(f) {
			continue
		}
		a := b.Vertices[f[0]]
		var areaVec, weighted mgl64.Vec3
		var total float64
		for i := 1; i+1 < len(f); i++ {
			p := b.Vertices[f[i]]
			q := b.Vertices[f[i+1]]
			cr := p.Sub(a).Cross(q.Sub(a))
			areaVec = areaVec.Add(cr)
			w := cr.Len() / 2
			total += w
			weighted = weighted.Add(a.Add(p).Add(q).Mul(w / 3))
		}
		n, ok := mathx.Normalize(areaVec)
		if !ok || total <= 0 {
			continue
		}
		b.faces = append(b.faces, faceInfo{normal: n, centroid: weighted.Mul(1 / total), area: areaVec.Len() / 2})
	}
}

func (b *Block) buildEdges() {
	b.edges = b.edges[:0]
	seen := map[[2]int]bool{}
	for _, f := range b.Faces {
		if !b.validFace(f) {
			continue
		}
		for i := range f {
			u, v := f[i], f[(i+1)%len(f)]
			if u > v {
				u, v = v, u
			}
			k := [2]int{u, v}
			if u == v || seen[k] {
				continue
			}
			seen[k] = true
			b.edges = append(b.edges, k)
		}
	}
}

// IsFree reports whether the integrator moves this block.
func (b *Block) IsFree() bool {
	return !b.Fixed && !b.Inert && b.InvMass > 0
}
