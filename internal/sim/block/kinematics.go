package block

import (
	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/mathx"
)

// ApplyForceAtPoint adds f acting at world point p, accumulating the torque about the
// centroid. Safe for concurrent use.
func (b *Block) ApplyForceAtPoint(f, p mgl64.Vec3) {
	r := p.Sub(b.Position)
	b.mu.Lock()
	b.Force = b.Force.Add(f)
	b.Torque = b.Torque.Add(r.Cross(f))
	b.mu.Unlock()
}

// ApplyForce adds f through the centroid. Safe for concurrent use.
func (b *Block) ApplyForce(f mgl64.Vec3) {
	b.mu.Lock()
	b.Force = b.Force.Add(f)
	b.mu.Unlock()
}

func (b *Block) ClearForces() {
	b.mu.Lock()
	b.Force = mgl64.Vec3{}
	b.Torque = mgl64.Vec3{}
	b.mu.Unlock()
}

func (b *Block) LocalToWorld(v mgl64.Vec3) mgl64.Vec3 {
	return b.Orientation.Rotate(v).Add(b.Position)
}

func (b *Block) WorldVertices() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, len(b.Vertices))
	for i, v := range b.Vertices {
		out[i] = b.LocalToWorld(v)
	}
	return out
}

// WorldEdges returns the world-space direction of every unique edge.
func (b *Block) WorldEdges() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, 0, len(b.edges))
	for _, e := range b.edges {
		d := b.Orientation.Rotate(b.Vertices[e[1]].Sub(b.Vertices[e[0]]))
		out = append(out, d)
	}
	return out
}

func (b *Block) WorldFaces() []Face {
	out := make([]Face, len(b.faces))
	for i, f := range b.faces {
		out[i] = Face{
			Normal:   b.Orientation.Rotate(f.normal),
			Centroid: b.LocalToWorld(f.centroid),
			Area:     f.area,
		}
	}
	return out
}

// FaceAreaAlong returns the area of the face whose outward normal is most aligned with
// the world direction n, together with that alignment cosine.
func (b *Block) FaceAreaAlong(n mgl64.Vec3) (area, cos float64) {
	cos = -2
	for _, f := range b.faces {
		c := b.Orientation.Rotate(f.normal).Dot(n)
		if c > cos {
			cos = c
			area = f.area
		}
	}
	if cos < -1 {
		cos = 0
	}
	return area, cos
}

func (b *Block) AABB() AABB {
	box := EmptyAABB()
	for _, v := range b.Vertices {
		box.ExtendPoint(b.LocalToWorld(v))
	}
	if box.IsEmpty() {
		return AABB{Min: b.Position, Max: b.Position}
	}
	return box
}

// Support returns the world vertex furthest along dir.
func (b *Block) Support(dir mgl64.Vec3) mgl64.Vec3 {
	best := b.Position
	bestDot := -1e308
	for _, v := range b.Vertices {
		w := b.LocalToWorld(v)
		if d := w.Dot(dir); d > bestDot {
			bestDot = d
			best = w
		}
	}
	return best
}

// WorldInertia returns R·I·Rᵀ.
func (b *Block) WorldInertia() mgl64.Mat3 {
	r := mathx.RotationMat3(b.Orientation)
	return r.Mul3(b.Inertia).Mul3(r.Transpose())
}

// WorldInvInertia returns R·I⁻¹·Rᵀ.
func (b *Block) WorldInvInertia() mgl64.Mat3 {
	r := mathx.RotationMat3(b.Orientation)
	return r.Mul3(b.InvInertia).Mul3(r.Transpose())
}

// PointVelocity is the velocity of the material point at world position p.
func (b *Block) PointVelocity(p mgl64.Vec3) mgl64.Vec3 {
	return b.Velocity.Add(b.AngularVelocity.Cross(p.Sub(b.Position)))
}

func (b *Block) KineticEnergy() float64 {
	if b.Inert {
		return 0
	}
	lin := 0.5 * b.Mass * b.Velocity.Dot(b.Velocity)
	w := b.AngularVelocity
	rot := 0.5 * w.Dot(b.WorldInertia().Mul3x1(w))
	return lin + rot
}

// Speed is the linear speed of the centroid.
func (b *Block) Touch(other int) {
	if b.Touching == nil {
		b.Touching = map[int]struct{}{}
	}
	b.Touching[other] = struct{}{}
}

func (b *Block) ResetTouching() {
	for k := range b.Touching {
		delete(b.Touching, k)
	}
}
