package block

import "github.com/go-gl/mathgl/mgl64"

// InertiaModel computes the body-frame inertia tensor of a block whose volume, mass
// and centroid-relative vertices are already set. Swap it for a more accurate model
// (e.g. tetrahedral decomposition) without touching the integrator.
var InertiaModel = BoundingBoxInertia

// BoundingBoxInertia approximates the block by its local axis-aligned bounding box
// carrying the block's full mass.
func BoundingBoxInertia(b *Block) mgl64.Mat3 {
	if b.Mass <= 0 || len(b.Vertices) == 0 {
		return mgl64.Ident3()
	}
	box := EmptyAABB()
	for _, v := range b.Vertices {
		box.ExtendPoint(v)
	}
	s := box.Size()
	x2, y2, z2 := s[0]*s[0], s[1]*s[1], s[2]*s[2]
	k := b.Mass / 12
	return mgl64.Diag3(mgl64.Vec3{k * (y2 + z2), k * (x2 + z2), k * (x2 + y2)})
}
