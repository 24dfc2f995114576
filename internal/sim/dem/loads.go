package dem

import (
	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/parallel"
)

func (s *Simulator) clearForces() {
	parallel.For(len(s.blocks), s.workers, func(lo, hi int) {
		for _, b := range s.blocks[lo:hi] {
			b.ClearForces()
			b.ResetTouching()
		}
	})
}

// applyBodyForces adds gravity, every active earthquake and hydrostatic face pressure
// to the free blocks. Gravity and seismic inertia use the physical mass.
func (s *Simulator) applyBodyForces() {
	g := s.cfg.Gravity
	parallel.For(len(s.blocks), s.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			b := s.blocks[i]
			s.bodyLoad[i] = 0
			if !b.IsFree() {
				continue
			}
			f := g.Mul(b.Mass)
			for _, q := range s.quakes {
				f = f.Add(q.Acceleration(b.Position, s.time).Mul(b.Mass))
			}
			b.ApplyForce(f)
			s.bodyLoad[i] = f.Len()
			if s.pore.Enabled {
				s.bodyLoad[i] += s.applyHydrostatic(b)
			}
		}
	})
}

// applyHydrostatic sums water pressure over submerged faces, sampled at each face
// centroid. Over a fully submerged block the resultant is the buoyant force. It returns
// the summed magnitude of the face loads.
func (s *Simulator) applyHydrostatic(b *block.Block) float64 {
	var total float64
	for _, f := range b.WorldFaces() {
		u, wet := s.pore.Pressure(f.Centroid[2])
		if !wet {
			continue
		}
		b.ApplyForceAtPoint(f.Normal.Mul(-u*f.Area), f.Centroid)
		total += u * f.Area
	}
	return total
}
