package dem

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/mathx"
	"blockdem.dev/internal/sim/parallel"
)

// quasiStaticDamping is the minimum local damping in QuasiStatic mode. Above ~0.91 the
// per-step amplification of a mass-scaled contact spring has only real roots, so
// overlaps relax without ringing.
const quasiStaticDamping = 0.95

// dampingFactor is the fraction of velocity kept after each step.
func (s *Simulator) dampingFactor() float64 {
	local := s.cfg.LocalDamping
	switch s.cfg.Mode {
	case QuasiStatic:
		local = math.Max(local, quasiStaticDamping)
	case Static:
		local = 1
	}
	viscous := 1 - math.Min(1, s.cfg.ViscousDamping*s.cfg.TimeStep)
	return viscous * (1 - local)
}

func (s *Simulator) massScalingOn() bool {
	return s.cfg.MassScaling == MassScalingAuto && s.cfg.Mode != Dynamic
}

// updateMassScale raises each free block's inertial mass to 2·Σ(k·A)·dt², the explicit
// stability bound of its stiffest contact set.
func (s *Simulator) updateMassScale() {
	dt2 := s.cfg.TimeStep * s.cfg.TimeStep
	for i, b := range s.blocks {
		s.massScale[i] = 1
		if !s.massScalingOn() || !b.IsFree() {
			continue
		}
		need := 2 * s.stiffness[i] * dt2
		if need > b.Mass {
			s.massScale[i] = need / b.Mass
		}
	}
}

// integrate advances every free block with a central-difference update: the stored
// velocity is the mid-step velocity, so v(t+dt/2) = v(t-dt/2) + a(t)·dt and
// x(t+dt) = x(t) + v(t+dt/2)·dt.
func (s *Simulator) integrate() {
	dt := s.cfg.TimeStep
	keep := s.dampingFactor()
	parallel.For(len(s.blocks), s.workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			b := s.blocks[i]
			s.speed[i] = 0
			if !b.IsFree() {
				b.Velocity = mgl64.Vec3{}
				b.AngularVelocity = mgl64.Vec3{}
				continue
			}
			s.nonFinite[i] = !s.integrateBlock(i, b, dt, keep)
		}
	})
}

// integrateBlock records the block's speed before damping in s.speed; that is the
// speed convergence is judged on.
func (s *Simulator) integrateBlock(i int, b *block.Block, dt, keep float64) bool {
	scale := s.massScale[i]
	invM := b.InvMass / scale
	acc := b.Force.Mul(invM)
	vel := b.Velocity.Add(acc.Mul(dt))
	for k := 0; k < 3; k++ {
		if !b.AllowedDOF[k] || !s.cfg.AllowedDisplacementDOF[k] {
			acc[k], vel[k] = 0, 0
		}
	}

	var alpha, omega mgl64.Vec3
	if s.cfg.IncludeRotation {
		w := b.AngularVelocity
		iw := b.WorldInertia().Mul(scale)
		gyro := w.Cross(iw.Mul3x1(w))
		alpha = b.WorldInvInertia().Mul(1 / scale).Mul3x1(b.Torque.Sub(gyro))
		omega = w.Add(alpha.Mul(dt))
	}
	if !mathx.IsFinite(vel) || !mathx.IsFinite(omega) {
		b.Velocity = mgl64.Vec3{}
		b.AngularVelocity = mgl64.Vec3{}
		return false
	}

	dx := vel.Mul(dt)
	b.Position = b.Position.Add(dx)
	if s.cfg.IncludeRotation {
		b.Orientation = mathx.IntegrateOrientation(b.Orientation, omega, dt)
	}
	b.Acceleration = acc
	b.AngularAcceleration = alpha
	s.speed[i] = vel.Len()
	b.Velocity = vel.Mul(keep)
	b.AngularVelocity = omega.Mul(keep)

	b.Displacement += dx.Len()
	if d := b.Position.Sub(b.InitialPosition).Len(); d > b.MaxDisplacement {
		b.MaxDisplacement = d
	}
	return true
}

// applyBoundary freezes blocks whose centroid lies below BaseHeight in FixedBase mode.
func (s *Simulator) applyBoundary() {
	for i, b := range s.blocks {
		if s.nonFinite[i] {
			s.nonFinite[i] = false
			s.warnOnce("nonfinite", "non-finite velocity on block %d; motion reset", b.ID)
		}
		if s.cfg.BoundaryMode != BoundaryFixedBase || b.Fixed || b.Inert {
			continue
		}
		if b.Position[2] < s.cfg.BaseHeight {
			b.Fixed = true
			b.Velocity = mgl64.Vec3{}
			b.AngularVelocity = mgl64.Vec3{}
		}
	}
}
