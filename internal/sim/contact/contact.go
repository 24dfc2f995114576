// Package contact holds the persistent state of block-block contacts and the
// Mohr-Coulomb force law evaluated on them every step.
package contact

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/mathx"
)

// PairKey identifies an unordered block pair; A < B always.
type PairKey struct {
	A int
	B int
}

func MakeKey(a, b int) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

type State uint8

const (
	StateNone State = iota
	StateSticking
	StateSliding
	StateSeparated
)

func (s State) String() string {
	switch s {
	case StateSticking:
		return "sticking"
	case StateSliding:
		return "sliding"
	case StateSeparated:
		return "separated"
	default:
		return "none"
	}
}

// normalRotationTol is how far n·n_prev may fall below 1 before shear history is
// re-projected onto the new tangent plane.
const normalRotationTol = 1e-12

// Interface is one contact between blocks Key.A and Key.B. Normal points from A to B.
type Interface struct {
	Key         PairKey
	Point       mgl64.Vec3
	Normal      mgl64.Vec3
	Penetration float64
	Area        float64
	State       State
	Params      Params

	PorePressure float64
	Submerged    bool

	ShearDisp    mgl64.Vec3
	DilationDisp float64

	NormalForce float64 // signed, compression positive
	ShearForce  float64 // magnitude
	Force       mgl64.Vec3

	Opened       bool
	FirstContact float64
	LastContact  float64

	hasNorm  bool
	prevNorm mgl64.Vec3
}

func New(key PairKey, params Params, t float64) *Interface {
	return &Interface{Key: key, Params: params, FirstContact: t, LastContact: t}
}

// Active reports whether the contact transmits force.
func (c *Interface) Active() bool {
	return c.State != StateSeparated
}

// Update refreshes the contact geometry from this step's detection. A negative penetration
// is a gap held in tension.
func (c *Interface) Update(point, normal mgl64.Vec3, penetration, area, t float64) {
	if c.hasNorm && normal.Dot(c.prevNorm) < 1-normalRotationTol {
		c.ShearDisp = mathx.Tangential(c.ShearDisp, normal)
	}
	c.Point = point
	c.Normal = normal
	c.prevNorm = normal
	c.hasNorm = true
	c.Penetration = penetration
	c.Area = area
	c.LastContact = t
}

// Reopen re-establishes a separated contact with a clean history.
func (c *Interface) Reopen(params Params, t float64) {
	c.State = StateNone
	c.Params = params
	c.Opened = false
	c.ShearDisp = mgl64.Vec3{}
	c.DilationDisp = 0
	c.hasNorm = false
	c.FirstContact = t
	c.PorePressure, c.Submerged = 0, false
	c.clearForces()
}

func (c *Interface) clearForces() {
	c.NormalForce = 0
	c.ShearForce = 0
	c.Force = mgl64.Vec3{}
}

// Resolve evaluates the force law for this step. It reads the blocks' velocities and
// leaves the result in Force; call ApplyTo to transfer it.
func (c *Interface) Resolve(a, b *block.Block, dt float64, pore PoreModel) {
	if c.State == StateSeparated {
		c.clearForces()
		return
	}
	p := c.Params
	area := c.Area
	if area <= 0 {
		c.clearForces()
		return
	}

	n := p.Kn * (c.Penetration + c.DilationDisp) * area
	if n < -p.Tensile*area {
		c.State = StateSeparated
		c.Opened = true
		c.clearForces()
		return
	}

	if p.PorePressure != nil {
		c.PorePressure, c.Submerged = *p.PorePressure, true
	} else {
		c.PorePressure, c.Submerged = pore.Pressure(c.Point[2])
	}
	sigma := math.Max(0, n/area-c.PorePressure)

	vrel := b.PointVelocity(c.Point).Sub(a.PointVelocity(c.Point))
	dus := mathx.Tangential(vrel, c.Normal).Mul(dt)
	c.ShearDisp = c.ShearDisp.Add(dus)
	ksA := p.Ks * area
	fs := c.ShearDisp.Mul(-ksA)

	fmax := p.Cohesion*area + sigma*area*math.Tan(mathx.DegToRad(p.FrictionDeg))
	if mag := fs.Len(); mag > fmax {
		c.State = StateSliding
		if mag > 0 {
			fs = fs.Mul(fmax / mag)
		}
		if ksA > 0 {
			c.ShearDisp = fs.Mul(-1 / ksA)
		}
		c.DilationDisp += dus.Len() * math.Tan(mathx.DegToRad(p.DilationDeg))
	} else {
		c.State = StateSticking
	}

	c.NormalForce = n
	c.ShearForce = fs.Len()
	c.Force = c.Normal.Mul(n).Add(fs)
}

// ApplyTo pushes +Force on B and -Force on A at the contact point.
func (c *Interface) ApplyTo(a, b *block.Block) {
	if !c.Active() {
		return
	}
	b.ApplyForceAtPoint(c.Force, c.Point)
	a.ApplyForceAtPoint(c.Force.Mul(-1), c.Point)
}
