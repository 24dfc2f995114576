package contact

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockdem.dev/internal/sim/mathx"
)

// Material is a bulk rock type.
type Material struct {
	ID          string
	Density     float64 // kg/m³
	FrictionDeg float64
	Cohesion    float64 // Pa
	Tensile     float64 // Pa
	Kn          float64 // Pa/m
	Ks          float64 // Pa/m
	DilationDeg float64
}

// JointSet is a family of parallel discontinuities with its own strength and stiffness.
type JointSet struct {
	ID          string
	DipDeg      float64
	DipDirDeg   float64
	FrictionDeg float64
	Cohesion    float64
	Tensile     float64
	Kn          float64
	Ks          float64
	DilationDeg float64
	Spacing     float64 // m, informational
	// PorePressure, when set, is the water pressure on every contact of this set in
	// place of the water table.
	PorePressure *float64
}

func (j JointSet) Normal() mgl64.Vec3 { return mathx.NormalFromDipDir(j.DipDeg, j.DipDirDeg) }

// Params are the constitutive parameters of one contact.
type Params struct {
	Kn          float64
	Ks          float64
	FrictionDeg float64
	Cohesion    float64
	Tensile     float64
	DilationDeg float64
	// JointSetID is empty when the parameters come from the bulk materials.
	JointSetID string
	// PorePressure overrides the water table when non-nil.
	PorePressure *float64
}

func ParamsFromJoint(j JointSet) Params {
	return Params{
		Kn:           j.Kn,
		Ks:           j.Ks,
		FrictionDeg:  j.FrictionDeg,
		Cohesion:     j.Cohesion,
		Tensile:      j.Tensile,
		DilationDeg:  j.DilationDeg,
		JointSetID:   j.ID,
		PorePressure: j.PorePressure,
	}
}

// ParamsFor picks the parameters of a contact between blocks with materials ma, mb and
// joint-set memberships ja, jb. A joint set bounding both blocks whose pole lies within
// tolDeg of the contact normal wins; otherwise the weaker of the two materials applies
// property by property.
func ParamsFor(ma, mb Material, ja, jb []string, joints map[string]JointSet, normal mgl64.Vec3, tolDeg float64) Params {
	minCos := math.Cos(mathx.DegToRad(tolDeg))
	best, bestDot := "", -1.0
	for _, id := range ja {
		if !contains(jb, id) {
			continue
		}
		j, ok := joints[id]
		if !ok {
			continue
		}
		d := math.Abs(j.Normal().Dot(normal))
		if d >= minCos && d > bestDot {
			best, bestDot = id, d
		}
	}
	if best != "" {
		return ParamsFromJoint(joints[best])
	}
	return Params{
		Kn:          math.Min(ma.Kn, mb.Kn),
		Ks:          math.Min(ma.Ks, mb.Ks),
		FrictionDeg: math.Min(ma.FrictionDeg, mb.FrictionDeg),
		Cohesion:    math.Min(ma.Cohesion, mb.Cohesion),
		Tensile:     math.Min(ma.Tensile, mb.Tensile),
		DilationDeg: math.Min(ma.DilationDeg, mb.DilationDeg),
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// PoreModel is a hydrostatic water table.
type PoreModel struct {
	Enabled      bool
	WaterTableZ  float64
	WaterDensity float64
	Gravity      float64 // magnitude, m/s²
}

// Pressure returns the pore pressure at elevation z. Points at or above the table are dry.
func (p PoreModel) Pressure(z float64) (u float64, submerged bool) {
	if !p.Enabled || z >= p.WaterTableZ {
		return 0, false
	}
	return p.WaterDensity * p.Gravity * (p.WaterTableZ - z), true
}
