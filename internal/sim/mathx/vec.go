package mathx

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const epsilon = 1e-12

// Normalize returns v/|v| and false when v is (numerically) zero.
func Normalize(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l < epsilon || math.IsNaN(l) || math.IsInf(l, 0) {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// Tangential removes the component of v along the unit normal n.
func Tangential(v, n mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(n.Mul(v.Dot(n)))
}

// ExpMap returns the rotation of angular velocity w applied for dt.
func ExpMap(w mgl64.Vec3, dt float64) mgl64.Quat {
	axis, ok := Normalize(w)
	if !ok {
		return mgl64.QuatIdent()
	}
	angle := w.Len() * dt
	if math.Abs(angle) < epsilon {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(angle, axis)
}

// IntegrateOrientation advances q by a world-frame angular velocity.
func IntegrateOrientation(q mgl64.Quat, w mgl64.Vec3, dt float64) mgl64.Quat {
	dq := ExpMap(w, dt)
	if dq == mgl64.QuatIdent() {
		return q
	}
	return dq.Mul(q).Normalize()
}

// RotationMat3 is the 3x3 rotation matrix of a unit quaternion.
func RotationMat3(q mgl64.Quat) mgl64.Mat3 {
	return q.Mat4().Mat3()
}

func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// NormalFromDipDir returns the upward unit normal of a plane given by dip and dip
// direction in degrees (z up, y north, x east).
func NormalFromDipDir(dipDeg, dipDirDeg float64) mgl64.Vec3 {
	dip := DegToRad(dipDeg)
	dd := DegToRad(dipDirDeg)
	return mgl64.Vec3{
		math.Sin(dip) * math.Sin(dd),
		math.Sin(dip) * math.Cos(dd),
		math.Cos(dip),
	}
}
