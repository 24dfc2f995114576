package mathx

import "math"

// CellIndex maps a coordinate to its cell along one axis, clamped to [0, n).
func CellIndex(x, origin, invCell float64, n int) int {
	c := int(math.Floor((x - origin) * invCell))
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash3 is a well-mixed key for an integer cell coordinate.
func Hash3(x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func DegToRad(d float64) float64 { return d * math.Pi / 180 }
