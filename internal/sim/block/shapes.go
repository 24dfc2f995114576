package block

import "github.com/go-gl/mathgl/mgl64"

// BoxFaces is the outward-wound face list for the vertex order produced by BoxVertices.
var BoxFaces = [][]int{
	{0, 3, 2, 1}, // -z
	{4, 5, 6, 7}, // +z
	{0, 1, 5, 4}, // -y
	{3, 7, 6, 2}, // +y
	{0, 4, 7, 3}, // -x
	{1, 2, 6, 5}, // +x
}

func BoxVertices(min, max mgl64.Vec3) []mgl64.Vec3 {
	return []mgl64.Vec3{
		{min[0], min[1], min[2]},
		{max[0], min[1], min[2]},
		{max[0], max[1], min[2]},
		{min[0], max[1], min[2]},
		{min[0], min[1], max[2]},
		{max[0], min[1], max[2]},
		{max[0], max[1], max[2]},
		{min[0], max[1], max[2]},
	}
}

// NewBox is a convenience constructor for an axis-aligned rectangular block.
func NewBox(id int, min, max mgl64.Vec3, density float64) *Block {
	return New(id, BoxVertices(min, max), BoxFaces, density)
}
