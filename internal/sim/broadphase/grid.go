// Package broadphase partitions blocks into a uniform 3D hash grid so candidate
// contact pairs can be found without an all-pairs scan.
package broadphase

import (
	"math"
	"sort"

	"blockdem.dev/internal/sim/block"
	"blockdem.dev/internal/sim/mathx"
)

// maxCellsPerAxis bounds the grid resolution; the cell size grows to fit.
const maxCellsPerAxis = 1024

// SpatialHashGrid hashes block AABBs onto a uniform grid spanning the scene box.
// Coordinates outside the scene clamp to the boundary cells, so two overlapping boxes
// always share at least one cell.
type SpatialHashGrid struct {
	origin   [3]float64
	cellSize float64
	invCell  float64
	dims     [3]int
	margin   float64

	cells map[uint64][]int
	spans map[int]cellSpan
}

type cellSpan struct {
	lo, hi [3]int
}

// New sizes a grid over scene. A non-positive cellSize selects one cell per ~4 units
// of the largest scene extent.
func New(scene block.AABB, cellSize, margin float64) *SpatialHashGrid {
	if scene.IsEmpty() {
		scene = block.AABB{}
	}
	size := scene.Size()
	longest := math.Max(size[0], math.Max(size[1], size[2]))
	if cellSize <= 0 {
		cellSize = math.Max(longest/4, 1)
	}
	if longest/cellSize > maxCellsPerAxis {
		cellSize = longest / maxCellsPerAxis
	}
	g := &SpatialHashGrid{
		cellSize: cellSize,
		invCell:  1 / cellSize,
		margin:   math.Max(margin, 0),
		cells:    map[uint64][]int{},
		spans:    map[int]cellSpan{},
	}
	for i := 0; i < 3; i++ {
		g.origin[i] = scene.Min[i]
		g.dims[i] = int(math.Ceil(size[i]/cellSize)) + 1
	}
	return g
}

func (g *SpatialHashGrid) CellSize() float64 { return g.cellSize }

// Clear empties every cell, keeping the grid dimensions.
func (g *SpatialHashGrid) Clear() {
	for k := range g.cells {
		delete(g.cells, k)
	}
	for k := range g.spans {
		delete(g.spans, k)
	}
}

func (g *SpatialHashGrid) span(box block.AABB) cellSpan {
	box = box.Inflate(g.margin)
	var s cellSpan
	for i := 0; i < 3; i++ {
		s.lo[i] = mathx.CellIndex(box.Min[i], g.origin[i], g.invCell, g.dims[i])
		s.hi[i] = mathx.CellIndex(box.Max[i], g.origin[i], g.invCell, g.dims[i])
	}
	return s
}

// Insert adds id to every cell its block's AABB overlaps.
func (g *SpatialHashGrid) Insert(id int, b *block.Block) {
	s := g.span(b.AABB())
	g.spans[id] = s
	for x := s.lo[0]; x <= s.hi[0]; x++ {
		for y := s.lo[1]; y <= s.hi[1]; y++ {
			for z := s.lo[2]; z <= s.hi[2]; z++ {
				k := mathx.Hash3(x, y, z)
				g.cells[k] = append(g.cells[k], id)
			}
		}
	}
}

// Query returns the sorted union of occupants of every cell the block overlaps,
// excluding the block's own id.
func (g *SpatialHashGrid) Query(b *block.Block) []int {
	s := g.span(b.AABB())
	seen := map[int]struct{}{}
	for x := s.lo[0]; x <= s.hi[0]; x++ {
		for y := s.lo[1]; y <= s.hi[1]; y++ {
			for z := s.lo[2]; z <= s.hi[2]; z++ {
				for _, id := range g.cells[mathx.Hash3(x, y, z)] {
					if id != b.ID {
						seen[id] = struct{}{}
					}
				}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Pairs returns every unordered pair of inserted ids sharing a cell, each once,
// ordered by (A, B).
func (g *SpatialHashGrid) Pairs() [][2]int {
	seen := map[[2]int]struct{}{}
	for _, ids := range g.cells {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if a == b {
					continue
				}
				if a > b {
					a, b = b, a
				}
				seen[[2]int{a, b}] = struct{}{}
			}
		}
	}
	out := make([][2]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Len is the number of inserted blocks.
func (g *SpatialHashGrid) Len() int { return len(g.spans) }
