// Package simplify reduces triangle counts with quadric-error-metric edge
// collapses, preceded by a weld pass that merges positionally coincident
// vertices so collapses can cross originally-split vertices (UV seams, flat
// shading splits).
package simplify

import (
	"math"
)

// weldEpsilonScale is the relative weld tolerance: the absolute epsilon is
// this fraction of the primitive's bounding-box diagonal.
const weldEpsilonScale = 1e-5

// weld maps each vertex to the id of the first vertex occupying the same
// epsilon-sized grid cell. The returned slice has one welded id per input
// vertex; representative ids are always ids of real input vertices.
//
// Parameters:
//   - positions: flat xyz vertex positions
//   - epsilon: the absolute weld tolerance
//
// Returns:
//   - []uint32: per-vertex welded representative id
func weld(positions []float32, epsilon float32) []uint32 {
	n := len(positions) / 3
	remap := make([]uint32, n)
	if epsilon <= 0 {
		for i := range remap {
			remap[i] = uint32(i)
		}
		return remap
	}

	type cell struct{ x, y, z int64 }
	seen := make(map[cell]uint32, n)

	inv := 1.0 / float64(epsilon)
	for i := 0; i < n; i++ {
		key := cell{
			x: int64(math.Round(float64(positions[i*3]) * inv)),
			y: int64(math.Round(float64(positions[i*3+1]) * inv)),
			z: int64(math.Round(float64(positions[i*3+2]) * inv)),
		}
		if rep, ok := seen[key]; ok {
			remap[i] = rep
		} else {
			seen[key] = uint32(i)
			remap[i] = uint32(i)
		}
	}
	return remap
}

// boundsDiagonal returns the length of the positions' bounding-box diagonal.
func boundsDiagonal(positions []float32) float32 {
	n := len(positions) / 3
	if n == 0 {
		return 0
	}
	var bmin, bmax [3]float32
	for c := 0; c < 3; c++ {
		bmin[c] = positions[c]
		bmax[c] = positions[c]
	}
	for i := 1; i < n; i++ {
		for c := 0; c < 3; c++ {
			v := positions[i*3+c]
			if v < bmin[c] {
				bmin[c] = v
			}
			if v > bmax[c] {
				bmax[c] = v
			}
		}
	}
	dx := float64(bmax[0] - bmin[0])
	dy := float64(bmax[1] - bmin[1])
	dz := float64(bmax[2] - bmin[2])
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}
