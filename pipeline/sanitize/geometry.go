// Package sanitize implements the two-phase geometry fixer that brackets the
// optimization pipeline: RepairInput runs before the first optimization step,
// RepairOutput after the last one. Downstream steps misbehave on non-finite
// data and invalid tangents, so both phases guarantee well-formed vertex data
// at the pipeline's observable boundaries.
package sanitize

import (
	"math"

	"github.com/gdgeek/3D-Model-Optimizer/common"
)

// generateNormals computes smooth vertex normals from triangle geometry.
// For each triangle, the face normal is the cross product of its two edges,
// accumulated area-weighted onto every vertex of that triangle, then
// normalized per vertex. Zero-length accumulations fall back to the up vector.
//
// Parameters:
//   - positions: flat xyz vertex positions (len = 3 * vertexCount)
//   - indices: the triangle index buffer
//
// Returns:
//   - []float32: flat xyz unit normals, one per vertex
func generateNormals(positions []float32, indices []uint32) []float32 {
	n := len(positions) / 3
	accum := make([]float32, n*3)

	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := int(indices[i]), int(indices[i+1]), int(indices[i+2])
		if i0 >= n || i1 >= n || i2 >= n {
			continue
		}

		p0 := [3]float32{positions[i0*3], positions[i0*3+1], positions[i0*3+2]}
		p1 := [3]float32{positions[i1*3], positions[i1*3+1], positions[i1*3+2]}
		p2 := [3]float32{positions[i2*3], positions[i2*3+1], positions[i2*3+2]}

		// Cross product of the edges: length is proportional to triangle area.
		faceNormal := common.Cross3(common.Sub3(p1, p0), common.Sub3(p2, p0))

		for _, idx := range []int{i0, i1, i2} {
			accum[idx*3] += faceNormal[0]
			accum[idx*3+1] += faceNormal[1]
			accum[idx*3+2] += faceNormal[2]
		}
	}

	out := make([]float32, n*3)
	for i := 0; i < n; i++ {
		v := [3]float32{accum[i*3], accum[i*3+1], accum[i*3+2]}
		length := common.Length3(v)
		if length < 1e-6 {
			// Degenerate: default to up vector.
			out[i*3], out[i*3+1], out[i*3+2] = 0, 1, 0
			continue
		}
		inv := 1.0 / length
		out[i*3] = v[0] * inv
		out[i*3+1] = v[1] * inv
		out[i*3+2] = v[2] * inv
	}
	return out
}

// generateTangents computes per-vertex VEC4 tangents with the UV-gradient
// method: per-triangle UV differences define the tangent and bitangent
// directions, accumulated per vertex and Gram-Schmidt orthonormalized against
// the vertex normal. The W component stores handedness (±1).
//
// Parameters:
//   - positions: flat xyz vertex positions
//   - normals: flat xyz unit vertex normals
//   - uvs: flat uv coordinates (len = 2 * vertexCount)
//   - indices: the triangle index buffer
//
// Returns:
//   - []float32: flat xyzw tangents, one per vertex
func generateTangents(positions, normals, uvs []float32, indices []uint32) []float32 {
	n := len(positions) / 3
	tan := make([]float32, n*3)
	btan := make([]float32, n*3)

	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := int(indices[i]), int(indices[i+1]), int(indices[i+2])
		if i0 >= n || i1 >= n || i2 >= n {
			continue
		}

		p0 := [3]float32{positions[i0*3], positions[i0*3+1], positions[i0*3+2]}
		p1 := [3]float32{positions[i1*3], positions[i1*3+1], positions[i1*3+2]}
		p2 := [3]float32{positions[i2*3], positions[i2*3+1], positions[i2*3+2]}

		edge1 := common.Sub3(p1, p0)
		edge2 := common.Sub3(p2, p0)

		duv1 := [2]float32{uvs[i1*2] - uvs[i0*2], uvs[i1*2+1] - uvs[i0*2+1]}
		duv2 := [2]float32{uvs[i2*2] - uvs[i0*2], uvs[i2*2+1] - uvs[i0*2+1]}

		det := duv1[0]*duv2[1] - duv1[1]*duv2[0]
		if det == 0 {
			continue
		}
		invDet := 1.0 / det

		for c := 0; c < 3; c++ {
			t := invDet * (duv2[1]*edge1[c] - duv1[1]*edge2[c])
			b := invDet * (-duv2[0]*edge1[c] + duv1[0]*edge2[c])
			tan[i0*3+c] += t
			tan[i1*3+c] += t
			tan[i2*3+c] += t
			btan[i0*3+c] += b
			btan[i1*3+c] += b
			btan[i2*3+c] += b
		}
	}

	out := make([]float32, n*4)
	for i := 0; i < n; i++ {
		normal := [3]float32{normals[i*3], normals[i*3+1], normals[i*3+2]}
		t := [3]float32{tan[i*3], tan[i*3+1], tan[i*3+2]}

		// Gram-Schmidt orthonormalize: T' = normalize(T - N * dot(N, T))
		nDotT := common.Dot3(normal, t)
		ortho := [3]float32{t[0] - normal[0]*nDotT, t[1] - normal[1]*nDotT, t[2] - normal[2]*nDotT}

		length := common.Length3(ortho)
		if length < 1e-6 {
			// Degenerate tangent: default perpendicular to the up vector.
			out[i*4], out[i*4+1], out[i*4+2], out[i*4+3] = 1, 0, 0, 1
			continue
		}
		inv := 1.0 / length
		ortho[0] *= inv
		ortho[1] *= inv
		ortho[2] *= inv

		// Handedness: sign of dot(cross(N, T), B).
		cross := common.Cross3(normal, ortho)
		b := [3]float32{btan[i*3], btan[i*3+1], btan[i*3+2]}
		w := float32(1)
		if common.Dot3(cross, b) < 0 {
			w = -1
		}

		out[i*4] = ortho[0]
		out[i*4+1] = ortho[1]
		out[i*4+2] = ortho[2]
		out[i*4+3] = w
	}
	return out
}

// sampleStride returns the sanitizer's sampling interval for count elements:
// every ⌈count/10⌉-th element is inspected.
func sampleStride(count int) int {
	stride := (count + 9) / 10
	if stride < 1 {
		stride = 1
	}
	return stride
}

func isFinite3(x, y, z float32) bool {
	return common.IsFinite(x) && common.IsFinite(y) && common.IsFinite(z)
}

func length3(x, y, z float32) float32 {
	return float32(math.Sqrt(float64(x*x + y*y + z*z)))
}
