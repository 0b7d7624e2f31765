package simplify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

func floatp(v float32) *float32 { return &v }
func intp(v int) *int           { return &v }

// gridDocument builds an n×n quad grid in the unit square (2n² triangles).
// The bump function lifts each vertex's z so tests can control coplanarity.
func gridDocument(n int, bump func(i int) float32) (*gltf.Document, *gltf.Primitive) {
	doc := gltf.NewDocument()

	verts := (n + 1) * (n + 1)
	positions := make([]float32, 0, verts*3)
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			z := float32(0)
			if bump != nil {
				z = bump(y*(n+1) + x)
			}
			positions = append(positions, float32(x)/float32(n), float32(y)/float32(n), z)
		}
	}

	var indices []uint32
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i0 := uint32(y*(n+1) + x)
			i1 := i0 + 1
			i2 := i0 + uint32(n+1)
			i3 := i2 + 1
			indices = append(indices, i0, i1, i2, i1, i3, i2)
		}
	}

	pos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	pos.SetFloats(positions)
	idx := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint32, false)
	idx.SetIndices(indices)

	prim := &gltf.Primitive{
		Attributes: map[string]*gltf.Accessor{"POSITION": pos},
		Indices:    idx,
		Mode:       gltf.ModeTriangles,
	}
	mesh := &gltf.Mesh{Name: "grid", Primitives: []*gltf.Primitive{prim}}
	doc.Accessors = []*gltf.Accessor{pos, idx}
	doc.Meshes = []*gltf.Mesh{mesh}
	return doc, prim
}

func TestWeldMergesCoincidentVertices(t *testing.T) {
	positions := []float32{
		0, 0, 0,
		1, 0, 0,
		1, 0, 0, // duplicate of vertex 1
		0, 1, 0,
	}
	remap := weld(positions, 1e-4)
	assert.Equal(t, remap[1], remap[2])
	assert.NotEqual(t, remap[0], remap[1])
	assert.NotEqual(t, remap[0], remap[3])
}

func TestApplyReachesTargetRatio(t *testing.T) {
	doc, prim := gridDocument(10, nil) // 200 triangles, flat

	stats, err := Apply(doc, Options{Enabled: true, TargetRatio: floatp(0.5), Error: floatp(0.02)})
	require.NoError(t, err)

	assert.Equal(t, 200, stats.OriginalTriangles)
	assert.LessOrEqual(t, stats.SimplifiedTriangles, 102, "simplified ≤ original · ratio · (1 + error)")
	assert.Positive(t, stats.SimplifiedTriangles)
	assert.Equal(t, 1, stats.MeshesProcessed)
	assert.InDelta(t, 0.5, stats.ReductionRatio, 0.1)

	// The rebuilt primitive stays structurally sound.
	maxIdx := prim.Indices.MaxIndex()
	assert.Less(t, int(maxIdx), prim.Position().Count())
}

func TestApplyTargetCount(t *testing.T) {
	doc, _ := gridDocument(10, nil) // 200 triangles

	stats, err := Apply(doc, Options{Enabled: true, TargetCount: intp(50)})
	require.NoError(t, err)

	assert.LessOrEqual(t, stats.SimplifiedTriangles, 60)
	assert.Positive(t, stats.SimplifiedTriangles)
}

func TestApplyZeroErrorKeepsRoughGeometry(t *testing.T) {
	// Pseudo-random bumps make every interior collapse cost strictly
	// positive; the border lock removes the boundary collapses whose cost can
	// be exactly zero. A zero error tolerance then freezes the mesh.
	doc, _ := gridDocument(6, func(i int) float32 {
		return float32((i*2654435761)%97) / 97 * 0.2
	})

	stats, err := Apply(doc, Options{Enabled: true, TargetRatio: floatp(0.5), Error: floatp(0), LockBorder: true})
	require.NoError(t, err)

	assert.Equal(t, stats.OriginalTriangles, stats.SimplifiedTriangles)
}

func TestApplyLockBorderFreezesStrip(t *testing.T) {
	// In a 1-row strip every vertex lies on the open boundary.
	doc, _ := stripDocument(6)

	stats, err := Apply(doc, Options{Enabled: true, TargetRatio: floatp(0.25), LockBorder: true})
	require.NoError(t, err)
	assert.Equal(t, stats.OriginalTriangles, stats.SimplifiedTriangles)

	doc2, _ := stripDocument(6)
	stats2, err := Apply(doc2, Options{Enabled: true, TargetRatio: floatp(0.25)})
	require.NoError(t, err)
	assert.Less(t, stats2.SimplifiedTriangles, stats2.OriginalTriangles)
}

// stripDocument builds a 1×n quad strip (2n triangles).
func stripDocument(n int) (*gltf.Document, *gltf.Primitive) {
	doc := gltf.NewDocument()

	positions := make([]float32, 0, (n+1)*2*3)
	for y := 0; y <= 1; y++ {
		for x := 0; x <= n; x++ {
			positions = append(positions, float32(x)/float32(n), float32(y), 0)
		}
	}
	var indices []uint32
	for x := 0; x < n; x++ {
		i0 := uint32(x)
		i1 := i0 + 1
		i2 := i0 + uint32(n+1)
		i3 := i2 + 1
		indices = append(indices, i0, i1, i2, i1, i3, i2)
	}

	pos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	pos.SetFloats(positions)
	idx := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint32, false)
	idx.SetIndices(indices)

	prim := &gltf.Primitive{
		Attributes: map[string]*gltf.Accessor{"POSITION": pos},
		Indices:    idx,
		Mode:       gltf.ModeTriangles,
	}
	doc.Accessors = []*gltf.Accessor{pos, idx}
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{prim}}}
	return doc, prim
}

func TestApplyRebuildsSecondaryAttributes(t *testing.T) {
	doc, prim := gridDocument(4, nil) // 32 triangles

	// Give every vertex a normal so the rebuild has a second stream to remap.
	count := prim.Position().Count()
	normals := make([]float32, count*3)
	for i := 0; i < count; i++ {
		normals[i*3+2] = 1
	}
	nrm := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	nrm.SetFloats(normals)
	doc.Accessors = append(doc.Accessors, nrm)
	prim.Attributes["NORMAL"] = nrm

	_, err := Apply(doc, Options{Enabled: true, TargetRatio: floatp(0.5)})
	require.NoError(t, err)

	rebuilt := prim.Attributes["NORMAL"]
	assert.Equal(t, prim.Position().Count(), rebuilt.Count(), "attribute streams stay parallel")
	for i := 0; i < rebuilt.Count(); i++ {
		assert.Equal(t, float32(1), rebuilt.Floats()[i*3+2])
	}
}

func TestApplyRatioOneLeavesMeshAlone(t *testing.T) {
	doc, prim := gridDocument(4, nil)
	before := prim.Indices

	stats, err := Apply(doc, Options{Enabled: true, TargetRatio: floatp(1)})
	require.NoError(t, err)

	assert.Equal(t, stats.OriginalTriangles, stats.SimplifiedTriangles)
	assert.Same(t, before, prim.Indices)
}
