package draco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

func intp(v int) *int { return &v }

func triangleDocument() (*gltf.Document, *gltf.Primitive) {
	doc := gltf.NewDocument()

	pos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	pos.SetFloats([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	nrm := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	nrm.SetFloats([]float32{0, 0, 1, 0, 0, 1, 0, 0, 1})
	idx := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint16, false)
	idx.SetIndices([]uint32{0, 1, 2})

	prim := &gltf.Primitive{
		Attributes: map[string]*gltf.Accessor{"POSITION": pos, "NORMAL": nrm},
		Indices:    idx,
		Mode:       gltf.ModeTriangles,
	}
	doc.Accessors = []*gltf.Accessor{pos, nrm, idx}
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{prim}}}
	return doc, prim
}

func TestApplyAttachesSettings(t *testing.T) {
	doc, prim := triangleDocument()

	stats, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	require.NotNil(t, prim.Draco)
	assert.Equal(t, DefaultPositionBits, prim.Draco.PositionBits)
	assert.Equal(t, DefaultNormalBits, prim.Draco.NormalBits)
	assert.Equal(t, DefaultTexcoordBits, prim.Draco.TexcoordBits)
	assert.Equal(t, 10-DefaultCompressionLevel, prim.Draco.EncodeSpeed)
	assert.Equal(t, prim.Draco.EncodeSpeed, prim.Draco.DecodeSpeed)

	assert.Equal(t, 1, stats.MeshesCompressed)
	assert.Positive(t, stats.OriginalSize)
	assert.Less(t, stats.CompressedSize, stats.OriginalSize)

	assert.True(t, doc.ExtensionUsed(gltf.ExtDracoMeshCompression))
	assert.True(t, doc.ExtensionRequired(gltf.ExtDracoMeshCompression))
	assert.NotNil(t, gltf.RegisteredDracoEncoder())
}

func TestApplyLevelMapsToSpeed(t *testing.T) {
	doc, prim := triangleDocument()

	_, err := Apply(doc, Options{Enabled: true, CompressionLevel: intp(3)})
	require.NoError(t, err)

	assert.Equal(t, 7, prim.Draco.EncodeSpeed)
	assert.Equal(t, 7, prim.Draco.DecodeSpeed)
}

func TestEstimateMonotoneInLevel(t *testing.T) {
	// Property: for L1 < L2 the estimated compressed size never grows.
	prev := int(^uint(0) >> 1)
	for level := 0; level <= 10; level++ {
		doc, _ := triangleDocument()
		stats, err := Apply(doc, Options{Enabled: true, CompressionLevel: intp(level)})
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.CompressedSize, prev, "level %d", level)
		prev = stats.CompressedSize
	}
}

func TestApplySkipsNonTrianglePrimitives(t *testing.T) {
	doc, prim := triangleDocument()
	prim.Mode = gltf.ModeLines

	stats, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Nil(t, prim.Draco)
	assert.Zero(t, stats.MeshesCompressed)
	assert.False(t, doc.ExtensionUsed(gltf.ExtDracoMeshCompression))
}

func TestEncoderProducesDecodableLayout(t *testing.T) {
	doc, prim := triangleDocument()
	_, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	blob, attrIDs, err := Default().EncodePrimitive(prim, prim.Draco)
	require.NoError(t, err)

	assert.NotEmpty(t, blob)
	assert.Len(t, attrIDs, 2)
	assert.Contains(t, attrIDs, "POSITION")
	assert.Contains(t, attrIDs, "NORMAL")

	// Ids are dense and unique.
	seen := map[int]bool{}
	for _, id := range attrIDs {
		assert.False(t, seen[id])
		seen[id] = true
		assert.GreaterOrEqual(t, id, 0)
		assert.Less(t, id, len(attrIDs))
	}
}

func TestEncoderWriteRoundTripThroughContainer(t *testing.T) {
	doc, _ := triangleDocument()
	_, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	data, err := gltf.Encode(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), gltf.ExtDracoMeshCompression)
}
