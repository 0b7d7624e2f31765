package prune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

func boolp(v bool) *bool { return &v }

// sceneDocument builds a document with one drawn mesh, one used material and
// texture, plus one unused material, one unused texture and an empty leaf
// node.
func sceneDocument() *gltf.Document {
	doc := gltf.NewDocument()

	pos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	pos.SetFloats([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0})

	usedTex := &gltf.Texture{Name: "used", MimeType: "image/png", Data: []byte{1}}
	unusedTex := &gltf.Texture{Name: "unused", MimeType: "image/png", Data: []byte{2}}

	usedMat := gltf.NewMaterial("used")
	usedMat.BaseColorTexture = &gltf.TextureRef{Texture: usedTex}
	unusedMat := gltf.NewMaterial("unused")

	prim := &gltf.Primitive{
		Attributes: map[string]*gltf.Accessor{"POSITION": pos},
		Material:   usedMat,
		Mode:       gltf.ModeTriangles,
	}
	mesh := &gltf.Mesh{Name: "tri", Primitives: []*gltf.Primitive{prim}}

	drawn := &gltf.Node{Name: "drawn", Mesh: mesh}
	emptyLeaf := &gltf.Node{Name: "empty"}
	scene := &gltf.Scene{Nodes: []*gltf.Node{drawn, emptyLeaf}}

	doc.Accessors = []*gltf.Accessor{pos}
	doc.Textures = []*gltf.Texture{usedTex, unusedTex}
	doc.Materials = []*gltf.Material{usedMat, unusedMat}
	doc.Meshes = []*gltf.Mesh{mesh}
	doc.Nodes = []*gltf.Node{drawn, emptyLeaf}
	doc.Scenes = []*gltf.Scene{scene}
	doc.DefaultScene = scene
	return doc
}

func TestApplyRemovesUnreferencedResources(t *testing.T) {
	doc := sceneDocument()

	stats, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MaterialsRemoved)
	assert.Equal(t, 1, stats.TexturesRemoved)
	assert.Equal(t, 1, stats.NodesRemoved)

	require.Len(t, doc.Materials, 1)
	assert.Equal(t, "used", doc.Materials[0].Name)
	require.Len(t, doc.Textures, 1)
	assert.Equal(t, "used", doc.Textures[0].Name)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, "drawn", doc.Nodes[0].Name)
}

func TestApplyNoUnreferencedAccessorSurvives(t *testing.T) {
	doc := sceneDocument()

	orphan := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	orphan.SetFloats([]float32{1, 2, 3})
	doc.Accessors = append(doc.Accessors, orphan)

	_, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	require.Len(t, doc.Accessors, 1)
	for _, a := range doc.Accessors {
		assert.Positive(t, doc.RefCount(a))
	}
}

func TestApplyPreservesNodesWhenDisabled(t *testing.T) {
	doc := sceneDocument()

	stats, err := Apply(doc, Options{Enabled: true, RemoveUnusedNodes: boolp(false)})
	require.NoError(t, err)

	assert.Zero(t, stats.NodesRemoved)
	assert.Len(t, doc.Nodes, 2)
	// Materials and textures are still pruned.
	assert.Equal(t, 1, stats.MaterialsRemoved)
	assert.Equal(t, 1, stats.TexturesRemoved)
}

func TestApplyPreservesMaterialsWhenDisabled(t *testing.T) {
	doc := sceneDocument()

	stats, err := Apply(doc, Options{
		Enabled:               true,
		RemoveUnusedMaterials: boolp(false),
		RemoveUnusedTextures:  boolp(false),
	})
	require.NoError(t, err)

	assert.Zero(t, stats.MaterialsRemoved)
	assert.Zero(t, stats.TexturesRemoved)
	assert.Len(t, doc.Materials, 2)
	assert.Len(t, doc.Textures, 2)
}

func TestApplyRemovesUnreachableMeshSubtree(t *testing.T) {
	doc := sceneDocument()

	// A mesh on a node outside every scene is unreachable; its material
	// follows it out.
	lonePos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	lonePos.SetFloats([]float32{0, 0, 0, 1, 0, 0, 0, 0, 1})
	loneMat := gltf.NewMaterial("lone")
	loneMesh := &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: map[string]*gltf.Accessor{"POSITION": lonePos},
		Material:   loneMat,
		Mode:       gltf.ModeTriangles,
	}}}
	loneNode := &gltf.Node{Name: "detached", Mesh: loneMesh}
	doc.Accessors = append(doc.Accessors, lonePos)
	doc.Materials = append(doc.Materials, loneMat)
	doc.Meshes = append(doc.Meshes, loneMesh)
	doc.Nodes = append(doc.Nodes, loneNode)

	_, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Len(t, doc.Meshes, 1)
	require.Len(t, doc.Materials, 1)
	assert.Equal(t, "used", doc.Materials[0].Name)
}

func TestApplyKeepsJointNodes(t *testing.T) {
	doc := sceneDocument()

	joint := &gltf.Node{Name: "joint"}
	doc.Nodes = append(doc.Nodes, joint)
	doc.Skins = []*gltf.Skin{{Name: "skin", Joints: []*gltf.Node{joint}}}

	_, err := Apply(doc, Options{Enabled: true})
	require.NoError(t, err)

	names := make([]string, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "joint")
}
