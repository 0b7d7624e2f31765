package gltf

import (
	"encoding/json"
	"sort"
)

// Extension identifiers the writer knows how to register.
const (
	ExtDracoMeshCompression = "KHR_draco_mesh_compression"
	ExtTextureBasisU        = "KHR_texture_basisu"
	ExtMeshQuantization     = "KHR_mesh_quantization"
)

// Texture slot names, matching the glTF material property names.
const (
	SlotBaseColor         = "baseColorTexture"
	SlotNormal            = "normalTexture"
	SlotMetallicRoughness = "metallicRoughnessTexture"
	SlotOcclusion         = "occlusionTexture"
	SlotEmissive          = "emissiveTexture"
)

// TextureSlots lists the material texture slots in a stable order.
var TextureSlots = []string{
	SlotBaseColor,
	SlotNormal,
	SlotMetallicRoughness,
	SlotOcclusion,
	SlotEmissive,
}

// Document is the in-memory ownership graph of a glTF asset. All entities
// belong to the document's root lists; cross-references are direct pointers.
// The pipeline mutates a single Document in place, one step at a time.
type Document struct {
	Asset        Asset
	Scenes       []*Scene
	DefaultScene *Scene
	Nodes        []*Node
	Meshes       []*Mesh
	Materials    []*Material
	Textures     []*Texture
	Accessors    []*Accessor
	Skins        []*Skin
	Animations   []*Animation
	Cameras      []*Camera

	extensionsUsed     map[string]bool
	extensionsRequired map[string]bool

	// refs is the lazily built reverse index; nil after a structural mutation.
	refs *refIndex
}

// Asset carries the glTF asset metadata block.
type Asset struct {
	Version   string
	Generator string
	Copyright string
}

// Scene is an ordered list of root nodes.
type Scene struct {
	Name  string
	Nodes []*Node
}

// Node is a scene-graph node with a local TRS or matrix transform.
type Node struct {
	Name        string
	Children    []*Node
	Mesh        *Mesh
	Skin        *Skin
	Camera      *Camera
	Matrix      *[16]float32
	Translation *[3]float32
	Rotation    *[4]float32
	Scale       *[3]float32
	Weights     []float32

	// Extensions is an opaque passthrough of node-level extension objects
	// (punctual lights and similar); a node carrying one is never an empty leaf.
	Extensions json.RawMessage
}

// Mesh is an ordered list of primitives.
type Mesh struct {
	Name       string
	Primitives []*Primitive
	Weights    []float32
}

// Primitive is a single draw unit: attribute bindings, optional indices,
// optional material and a topology mode.
type Primitive struct {
	Attributes map[string]*Accessor
	Indices    *Accessor
	Material   *Material
	Mode       int

	// Draco holds compression parameters attached by the draco step; the
	// actual encode happens in the writer.
	Draco *DracoSettings
}

// Position returns the POSITION accessor, or nil.
func (p *Primitive) Position() *Accessor { return p.Attributes["POSITION"] }

// TriangleCount returns the number of triangles this primitive draws.
// Non-triangle topologies report 0.
func (p *Primitive) TriangleCount() int {
	if p.Mode != ModeTriangles {
		return 0
	}
	if p.Indices != nil {
		return p.Indices.Count() / 3
	}
	if pos := p.Position(); pos != nil {
		return pos.Count() / 3
	}
	return 0
}

// Material holds PBR metallic-roughness parameters and the five texture slots.
type Material struct {
	Name                     string
	BaseColorFactor          [4]float32
	MetallicFactor           float32
	RoughnessFactor          float32
	EmissiveFactor           [3]float32
	AlphaMode                string
	AlphaCutoff              *float32
	DoubleSided              bool
	BaseColorTexture         *TextureRef
	NormalTexture            *TextureRef
	MetallicRoughnessTexture *TextureRef
	OcclusionTexture         *TextureRef
	EmissiveTexture          *TextureRef

	// Extensions is an opaque passthrough of material extension objects.
	Extensions map[string]json.RawMessage
}

// NewMaterial returns a material with the glTF default factors.
func NewMaterial(name string) *Material {
	return &Material{
		Name:            name,
		BaseColorFactor: [4]float32{1, 1, 1, 1},
		MetallicFactor:  1,
		RoughnessFactor: 1,
	}
}

// TextureRef binds a texture into a material slot.
type TextureRef struct {
	Texture  *Texture
	TexCoord int
	// Scale applies to the normal slot, Strength to the occlusion slot.
	Scale    float32
	Strength float32
}

// SlotRef returns the texture reference bound to the named slot, or nil.
func (m *Material) SlotRef(slot string) *TextureRef {
	switch slot {
	case SlotBaseColor:
		return m.BaseColorTexture
	case SlotNormal:
		return m.NormalTexture
	case SlotMetallicRoughness:
		return m.MetallicRoughnessTexture
	case SlotOcclusion:
		return m.OcclusionTexture
	case SlotEmissive:
		return m.EmissiveTexture
	default:
		return nil
	}
}

// Texture is a reference to encoded image bytes plus a MIME type. The glTF
// texture/image split is collapsed into one entity; the writer re-creates the
// image array.
type Texture struct {
	Name     string
	MimeType string
	Data     []byte

	// Sampler parameters carried through from the source asset.
	MagFilter *int
	MinFilter *int
	WrapS     *int
	WrapT     *int
}

// Skin binds a mesh to a skeleton.
type Skin struct {
	Name                string
	InverseBindMatrices *Accessor
	Skeleton            *Node
	Joints              []*Node
}

// Animation is a set of keyframe channels.
type Animation struct {
	Name     string
	Channels []AnimChannel
	Samplers []*AnimSampler
}

// AnimChannel connects a sampler to an animated node property.
type AnimChannel struct {
	Sampler *AnimSampler
	Target  AnimTarget
}

// AnimTarget names the animated property of a node.
type AnimTarget struct {
	Node *Node
	Path string
}

// AnimSampler holds keyframe input/output accessors.
type AnimSampler struct {
	Input         *Accessor
	Output        *Accessor
	Interpolation string
}

// Camera is an opaque passthrough of a glTF camera object.
type Camera struct {
	Raw json.RawMessage
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		Asset:              Asset{Version: "2.0"},
		extensionsUsed:     make(map[string]bool),
		extensionsRequired: make(map[string]bool),
	}
}

// MarkExtension records an extension as used, and as required when required
// is true.
func (d *Document) MarkExtension(name string, required bool) {
	if d.extensionsUsed == nil {
		d.extensionsUsed = make(map[string]bool)
		d.extensionsRequired = make(map[string]bool)
	}
	d.extensionsUsed[name] = true
	if required {
		d.extensionsRequired[name] = true
	}
}

// ExtensionUsed reports whether the named extension is marked used.
func (d *Document) ExtensionUsed(name string) bool { return d.extensionsUsed[name] }

// ExtensionRequired reports whether the named extension is marked required.
func (d *Document) ExtensionRequired(name string) bool { return d.extensionsRequired[name] }

// ExtensionsUsed returns the used-extension identifiers in sorted order.
func (d *Document) ExtensionsUsed() []string { return sortedKeys(d.extensionsUsed) }

// ExtensionsRequired returns the required-extension identifiers in sorted order.
func (d *Document) ExtensionsRequired() []string { return sortedKeys(d.extensionsRequired) }

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Primitives iterates every primitive of every mesh in document order.
func (d *Document) Primitives() []*Primitive {
	var out []*Primitive
	for _, m := range d.Meshes {
		out = append(out, m.Primitives...)
	}
	return out
}

// RemoveAccessor detaches an accessor from the root list. References held by
// primitives, skins or animations are not touched; callers clear those first.
func (d *Document) RemoveAccessor(a *Accessor) {
	d.Accessors = removeFrom(d.Accessors, a)
	d.InvalidateRefs()
}

// RemoveTexture detaches a texture from the root list.
func (d *Document) RemoveTexture(t *Texture) {
	d.Textures = removeFrom(d.Textures, t)
	d.InvalidateRefs()
}

// RemoveMaterial detaches a material from the root list.
func (d *Document) RemoveMaterial(m *Material) {
	d.Materials = removeFrom(d.Materials, m)
	d.InvalidateRefs()
}

// RemoveMesh detaches a mesh from the root list.
func (d *Document) RemoveMesh(m *Mesh) {
	d.Meshes = removeFrom(d.Meshes, m)
	d.InvalidateRefs()
}

// RemoveNode detaches a node from the root list, from every scene root list,
// and from every parent's child list. The node's own children are reparented
// nowhere; callers remove whole subtrees leaf-first.
func (d *Document) RemoveNode(n *Node) {
	d.Nodes = removeFrom(d.Nodes, n)
	for _, s := range d.Scenes {
		s.Nodes = removeFrom(s.Nodes, n)
	}
	for _, other := range d.Nodes {
		other.Children = removeFrom(other.Children, n)
	}
	d.InvalidateRefs()
}

func removeFrom[T comparable](list []T, item T) []T {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	// Zero the tail so removed pointers do not linger.
	for i := len(out); i < len(list); i++ {
		var zero T
		list[i] = zero
	}
	return out
}
