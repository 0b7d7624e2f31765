// schema.go contains the glTF 2.0 JSON schema types used for container
// serialization. They map directly onto the glTF 2.0 JSON schema and are
// internal to the gltf package; the pipeline operates on the Document graph
// instead.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html
package gltf

import "encoding/json"

// schemaRoot is the root of a glTF JSON document.
type schemaRoot struct {
	Asset              schemaAsset        `json:"asset"`
	Scene              *int               `json:"scene,omitempty"`
	Scenes             []schemaScene      `json:"scenes,omitempty"`
	Nodes              []schemaNode       `json:"nodes,omitempty"`
	Meshes             []schemaMesh       `json:"meshes,omitempty"`
	Accessors          []schemaAccessor   `json:"accessors,omitempty"`
	BufferViews        []schemaBufferView `json:"bufferViews,omitempty"`
	Buffers            []schemaBuffer     `json:"buffers,omitempty"`
	Materials          []schemaMaterial   `json:"materials,omitempty"`
	Textures           []schemaTexture    `json:"textures,omitempty"`
	Images             []schemaImage      `json:"images,omitempty"`
	Samplers           []schemaSampler    `json:"samplers,omitempty"`
	Skins              []schemaSkin       `json:"skins,omitempty"`
	Animations         []schemaAnimation  `json:"animations,omitempty"`
	Cameras            []json.RawMessage  `json:"cameras,omitempty"`
	ExtensionsUsed     []string           `json:"extensionsUsed,omitempty"`
	ExtensionsRequired []string           `json:"extensionsRequired,omitempty"`
}

// schemaAsset holds asset metadata. Version is required and must be "2.x".
type schemaAsset struct {
	Version    string `json:"version"`
	MinVersion string `json:"minVersion,omitempty"`
	Generator  string `json:"generator,omitempty"`
	Copyright  string `json:"copyright,omitempty"`
}

type schemaScene struct {
	Name  string `json:"name,omitempty"`
	Nodes []int  `json:"nodes,omitempty"`
}

type schemaNode struct {
	Name        string          `json:"name,omitempty"`
	Children    []int           `json:"children,omitempty"`
	Mesh        *int            `json:"mesh,omitempty"`
	Skin        *int            `json:"skin,omitempty"`
	Camera      *int            `json:"camera,omitempty"`
	Matrix      *[16]float32    `json:"matrix,omitempty"`
	Translation *[3]float32     `json:"translation,omitempty"`
	Rotation    *[4]float32     `json:"rotation,omitempty"`
	Scale       *[3]float32     `json:"scale,omitempty"`
	Weights     []float32       `json:"weights,omitempty"`
	Extensions  json.RawMessage `json:"extensions,omitempty"`
}

type schemaMesh struct {
	Name       string            `json:"name,omitempty"`
	Primitives []schemaPrimitive `json:"primitives"`
	Weights    []float32         `json:"weights,omitempty"`
}

type schemaPrimitive struct {
	Attributes map[string]int             `json:"attributes"`
	Indices    *int                       `json:"indices,omitempty"`
	Material   *int                       `json:"material,omitempty"`
	Mode       *int                       `json:"mode,omitempty"`
	Targets    []map[string]int           `json:"targets,omitempty"`
	Extensions *schemaPrimitiveExtensions `json:"extensions,omitempty"`
}

// schemaPrimitiveExtensions carries the primitive-level extension objects the
// writer can emit.
type schemaPrimitiveExtensions struct {
	Draco *schemaDracoExtension `json:"KHR_draco_mesh_compression,omitempty"`
}

// schemaDracoExtension is the KHR_draco_mesh_compression primitive payload:
// the bufferView holding the compressed blob and the compressed attribute ids.
type schemaDracoExtension struct {
	BufferView int            `json:"bufferView"`
	Attributes map[string]int `json:"attributes"`
}

type schemaAccessor struct {
	Name          string    `json:"name,omitempty"`
	BufferView    *int      `json:"bufferView,omitempty"`
	ByteOffset    int       `json:"byteOffset,omitempty"`
	ComponentType int       `json:"componentType"`
	Normalized    bool      `json:"normalized,omitempty"`
	Count         int       `json:"count"`
	Type          string    `json:"type"`
	Max           []float32 `json:"max,omitempty"`
	Min           []float32 `json:"min,omitempty"`
	// Sparse is parsed only so its presence can be rejected; sparse storage is
	// not supported.
	Sparse json.RawMessage `json:"sparse,omitempty"`
}

type schemaBufferView struct {
	Name       string `json:"name,omitempty"`
	Buffer     int    `json:"buffer"`
	ByteOffset int    `json:"byteOffset,omitempty"`
	ByteLength int    `json:"byteLength"`
	ByteStride *int   `json:"byteStride,omitempty"`
	Target     *int   `json:"target,omitempty"`
}

type schemaBuffer struct {
	Name       string `json:"name,omitempty"`
	URI        string `json:"uri,omitempty"`
	ByteLength int    `json:"byteLength"`

	// data holds the loaded bytes; populated during read, never serialized.
	data []byte
}

type schemaMaterial struct {
	Name                 string                     `json:"name,omitempty"`
	PbrMetallicRoughness *schemaPbr                 `json:"pbrMetallicRoughness,omitempty"`
	NormalTexture        *schemaNormalTexture       `json:"normalTexture,omitempty"`
	OcclusionTexture     *schemaOcclusionTex        `json:"occlusionTexture,omitempty"`
	EmissiveTexture      *schemaTextureInfo         `json:"emissiveTexture,omitempty"`
	EmissiveFactor       *[3]float32                `json:"emissiveFactor,omitempty"`
	AlphaMode            string                     `json:"alphaMode,omitempty"`
	AlphaCutoff          *float32                   `json:"alphaCutoff,omitempty"`
	DoubleSided          bool                       `json:"doubleSided,omitempty"`
	Extensions           map[string]json.RawMessage `json:"extensions,omitempty"`
}

type schemaPbr struct {
	BaseColorFactor          *[4]float32        `json:"baseColorFactor,omitempty"`
	BaseColorTexture         *schemaTextureInfo `json:"baseColorTexture,omitempty"`
	MetallicFactor           *float32           `json:"metallicFactor,omitempty"`
	RoughnessFactor          *float32           `json:"roughnessFactor,omitempty"`
	MetallicRoughnessTexture *schemaTextureInfo `json:"metallicRoughnessTexture,omitempty"`
}

type schemaTextureInfo struct {
	Index    int `json:"index"`
	TexCoord int `json:"texCoord,omitempty"`
}

type schemaNormalTexture struct {
	schemaTextureInfo
	Scale *float32 `json:"scale,omitempty"`
}

type schemaOcclusionTex struct {
	schemaTextureInfo
	Strength *float32 `json:"strength,omitempty"`
}

type schemaTexture struct {
	Name       string                   `json:"name,omitempty"`
	Sampler    *int                     `json:"sampler,omitempty"`
	Source     *int                     `json:"source,omitempty"`
	Extensions *schemaTextureExtensions `json:"extensions,omitempty"`
}

// schemaTextureExtensions carries texture-level extension objects. KTX2 images
// are referenced through KHR_texture_basisu rather than the core source field.
type schemaTextureExtensions struct {
	BasisU *schemaBasisUExtension `json:"KHR_texture_basisu,omitempty"`
}

type schemaBasisUExtension struct {
	Source int `json:"source"`
}

type schemaImage struct {
	Name       string `json:"name,omitempty"`
	URI        string `json:"uri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	BufferView *int   `json:"bufferView,omitempty"`
}

type schemaSampler struct {
	Name      string `json:"name,omitempty"`
	MagFilter *int   `json:"magFilter,omitempty"`
	MinFilter *int   `json:"minFilter,omitempty"`
	WrapS     *int   `json:"wrapS,omitempty"`
	WrapT     *int   `json:"wrapT,omitempty"`
}

type schemaSkin struct {
	Name                string `json:"name,omitempty"`
	InverseBindMatrices *int   `json:"inverseBindMatrices,omitempty"`
	Skeleton            *int   `json:"skeleton,omitempty"`
	Joints              []int  `json:"joints"`
}

type schemaAnimation struct {
	Name     string              `json:"name,omitempty"`
	Channels []schemaAnimChannel `json:"channels"`
	Samplers []schemaAnimSampler `json:"samplers"`
}

type schemaAnimChannel struct {
	Sampler int              `json:"sampler"`
	Target  schemaAnimTarget `json:"target"`
}

type schemaAnimTarget struct {
	Node *int   `json:"node,omitempty"`
	Path string `json:"path"`
}

type schemaAnimSampler struct {
	Input         int    `json:"input"`
	Output        int    `json:"output"`
	Interpolation string `json:"interpolation,omitempty"`
}

// GLB container framing.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#glb-file-format-specification

// glbHeader is the 12-byte header of a GLB file.
type glbHeader struct {
	Magic   uint32 // must be 0x46546C67 ("glTF" in ASCII)
	Version uint32 // must be 2
	Length  uint32 // total file length in bytes
}

// glbChunkHeader is the 8-byte header preceding each GLB chunk.
type glbChunkHeader struct {
	ChunkLength uint32
	ChunkType   uint32
}

const (
	glbMagic     = 0x46546C67 // "glTF" little-endian
	glbVersion   = 2
	glbChunkJSON = 0x4E4F534A // "JSON"
	glbChunkBIN  = 0x004E4942 // "BIN\0"
)

// Primitive topology modes.
const (
	ModePoints        = 0
	ModeLines         = 1
	ModeLineLoop      = 2
	ModeLineStrip     = 3
	ModeTriangles     = 4
	ModeTriangleStrip = 5
	ModeTriangleFan   = 6
)

// GPU buffer targets emitted on bufferViews.
const (
	targetArrayBuffer        = 34962
	targetElementArrayBuffer = 34963
)
