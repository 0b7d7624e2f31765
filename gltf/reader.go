package gltf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest accepted input asset, in bytes (100 MiB).
const MaxFileSize = 100 * 1024 * 1024

// Common errors returned by the reader.
var (
	ErrTooLarge     = errors.New("file exceeds maximum accepted size")
	ErrBadContainer = errors.New("invalid GLB container")
	ErrBadJSON      = errors.New("invalid glTF JSON")
	ErrBadChunk     = errors.New("invalid GLB chunk")
	ErrUnsupported  = errors.New("unsupported glTF feature")
)

// Read loads and parses a glTF asset from the given path. GLB containers are
// detected by the .glb extension or the magic number; anything else is parsed as glTF JSON with buffers
// resolved relative to the file's directory.
//
// Parameters:
//   - path: path to the .glb or .gltf file
//
// Returns:
//   - *Document: the parsed document graph
//   - error: ErrTooLarge, ErrBadContainer, ErrBadJSON, ErrBadChunk or
//     ErrUnsupported (wrapped) if parsing fails
func Read(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".glb" || (len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == glbMagic) {
		return parseGLB(data)
	}
	return parseJSON(data, filepath.Dir(path))
}

// ReadBytes parses an in-memory GLB container.
//
// Parameters:
//   - data: the raw GLB bytes
//
// Returns:
//   - *Document: the parsed document graph
//   - error: error if parsing fails
func ReadBytes(data []byte) (*Document, error) {
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return parseGLB(data)
}

// parseGLB validates the 12-byte header, splits the JSON and BIN chunks and
// hands off to the document builder.
func parseGLB(data []byte) (*Document, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: file too small", ErrBadContainer)
	}

	r := bytes.NewReader(data)

	var header glbHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrBadContainer, err)
	}
	if header.Magic != glbMagic {
		return nil, fmt.Errorf("%w: bad magic number", ErrBadContainer)
	}
	if header.Version != glbVersion {
		return nil, fmt.Errorf("%w: version must be 2, got %d", ErrBadContainer, header.Version)
	}
	if int(header.Length) != len(data) {
		return nil, fmt.Errorf("%w: declared length %d does not match file size %d", ErrBadContainer, header.Length, len(data))
	}

	var jsonData, binData []byte
	for {
		var chunkHeader glbChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunkHeader); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: failed to read chunk header: %v", ErrBadChunk, err)
		}

		chunkData := make([]byte, chunkHeader.ChunkLength)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, fmt.Errorf("%w: truncated chunk: %v", ErrBadChunk, err)
		}

		switch chunkHeader.ChunkType {
		case glbChunkJSON:
			jsonData = chunkData
		case glbChunkBIN:
			binData = chunkData
		}
	}

	if jsonData == nil {
		return nil, fmt.Errorf("%w: missing JSON chunk", ErrBadChunk)
	}

	return buildDocument(jsonData, binData, "")
}

// parseJSON parses a plain glTF JSON asset. External and data-URI buffers are
// resolved against baseDir.
func parseJSON(data []byte, baseDir string) (*Document, error) {
	return buildDocument(data, nil, baseDir)
}

// docBuilder resolves schema indices into document graph pointers.
type docBuilder struct {
	raw     *schemaRoot
	baseDir string
	doc     *Document

	accessors []*Accessor
	textures  []*Texture
	materials []*Material
	meshes    []*Mesh
	nodes     []*Node
	skins     []*Skin
	cameras   []*Camera
}

func buildDocument(jsonData, binChunk []byte, baseDir string) (*Document, error) {
	var raw schemaRoot
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if !strings.HasPrefix(raw.Asset.Version, "2.") {
		return nil, fmt.Errorf("%w: version must be 2.x, got %q", ErrBadJSON, raw.Asset.Version)
	}

	b := &docBuilder{raw: &raw, baseDir: baseDir, doc: NewDocument()}
	b.doc.Asset = Asset{
		Version:   raw.Asset.Version,
		Generator: raw.Asset.Generator,
		Copyright: raw.Asset.Copyright,
	}

	if err := b.loadBuffers(binChunk); err != nil {
		return nil, err
	}
	if err := b.buildAccessors(); err != nil {
		return nil, err
	}
	if err := b.buildTextures(); err != nil {
		return nil, err
	}
	b.buildMaterials()
	if err := b.buildMeshes(); err != nil {
		return nil, err
	}
	b.buildCameras()
	if err := b.buildNodes(); err != nil {
		return nil, err
	}
	if err := b.buildSkins(); err != nil {
		return nil, err
	}
	if err := b.buildAnimations(); err != nil {
		return nil, err
	}
	b.buildScenes()

	for _, name := range raw.ExtensionsUsed {
		b.doc.MarkExtension(name, false)
	}
	for _, name := range raw.ExtensionsRequired {
		b.doc.MarkExtension(name, true)
	}

	return b.doc, nil
}

// loadBuffers fills each schema buffer's data from the BIN chunk, a data URI
// or an external file.
func (b *docBuilder) loadBuffers(binChunk []byte) error {
	for i := range b.raw.Buffers {
		buf := &b.raw.Buffers[i]

		if buf.URI == "" {
			if i == 0 && binChunk != nil {
				buf.data = binChunk
				if len(buf.data) < buf.ByteLength {
					return fmt.Errorf("%w: buffer %d: BIN chunk shorter than declared length", ErrBadChunk, i)
				}
				continue
			}
			return fmt.Errorf("%w: buffer %d has no URI and no BIN chunk", ErrBadJSON, i)
		}

		data, err := b.loadBufferURI(buf.URI)
		if err != nil {
			return fmt.Errorf("%w: buffer %d: %v", ErrBadJSON, i, err)
		}
		if len(data) < buf.ByteLength {
			return fmt.Errorf("%w: buffer %d: size mismatch", ErrBadJSON, i)
		}
		buf.data = data
	}
	return nil
}

// loadBufferURI loads buffer bytes from a base64 data URI or a file path
// relative to the asset.
func (b *docBuilder) loadBufferURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		commaIdx := strings.Index(uri, ",")
		if commaIdx < 0 {
			return nil, errors.New("malformed data URI")
		}
		header := uri[5:commaIdx]
		if !strings.Contains(header, "base64") {
			return nil, fmt.Errorf("unsupported data URI encoding: %s", header)
		}
		return base64.StdEncoding.DecodeString(uri[commaIdx+1:])
	}

	data, err := os.ReadFile(filepath.Join(b.baseDir, uri))
	if err != nil {
		return nil, fmt.Errorf("failed to load buffer file %q: %v", uri, err)
	}
	return data, nil
}

// readBufferView copies the bytes addressed by a bufferView index.
func (b *docBuilder) readBufferView(index int) ([]byte, error) {
	if index < 0 || index >= len(b.raw.BufferViews) {
		return nil, fmt.Errorf("%w: bufferView index %d out of range", ErrBadJSON, index)
	}
	bv := &b.raw.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(b.raw.Buffers) {
		return nil, fmt.Errorf("%w: bufferView %d references missing buffer", ErrBadJSON, index)
	}
	buf := b.raw.Buffers[bv.Buffer].data
	end := bv.ByteOffset + bv.ByteLength
	if bv.ByteOffset < 0 || end > len(buf) {
		return nil, fmt.Errorf("%w: bufferView %d out of buffer bounds", ErrBadJSON, index)
	}
	return buf[bv.ByteOffset:end], nil
}

// buildAccessors unpacks every accessor into its own contiguous little-endian
// array, removing any interleaving stride.
func (b *docBuilder) buildAccessors() error {
	b.accessors = make([]*Accessor, len(b.raw.Accessors))
	for i := range b.raw.Accessors {
		ra := &b.raw.Accessors[i]
		if ra.Sparse != nil {
			return fmt.Errorf("%w: sparse accessors", ErrUnsupported)
		}

		acc := &Accessor{
			Name:          ra.Name,
			Type:          AccessorType(ra.Type),
			ComponentType: ComponentType(ra.ComponentType),
			Normalized:    ra.Normalized,
			Min:           ra.Min,
			Max:           ra.Max,
		}
		elemSize := acc.ElementSize()
		if elemSize == 0 {
			return fmt.Errorf("%w: accessor %d has unknown type %q/%d", ErrBadJSON, i, ra.Type, ra.ComponentType)
		}

		if ra.BufferView == nil {
			// glTF defines accessors without a bufferView as all-zeros.
			acc.Data = make([]byte, ra.Count*elemSize)
			b.accessors[i] = acc
			b.doc.Accessors = append(b.doc.Accessors, acc)
			continue
		}

		bvData, err := b.readBufferView(*ra.BufferView)
		if err != nil {
			return err
		}
		bv := &b.raw.BufferViews[*ra.BufferView]

		stride := elemSize
		if bv.ByteStride != nil && *bv.ByteStride > 0 {
			stride = *bv.ByteStride
		}

		packed := make([]byte, ra.Count*elemSize)
		for e := 0; e < ra.Count; e++ {
			src := ra.ByteOffset + e*stride
			if src+elemSize > len(bvData) {
				return fmt.Errorf("%w: accessor %d overruns its bufferView", ErrBadJSON, i)
			}
			copy(packed[e*elemSize:(e+1)*elemSize], bvData[src:src+elemSize])
		}
		acc.Data = packed

		b.accessors[i] = acc
		b.doc.Accessors = append(b.doc.Accessors, acc)
	}
	return nil
}

// buildTextures collapses the glTF texture/image/sampler triple into Texture
// entities owning their encoded bytes.
func (b *docBuilder) buildTextures() error {
	b.textures = make([]*Texture, len(b.raw.Textures))
	for i := range b.raw.Textures {
		rt := &b.raw.Textures[i]

		source := rt.Source
		if rt.Extensions != nil && rt.Extensions.BasisU != nil {
			source = &rt.Extensions.BasisU.Source
		}
		if source == nil {
			return fmt.Errorf("%w: texture %d has no image source", ErrBadJSON, i)
		}
		if *source < 0 || *source >= len(b.raw.Images) {
			return fmt.Errorf("%w: texture %d references missing image", ErrBadJSON, i)
		}
		img := &b.raw.Images[*source]

		var data []byte
		var err error
		switch {
		case img.BufferView != nil:
			data, err = b.readBufferView(*img.BufferView)
			if err != nil {
				return err
			}
			data = append([]byte(nil), data...)
		case img.URI != "":
			data, err = b.loadBufferURI(img.URI)
			if err != nil {
				return fmt.Errorf("%w: image %d: %v", ErrBadJSON, *source, err)
			}
		default:
			return fmt.Errorf("%w: image %d has neither bufferView nor URI", ErrBadJSON, *source)
		}

		tex := &Texture{
			Name:     firstNonEmpty(rt.Name, img.Name),
			MimeType: firstNonEmpty(img.MimeType, sniffImageMime(data)),
			Data:     data,
		}
		if rt.Sampler != nil && *rt.Sampler >= 0 && *rt.Sampler < len(b.raw.Samplers) {
			s := &b.raw.Samplers[*rt.Sampler]
			tex.MagFilter = s.MagFilter
			tex.MinFilter = s.MinFilter
			tex.WrapS = s.WrapS
			tex.WrapT = s.WrapT
		}

		b.textures[i] = tex
		b.doc.Textures = append(b.doc.Textures, tex)
	}
	return nil
}

func (b *docBuilder) textureRef(info *schemaTextureInfo) *TextureRef {
	if info == nil || info.Index < 0 || info.Index >= len(b.textures) {
		return nil
	}
	return &TextureRef{Texture: b.textures[info.Index], TexCoord: info.TexCoord}
}

func (b *docBuilder) buildMaterials() {
	b.materials = make([]*Material, len(b.raw.Materials))
	for i := range b.raw.Materials {
		rm := &b.raw.Materials[i]
		mat := NewMaterial(rm.Name)
		mat.AlphaMode = rm.AlphaMode
		mat.AlphaCutoff = rm.AlphaCutoff
		mat.DoubleSided = rm.DoubleSided
		mat.Extensions = rm.Extensions
		if rm.EmissiveFactor != nil {
			mat.EmissiveFactor = *rm.EmissiveFactor
		}

		if pbr := rm.PbrMetallicRoughness; pbr != nil {
			if pbr.BaseColorFactor != nil {
				mat.BaseColorFactor = *pbr.BaseColorFactor
			}
			if pbr.MetallicFactor != nil {
				mat.MetallicFactor = *pbr.MetallicFactor
			}
			if pbr.RoughnessFactor != nil {
				mat.RoughnessFactor = *pbr.RoughnessFactor
			}
			mat.BaseColorTexture = b.textureRef(pbr.BaseColorTexture)
			mat.MetallicRoughnessTexture = b.textureRef(pbr.MetallicRoughnessTexture)
		}
		if rm.NormalTexture != nil {
			mat.NormalTexture = b.textureRef(&rm.NormalTexture.schemaTextureInfo)
			if mat.NormalTexture != nil {
				mat.NormalTexture.Scale = 1
				if rm.NormalTexture.Scale != nil {
					mat.NormalTexture.Scale = *rm.NormalTexture.Scale
				}
			}
		}
		if rm.OcclusionTexture != nil {
			mat.OcclusionTexture = b.textureRef(&rm.OcclusionTexture.schemaTextureInfo)
			if mat.OcclusionTexture != nil {
				mat.OcclusionTexture.Strength = 1
				if rm.OcclusionTexture.Strength != nil {
					mat.OcclusionTexture.Strength = *rm.OcclusionTexture.Strength
				}
			}
		}
		mat.EmissiveTexture = b.textureRef(rm.EmissiveTexture)

		b.materials[i] = mat
		b.doc.Materials = append(b.doc.Materials, mat)
	}
}

func (b *docBuilder) buildMeshes() error {
	b.meshes = make([]*Mesh, len(b.raw.Meshes))
	for i := range b.raw.Meshes {
		rm := &b.raw.Meshes[i]
		mesh := &Mesh{Name: rm.Name, Weights: rm.Weights}

		for j := range rm.Primitives {
			rp := &rm.Primitives[j]
			if rp.Extensions != nil && rp.Extensions.Draco != nil {
				return fmt.Errorf("%w: draco-compressed input", ErrUnsupported)
			}

			prim := &Primitive{
				Attributes: make(map[string]*Accessor, len(rp.Attributes)),
				Mode:       ModeTriangles,
			}
			if rp.Mode != nil {
				prim.Mode = *rp.Mode
			}
			for sem, idx := range rp.Attributes {
				if idx < 0 || idx >= len(b.accessors) {
					return fmt.Errorf("%w: mesh %d primitive %d: attribute %s references missing accessor", ErrBadJSON, i, j, sem)
				}
				prim.Attributes[sem] = b.accessors[idx]
			}
			if rp.Indices != nil {
				if *rp.Indices < 0 || *rp.Indices >= len(b.accessors) {
					return fmt.Errorf("%w: mesh %d primitive %d: missing index accessor", ErrBadJSON, i, j)
				}
				prim.Indices = b.accessors[*rp.Indices]
			}
			if rp.Material != nil {
				if *rp.Material < 0 || *rp.Material >= len(b.materials) {
					return fmt.Errorf("%w: mesh %d primitive %d: missing material", ErrBadJSON, i, j)
				}
				prim.Material = b.materials[*rp.Material]
			}

			// Structural soundness: an indexed primitive must not address
			// beyond its POSITION array.
			if prim.Indices != nil && prim.Position() != nil {
				if int(prim.Indices.MaxIndex()) >= prim.Position().Count() {
					return fmt.Errorf("%w: mesh %d primitive %d: index out of vertex range", ErrBadJSON, i, j)
				}
			}

			mesh.Primitives = append(mesh.Primitives, prim)
		}

		b.meshes[i] = mesh
		b.doc.Meshes = append(b.doc.Meshes, mesh)
	}
	return nil
}

func (b *docBuilder) buildCameras() {
	b.cameras = make([]*Camera, len(b.raw.Cameras))
	for i, raw := range b.raw.Cameras {
		cam := &Camera{Raw: raw}
		b.cameras[i] = cam
		b.doc.Cameras = append(b.doc.Cameras, cam)
	}
}

func (b *docBuilder) buildNodes() error {
	b.nodes = make([]*Node, len(b.raw.Nodes))
	for i := range b.raw.Nodes {
		rn := &b.raw.Nodes[i]
		node := &Node{
			Name:        rn.Name,
			Matrix:      rn.Matrix,
			Translation: rn.Translation,
			Rotation:    rn.Rotation,
			Scale:       rn.Scale,
			Weights:     rn.Weights,
			Extensions:  rn.Extensions,
		}
		if rn.Mesh != nil {
			if *rn.Mesh < 0 || *rn.Mesh >= len(b.meshes) {
				return fmt.Errorf("%w: node %d references missing mesh", ErrBadJSON, i)
			}
			node.Mesh = b.meshes[*rn.Mesh]
		}
		if rn.Camera != nil && *rn.Camera >= 0 && *rn.Camera < len(b.cameras) {
			node.Camera = b.cameras[*rn.Camera]
		}
		b.nodes[i] = node
		b.doc.Nodes = append(b.doc.Nodes, node)
	}

	// Second pass: children can reference nodes in any order.
	for i := range b.raw.Nodes {
		for _, childIdx := range b.raw.Nodes[i].Children {
			if childIdx < 0 || childIdx >= len(b.nodes) {
				return fmt.Errorf("%w: node %d references missing child", ErrBadJSON, i)
			}
			b.nodes[i].Children = append(b.nodes[i].Children, b.nodes[childIdx])
		}
	}
	return nil
}

func (b *docBuilder) buildSkins() error {
	b.skins = make([]*Skin, len(b.raw.Skins))
	for i := range b.raw.Skins {
		rs := &b.raw.Skins[i]
		skin := &Skin{Name: rs.Name}
		if rs.InverseBindMatrices != nil {
			if *rs.InverseBindMatrices < 0 || *rs.InverseBindMatrices >= len(b.accessors) {
				return fmt.Errorf("%w: skin %d references missing accessor", ErrBadJSON, i)
			}
			skin.InverseBindMatrices = b.accessors[*rs.InverseBindMatrices]
		}
		if rs.Skeleton != nil && *rs.Skeleton >= 0 && *rs.Skeleton < len(b.nodes) {
			skin.Skeleton = b.nodes[*rs.Skeleton]
		}
		for _, j := range rs.Joints {
			if j < 0 || j >= len(b.nodes) {
				return fmt.Errorf("%w: skin %d references missing joint node", ErrBadJSON, i)
			}
			skin.Joints = append(skin.Joints, b.nodes[j])
		}
		b.skins[i] = skin
		b.doc.Skins = append(b.doc.Skins, skin)
	}

	// Node skin references resolve after skins exist.
	for i := range b.raw.Nodes {
		if s := b.raw.Nodes[i].Skin; s != nil {
			if *s < 0 || *s >= len(b.skins) {
				return fmt.Errorf("%w: node %d references missing skin", ErrBadJSON, i)
			}
			b.nodes[i].Skin = b.skins[*s]
		}
	}
	return nil
}

func (b *docBuilder) buildAnimations() error {
	for i := range b.raw.Animations {
		ra := &b.raw.Animations[i]
		anim := &Animation{Name: ra.Name}

		samplers := make([]*AnimSampler, len(ra.Samplers))
		for j := range ra.Samplers {
			rs := &ra.Samplers[j]
			if rs.Input < 0 || rs.Input >= len(b.accessors) || rs.Output < 0 || rs.Output >= len(b.accessors) {
				return fmt.Errorf("%w: animation %d sampler %d references missing accessor", ErrBadJSON, i, j)
			}
			samplers[j] = &AnimSampler{
				Input:         b.accessors[rs.Input],
				Output:        b.accessors[rs.Output],
				Interpolation: rs.Interpolation,
			}
		}
		anim.Samplers = samplers

		for j := range ra.Channels {
			rc := &ra.Channels[j]
			if rc.Sampler < 0 || rc.Sampler >= len(samplers) {
				return fmt.Errorf("%w: animation %d channel %d references missing sampler", ErrBadJSON, i, j)
			}
			ch := AnimChannel{Sampler: samplers[rc.Sampler], Target: AnimTarget{Path: rc.Target.Path}}
			if rc.Target.Node != nil && *rc.Target.Node >= 0 && *rc.Target.Node < len(b.nodes) {
				ch.Target.Node = b.nodes[*rc.Target.Node]
			}
			anim.Channels = append(anim.Channels, ch)
		}

		b.doc.Animations = append(b.doc.Animations, anim)
	}
	return nil
}

func (b *docBuilder) buildScenes() {
	for i := range b.raw.Scenes {
		rs := &b.raw.Scenes[i]
		scene := &Scene{Name: rs.Name}
		for _, n := range rs.Nodes {
			if n >= 0 && n < len(b.nodes) {
				scene.Nodes = append(scene.Nodes, b.nodes[n])
			}
		}
		b.doc.Scenes = append(b.doc.Scenes, scene)
	}
	if b.raw.Scene != nil && *b.raw.Scene >= 0 && *b.raw.Scene < len(b.doc.Scenes) {
		b.doc.DefaultScene = b.doc.Scenes[*b.raw.Scene]
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sniffImageMime guesses a MIME type from well-known image magic bytes.
func sniffImageMime(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case len(data) >= 12 && bytes.Equal(data[:12], []byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/ktx2"
	default:
		return ""
	}
}
