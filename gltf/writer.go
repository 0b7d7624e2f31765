package gltf

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gdgeek/3D-Model-Optimizer/common"
)

// generator is stamped into the asset block of written files.
const generator = "3D-Model-Optimizer"

// Write serializes the document as a GLB container at the given path. The
// file is written to a temporary sibling first and renamed into place, so a
// failed write never leaves a partial output file.
//
// Parameters:
//   - path: destination file path
//   - doc: the document to serialize
//
// Returns:
//   - error: error if encoding or the disk write fails
func Write(path string, doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".glb-write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// Encode serializes the document to GLB bytes. Primitives carrying draco
// settings are compressed here through the registered encoder; KTX2 textures
// and quantized vertex attributes register their extensions in the emitted
// header.
//
// Parameters:
//   - doc: the document to serialize
//
// Returns:
//   - []byte: the GLB container bytes
//   - error: ErrNoDracoEncoder if draco data is present without an encoder,
//     or an encoding error
func Encode(doc *Document) ([]byte, error) {
	w := &docWriter{
		doc:       doc,
		accessors: make(map[*Accessor]int),
		textures:  make(map[*Texture]int),
		materials: make(map[*Material]int),
		meshes:    make(map[*Mesh]int),
		nodes:     make(map[*Node]int),
		skins:     make(map[*Skin]int),
		cameras:   make(map[*Camera]int),
	}
	return w.encode()
}

// docWriter flattens the document graph back into schema index space and a
// single packed BIN buffer.
type docWriter struct {
	doc *Document
	raw schemaRoot
	bin bytes.Buffer

	accessors map[*Accessor]int
	textures  map[*Texture]int
	materials map[*Material]int
	meshes    map[*Mesh]int
	nodes     map[*Node]int
	skins     map[*Skin]int
	cameras   map[*Camera]int
}

func (w *docWriter) encode() ([]byte, error) {
	doc := w.doc

	w.registerExtensions()

	// Accessors used only by draco-compressed primitives keep their metadata
	// but no bufferView; the compressed blob carries their data.
	dracoOnly := w.dracoOnlyAccessors()

	for i, a := range doc.Accessors {
		w.accessors[a] = i
		entry := schemaAccessor{
			Name:          a.Name,
			ComponentType: int(a.ComponentType),
			Normalized:    a.Normalized,
			Count:         a.Count(),
			Type:          string(a.Type),
		}
		if !dracoOnly[a] {
			target := targetArrayBuffer
			if a.Type == TypeScalar && a.ComponentType != ComponentFloat {
				target = targetElementArrayBuffer
			}
			bv := w.addBufferView(a.Data, &target)
			entry.BufferView = &bv
		}
		w.raw.Accessors = append(w.raw.Accessors, entry)
	}
	w.writePositionBounds()

	if err := w.writeTextures(); err != nil {
		return nil, err
	}
	w.writeMaterials()
	if err := w.writeMeshes(); err != nil {
		return nil, err
	}
	w.writeCameras()
	w.writeNodes()
	w.writeSkins()
	w.writeAnimations()
	w.writeScenes()

	w.raw.Asset = schemaAsset{
		Version:   "2.0",
		Generator: generator,
		Copyright: doc.Asset.Copyright,
	}
	w.raw.ExtensionsUsed = doc.ExtensionsUsed()
	w.raw.ExtensionsRequired = doc.ExtensionsRequired()

	if w.bin.Len() > 0 {
		w.raw.Buffers = []schemaBuffer{{ByteLength: w.bin.Len()}}
	}

	jsonData, err := json.Marshal(&w.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal glTF JSON: %w", err)
	}

	return assembleGLB(jsonData, w.bin.Bytes()), nil
}

// registerExtensions marks the extensions implied by the document's state:
// KTX2 textures, draco primitives and quantized vertex attributes.
func (w *docWriter) registerExtensions() {
	for _, t := range w.doc.Textures {
		if t.MimeType == "image/ktx2" {
			w.doc.MarkExtension(ExtTextureBasisU, true)
		}
	}
	for _, p := range w.doc.Primitives() {
		if p.Draco != nil {
			w.doc.MarkExtension(ExtDracoMeshCompression, true)
		}
		for sem, a := range p.Attributes {
			if a.ComponentType == ComponentFloat {
				continue
			}
			switch {
			case sem == "POSITION", sem == "NORMAL", sem == "TANGENT",
				len(sem) > 9 && sem[:9] == "TEXCOORD_":
				w.doc.MarkExtension(ExtMeshQuantization, true)
			}
		}
	}
}

// dracoOnlyAccessors returns the accessors referenced exclusively by
// draco-compressed primitives.
func (w *docWriter) dracoOnlyAccessors() map[*Accessor]bool {
	inDraco := make(map[*Accessor]bool)
	elsewhere := make(map[*Accessor]bool)

	mark := func(set map[*Accessor]bool, p *Primitive) {
		for _, a := range p.Attributes {
			set[a] = true
		}
		if p.Indices != nil {
			set[p.Indices] = true
		}
	}
	for _, p := range w.doc.Primitives() {
		if p.Draco != nil {
			mark(inDraco, p)
		} else {
			mark(elsewhere, p)
		}
	}
	for _, s := range w.doc.Skins {
		if s.InverseBindMatrices != nil {
			elsewhere[s.InverseBindMatrices] = true
		}
	}
	for _, a := range w.doc.Animations {
		for _, smp := range a.Samplers {
			elsewhere[smp.Input] = true
			elsewhere[smp.Output] = true
		}
	}

	out := make(map[*Accessor]bool, len(inDraco))
	for a := range inDraco {
		if !elsewhere[a] {
			out[a] = true
		}
	}
	return out
}

// addBufferView appends data to the BIN buffer on a 4-byte boundary and
// returns the new bufferView's index.
func (w *docWriter) addBufferView(data []byte, target *int) int {
	for w.bin.Len()%4 != 0 {
		w.bin.WriteByte(0)
	}
	offset := w.bin.Len()
	w.bin.Write(data)

	idx := len(w.raw.BufferViews)
	w.raw.BufferViews = append(w.raw.BufferViews, schemaBufferView{
		Buffer:     0,
		ByteOffset: offset,
		ByteLength: len(data),
		Target:     target,
	})
	return idx
}

// writePositionBounds recomputes min/max for every accessor used as POSITION.
// The values are in raw component space, as the glTF spec requires, so a
// quantized position accessor reports integer bounds.
func (w *docWriter) writePositionBounds() {
	for _, p := range w.doc.Primitives() {
		pos := p.Position()
		if pos == nil {
			continue
		}
		idx, ok := w.accessors[pos]
		if !ok {
			continue
		}
		minVals, maxVals := rawComponentBounds(pos)
		w.raw.Accessors[idx].Min = minVals
		w.raw.Accessors[idx].Max = maxVals
	}
}

// rawComponentBounds computes per-component min/max over an accessor's raw
// component values (no normalization decoding).
func rawComponentBounds(a *Accessor) ([]float32, []float32) {
	comps := a.Type.Components()
	count := a.Count()
	if comps == 0 || count == 0 {
		return nil, nil
	}

	minVals := make([]float32, comps)
	maxVals := make([]float32, comps)
	read := rawComponentReader(a)
	for c := 0; c < comps; c++ {
		minVals[c] = read(0, c)
		maxVals[c] = read(0, c)
	}
	for e := 1; e < count; e++ {
		for c := 0; c < comps; c++ {
			v := read(e, c)
			if v < minVals[c] {
				minVals[c] = v
			}
			if v > maxVals[c] {
				maxVals[c] = v
			}
		}
	}
	return minVals, maxVals
}

// rawComponentReader returns an element/component indexed reader over the
// accessor's raw (undecoded) component values.
func rawComponentReader(a *Accessor) func(elem, comp int) float32 {
	comps := a.Type.Components()
	switch a.ComponentType {
	case ComponentFloat:
		vals := common.BytesToSlice[float32](a.Data)
		return func(e, c int) float32 { return vals[e*comps+c] }
	case ComponentInt8:
		vals := common.BytesToSlice[int8](a.Data)
		return func(e, c int) float32 { return float32(vals[e*comps+c]) }
	case ComponentUint8:
		return func(e, c int) float32 { return float32(a.Data[e*comps+c]) }
	case ComponentInt16:
		vals := common.BytesToSlice[int16](a.Data)
		return func(e, c int) float32 { return float32(vals[e*comps+c]) }
	case ComponentUint16:
		vals := common.BytesToSlice[uint16](a.Data)
		return func(e, c int) float32 { return float32(vals[e*comps+c]) }
	case ComponentUint32:
		vals := common.BytesToSlice[uint32](a.Data)
		return func(e, c int) float32 { return float32(vals[e*comps+c]) }
	default:
		return func(e, c int) float32 { return 0 }
	}
}

// writeTextures emits one image + one texture entry per document texture.
// KTX2 images are referenced through KHR_texture_basisu.
func (w *docWriter) writeTextures() error {
	samplerIdx := make(map[[4]int]int)

	for i, t := range w.doc.Textures {
		w.textures[t] = i

		imgIdx := len(w.raw.Images)
		bv := w.addBufferView(t.Data, nil)
		w.raw.Images = append(w.raw.Images, schemaImage{
			Name:       t.Name,
			MimeType:   t.MimeType,
			BufferView: &bv,
		})

		entry := schemaTexture{Name: t.Name}
		if t.MimeType == "image/ktx2" {
			entry.Extensions = &schemaTextureExtensions{
				BasisU: &schemaBasisUExtension{Source: imgIdx},
			}
		} else {
			src := imgIdx
			entry.Source = &src
		}

		if t.MagFilter != nil || t.MinFilter != nil || t.WrapS != nil || t.WrapT != nil {
			key := [4]int{deref(t.MagFilter), deref(t.MinFilter), deref(t.WrapS), deref(t.WrapT)}
			idx, ok := samplerIdx[key]
			if !ok {
				idx = len(w.raw.Samplers)
				samplerIdx[key] = idx
				w.raw.Samplers = append(w.raw.Samplers, schemaSampler{
					MagFilter: t.MagFilter,
					MinFilter: t.MinFilter,
					WrapS:     t.WrapS,
					WrapT:     t.WrapT,
				})
			}
			s := idx
			entry.Sampler = &s
		}

		w.raw.Textures = append(w.raw.Textures, entry)
	}
	return nil
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func (w *docWriter) textureInfo(ref *TextureRef) *schemaTextureInfo {
	if ref == nil || ref.Texture == nil {
		return nil
	}
	idx, ok := w.textures[ref.Texture]
	if !ok {
		return nil
	}
	return &schemaTextureInfo{Index: idx, TexCoord: ref.TexCoord}
}

func (w *docWriter) writeMaterials() {
	for i, m := range w.doc.Materials {
		w.materials[m] = i

		pbr := &schemaPbr{
			BaseColorTexture:         w.textureInfo(m.BaseColorTexture),
			MetallicRoughnessTexture: w.textureInfo(m.MetallicRoughnessTexture),
		}
		if m.BaseColorFactor != [4]float32{1, 1, 1, 1} {
			f := m.BaseColorFactor
			pbr.BaseColorFactor = &f
		}
		if m.MetallicFactor != 1 {
			f := m.MetallicFactor
			pbr.MetallicFactor = &f
		}
		if m.RoughnessFactor != 1 {
			f := m.RoughnessFactor
			pbr.RoughnessFactor = &f
		}

		entry := schemaMaterial{
			Name:                 m.Name,
			PbrMetallicRoughness: pbr,
			AlphaMode:            m.AlphaMode,
			AlphaCutoff:          m.AlphaCutoff,
			DoubleSided:          m.DoubleSided,
			EmissiveTexture:      w.textureInfo(m.EmissiveTexture),
			Extensions:           m.Extensions,
		}
		if m.EmissiveFactor != [3]float32{} {
			f := m.EmissiveFactor
			entry.EmissiveFactor = &f
		}
		if info := w.textureInfo(m.NormalTexture); info != nil {
			nt := &schemaNormalTexture{schemaTextureInfo: *info}
			if m.NormalTexture.Scale != 0 && m.NormalTexture.Scale != 1 {
				s := m.NormalTexture.Scale
				nt.Scale = &s
			}
			entry.NormalTexture = nt
		}
		if info := w.textureInfo(m.OcclusionTexture); info != nil {
			ot := &schemaOcclusionTex{schemaTextureInfo: *info}
			if m.OcclusionTexture.Strength != 0 && m.OcclusionTexture.Strength != 1 {
				s := m.OcclusionTexture.Strength
				ot.Strength = &s
			}
			entry.OcclusionTexture = ot
		}

		w.raw.Materials = append(w.raw.Materials, entry)
	}
}

func (w *docWriter) writeMeshes() error {
	for i, m := range w.doc.Meshes {
		w.meshes[m] = i
		entry := schemaMesh{Name: m.Name, Weights: m.Weights}

		for _, p := range m.Primitives {
			prim := schemaPrimitive{Attributes: make(map[string]int, len(p.Attributes))}
			for sem, a := range p.Attributes {
				prim.Attributes[sem] = w.accessors[a]
			}
			if p.Indices != nil {
				idx := w.accessors[p.Indices]
				prim.Indices = &idx
			}
			if p.Material != nil {
				if idx, ok := w.materials[p.Material]; ok {
					prim.Material = &idx
				}
			}
			if p.Mode != ModeTriangles {
				mode := p.Mode
				prim.Mode = &mode
			}

			if p.Draco != nil {
				enc := RegisteredDracoEncoder()
				if enc == nil {
					return ErrNoDracoEncoder
				}
				blob, attrIDs, err := enc.EncodePrimitive(p, p.Draco)
				if err != nil {
					return fmt.Errorf("draco encode failed: %w", err)
				}
				bv := w.addBufferView(blob, nil)
				prim.Extensions = &schemaPrimitiveExtensions{
					Draco: &schemaDracoExtension{BufferView: bv, Attributes: attrIDs},
				}
			}

			entry.Primitives = append(entry.Primitives, prim)
		}

		w.raw.Meshes = append(w.raw.Meshes, entry)
	}
	return nil
}

func (w *docWriter) writeCameras() {
	for i, c := range w.doc.Cameras {
		w.cameras[c] = i
		w.raw.Cameras = append(w.raw.Cameras, c.Raw)
	}
}

func (w *docWriter) writeNodes() {
	for i, n := range w.doc.Nodes {
		w.nodes[n] = i
	}
	for _, n := range w.doc.Nodes {
		entry := schemaNode{
			Name:        n.Name,
			Matrix:      n.Matrix,
			Translation: n.Translation,
			Rotation:    n.Rotation,
			Scale:       n.Scale,
			Weights:     n.Weights,
			Extensions:  n.Extensions,
		}
		for _, c := range n.Children {
			if idx, ok := w.nodes[c]; ok {
				entry.Children = append(entry.Children, idx)
			}
		}
		if n.Mesh != nil {
			if idx, ok := w.meshes[n.Mesh]; ok {
				entry.Mesh = &idx
			}
		}
		if n.Camera != nil {
			if idx, ok := w.cameras[n.Camera]; ok {
				entry.Camera = &idx
			}
		}
		w.raw.Nodes = append(w.raw.Nodes, entry)
	}
}

func (w *docWriter) writeSkins() {
	for i, s := range w.doc.Skins {
		w.skins[s] = i
	}
	for _, s := range w.doc.Skins {
		entry := schemaSkin{Name: s.Name}
		if s.InverseBindMatrices != nil {
			if idx, ok := w.accessors[s.InverseBindMatrices]; ok {
				entry.InverseBindMatrices = &idx
			}
		}
		if s.Skeleton != nil {
			if idx, ok := w.nodes[s.Skeleton]; ok {
				entry.Skeleton = &idx
			}
		}
		for _, j := range s.Joints {
			if idx, ok := w.nodes[j]; ok {
				entry.Joints = append(entry.Joints, idx)
			}
		}
		if entry.Joints == nil {
			entry.Joints = []int{}
		}
		w.raw.Skins = append(w.raw.Skins, entry)
	}

	// Back-fill node skin references now that skin indices exist.
	for i, n := range w.doc.Nodes {
		if n.Skin != nil {
			if idx, ok := w.skins[n.Skin]; ok {
				skinIdx := idx
				w.raw.Nodes[i].Skin = &skinIdx
			}
		}
	}
}

func (w *docWriter) writeAnimations() {
	for _, a := range w.doc.Animations {
		entry := schemaAnimation{Name: a.Name}

		samplerIdx := make(map[*AnimSampler]int, len(a.Samplers))
		for i, smp := range a.Samplers {
			samplerIdx[smp] = i
			entry.Samplers = append(entry.Samplers, schemaAnimSampler{
				Input:         w.accessors[smp.Input],
				Output:        w.accessors[smp.Output],
				Interpolation: smp.Interpolation,
			})
		}
		for _, ch := range a.Channels {
			rc := schemaAnimChannel{
				Sampler: samplerIdx[ch.Sampler],
				Target:  schemaAnimTarget{Path: ch.Target.Path},
			}
			if ch.Target.Node != nil {
				if idx, ok := w.nodes[ch.Target.Node]; ok {
					nodeIdx := idx
					rc.Target.Node = &nodeIdx
				}
			}
			entry.Channels = append(entry.Channels, rc)
		}

		w.raw.Animations = append(w.raw.Animations, entry)
	}
}

func (w *docWriter) writeScenes() {
	for i, s := range w.doc.Scenes {
		entry := schemaScene{Name: s.Name}
		for _, n := range s.Nodes {
			if idx, ok := w.nodes[n]; ok {
				entry.Nodes = append(entry.Nodes, idx)
			}
		}
		w.raw.Scenes = append(w.raw.Scenes, entry)

		if w.doc.DefaultScene == s {
			sceneIdx := i
			w.raw.Scene = &sceneIdx
		}
	}
}

// assembleGLB frames the JSON and BIN chunks with the 12-byte GLB header.
// JSON chunks pad with spaces, BIN chunks with zeros, both to 4 bytes.
func assembleGLB(jsonData, binData []byte) []byte {
	jsonPad := (4 - len(jsonData)%4) % 4
	binPad := (4 - len(binData)%4) % 4

	total := 12 + 8 + len(jsonData) + jsonPad
	if len(binData) > 0 {
		total += 8 + len(binData) + binPad
	}

	var out bytes.Buffer
	out.Grow(total)

	binary.Write(&out, binary.LittleEndian, glbHeader{
		Magic:   glbMagic,
		Version: glbVersion,
		Length:  uint32(total),
	})

	binary.Write(&out, binary.LittleEndian, glbChunkHeader{
		ChunkLength: uint32(len(jsonData) + jsonPad),
		ChunkType:   glbChunkJSON,
	})
	out.Write(jsonData)
	for i := 0; i < jsonPad; i++ {
		out.WriteByte(' ')
	}

	if len(binData) > 0 {
		binary.Write(&out, binary.LittleEndian, glbChunkHeader{
			ChunkLength: uint32(len(binData) + binPad),
			ChunkType:   glbChunkBIN,
		})
		out.Write(binData)
		for i := 0; i < binPad; i++ {
			out.WriteByte(0)
		}
	}

	return out.Bytes()
}
