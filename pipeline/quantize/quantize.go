// Package quantize rewrites vertex attributes to lower-precision component
// types: positions to normalized uint16 with a compensating node transform,
// normals and tangents to normalized int8, texture coordinates to normalized
// uint16 and colors to normalized uint8. The rendered geometry is equivalent;
// the storage is not.
package quantize

import (
	"strings"

	"github.com/gdgeek/3D-Model-Optimizer/common"
	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the quantize step. Each attribute class defaults to
// enabled when unset. Tangents are quantized together with normals.
type Options struct {
	Enabled          bool  `json:"enabled" yaml:"enabled"`
	QuantizePosition *bool `json:"quantizePosition,omitempty" yaml:"quantizePosition,omitempty"`
	QuantizeNormal   *bool `json:"quantizeNormal,omitempty" yaml:"quantizeNormal,omitempty"`
	QuantizeTexcoord *bool `json:"quantizeTexcoord,omitempty" yaml:"quantizeTexcoord,omitempty"`
	QuantizeColor    *bool `json:"quantizeColor,omitempty" yaml:"quantizeColor,omitempty"`
}

func orTrue(v *bool) bool { return v == nil || *v }

// Stats reports which attribute classes were rewritten and the byte delta.
type Stats struct {
	AttributesQuantized []string `json:"attributesQuantized"`
	OriginalSize        int      `json:"originalSize"`
	QuantizedSize       int      `json:"quantizedSize"`
	ReductionRatio      float64  `json:"reductionRatio"`
}

// Apply quantizes the enabled attribute classes across every mesh.
//
// Parameters:
//   - doc: the document to quantize in place
//   - opts: per-class switches
//
// Returns:
//   - *Stats: affected classes and byte sizes before/after
//   - error: currently always nil
func Apply(doc *gltf.Document, opts Options) (*Stats, error) {
	q := &quantizer{
		doc:     doc,
		visited: make(map[*gltf.Accessor]bool),
		classes: make(map[string]bool),
	}

	for _, mesh := range doc.Meshes {
		if orTrue(opts.QuantizePosition) {
			q.quantizeMeshPositions(mesh)
		}
		for _, prim := range mesh.Primitives {
			if orTrue(opts.QuantizeNormal) {
				q.quantizeNormals(prim)
			}
			if orTrue(opts.QuantizeTexcoord) {
				q.quantizeTexcoords(prim)
			}
			if orTrue(opts.QuantizeColor) {
				q.quantizeColors(prim)
			}
		}
	}

	stats := &Stats{
		AttributesQuantized: sortedClasses(q.classes),
		OriginalSize:        q.originalSize,
		QuantizedSize:       q.quantizedSize,
	}
	if stats.OriginalSize > 0 {
		stats.ReductionRatio = 1 - float64(stats.QuantizedSize)/float64(stats.OriginalSize)
	}

	if len(stats.AttributesQuantized) > 0 {
		doc.MarkExtension(gltf.ExtMeshQuantization, true)
	}
	doc.InvalidateRefs()
	return stats, nil
}

// classOrder fixes the reporting order of attribute classes.
var classOrder = []string{"POSITION", "NORMAL", "TANGENT", "TEXCOORD", "COLOR"}

func sortedClasses(set map[string]bool) []string {
	out := []string{}
	for _, c := range classOrder {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

type quantizer struct {
	doc     *gltf.Document
	visited map[*gltf.Accessor]bool

	classes       map[string]bool
	originalSize  int
	quantizedSize int
}

func (q *quantizer) record(class string, before, after int) {
	q.classes[class] = true
	q.originalSize += before
	q.quantizedSize += after
}

// quantizeMeshPositions rewrites every POSITION accessor of the mesh to
// normalized uint16 over a bounding box shared by the whole mesh, then folds
// the inverse transform (offset + scale) into every node that draws it. The
// shared box keeps one compensating transform valid for all primitives.
// Skinned meshes are skipped: their vertices deform in joint space, which a
// node-local transform cannot compensate. Meshes drawn by a node that has
// children are skipped too: the compensating transform would also apply to
// the children.
func (q *quantizer) quantizeMeshPositions(mesh *gltf.Mesh) {
	nodes := q.meshNodes(mesh)
	if len(nodes) == 0 {
		return
	}
	for _, n := range nodes {
		if n.Skin != nil || len(n.Children) > 0 {
			return
		}
	}

	var accessors []*gltf.Accessor
	seen := make(map[*gltf.Accessor]bool)
	for _, prim := range mesh.Primitives {
		pos := prim.Position()
		if pos == nil || pos.ComponentType != gltf.ComponentFloat || pos.Type != gltf.TypeVec3 || pos.Count() == 0 {
			continue
		}
		if !q.visited[pos] && !seen[pos] {
			seen[pos] = true
			accessors = append(accessors, pos)
		}
	}
	if len(accessors) == 0 {
		return
	}

	var bmin, bmax [3]float32
	first := true
	for _, acc := range accessors {
		vals := acc.Floats()
		for i := 0; i+2 < len(vals); i += 3 {
			for c := 0; c < 3; c++ {
				v := vals[i+c]
				if first || v < bmin[c] {
					bmin[c] = v
				}
				if first || v > bmax[c] {
					bmax[c] = v
				}
			}
			first = false
		}
	}

	var scale [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = bmax[c] - bmin[c]
		if scale[c] <= 0 {
			scale[c] = 1
		}
	}

	for _, acc := range accessors {
		q.visited[acc] = true
		before := acc.ByteLength()

		vals := acc.Floats()
		packed := make([]uint16, len(vals))
		for i := range vals {
			c := i % 3
			norm := (vals[i] - bmin[c]) / scale[c]
			packed[i] = packUnorm16(norm)
		}
		acc.ComponentType = gltf.ComponentUint16
		acc.Normalized = true
		acc.Data = append([]byte(nil), common.SliceToBytes(packed)...)

		q.record("POSITION", before, acc.ByteLength())
	}

	for _, n := range nodes {
		applyDequantizeTransform(n, bmin, scale)
	}
}

// meshNodes returns the nodes drawing the given mesh.
func (q *quantizer) meshNodes(mesh *gltf.Mesh) []*gltf.Node {
	var out []*gltf.Node
	for _, n := range q.doc.Nodes {
		if n.Mesh == mesh {
			out = append(out, n)
		}
	}
	return out
}

// applyDequantizeTransform composes the node's local transform with the
// dequantization transform Tq(offset) * Sq(scale), so decoded [0,1] positions
// land back in the original mesh space.
func applyDequantizeTransform(n *gltf.Node, offset, scale [3]float32) {
	if n.Matrix != nil {
		var mq [16]float32
		common.Identity(mq[:])
		mq[0], mq[5], mq[10] = scale[0], scale[1], scale[2]
		mq[12], mq[13], mq[14] = offset[0], offset[1], offset[2]

		var out [16]float32
		common.Mul4(out[:], n.Matrix[:], mq[:])
		n.Matrix = &out
		return
	}

	t := [3]float32{}
	if n.Translation != nil {
		t = *n.Translation
	}
	r := [4]float32{0, 0, 0, 1}
	if n.Rotation != nil {
		r = *n.Rotation
	}
	s := [3]float32{1, 1, 1}
	if n.Scale != nil {
		s = *n.Scale
	}

	// T' = T + R * (S ∘ offset); S' = S ∘ scale. Rotation is unchanged.
	scaledOffset := [3]float32{s[0] * offset[0], s[1] * offset[1], s[2] * offset[2]}
	rotated := common.QuatRotate(r, scaledOffset)
	newT := [3]float32{t[0] + rotated[0], t[1] + rotated[1], t[2] + rotated[2]}
	newS := [3]float32{s[0] * scale[0], s[1] * scale[1], s[2] * scale[2]}

	n.Translation = &newT
	n.Scale = &newS
}

// quantizeNormals rewrites NORMAL (and TANGENT, which shares the switch) to
// normalized int8.
func (q *quantizer) quantizeNormals(prim *gltf.Primitive) {
	if acc, ok := prim.Attributes["NORMAL"]; ok {
		if q.quantizeSnorm8(acc) {
			q.classes["NORMAL"] = true
		}
	}
	if acc, ok := prim.Attributes["TANGENT"]; ok {
		if q.quantizeSnorm8(acc) {
			q.classes["TANGENT"] = true
		}
	}
}

func (q *quantizer) quantizeSnorm8(acc *gltf.Accessor) bool {
	if q.visited[acc] || acc.ComponentType != gltf.ComponentFloat {
		return false
	}
	q.visited[acc] = true
	before := acc.ByteLength()

	vals := acc.Floats()
	packed := make([]int8, len(vals))
	for i, v := range vals {
		packed[i] = packSnorm8(v)
	}
	acc.ComponentType = gltf.ComponentInt8
	acc.Normalized = true
	acc.Data = append([]byte(nil), common.SliceToBytes(packed)...)

	q.originalSize += before
	q.quantizedSize += acc.ByteLength()
	return true
}

// quantizeTexcoords rewrites TEXCOORD_n accessors whose values fit [0,1] to
// normalized uint16. Out-of-range UVs (tiling) stay float.
func (q *quantizer) quantizeTexcoords(prim *gltf.Primitive) {
	for sem, acc := range prim.Attributes {
		if !strings.HasPrefix(sem, "TEXCOORD_") {
			continue
		}
		if q.visited[acc] || acc.ComponentType != gltf.ComponentFloat {
			continue
		}

		vals := acc.Floats()
		inRange := true
		for _, v := range vals {
			if v < 0 || v > 1 {
				inRange = false
				break
			}
		}
		if !inRange {
			continue
		}

		q.visited[acc] = true
		before := acc.ByteLength()
		packed := make([]uint16, len(vals))
		for i, v := range vals {
			packed[i] = packUnorm16(v)
		}
		acc.ComponentType = gltf.ComponentUint16
		acc.Normalized = true
		acc.Data = append([]byte(nil), common.SliceToBytes(packed)...)

		q.record("TEXCOORD", before, acc.ByteLength())
	}
}

// quantizeColors rewrites COLOR_n accessors to normalized uint8.
func (q *quantizer) quantizeColors(prim *gltf.Primitive) {
	for sem, acc := range prim.Attributes {
		if !strings.HasPrefix(sem, "COLOR_") {
			continue
		}
		if q.visited[acc] || acc.ComponentType != gltf.ComponentFloat {
			continue
		}
		q.visited[acc] = true
		before := acc.ByteLength()

		vals := acc.Floats()
		packed := make([]byte, len(vals))
		for i, v := range vals {
			packed[i] = packUnorm8(v)
		}
		acc.ComponentType = gltf.ComponentUint8
		acc.Normalized = true
		acc.Data = packed

		q.record("COLOR", before, acc.ByteLength())
	}
}

func packUnorm16(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(v*65535 + 0.5)
}

func packUnorm8(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func packSnorm8(v float32) int8 {
	if v <= -1 {
		return -127
	}
	if v >= 1 {
		return 127
	}
	if v >= 0 {
		return int8(v*127 + 0.5)
	}
	return int8(v*127 - 0.5)
}
