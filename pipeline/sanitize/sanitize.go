package sanitize

import (
	"github.com/gdgeek/3D-Model-Optimizer/common"
	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Result reports what each repair phase fixed.
type Result struct {
	InvalidVerticesFixed     int `json:"invalidVerticesFixed"`
	NormalsRegenerated       int `json:"normalsRegenerated"`
	TangentsRemoved          int `json:"tangentsRemoved"`
	EmptyAccessorsRemoved    int `json:"emptyAccessorsRemoved"`
	TotalPrimitivesProcessed int `json:"totalPrimitivesProcessed"`
}

// RepairInput sanitizes the document before the optimization steps run:
// non-finite position/normal/texcoord components are zeroed, broken normals
// are regenerated from the triangle geometry, invalid tangents are dropped
// and orphaned empty accessors are disposed.
//
// Parameters:
//   - doc: the document to repair in place
//
// Returns:
//   - *Result: counts of applied fixes
//   - error: currently always nil; reserved for future structural failures
func RepairInput(doc *gltf.Document) (*Result, error) {
	return repair(doc, false)
}

// RepairOutput sanitizes the document after the optimization steps, with the
// same checks as RepairInput plus regeneration of normals (and tangents for
// normal-mapped materials) that a simplify or quantize pass may have removed
// or invalidated.
//
// Parameters:
//   - doc: the document to repair in place
//
// Returns:
//   - *Result: counts of applied fixes
//   - error: currently always nil; reserved for future structural failures
func RepairOutput(doc *gltf.Document) (*Result, error) {
	return repair(doc, true)
}

func repair(doc *gltf.Document, output bool) (*Result, error) {
	r := &repairRun{doc: doc, scanned: make(map[*gltf.Accessor]bool)}

	for _, prim := range doc.Primitives() {
		r.result.TotalPrimitivesProcessed++

		r.scanNonFinite(prim.Attributes["POSITION"])
		r.scanNonFinite(prim.Attributes["NORMAL"])
		r.scanNonFinite(prim.Attributes["TEXCOORD_0"])
		r.scanNonFinite(prim.Attributes["TEXCOORD_1"])

		r.repairNormals(prim, output)
		r.repairTangents(prim, output)
	}

	r.disposeEmptyAccessors()

	doc.InvalidateRefs()
	return &r.result, nil
}

type repairRun struct {
	doc    *gltf.Document
	result Result

	// scanned dedupes accessors shared across primitives so a replaced
	// component is counted once.
	scanned map[*gltf.Accessor]bool
}

// scanNonFinite zeroes NaN and ±Inf components of a float accessor in place.
func (r *repairRun) scanNonFinite(a *gltf.Accessor) {
	if a == nil || r.scanned[a] {
		return
	}
	r.scanned[a] = true

	vals := a.Floats()
	for i, v := range vals {
		if !common.IsFinite(v) {
			vals[i] = 0
			r.result.InvalidVerticesFixed++
		}
	}
}

// repairNormals validates the primitive's NORMAL accessor on a sampled basis
// and regenerates it from the triangle geometry when broken. In the output
// phase a missing NORMAL is also regenerated.
func (r *repairRun) repairNormals(prim *gltf.Primitive, output bool) {
	if prim.Mode != gltf.ModeTriangles {
		return
	}
	pos := prim.Position()
	if pos == nil {
		return
	}

	normal, hasNormal := prim.Attributes["NORMAL"]
	if !hasNormal {
		if !output {
			return
		}
		// Simplification or quantization may have dropped the normals.
		r.regenerateNormals(prim, nil)
		return
	}

	if normal.Type != gltf.TypeVec3 || normal.Count() != pos.Count() {
		r.regenerateNormals(prim, normal)
		return
	}

	vals := normal.DecodeFloats()
	count := normal.Count()
	stride := sampleStride(count)
	for i := 0; i < count; i += stride {
		x, y, z := vals[i*3], vals[i*3+1], vals[i*3+2]
		if !isFinite3(x, y, z) {
			r.regenerateNormals(prim, normal)
			return
		}
		if l := length3(x, y, z); l < 0.5 || l > 1.5 {
			r.regenerateNormals(prim, normal)
			return
		}
	}
}

// regenerateNormals rebuilds the primitive's NORMAL accessor with
// area-weighted face normals. The existing accessor is rewritten in place
// when present so other primitives sharing it see the repair; otherwise a new
// accessor joins the document.
func (r *repairRun) regenerateNormals(prim *gltf.Primitive, existing *gltf.Accessor) {
	positions := prim.Position().DecodeFloats()
	indices := primitiveIndices(prim, len(positions)/3)
	normals := generateNormals(positions, indices)

	if existing != nil {
		existing.Type = gltf.TypeVec3
		existing.SetFloats(normals)
	} else {
		acc := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
		acc.SetFloats(normals)
		r.doc.Accessors = append(r.doc.Accessors, acc)
		prim.Attributes["NORMAL"] = acc
	}
	r.result.NormalsRegenerated++
}

// repairTangents drops a TANGENT accessor that is not VEC4, carries
// non-finite samples or has a handedness component off unit by more than 0.1.
// In the output phase a primitive whose material is normal-mapped gets its
// tangents regenerated after a drop.
func (r *repairRun) repairTangents(prim *gltf.Primitive, output bool) {
	tangent, ok := prim.Attributes["TANGENT"]
	if ok {
		if r.tangentValid(tangent) {
			return
		}
		delete(prim.Attributes, "TANGENT")
		r.result.TangentsRemoved++
		r.doc.InvalidateRefs()
		if r.doc.RefCount(tangent) == 0 {
			r.doc.RemoveAccessor(tangent)
		}
	} else if !output {
		return
	}

	if output {
		r.maybeRegenerateTangents(prim)
	}
}

func (r *repairRun) tangentValid(tangent *gltf.Accessor) bool {
	if tangent.Type != gltf.TypeVec4 {
		return false
	}
	vals := tangent.DecodeFloats()
	count := tangent.Count()
	stride := sampleStride(count)
	for i := 0; i < count; i += stride {
		x, y, z, w := vals[i*4], vals[i*4+1], vals[i*4+2], vals[i*4+3]
		if !isFinite3(x, y, z) || !common.IsFinite(w) {
			return false
		}
		if w < 0 {
			w = -w
		}
		if w < 0.9 || w > 1.1 {
			return false
		}
	}
	return true
}

// maybeRegenerateTangents rebuilds tangents for normal-mapped primitives that
// lost theirs, using the UV-gradient method.
func (r *repairRun) maybeRegenerateTangents(prim *gltf.Primitive) {
	if prim.Mode != gltf.ModeTriangles {
		return
	}
	if _, has := prim.Attributes["TANGENT"]; has {
		return
	}
	if prim.Material == nil || prim.Material.NormalTexture == nil {
		return
	}
	pos := prim.Position()
	normal := prim.Attributes["NORMAL"]
	uv := prim.Attributes["TEXCOORD_0"]
	if pos == nil || normal == nil || uv == nil {
		return
	}
	if normal.Count() != pos.Count() || uv.Count() != pos.Count() {
		return
	}

	positions := pos.DecodeFloats()
	indices := primitiveIndices(prim, pos.Count())
	tangents := generateTangents(positions, normal.DecodeFloats(), uv.DecodeFloats(), indices)

	acc := gltf.NewAccessor(gltf.TypeVec4, gltf.ComponentFloat, false)
	acc.SetFloats(tangents)
	r.doc.Accessors = append(r.doc.Accessors, acc)
	prim.Attributes["TANGENT"] = acc
}

// disposeEmptyAccessors drops accessors with no data that nothing besides the
// document root references.
func (r *repairRun) disposeEmptyAccessors() {
	r.doc.InvalidateRefs()
	var empty []*gltf.Accessor
	for _, a := range r.doc.Accessors {
		if len(a.Data) == 0 && r.doc.RefCount(a) == 0 {
			empty = append(empty, a)
		}
	}
	for _, a := range empty {
		r.doc.RemoveAccessor(a)
		r.result.EmptyAccessorsRemoved++
	}
}

// primitiveIndices returns the primitive's index buffer, or a sequential one
// when the primitive is non-indexed.
func primitiveIndices(prim *gltf.Primitive, vertexCount int) []uint32 {
	if prim.Indices != nil {
		if indices, err := prim.Indices.ReadIndices(); err == nil {
			return indices
		}
	}
	indices := make([]uint32, vertexCount)
	for i := range indices {
		indices[i] = uint32(i)
	}
	return indices
}
