package simplify

import (
	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the simplify step. Exactly one of TargetRatio and
// TargetCount must be set; the cross-field rule is enforced by the pipeline
// before the step runs.
type Options struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	TargetRatio *float32 `json:"targetRatio,omitempty" yaml:"targetRatio,omitempty" validate:"omitnil,gt=0,lte=1"`
	TargetCount *int     `json:"targetCount,omitempty" yaml:"targetCount,omitempty" validate:"omitnil,gt=0"`
	Error       *float32 `json:"error,omitempty" yaml:"error,omitempty" validate:"omitnil,gte=0,lte=1"`
	LockBorder  bool     `json:"lockBorder,omitempty" yaml:"lockBorder,omitempty"`
}

// DefaultError is the quadric error tolerance used when none is given.
const DefaultError = 0.01

// ErrorOrDefault returns the configured error tolerance or DefaultError.
func (o Options) ErrorOrDefault() float32 {
	if o.Error == nil {
		return DefaultError
	}
	return *o.Error
}

// Stats reports the triangle reduction achieved by the step.
type Stats struct {
	OriginalTriangles   int     `json:"originalTriangles"`
	SimplifiedTriangles int     `json:"simplifiedTriangles"`
	ReductionRatio      float64 `json:"reductionRatio"`
	MeshesProcessed     int     `json:"meshesProcessed"`
}

// Apply welds and simplifies every triangle primitive toward the configured
// target. When TargetCount is given, the effective ratio is
// min(1, targetCount / totalTriangles) over the whole document, then applied
// per primitive.
//
// Parameters:
//   - doc: the document to simplify in place
//   - opts: validated step options
//
// Returns:
//   - *Stats: triangle counts before and after
//   - error: error if an index accessor is malformed
func Apply(doc *gltf.Document, opts Options) (*Stats, error) {
	stats := &Stats{}

	total := 0
	for _, p := range doc.Primitives() {
		total += p.TriangleCount()
	}
	stats.OriginalTriangles = total

	ratio := float64(1)
	if opts.TargetRatio != nil {
		ratio = float64(*opts.TargetRatio)
	} else if opts.TargetCount != nil && total > 0 {
		ratio = float64(*opts.TargetCount) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
	}

	for _, prim := range doc.Primitives() {
		if prim.Mode != gltf.ModeTriangles || prim.Position() == nil {
			continue
		}
		if prim.Position().ComponentType != gltf.ComponentFloat {
			// Quantized positions never appear before this step in the fixed
			// pipeline order; skip rather than guess at a decode transform.
			continue
		}
		if err := simplifyPrimitive(doc, prim, ratio, float64(opts.ErrorOrDefault()), opts.LockBorder); err != nil {
			return nil, err
		}
		stats.MeshesProcessed++
	}

	after := 0
	for _, p := range doc.Primitives() {
		after += p.TriangleCount()
	}
	stats.SimplifiedTriangles = after
	if stats.OriginalTriangles > 0 {
		stats.ReductionRatio = 1 - float64(after)/float64(stats.OriginalTriangles)
	}

	disposeOrphanAccessors(doc)
	doc.InvalidateRefs()
	return stats, nil
}

// simplifyPrimitive runs weld + collapse on one primitive and rebuilds its
// attribute and index accessors from the surviving vertices.
func simplifyPrimitive(doc *gltf.Document, prim *gltf.Primitive, ratio, errorTolerance float64, lockBorder bool) error {
	pos := prim.Position()
	positions := pos.Floats()
	vertexCount := pos.Count()

	var indices []uint32
	if prim.Indices != nil {
		var err error
		indices, err = prim.Indices.ReadIndices()
		if err != nil {
			return err
		}
	} else {
		indices = make([]uint32, vertexCount)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	triCount := len(indices) / 3
	targetTris := int(float64(triCount) * ratio)
	if targetTris >= triCount {
		return nil
	}

	diag := boundsDiagonal(positions)
	remap := weld(positions, diag*weldEpsilonScale)

	// Collapse in welded-id space so edges can cross attribute seams.
	welded := make([]uint32, len(indices))
	for i, idx := range indices {
		welded[i] = remap[idx]
	}

	maxError := float64(diag) * errorTolerance
	maxError *= maxError

	simplified := simplifyIndices(positions, welded, targetTris, maxError, lockBorder)

	// Map welded representatives back to original vertices, then compact the
	// attribute arrays down to the vertices still in use.
	used := make(map[uint32]uint32)
	var usedOrder []uint32
	newIndices := make([]uint32, len(simplified))
	for i, w := range simplified {
		newIdx, ok := used[w]
		if !ok {
			newIdx = uint32(len(usedOrder))
			used[w] = newIdx
			usedOrder = append(usedOrder, w)
		}
		newIndices[i] = newIdx
	}

	for sem, acc := range prim.Attributes {
		elemSize := acc.ElementSize()
		data := make([]byte, 0, len(usedOrder)*elemSize)
		for _, oldIdx := range usedOrder {
			off := int(oldIdx) * elemSize
			data = append(data, acc.Data[off:off+elemSize]...)
		}
		rebuilt := gltf.NewAccessor(acc.Type, acc.ComponentType, acc.Normalized)
		rebuilt.Name = acc.Name
		rebuilt.Data = data
		doc.Accessors = append(doc.Accessors, rebuilt)
		prim.Attributes[sem] = rebuilt
	}

	idxAcc := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint32, false)
	idxAcc.SetIndices(newIndices)
	doc.Accessors = append(doc.Accessors, idxAcc)
	prim.Indices = idxAcc

	return nil
}

// disposeOrphanAccessors removes the pre-simplification accessors nothing
// references anymore.
func disposeOrphanAccessors(doc *gltf.Document) {
	doc.InvalidateRefs()
	var orphans []*gltf.Accessor
	for _, a := range doc.Accessors {
		if doc.RefCount(a) == 0 {
			orphans = append(orphans, a)
		}
	}
	for _, a := range orphans {
		doc.RemoveAccessor(a)
	}
}
