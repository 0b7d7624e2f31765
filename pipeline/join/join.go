// Package join merges primitives that share the same effective material into
// fewer draw units. Merging happens within each mesh, where every primitive
// is drawn under the same node transforms, so concatenating vertex streams
// preserves the rendered result. The joiner restructures the entity graph and
// therefore runs single-threaded.
package join

import (
	"sort"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the merge step.
type Options struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Stats reports draw-unit counts around the merge. The set of materials used
// by the document is unchanged by this step.
type Stats struct {
	OriginalMeshCount int `json:"originalMeshCount"`
	MergedMeshCount   int `json:"mergedMeshCount"`
	MeshesReduced     int `json:"meshesReduced"`
}

// Apply merges compatible primitives per mesh and material.
//
// Parameters:
//   - doc: the document to restructure in place
//   - opts: step options
//
// Returns:
//   - *Stats: draw-unit counts before and after
//   - error: error if an index accessor is malformed
func Apply(doc *gltf.Document, opts Options) (*Stats, error) {
	stats := &Stats{}
	for _, m := range doc.Meshes {
		stats.OriginalMeshCount += len(m.Primitives)
	}

	for _, mesh := range doc.Meshes {
		merged, err := mergeMeshPrimitives(doc, mesh)
		if err != nil {
			return nil, err
		}
		mesh.Primitives = merged
	}

	for _, m := range doc.Meshes {
		stats.MergedMeshCount += len(m.Primitives)
	}
	stats.MeshesReduced = stats.OriginalMeshCount - stats.MergedMeshCount

	// The source accessors of merged runs are no longer referenced by any
	// primitive; dispose them rather than leaving dead weight for the writer.
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

	return stats, nil
}

// mergeMeshPrimitives groups a mesh's primitives by material and layout and
// concatenates each group into a single primitive.
func mergeMeshPrimitives(doc *gltf.Document, mesh *gltf.Mesh) ([]*gltf.Primitive, error) {
	groups := make(map[*gltf.Material][]*gltf.Primitive)
	var order []*gltf.Material
	var out []*gltf.Primitive

	for _, p := range mesh.Primitives {
		// Primitives without a material or with non-triangle topology are
		// left alone.
		if p.Material == nil || p.Mode != gltf.ModeTriangles || p.Position() == nil {
			out = append(out, p)
			continue
		}
		if _, seen := groups[p.Material]; !seen {
			order = append(order, p.Material)
		}
		groups[p.Material] = append(groups[p.Material], p)
	}

	for _, mat := range order {
		group := groups[mat]

		// Split the material group into runs of primitives whose attribute
		// layouts are compatible; incompatible layouts stay separate.
		for len(group) > 0 {
			run := []*gltf.Primitive{group[0]}
			rest := group[1:]
			group = nil
			for _, p := range rest {
				if layoutCompatible(run[0], p) {
					run = append(run, p)
				} else {
					group = append(group, p)
				}
			}

			if len(run) == 1 {
				out = append(out, run[0])
				continue
			}
			merged, err := concatenate(doc, run)
			if err != nil {
				return nil, err
			}
			out = append(out, merged)
		}
	}

	return out, nil
}

// layoutCompatible reports whether two primitives carry the same attribute
// semantics with identical element shapes, so their vertex streams can be
// concatenated.
func layoutCompatible(a, b *gltf.Primitive) bool {
	if len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for sem, accA := range a.Attributes {
		accB, ok := b.Attributes[sem]
		if !ok {
			return false
		}
		if accA.Type != accB.Type || accA.ComponentType != accB.ComponentType || accA.Normalized != accB.Normalized {
			return false
		}
	}
	return true
}

// concatenate builds one primitive from a run of layout-compatible
// primitives: attribute arrays are appended and indices rebased by the
// running vertex count.
func concatenate(doc *gltf.Document, run []*gltf.Primitive) (*gltf.Primitive, error) {
	merged := &gltf.Primitive{
		Attributes: make(map[string]*gltf.Accessor),
		Material:   run[0].Material,
		Mode:       gltf.ModeTriangles,
	}

	semantics := make([]string, 0, len(run[0].Attributes))
	for sem := range run[0].Attributes {
		semantics = append(semantics, sem)
	}
	sort.Strings(semantics)

	for _, sem := range semantics {
		proto := run[0].Attributes[sem]
		acc := gltf.NewAccessor(proto.Type, proto.ComponentType, proto.Normalized)
		acc.Name = proto.Name
		for _, p := range run {
			acc.Data = append(acc.Data, p.Attributes[sem].Data...)
		}
		doc.Accessors = append(doc.Accessors, acc)
		merged.Attributes[sem] = acc
	}

	var indices []uint32
	var base uint32
	for _, p := range run {
		vertexCount := uint32(p.Position().Count())
		if p.Indices != nil {
			primIndices, err := p.Indices.ReadIndices()
			if err != nil {
				return nil, err
			}
			for _, idx := range primIndices {
				indices = append(indices, idx+base)
			}
		} else {
			for i := uint32(0); i < vertexCount; i++ {
				indices = append(indices, i+base)
			}
		}
		base += vertexCount
	}

	idxAcc := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint32, false)
	idxAcc.SetIndices(indices)
	doc.Accessors = append(doc.Accessors, idxAcc)
	merged.Indices = idxAcc

	return merged, nil
}
