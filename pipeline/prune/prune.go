// Package prune removes graph entities that nothing reachable references:
// materials, textures, accessors and, optionally, empty leaf nodes. The
// reachable set is computed from the default scene when one exists, otherwise
// from every scene. Pruning restructures the entity graph and therefore runs
// single-threaded.
package prune

import (
	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the clean step. The per-category switches default to
// true when unset.
type Options struct {
	Enabled               bool  `json:"enabled" yaml:"enabled"`
	RemoveUnusedNodes     *bool `json:"removeUnusedNodes,omitempty" yaml:"removeUnusedNodes,omitempty"`
	RemoveUnusedMaterials *bool `json:"removeUnusedMaterials,omitempty" yaml:"removeUnusedMaterials,omitempty"`
	RemoveUnusedTextures  *bool `json:"removeUnusedTextures,omitempty" yaml:"removeUnusedTextures,omitempty"`
}

func orTrue(v *bool) bool { return v == nil || *v }

// Stats reports the count deltas of the clean step.
type Stats struct {
	NodesRemoved     int `json:"nodesRemoved"`
	MaterialsRemoved int `json:"materialsRemoved"`
	TexturesRemoved  int `json:"texturesRemoved"`
}

// Apply removes unreferenced entities from the document.
//
// Parameters:
//   - doc: the document to prune in place
//   - opts: per-category switches
//
// Returns:
//   - *Stats: count deltas across the operation
//   - error: currently always nil
func Apply(doc *gltf.Document, opts Options) (*Stats, error) {
	p := &pruner{doc: doc, reachableNodes: make(map[*gltf.Node]bool)}
	p.markReachable()

	stats := &Stats{}

	if orTrue(opts.RemoveUnusedNodes) {
		stats.NodesRemoved = p.pruneEmptyLeaves()
	}
	p.pruneUnreachableMeshes()

	if orTrue(opts.RemoveUnusedMaterials) {
		stats.MaterialsRemoved = p.pruneMaterials()
	}
	if orTrue(opts.RemoveUnusedTextures) {
		stats.TexturesRemoved = p.pruneTextures()
	}
	p.pruneAccessors()

	doc.InvalidateRefs()
	return stats, nil
}

type pruner struct {
	doc            *gltf.Document
	reachableNodes map[*gltf.Node]bool
}

// markReachable walks the scene graph from the default scene (or all scenes
// when no default is set) and records every reachable node.
func (p *pruner) markReachable() {
	scenes := p.doc.Scenes
	if p.doc.DefaultScene != nil {
		scenes = []*gltf.Scene{p.doc.DefaultScene}
	}
	for _, s := range scenes {
		for _, n := range s.Nodes {
			p.markNode(n)
		}
	}
	// Skeleton and joint nodes stay reachable through their skins.
	for _, s := range p.doc.Skins {
		if s.Skeleton != nil {
			p.markNode(s.Skeleton)
		}
		for _, j := range s.Joints {
			p.markNode(j)
		}
	}
}

func (p *pruner) markNode(n *gltf.Node) {
	if p.reachableNodes[n] {
		return
	}
	p.reachableNodes[n] = true
	for _, c := range n.Children {
		p.markNode(c)
	}
}

// pruneEmptyLeaves drops reachable nodes that carry no mesh, camera, skin or
// extension payload and whose entire subtree is equally empty, plus all
// unreachable nodes.
func (p *pruner) pruneEmptyLeaves() int {
	removed := 0

	// Repeat until fixpoint: removing a leaf can empty its parent.
	for {
		var victims []*gltf.Node
		for _, n := range p.doc.Nodes {
			if !p.reachableNodes[n] {
				victims = append(victims, n)
				continue
			}
			if len(n.Children) == 0 && p.nodeIsEmpty(n) && !p.isAnimated(n) {
				victims = append(victims, n)
			}
		}
		if len(victims) == 0 {
			return removed
		}
		for _, n := range victims {
			p.doc.RemoveNode(n)
			delete(p.reachableNodes, n)
			removed++
		}
	}
}

func (p *pruner) nodeIsEmpty(n *gltf.Node) bool {
	return n.Mesh == nil && n.Camera == nil && n.Skin == nil && len(n.Extensions) == 0 && !p.isJoint(n)
}

func (p *pruner) isJoint(n *gltf.Node) bool {
	for _, s := range p.doc.Skins {
		if s.Skeleton == n {
			return true
		}
		for _, j := range s.Joints {
			if j == n {
				return true
			}
		}
	}
	return false
}

func (p *pruner) isAnimated(n *gltf.Node) bool {
	for _, a := range p.doc.Animations {
		for i := range a.Channels {
			if a.Channels[i].Target.Node == n {
				return true
			}
		}
	}
	return false
}

// pruneUnreachableMeshes drops meshes no surviving node references, which
// unblocks the material and accessor passes below.
func (p *pruner) pruneUnreachableMeshes() {
	used := make(map[*gltf.Mesh]bool)
	for _, n := range p.doc.Nodes {
		if n.Mesh != nil {
			used[n.Mesh] = true
		}
	}
	var victims []*gltf.Mesh
	for _, m := range p.doc.Meshes {
		if !used[m] {
			victims = append(victims, m)
		}
	}
	for _, m := range victims {
		p.doc.RemoveMesh(m)
	}
}

func (p *pruner) pruneMaterials() int {
	used := make(map[*gltf.Material]bool)
	for _, prim := range p.doc.Primitives() {
		if prim.Material != nil {
			used[prim.Material] = true
		}
	}
	var victims []*gltf.Material
	for _, m := range p.doc.Materials {
		if !used[m] {
			victims = append(victims, m)
		}
	}
	for _, m := range victims {
		p.doc.RemoveMaterial(m)
	}
	return len(victims)
}

func (p *pruner) pruneTextures() int {
	used := make(map[*gltf.Texture]bool)
	for _, m := range p.doc.Materials {
		for _, slot := range gltf.TextureSlots {
			if ref := m.SlotRef(slot); ref != nil && ref.Texture != nil {
				used[ref.Texture] = true
			}
		}
	}
	var victims []*gltf.Texture
	for _, t := range p.doc.Textures {
		if !used[t] {
			victims = append(victims, t)
		}
	}
	for _, t := range victims {
		p.doc.RemoveTexture(t)
	}
	return len(victims)
}

// pruneAccessors drops accessors that no primitive, skin or animation
// references. Runs unconditionally: the buffer is rebuilt from surviving
// accessors at write time, so this also guarantees no unreferenced buffer
// space survives.
func (p *pruner) pruneAccessors() {
	p.doc.InvalidateRefs()
	var victims []*gltf.Accessor
	for _, a := range p.doc.Accessors {
		if p.doc.RefCount(a) == 0 {
			victims = append(victims, a)
		}
	}
	for _, a := range victims {
		p.doc.RemoveAccessor(a)
	}
}
