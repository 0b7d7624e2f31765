package gltf

// refIndex is the lazily populated reverse index from entity to referrers.
// Reverse navigation ("who references this accessor?") is needed by the
// pruner and the sanitizer; forward pointers alone cannot answer it without a
// full walk per query. The index is dropped on any structural mutation and
// rebuilt on the next query.
type refIndex struct {
	refs map[any][]any
}

// InvalidateRefs drops the reverse index. Steps that restructure the entity
// graph call this after mutating; queries rebuild lazily.
func (d *Document) InvalidateRefs() {
	d.refs = nil
}

// Referrers returns the entities that reference e, excluding the document
// root itself. An accessor with no referrers may be disposed without
// affecting rendering.
func (d *Document) Referrers(e any) []any {
	if d.refs == nil {
		d.buildRefs()
	}
	return d.refs.refs[e]
}

// RefCount returns the number of non-root referrers of e.
func (d *Document) RefCount(e any) int {
	return len(d.Referrers(e))
}

func (d *Document) buildRefs() {
	idx := &refIndex{refs: make(map[any][]any)}
	add := func(target, referrer any) {
		if target == nil {
			return
		}
		idx.refs[target] = append(idx.refs[target], referrer)
	}

	for _, s := range d.Scenes {
		for _, n := range s.Nodes {
			add(n, s)
		}
	}

	for _, n := range d.Nodes {
		for _, c := range n.Children {
			add(c, n)
		}
		if n.Mesh != nil {
			add(n.Mesh, n)
		}
		if n.Skin != nil {
			add(n.Skin, n)
		}
		if n.Camera != nil {
			add(n.Camera, n)
		}
	}

	for _, m := range d.Meshes {
		for _, p := range m.Primitives {
			add(p, m)
			for _, a := range p.Attributes {
				add(a, p)
			}
			if p.Indices != nil {
				add(p.Indices, p)
			}
			if p.Material != nil {
				add(p.Material, p)
			}
		}
	}

	for _, m := range d.Materials {
		for _, slot := range TextureSlots {
			if ref := m.SlotRef(slot); ref != nil && ref.Texture != nil {
				add(ref.Texture, m)
			}
		}
	}

	for _, s := range d.Skins {
		if s.InverseBindMatrices != nil {
			add(s.InverseBindMatrices, s)
		}
		if s.Skeleton != nil {
			add(s.Skeleton, s)
		}
		for _, j := range s.Joints {
			add(j, s)
		}
	}

	for _, a := range d.Animations {
		for _, smp := range a.Samplers {
			add(smp, a)
			if smp.Input != nil {
				add(smp.Input, smp)
			}
			if smp.Output != nil {
				add(smp.Output, smp)
			}
		}
		for i := range a.Channels {
			ch := &a.Channels[i]
			if ch.Target.Node != nil {
				add(ch.Target.Node, a)
			}
		}
	}

	d.refs = idx
}
