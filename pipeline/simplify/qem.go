package simplify

import (
	"container/heap"
	"math"
)

// quadric is a symmetric 4x4 error matrix stored as its 10 unique
// coefficients: [a², ab, ac, ad, b², bc, bd, c², cd, d²] for the plane
// ax + by + cz + d = 0.
type quadric [10]float64

func (q *quadric) add(o *quadric) {
	for i := range q {
		q[i] += o[i]
	}
}

// addPlane accumulates the squared-distance quadric of a plane with the given
// area weight.
func (q *quadric) addPlane(a, b, c, d, w float64) {
	q[0] += w * a * a
	q[1] += w * a * b
	q[2] += w * a * c
	q[3] += w * a * d
	q[4] += w * b * b
	q[5] += w * b * c
	q[6] += w * b * d
	q[7] += w * c * c
	q[8] += w * c * d
	q[9] += w * d * d
}

// eval computes vᵀQv, the accumulated squared distance of point v to the
// planes folded into the quadric.
func (q *quadric) eval(x, y, z float64) float64 {
	return q[0]*x*x + 2*q[1]*x*y + 2*q[2]*x*z + 2*q[3]*x +
		q[4]*y*y + 2*q[5]*y*z + 2*q[6]*y +
		q[7]*z*z + 2*q[8]*z +
		q[9]
}

// collapse is a candidate edge collapse from → to, evaluated at the position
// of to. Stale entries are filtered with per-vertex generation counters.
type collapse struct {
	from, to uint32
	cost     float64
	fromGen  uint32
	toGen    uint32
}

type collapseHeap []collapse

func (h collapseHeap) Len() int            { return len(h) }
func (h collapseHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h collapseHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *collapseHeap) Push(x any)         { *h = append(*h, x.(collapse)) }
func (h *collapseHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// simplifier holds the working state of one primitive's edge-collapse run.
type simplifier struct {
	positions []float32 // original flat xyz
	tris      [][3]uint32
	liveTris  int

	quadrics []quadric
	parent   []uint32 // union-find over welded vertex ids
	gen      []uint32 // bumped on every collapse touching the vertex
	locked   []bool
	adjacent map[uint32]map[uint32]bool // vertex -> neighbor set
	vertTris map[uint32][]int           // vertex -> incident triangle indices

	pq collapseHeap
}

// simplifyIndices collapses edges until the welded triangle list reaches
// targetTris or no collapse stays under maxError (a squared distance).
//
// Parameters:
//   - positions: flat xyz positions, indexed by welded ids
//   - indices: welded triangle indices
//   - targetTris: the triangle budget
//   - maxError: the squared-distance error ceiling per collapse
//   - lockBorder: when true, vertices on open boundary edges never move
//
// Returns:
//   - []uint32: the simplified triangle indices (welded id space)
func simplifyIndices(positions []float32, indices []uint32, targetTris int, maxError float64, lockBorder bool) []uint32 {
	n := len(positions) / 3
	s := &simplifier{
		positions: positions,
		quadrics:  make([]quadric, n),
		parent:    make([]uint32, n),
		gen:       make([]uint32, n),
		locked:    make([]bool, n),
		adjacent:  make(map[uint32]map[uint32]bool),
		vertTris:  make(map[uint32][]int),
	}
	for i := range s.parent {
		s.parent[i] = uint32(i)
	}

	s.buildTopology(indices, lockBorder)
	s.seedCandidates()

	for s.liveTris > targetTris && s.pq.Len() > 0 {
		c := heap.Pop(&s.pq).(collapse)

		from, to := s.find(c.from), s.find(c.to)
		if from != c.from || to != c.to || from == to {
			continue // stale: one endpoint was already collapsed away
		}
		if c.fromGen != s.gen[from] || c.toGen != s.gen[to] {
			continue // stale: neighborhood changed since the push
		}
		if c.cost > maxError {
			break // every remaining candidate is at least this bad
		}
		s.doCollapse(from, to)
	}

	return s.collectIndices()
}

func (s *simplifier) find(v uint32) uint32 {
	for s.parent[v] != v {
		s.parent[v] = s.parent[s.parent[v]]
		v = s.parent[v]
	}
	return v
}

// buildTopology accumulates face quadrics, the adjacency sets and, when
// border locking is requested, the boundary vertex marks.
func (s *simplifier) buildTopology(indices []uint32, lockBorder bool) {
	edgeFaces := make(map[[2]uint32]int)

	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if a == b || b == c || a == c {
			continue
		}
		triIdx := len(s.tris)
		s.tris = append(s.tris, [3]uint32{a, b, c})
		s.liveTris++
		s.vertTris[a] = append(s.vertTris[a], triIdx)
		s.vertTris[b] = append(s.vertTris[b], triIdx)
		s.vertTris[c] = append(s.vertTris[c], triIdx)

		s.addFaceQuadric(a, b, c)

		for _, e := range [][2]uint32{{a, b}, {b, c}, {c, a}} {
			s.link(e[0], e[1])
			if lockBorder {
				edgeFaces[orderedEdge(e[0], e[1])]++
			}
		}
	}

	if lockBorder {
		for e, count := range edgeFaces {
			if count == 1 {
				s.locked[e[0]] = true
				s.locked[e[1]] = true
			}
		}
	}
}

func orderedEdge(a, b uint32) [2]uint32 {
	if a > b {
		return [2]uint32{b, a}
	}
	return [2]uint32{a, b}
}

func (s *simplifier) link(a, b uint32) {
	if s.adjacent[a] == nil {
		s.adjacent[a] = make(map[uint32]bool)
	}
	if s.adjacent[b] == nil {
		s.adjacent[b] = make(map[uint32]bool)
	}
	s.adjacent[a][b] = true
	s.adjacent[b][a] = true
}

func (s *simplifier) addFaceQuadric(a, b, c uint32) {
	ax, ay, az := s.pos(a)
	bx, by, bz := s.pos(b)
	cx, cy, cz := s.pos(c)

	// Plane normal from the cross product of two edges.
	ux, uy, uz := bx-ax, by-ay, bz-az
	vx, vy, vz := cx-ax, cy-ay, cz-az
	nx := uy*vz - uz*vy
	ny := uz*vx - ux*vz
	nz := ux*vy - uy*vx

	area2 := nx*nx + ny*ny + nz*nz
	if area2 < 1e-30 {
		return
	}
	invLen := 1.0 / sqrt(area2)
	nx *= invLen
	ny *= invLen
	nz *= invLen
	d := -(nx*ax + ny*ay + nz*az)
	w := sqrt(area2) * 0.5 // triangle area

	var q quadric
	q.addPlane(nx, ny, nz, d, w)
	s.quadrics[a].add(&q)
	s.quadrics[b].add(&q)
	s.quadrics[c].add(&q)
}

func (s *simplifier) pos(v uint32) (float64, float64, float64) {
	return float64(s.positions[v*3]), float64(s.positions[v*3+1]), float64(s.positions[v*3+2])
}

// seedCandidates pushes both collapse directions of every edge.
func (s *simplifier) seedCandidates() {
	heap.Init(&s.pq)
	for a, neighbors := range s.adjacent {
		for b := range neighbors {
			if a < b {
				s.pushCandidate(a, b)
				s.pushCandidate(b, a)
			}
		}
	}
}

// pushCandidate enqueues the collapse from → to if from is movable.
func (s *simplifier) pushCandidate(from, to uint32) {
	if s.locked[from] {
		return
	}
	x, y, z := s.pos(to)
	q := s.quadrics[from]
	q.add(&s.quadrics[to])
	heap.Push(&s.pq, collapse{
		from:    from,
		to:      to,
		cost:    q.eval(x, y, z),
		fromGen: s.gen[from],
		toGen:   s.gen[to],
	})
}

// doCollapse merges from into to, retiring degenerate triangles and
// refreshing the candidate queue around the merged vertex.
func (s *simplifier) doCollapse(from, to uint32) {
	s.parent[from] = to
	s.quadrics[to].add(&s.quadrics[from])
	s.gen[from]++
	s.gen[to]++

	// Merge adjacency around the surviving vertex.
	for n := range s.adjacent[from] {
		rep := s.find(n)
		if rep == to {
			continue
		}
		s.link(to, rep)
		s.gen[rep]++
	}
	delete(s.adjacent, from)
	delete(s.adjacent[to], from)

	// Only triangles incident to the collapsed vertex can degenerate.
	for _, i := range s.vertTris[from] {
		t := &s.tris[i]
		if t[0] == retiredSentinel {
			continue
		}
		a, b, c := s.find(t[0]), s.find(t[1]), s.find(t[2])
		if a == b || b == c || a == c {
			t[0] = retiredSentinel
			s.liveTris--
			continue
		}
		s.vertTris[to] = append(s.vertTris[to], i)
	}
	delete(s.vertTris, from)

	for n := range s.adjacent[to] {
		rep := s.find(n)
		if rep == to {
			continue
		}
		s.pushCandidate(to, rep)
		s.pushCandidate(rep, to)
	}
}

const retiredSentinel = ^uint32(0)

// collectIndices emits the surviving triangles in welded-id space.
func (s *simplifier) collectIndices() []uint32 {
	out := make([]uint32, 0, s.liveTris*3)
	for _, t := range s.tris {
		if t[0] == retiredSentinel {
			continue
		}
		a, b, c := s.find(t[0]), s.find(t[1]), s.find(t[2])
		if a == b || b == c || a == c {
			continue
		}
		out = append(out, a, b, c)
	}
	return out
}

func sqrt(v float64) float64 { return math.Sqrt(v) }
