// Package hnsw implements a Hierarchical Navigable Small World graph index
// over contiguous integer node indices. Nodes are never addressed by string
// id inside this package — the id↔index mapping is the Collection's
// responsibility (SPEC_FULL.md §4.8); this package only ever sees uint32
// node indices, sized so the index itself stays ignorant of vector identity.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/distance"
)

// Config holds the tunable HNSW parameters (SPEC_FULL.md §4.5).
type Config struct {
	Dimension      int
	M              int // target degree on upper layers; M0 = 2M on layer 0
	EfConstruction int
	EfSearch       int
	Kernel         distance.Kernel
	Seed           int64
	HasSeed        bool
}

type node struct {
	mu        sync.RWMutex
	vector    []float32
	neighbors [][]uint32 // neighbors[layer] = neighbor indices at that layer
	layer     int
	deleted   bool
}

// Index is a single collection's HNSW graph. All exported methods are safe
// for concurrent use; see SPEC_FULL.md §5 for the exact locking contract.
type Index struct {
	dimension      int
	m              int
	m0             int
	efConstruction int
	efSearchDefault int
	kernel         distance.Kernel

	coarse        sync.RWMutex // guards entryPoint/maxLayer/nodes slice header
	nodes         []*node
	entryPoint    uint32
	hasEntryPoint bool
	maxLayer      int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs an empty index.
func New(cfg Config) *Index {
	kernel := cfg.Kernel
	if kernel == nil {
		kernel = distance.CosineDistance
	}
	seed := cfg.Seed
	if !cfg.HasSeed {
		seed = time.Now().UnixNano()
	}
	return &Index{
		dimension:       cfg.Dimension,
		m:               cfg.M,
		m0:              cfg.M * 2,
		efConstruction:  cfg.EfConstruction,
		efSearchDefault: cfg.EfSearch,
		kernel:          kernel,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Len returns the total number of node slots, including tombstoned ones.
func (idx *Index) Len() int {
	idx.coarse.RLock()
	defer idx.coarse.RUnlock()
	return len(idx.nodes)
}

// drawLevel implements the spec's exact inverse-transform level assignment:
// ℓ = ⌊−ln(U(0,1)) · (1/ln(M))⌋, deterministic under the index's seed.
func (idx *Index) drawLevel() int {
	idx.rngMu.Lock()
	u := idx.rng.Float64()
	idx.rngMu.Unlock()

	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	m := float64(idx.m)
	if m < 2 {
		m = 2
	}
	level := int(math.Floor(-math.Log(u) * (1.0 / math.Log(m))))
	if level < 0 {
		level = 0
	}
	return level
}

// Insert adds vector to the graph and returns its assigned node index.
func (idx *Index) Insert(vector []float32) (uint32, error) {
	const op = "hnsw.insert"
	if len(vector) != idx.dimension {
		return 0, vectorerr.Newf(op, vectorerr.DimensionMismatch, "vector dimension %d doesn't match index dimension %d", len(vector), idx.dimension)
	}

	level := idx.drawLevel()
	n := &node{
		vector:    append([]float32(nil), vector...),
		neighbors: make([][]uint32, level+1),
		layer:     level,
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]uint32, 0, idx.m)
	}

	idx.coarse.Lock()
	newIndex := uint32(len(idx.nodes))
	idx.nodes = append(idx.nodes, n)
	if !idx.hasEntryPoint {
		idx.entryPoint = newIndex
		idx.hasEntryPoint = true
		idx.maxLayer = level
		idx.coarse.Unlock()
		return newIndex, nil
	}
	entryPoint := idx.entryPoint
	maxLayer := idx.maxLayer
	idx.coarse.Unlock()

	current := []uint32{entryPoint}
	for l := maxLayer; l > level; l-- {
		current = idx.searchLayerClosest(vector, current, 1, l)
	}

	for l := minInt(level, maxLayer); l >= 0; l-- {
		cap := idx.m
		if l == 0 {
			cap = idx.m0
		}

		candidates := idx.searchLayer(vector, current, idx.efConstruction, l)
		selected := idx.selectNeighborsDiversity(vector, candidates, cap)

		n.mu.Lock()
		n.neighbors[l] = selected
		n.mu.Unlock()

		for _, nb := range selected {
			idx.addBackEdge(nb, newIndex, l, cap)
		}

		if len(selected) > 0 {
			current = selected
		}
	}

	if level > maxLayer {
		idx.coarse.Lock()
		if level > idx.maxLayer {
			idx.maxLayer = level
			idx.entryPoint = newIndex
		}
		idx.coarse.Unlock()
	}

	return newIndex, nil
}

func (idx *Index) addBackEdge(to, from uint32, layer, cap int) {
	target := idx.nodeAt(to)
	if target == nil {
		return
	}

	target.mu.Lock()
	if layer >= len(target.neighbors) {
		target.mu.Unlock()
		return
	}
	for _, existing := range target.neighbors[layer] {
		if existing == from {
			target.mu.Unlock()
			return
		}
	}
	target.neighbors[layer] = append(target.neighbors[layer], from)
	overCapacity := len(target.neighbors[layer]) > cap
	vec := append([]float32(nil), target.vector...)
	candidateNeighbors := append([]uint32(nil), target.neighbors[layer]...)
	target.mu.Unlock()

	if !overCapacity {
		return
	}

	items := make([]candidate, 0, len(candidateNeighbors))
	for _, c := range candidateNeighbors {
		items = append(items, candidate{index: c, dist: idx.distanceTo(vec, c)})
	}
	pruned := idx.selectNeighborsDiversity(vec, items, cap)

	target.mu.Lock()
	target.neighbors[layer] = pruned
	target.mu.Unlock()
}

func (idx *Index) nodeAt(i uint32) *node {
	idx.coarse.RLock()
	defer idx.coarse.RUnlock()
	if int(i) >= len(idx.nodes) {
		return nil
	}
	return idx.nodes[i]
}

func (idx *Index) vectorAt(i uint32) []float32 {
	n := idx.nodeAt(i)
	if n == nil {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.vector
}

func (idx *Index) distanceTo(query []float32, i uint32) float32 {
	vec := idx.vectorAt(i)
	if vec == nil {
		return float32(math.MaxFloat32)
	}
	return idx.kernel(query, vec)
}

type candidate struct {
	index uint32
	dist  float32
}

// searchLayerClosest returns the closest num candidates to query in layer,
// starting the beam from entryPoints.
func (idx *Index) searchLayerClosest(query []float32, entryPoints []uint32, num, layer int) []uint32 {
	candidates := idx.searchLayer(query, entryPoints, num, layer)
	ids := make([]uint32, len(candidates))
	for i, c := range candidates {
		ids[i] = c.index
	}
	return ids
}

// searchLayer runs the bounded best-first beam search described in
// SPEC_FULL.md §4.5: a min-heap of unexpanded candidates and a max-heap
// (capped at ef) of the current best results, expanding until the closest
// unexpanded candidate is no better than the worst kept result.
func (idx *Index) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []candidate {
	visited := make(map[uint32]bool, ef*2)
	candidates := &minHeap{}
	results := &maxHeap{}

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		d := idx.distanceTo(query, ep)
		heap.Push(candidates, heapItem{index: ep, dist: d})
		heap.Push(results, heapItem{index: ep, dist: d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(heapItem)

		if results.Len() > 0 {
			worst := (*results)[0]
			if c.dist > worst.dist || (c.dist == worst.dist && c.index > worst.index) {
				if results.Len() >= ef {
					break
				}
			}
		}

		n := idx.nodeAt(c.index)
		if n == nil {
			continue
		}
		n.mu.RLock()
		var neighbors []uint32
		if layer < len(n.neighbors) {
			neighbors = append([]uint32(nil), n.neighbors[layer]...)
		}
		n.mu.RUnlock()

		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := idx.distanceTo(query, nb)

			if results.Len() < ef {
				heap.Push(candidates, heapItem{index: nb, dist: d})
				heap.Push(results, heapItem{index: nb, dist: d})
			} else if worst := (*results)[0]; d < worst.dist || (d == worst.dist && nb < worst.index) {
				heap.Push(candidates, heapItem{index: nb, dist: d})
				heap.Push(results, heapItem{index: nb, dist: d})
				heap.Pop(results)
			}
		}
	}

	out := make([]candidate, 0, results.Len())
	for results.Len() > 0 {
		item := heap.Pop(results).(heapItem)
		out = append(out, candidate{index: item.index, dist: item.dist})
	}
	// results pops worst-first (max-heap); reverse for closest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// selectNeighborsDiversity implements the spec's diversity heuristic: a
// candidate c is kept only if no already-selected neighbor is strictly
// closer to c than the query is.
func (idx *Index) selectNeighborsDiversity(query []float32, candidates []candidate, m int) []uint32 {
	sorted := append([]candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].dist != sorted[j].dist {
			return sorted[i].dist < sorted[j].dist
		}
		return sorted[i].index < sorted[j].index
	})

	selected := make([]candidate, 0, m)
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		cVec := idx.vectorAt(c.index)
		keep := true
		for _, s := range selected {
			sVec := idx.vectorAt(s.index)
			if sVec == nil || cVec == nil {
				continue
			}
			if idx.kernel(sVec, cVec) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		}
	}

	ids := make([]uint32, len(selected))
	for i, s := range selected {
		ids[i] = s.index
	}
	return ids
}

// SearchResult is one ranked neighbor.
type SearchResult struct {
	Index    uint32
	Distance float32
}

// Search returns the k nearest live (non-tombstoned) neighbors of query.
func (idx *Index) Search(query []float32, k, efSearch int) ([]SearchResult, error) {
	const op = "hnsw.search"
	if len(query) != idx.dimension {
		return nil, vectorerr.Newf(op, vectorerr.DimensionMismatch, "query dimension %d doesn't match index dimension %d", len(query), idx.dimension)
	}
	if efSearch <= 0 {
		efSearch = idx.efSearchDefault
	}
	if efSearch < k {
		efSearch = k
	}

	idx.coarse.RLock()
	hasEntry := idx.hasEntryPoint
	entryPoint := idx.entryPoint
	maxLayer := idx.maxLayer
	idx.coarse.RUnlock()

	if !hasEntry {
		return nil, nil
	}

	current := []uint32{entryPoint}
	for l := maxLayer; l > 0; l-- {
		current = idx.searchLayerClosest(query, current, 1, l)
	}

	candidates := idx.searchLayer(query, current, efSearch, 0)

	results := make([]SearchResult, 0, k)
	for _, c := range candidates {
		n := idx.nodeAt(c.index)
		if n == nil {
			continue
		}
		n.mu.RLock()
		deleted := n.deleted
		n.mu.RUnlock()
		if deleted {
			continue
		}
		results = append(results, SearchResult{Index: c.index, Distance: c.dist})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete tombstones a node; it remains in the graph for traversal but is
// skipped by Search.
func (idx *Index) Delete(i uint32) error {
	n := idx.nodeAt(i)
	if n == nil {
		return vectorerr.Newf("hnsw.delete", vectorerr.NotFound, "node index %d not found", i)
	}
	n.mu.Lock()
	n.deleted = true
	n.mu.Unlock()
	return nil
}

// IsDeleted reports whether node i carries a tombstone.
func (idx *Index) IsDeleted(i uint32) bool {
	n := idx.nodeAt(i)
	if n == nil {
		return true
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.deleted
}

// Vector returns a copy of the raw vector stored at node index i.
func (idx *Index) Vector(i uint32) ([]float32, bool) {
	n := idx.nodeAt(i)
	if n == nil {
		return nil, false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]float32(nil), n.vector...), true
}

// Compact rebuilds the graph with tombstoned nodes removed, reassigning
// indices sequentially in original order. It returns a map from old index to
// new index for every retained node; the caller (Collection) must update its
// id↔index mapping accordingly. Resolves the compaction remapping Open
// Question in favor of always reassigning indices rather than leaving holes.
func (idx *Index) Compact() (*Index, map[uint32]uint32, error) {
	idx.coarse.RLock()
	oldNodes := idx.nodes
	idx.coarse.RUnlock()

	fresh := New(Config{
		Dimension:       idx.dimension,
		M:               idx.m,
		EfConstruction:  idx.efConstruction,
		EfSearch:        idx.efSearchDefault,
		Kernel:          idx.kernel,
		Seed:            idx.rng.Int63(),
		HasSeed:         true,
	})

	remap := make(map[uint32]uint32)
	for oldIdx, n := range oldNodes {
		n.mu.RLock()
		deleted := n.deleted
		vec := append([]float32(nil), n.vector...)
		n.mu.RUnlock()
		if deleted {
			continue
		}
		newIdx, err := fresh.Insert(vec)
		if err != nil {
			return nil, nil, vectorerr.Wrap("hnsw.compact", vectorerr.Internal, err)
		}
		remap[uint32(oldIdx)] = newIdx
	}

	return fresh, remap, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
