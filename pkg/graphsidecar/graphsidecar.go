// Package graphsidecar implements the in-memory graph sidecar (C7):
// undirected-by-convention relationship tracking over a collection's ids,
// BFS relatedness/shortest-path queries, and HNSW-backed auto-discovery of
// edges. It is a rework of the teacher's SQL-backed pkg/graph into a plain
// adjacency structure, since the spec's graph sidecar has no need for a
// database round trip.
package graphsidecar

import (
	"sort"
	"sync"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// GraphNode is one node in the sidecar, keyed by the same id the owning
// collection uses for its vectors.
type GraphNode struct {
	ID         string
	Properties map[string]any
}

// GraphEdge is a directed edge; the graph is undirected by convention (both
// FindRelated and FindPath traverse it in both directions) but every edge
// still records which end it was inserted from.
type GraphEdge struct {
	ID         string
	From       string
	To         string
	EdgeType   string
	Weight     float64
	Properties map[string]any
}

// RelatedNode is one BFS result from FindRelated.
type RelatedNode struct {
	Node  GraphNode
	Hops  int
	Score float64 // 1 / (1 + hops)
}

// Path is the result of FindPath: the node and edge sequence connecting two
// nodes, in order.
type Path struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// SearchHit is one candidate returned by a Searcher, used for
// auto-discovery.
type SearchHit struct {
	ID    string
	Score float32
}

// Searcher is the subset of collection search a graph needs for
// auto-discovery; the collection supplies this so the sidecar never
// depends on the HNSW package directly.
type Searcher interface {
	Search(query []float32, k int) ([]SearchHit, error)
}

// Graph is an in-memory, concurrency-safe adjacency structure.
type Graph struct {
	mu sync.RWMutex

	nodes    map[string]GraphNode
	outEdges map[string]map[string]string // from -> to -> edge id
	inEdges  map[string]map[string]string // to -> from -> edge id (derived reverse view)
	edges    map[string]GraphEdge
}

// New constructs an empty graph sidecar.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]GraphNode),
		outEdges: make(map[string]map[string]string),
		inEdges:  make(map[string]map[string]string),
		edges:    make(map[string]GraphEdge),
	}
}

// UpsertNode inserts or replaces a node.
func (g *Graph) UpsertNode(node GraphNode) error {
	if node.ID == "" {
		return vectorerr.New("graphsidecar.upsert_node", vectorerr.InvalidArgument, "node id must not be empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.ID] = node
	return nil
}

// DeleteNode removes a node and every edge touching it.
func (g *Graph) DeleteNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)

	for to, edgeID := range g.outEdges[id] {
		delete(g.edges, edgeID)
		delete(g.inEdges[to], id)
	}
	delete(g.outEdges, id)

	for from, edgeID := range g.inEdges[id] {
		delete(g.edges, edgeID)
		delete(g.outEdges[from], id)
	}
	delete(g.inEdges, id)
}

// UpsertEdge inserts or replaces a directed edge. Both endpoints must
// already exist as nodes.
func (g *Graph) UpsertEdge(edge GraphEdge) error {
	const op = "graphsidecar.upsert_edge"
	if edge.ID == "" {
		return vectorerr.New(op, vectorerr.InvalidArgument, "edge id must not be empty")
	}
	if edge.From == "" || edge.To == "" {
		return vectorerr.New(op, vectorerr.InvalidArgument, "edge must name both endpoints")
	}
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.From]; !ok {
		return vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", edge.From)
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", edge.To)
	}

	g.edges[edge.ID] = edge
	if g.outEdges[edge.From] == nil {
		g.outEdges[edge.From] = make(map[string]string)
	}
	g.outEdges[edge.From][edge.To] = edge.ID
	if g.inEdges[edge.To] == nil {
		g.inEdges[edge.To] = make(map[string]string)
	}
	g.inEdges[edge.To][edge.From] = edge.ID
	return nil
}

// DeleteEdge removes one edge by id.
func (g *Graph) DeleteEdge(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.edges[id]
	if !ok {
		return
	}
	delete(g.edges, id)
	delete(g.outEdges[edge.From], edge.To)
	delete(g.inEdges[edge.To], edge.From)
}

// neighborsLocked returns every edge touching id in either direction that
// satisfies filter (nil means no filtering). Caller must hold g.mu.
func (g *Graph) neighborsLocked(id string, filter func(GraphEdge) bool) []GraphEdge {
	var out []GraphEdge
	for to, edgeID := range g.outEdges[id] {
		_ = to
		edge := g.edges[edgeID]
		if filter == nil || filter(edge) {
			out = append(out, edge)
		}
	}
	for from, edgeID := range g.inEdges[id] {
		_ = from
		edge := g.edges[edgeID]
		if filter == nil || filter(edge) {
			out = append(out, edge)
		}
	}
	return out
}

// FindRelated runs BFS up to depth hops from node, deduping by node id and
// scoring each result by 1/(1+hops).
func (g *Graph) FindRelated(node string, depth int, edgeFilter func(GraphEdge) bool) ([]RelatedNode, error) {
	const op = "graphsidecar.find_related"
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[node]; !ok {
		return nil, vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", node)
	}
	if depth <= 0 {
		return nil, nil
	}

	type queued struct {
		id   string
		hops int
	}
	visited := map[string]bool{node: true}
	queue := []queued{{node, 0}}
	var results []RelatedNode

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.hops >= depth {
			continue
		}

		for _, edge := range g.neighborsLocked(current.id, edgeFilter) {
			neighborID := edge.To
			if neighborID == current.id {
				neighborID = edge.From
			}
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			hops := current.hops + 1
			if n, ok := g.nodes[neighborID]; ok {
				results = append(results, RelatedNode{
					Node:  n,
					Hops:  hops,
					Score: 1.0 / float64(1+hops),
				})
			}
			queue = append(queue, queued{neighborID, hops})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	return results, nil
}

// FindPath runs BFS for the shortest path between from and to.
func (g *Graph) FindPath(from, to string) (*Path, error) {
	const op = "graphsidecar.find_path"
	g.mu.RLock()
	defer g.mu.RUnlock()

	fromNode, ok := g.nodes[from]
	if !ok {
		return nil, vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", to)
	}
	if from == to {
		return &Path{Nodes: []GraphNode{fromNode}}, nil
	}

	type queued struct {
		id        string
		nodePath  []string
		edgePath  []string
	}
	visited := map[string]bool{from: true}
	queue := []queued{{id: from, nodePath: []string{from}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.neighborsLocked(current.id, nil) {
			neighborID := edge.To
			if neighborID == current.id {
				neighborID = edge.From
			}
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			nodePath := append(append([]string{}, current.nodePath...), neighborID)
			edgePath := append(append([]string{}, current.edgePath...), edge.ID)

			if neighborID == to {
				result := &Path{
					Nodes: make([]GraphNode, 0, len(nodePath)),
					Edges: make([]GraphEdge, 0, len(edgePath)),
				}
				for _, id := range nodePath {
					result.Nodes = append(result.Nodes, g.nodes[id])
				}
				for _, id := range edgePath {
					result.Edges = append(result.Edges, g.edges[id])
				}
				return result, nil
			}

			queue = append(queue, queued{id: neighborID, nodePath: nodePath, edgePath: edgePath})
		}
	}

	return nil, vectorerr.Newf(op, vectorerr.NotFound, "no path from %q to %q", from, to)
}

// AutoDiscoverEdges runs auto-discovery for one node: issue an HNSW search
// with its vector, filter candidates above threshold, cap at maxPerNode,
// ignoring self and already-existing edges. Discovered edges are inserted
// with EdgeType "auto_discovered" and a deterministic id derived from the
// endpoint pair.
func (g *Graph) AutoDiscoverEdges(searcher Searcher, nodeID string, vector []float32, threshold float32, maxPerNode int) (int, error) {
	const op = "graphsidecar.auto_discover"
	if maxPerNode <= 0 {
		return 0, nil
	}

	// The search widens until maxPerNode edges are added or the index has no
	// more hits, so filtered candidates do not use up the cap.
	added := 0
	for fetch := maxPerNode + 1; added < maxPerNode; fetch *= 2 { // +1 to absorb a likely self-hit
		hits, err := searcher.Search(vector, fetch)
		if err != nil {
			return added, vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		g.mu.Lock()
		if _, ok := g.nodes[nodeID]; !ok {
			g.mu.Unlock()
			return added, vectorerr.Newf(op, vectorerr.NotFound, "node %q not found", nodeID)
		}
		for _, hit := range hits {
			if added >= maxPerNode {
				break
			}
			if hit.ID == nodeID || hit.Score < threshold {
				continue
			}
			if _, ok := g.nodes[hit.ID]; !ok {
				continue
			}
			if _, exists := g.outEdges[nodeID][hit.ID]; exists {
				continue
			}
			if _, exists := g.inEdges[nodeID][hit.ID]; exists {
				continue
			}

			edgeID := "auto:" + nodeID + ":" + hit.ID
			edge := GraphEdge{
				ID:       edgeID,
				From:     nodeID,
				To:       hit.ID,
				EdgeType: "auto_discovered",
				Weight:   float64(hit.Score),
			}
			g.edges[edge.ID] = edge
			if g.outEdges[edge.From] == nil {
				g.outEdges[edge.From] = make(map[string]string)
			}
			g.outEdges[edge.From][edge.To] = edge.ID
			if g.inEdges[edge.To] == nil {
				g.inEdges[edge.To] = make(map[string]string)
			}
			g.inEdges[edge.To][edge.From] = edge.ID
			added++
		}
		g.mu.Unlock()
		if len(hits) < fetch {
			break
		}
	}
	return added, nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns an edge by id.
func (g *Graph) Edge(id string) (GraphEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	return e, ok
}

// NodeCount returns the number of nodes currently tracked.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges currently tracked.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Nodes snapshots every tracked node, sorted by id, for the persistence
// layer to serialize.
func (g *Graph) Nodes() []GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]GraphNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Edges snapshots every tracked edge, sorted by id, for the persistence
// layer to serialize.
func (g *Graph) Edges() []GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := make([]GraphEdge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}
