package graphsidecar

import "testing"

func buildLineGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := g.UpsertNode(GraphNode{ID: id}); err != nil {
			t.Fatalf("upsert node %q failed: %v", id, err)
		}
	}
	edges := []GraphEdge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "c"},
		{ID: "e3", From: "c", To: "d"},
	}
	for _, e := range edges {
		if err := g.UpsertEdge(e); err != nil {
			t.Fatalf("upsert edge %q failed: %v", e.ID, err)
		}
	}
	return g
}

func TestUpsertEdgeRequiresExistingNodes(t *testing.T) {
	g := New()
	if err := g.UpsertNode(GraphNode{ID: "a"}); err != nil {
		t.Fatalf("upsert node failed: %v", err)
	}
	if err := g.UpsertEdge(GraphEdge{ID: "e1", From: "a", To: "missing"}); err == nil {
		t.Error("expected error for edge to nonexistent node")
	}
}

func TestFindRelatedScoresByInverseHopCount(t *testing.T) {
	g := buildLineGraph(t)
	related, err := g.FindRelated("a", 3, nil)
	if err != nil {
		t.Fatalf("find related failed: %v", err)
	}
	if len(related) != 3 {
		t.Fatalf("expected 3 related nodes, got %d", len(related))
	}
	if related[0].Node.ID != "b" || related[0].Hops != 1 {
		t.Errorf("expected b at hop 1 to rank first, got %+v", related[0])
	}
	if related[0].Score <= related[len(related)-1].Score {
		t.Error("expected closer nodes to score higher")
	}
}

func TestFindRelatedUndirectedTraversal(t *testing.T) {
	g := buildLineGraph(t)
	related, err := g.FindRelated("d", 1, nil)
	if err != nil {
		t.Fatalf("find related failed: %v", err)
	}
	if len(related) != 1 || related[0].Node.ID != "c" {
		t.Errorf("expected traversal to walk the reverse direction of c->d, got %+v", related)
	}
}

func TestFindRelatedDepthZeroReturnsNothing(t *testing.T) {
	g := buildLineGraph(t)
	related, err := g.FindRelated("a", 0, nil)
	if err != nil {
		t.Fatalf("find related failed: %v", err)
	}
	if len(related) != 0 {
		t.Errorf("expected no results at depth 0, got %d", len(related))
	}
}

func TestFindRelatedUnknownNode(t *testing.T) {
	g := New()
	if _, err := g.FindRelated("missing", 1, nil); err == nil {
		t.Error("expected error for unknown node")
	}
}

func TestFindPathShortestRoute(t *testing.T) {
	g := buildLineGraph(t)
	path, err := g.FindPath("a", "d")
	if err != nil {
		t.Fatalf("find path failed: %v", err)
	}
	if len(path.Nodes) != 4 {
		t.Fatalf("expected 4 nodes on path a->b->c->d, got %d", len(path.Nodes))
	}
	if len(path.Edges) != 3 {
		t.Fatalf("expected 3 edges on path, got %d", len(path.Edges))
	}
}

func TestFindPathSameNode(t *testing.T) {
	g := buildLineGraph(t)
	path, err := g.FindPath("a", "a")
	if err != nil {
		t.Fatalf("find path failed: %v", err)
	}
	if len(path.Nodes) != 1 || path.Nodes[0].ID != "a" {
		t.Errorf("expected single-node path, got %+v", path.Nodes)
	}
}

func TestFindPathNoRoute(t *testing.T) {
	g := New()
	if err := g.UpsertNode(GraphNode{ID: "x"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := g.UpsertNode(GraphNode{ID: "y"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := g.FindPath("x", "y"); err == nil {
		t.Error("expected error when no path exists")
	}
}

func TestDeleteNodeRemovesIncidentEdges(t *testing.T) {
	g := buildLineGraph(t)
	g.DeleteNode("b")
	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes remaining, got %d", g.NodeCount())
	}
	if _, ok := g.Edge("e1"); ok {
		t.Error("expected edge e1 (a->b) to be removed")
	}
	if _, ok := g.Edge("e2"); ok {
		t.Error("expected edge e2 (b->c) to be removed")
	}
}

type fakeSearcher struct {
	hits []SearchHit
}

func (f fakeSearcher) Search(query []float32, k int) ([]SearchHit, error) {
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func TestAutoDiscoverEdgesFiltersSelfAndThreshold(t *testing.T) {
	g := New()
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		if err := g.UpsertNode(GraphNode{ID: id}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	searcher := fakeSearcher{hits: []SearchHit{
		{ID: "n1", Score: 1.0}, // self, must be skipped
		{ID: "n2", Score: 0.9},
		{ID: "n3", Score: 0.1}, // below threshold
		{ID: "n4", Score: 0.8},
	}}

	added, err := g.AutoDiscoverEdges(searcher, "n1", []float32{1, 0}, 0.5, 2)
	if err != nil {
		t.Fatalf("auto discover failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 edges added, got %d", added)
	}
	if _, ok := g.Edge("auto:n1:n2"); !ok {
		t.Error("expected edge to n2 to be discovered")
	}
	if _, ok := g.Edge("auto:n1:n4"); !ok {
		t.Error("expected edge to n4 to be discovered")
	}
	if _, ok := g.Edge("auto:n1:n3"); ok {
		t.Error("expected n3 below threshold to be skipped")
	}
}

func TestAutoDiscoverEdgesSkipsExisting(t *testing.T) {
	g := New()
	for _, id := range []string{"n1", "n2"} {
		if err := g.UpsertNode(GraphNode{ID: id}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if err := g.UpsertEdge(GraphEdge{ID: "manual", From: "n1", To: "n2"}); err != nil {
		t.Fatalf("upsert edge failed: %v", err)
	}

	searcher := fakeSearcher{hits: []SearchHit{{ID: "n2", Score: 0.99}}}
	added, err := g.AutoDiscoverEdges(searcher, "n1", []float32{1, 0}, 0.5, 5)
	if err != nil {
		t.Fatalf("auto discover failed: %v", err)
	}
	if added != 0 {
		t.Errorf("expected 0 new edges since n1->n2 already exists, got %d", added)
	}
}

func TestNodesAndEdgesSnapshotSortedByID(t *testing.T) {
	g := buildLineGraph(t)
	nodes := g.Nodes()
	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}
	for i := 1; i < len(nodes); i++ {
		if nodes[i].ID < nodes[i-1].ID {
			t.Errorf("expected nodes sorted by id, got %v", nodes)
		}
	}

	edges := g.Edges()
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i].ID < edges[i-1].ID {
			t.Errorf("expected edges sorted by id, got %v", edges)
		}
	}
}
