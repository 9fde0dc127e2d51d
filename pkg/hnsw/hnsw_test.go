package hnsw

import (
	"math/rand"
	"testing"

	"github.com/liliang-cn/sqvect/v2/pkg/distance"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func newTestIndex(dim int) *Index {
	return New(Config{
		Dimension:      dim,
		M:              8,
		EfConstruction: 64,
		EfSearch:       32,
		Kernel:         distance.Euclidean,
		Seed:           1,
		HasSeed:        true,
	})
}

func TestInsertAssignsSequentialIndices(t *testing.T) {
	idx := newTestIndex(8)
	vectors := randomVectors(10, 8, 2)
	for i, v := range vectors {
		got, err := idx.Insert(v)
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		if got != uint32(i) {
			t.Errorf("expected index %d, got %d", i, got)
		}
	}
	if idx.Len() != 10 {
		t.Errorf("expected 10 nodes, got %d", idx.Len())
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	idx := newTestIndex(8)
	if _, err := idx.Insert(make([]float32, 4)); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestSearchFindsExactMatch(t *testing.T) {
	idx := newTestIndex(16)
	vectors := randomVectors(200, 16, 3)
	for _, v := range vectors {
		if _, err := idx.Insert(v); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	query := vectors[42]
	results, err := idx.Search(query, 5, 64)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Index != 42 {
		t.Errorf("expected exact match at index 42 to rank first, got %d (dist=%f)", results[0].Index, results[0].Distance)
	}
	if results[0].Distance > 1e-4 {
		t.Errorf("expected near-zero distance for exact match, got %f", results[0].Distance)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Error("results not sorted ascending by distance")
		}
	}
}

func TestSearchOnEmptyIndex(t *testing.T) {
	idx := newTestIndex(8)
	results, err := idx.Search(make([]float32, 8), 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results on empty index, got %d", len(results))
	}
}

func TestDeleteTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := newTestIndex(16)
	vectors := randomVectors(100, 16, 4)
	for _, v := range vectors {
		if _, err := idx.Insert(v); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	target := uint32(7)
	if err := idx.Delete(target); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !idx.IsDeleted(target) {
		t.Error("expected node to be tombstoned")
	}

	results, err := idx.Search(vectors[7], 100, 128)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.Index == target {
			t.Error("deleted node should not appear in search results")
		}
	}
}

func TestDeleteUnknownIndex(t *testing.T) {
	idx := newTestIndex(8)
	if err := idx.Delete(99); err == nil {
		t.Error("expected error deleting out-of-range index")
	}
}

func TestCompactRemovesTombstonesAndRemaps(t *testing.T) {
	idx := newTestIndex(8)
	vectors := randomVectors(20, 8, 5)
	for _, v := range vectors {
		if _, err := idx.Insert(v); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	for _, victim := range []uint32{2, 5, 11} {
		if err := idx.Delete(victim); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
	}

	fresh, remap, err := idx.Compact()
	if err != nil {
		t.Fatalf("compact failed: %v", err)
	}
	if fresh.Len() != 17 {
		t.Errorf("expected 17 live nodes after compaction, got %d", fresh.Len())
	}
	if len(remap) != 17 {
		t.Errorf("expected remap for 17 retained nodes, got %d", len(remap))
	}
	for old := range remap {
		if old == 2 || old == 5 || old == 11 {
			t.Errorf("tombstoned index %d should not appear in remap", old)
		}
	}

	newIdx, ok := remap[0]
	if !ok {
		t.Fatal("expected old index 0 to survive compaction")
	}
	retained, ok := fresh.Vector(newIdx)
	if !ok {
		t.Fatal("expected vector to exist in compacted index")
	}
	for i, v := range vectors[0] {
		if retained[i] != v {
			t.Errorf("compacted vector mismatch at dim %d: got %f want %f", i, retained[i], v)
		}
	}
}

func TestDrawLevelIsDeterministicUnderSeed(t *testing.T) {
	a := newTestIndex(4)
	b := newTestIndex(4)
	vectors := randomVectors(30, 4, 9)

	var aLevels, bLevels []int
	for _, v := range vectors {
		idxA, _ := a.Insert(v)
		aLevels = append(aLevels, a.nodeAt(idxA).layer)
	}
	for _, v := range vectors {
		idxB, _ := b.Insert(v)
		bLevels = append(bLevels, b.nodeAt(idxB).layer)
	}

	for i := range aLevels {
		if aLevels[i] != bLevels[i] {
			t.Fatalf("same seed should reproduce the same level draw at %d: %d vs %d", i, aLevels[i], bLevels[i])
		}
	}
}
