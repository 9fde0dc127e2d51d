package sharding

import (
	"context"
	"testing"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

type fakeShard struct {
	id      int
	vectors map[string]vectortypes.Vector
}

func newFakeShard(id int) *fakeShard {
	return &fakeShard{id: id, vectors: make(map[string]vectortypes.Vector)}
}

func (f *fakeShard) Upsert(_ context.Context, v vectortypes.Vector) error {
	f.vectors[v.ID] = v
	return nil
}

func (f *fakeShard) Delete(_ context.Context, id string) error {
	delete(f.vectors, id)
	return nil
}

func (f *fakeShard) Get(_ context.Context, id string) (vectortypes.Vector, error) {
	v, ok := f.vectors[id]
	if !ok {
		return vectortypes.Vector{}, vectorerr.New("fake.get", vectorerr.NotFound, "not found")
	}
	return v, nil
}

func (f *fakeShard) Search(_ context.Context, _ []float32, k int) ([]vectortypes.ScoredVector, error) {
	var out []vectortypes.ScoredVector
	for id := range f.vectors {
		out = append(out, vectortypes.ScoredVector{ID: id, Score: float32(f.id) + 0.1})
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeShard) Count() int { return len(f.vectors) }

func (f *fakeShard) AllVectors(_ context.Context) ([]vectortypes.Vector, error) {
	out := make([]vectortypes.Vector, 0, len(f.vectors))
	for _, v := range f.vectors {
		out = append(out, v)
	}
	return out, nil
}

func newFakeSharded(t *testing.T, n int) (*Sharded, []*fakeShard) {
	t.Helper()
	shards := make([]Shard, n)
	fakes := make([]*fakeShard, n)
	for i := 0; i < n; i++ {
		fakes[i] = newFakeShard(i)
		shards[i] = fakes[i]
	}
	s, err := New(shards, 16)
	if err != nil {
		t.Fatalf("new sharded failed: %v", err)
	}
	return s, fakes
}

func TestUpsertGetDeleteRouteConsistently(t *testing.T) {
	s, _ := newFakeSharded(t, 4)
	ctx := context.Background()

	v := vectortypes.Vector{ID: "widget-1", Data: []float32{1, 2, 3}}
	if err := s.Upsert(ctx, v); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := s.Get(ctx, "widget-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != v.ID {
		t.Errorf("expected id %q, got %q", v.ID, got.ID)
	}

	if err := s.Delete(ctx, "widget-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "widget-1"); err == nil {
		t.Error("expected error getting deleted vector")
	}
}

func TestCountSumsAcrossShards(t *testing.T) {
	s, _ := newFakeSharded(t, 3)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		id := randomID(i)
		if err := s.Upsert(ctx, vectortypes.Vector{ID: id, Data: []float32{float32(i)}}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if s.Count() != 30 {
		t.Errorf("expected count 30, got %d", s.Count())
	}
}

func TestSearchMergesAcrossShards(t *testing.T) {
	s, _ := newFakeSharded(t, 3)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		id := randomID(i)
		if err := s.Upsert(ctx, vectortypes.Vector{ID: id, Data: []float32{float32(i)}}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	results, err := s.Search(ctx, []float32{0}, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected top-2 merged result, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("expected results sorted descending by score")
		}
	}
}

func TestShardCount(t *testing.T) {
	s, _ := newFakeSharded(t, 5)
	if s.ShardCount() != 5 {
		t.Errorf("expected 5 shards, got %d", s.ShardCount())
	}
}

func TestRebalanceRejectsThresholdOutOfRange(t *testing.T) {
	s, _ := newFakeSharded(t, 2)
	ctx := context.Background()
	if _, err := s.Rebalance(ctx, 0); err == nil {
		t.Error("expected error for threshold 0")
	}
	if _, err := s.Rebalance(ctx, 1); err == nil {
		t.Error("expected error for threshold 1")
	}
}

func TestRebalanceIsNoOpWhenNoShardIsHot(t *testing.T) {
	s, fakes := newFakeSharded(t, 2)
	// Populate directly (bypassing ring routing) with an exactly even split,
	// so no shard can be hot regardless of threshold.
	for i := 0; i < 20; i++ {
		fakes[i%2].vectors[randomID(i)] = vectortypes.Vector{ID: randomID(i), Data: []float32{float32(i)}}
	}

	report, err := s.Rebalance(context.Background(), 0.1)
	if err != nil {
		t.Fatalf("rebalance failed: %v", err)
	}
	if len(report.HotShards) != 0 || report.Moved != 0 {
		t.Errorf("expected no-op report, got %+v", report)
	}

	// Calling again changes nothing further — rebalance ∘ rebalance = rebalance.
	report2, err := s.Rebalance(context.Background(), 0.1)
	if err != nil {
		t.Fatalf("second rebalance failed: %v", err)
	}
	if len(report2.HotShards) != 0 || report2.Moved != 0 {
		t.Errorf("expected second no-op report, got %+v", report2)
	}
}

func TestRebalanceMovesVectorsOffHotShard(t *testing.T) {
	s, fakes := newFakeSharded(t, 2)
	// Populate directly (bypassing ring routing) with a heavily skewed split:
	// shard 0 gets everything, shard 1 starts empty.
	for i := 0; i < 40; i++ {
		id := randomID(i)
		fakes[0].vectors[id] = vectortypes.Vector{ID: id, Data: []float32{float32(i)}}
	}

	before := s.Count()
	report, err := s.Rebalance(context.Background(), 0.1)
	if err != nil {
		t.Fatalf("rebalance failed: %v", err)
	}
	if len(report.HotShards) == 0 {
		t.Fatal("expected shard 0 to be reported hot")
	}
	if report.Moved == 0 {
		t.Error("expected rebalance to move at least one vector off the hot shard")
	}
	if after := s.Count(); after != before {
		t.Errorf("rebalance must conserve the total vector count: before=%d after=%d", before, after)
	}

	meta := s.Meta()
	if len(meta) != 2 {
		t.Fatalf("expected 2 shard meta entries, got %d", len(meta))
	}
	for _, m := range meta {
		if m.LastRebalancedAt.IsZero() {
			t.Error("expected LastRebalancedAt to be set after a rebalance that moved vectors")
		}
	}
}
