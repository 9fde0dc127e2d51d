package sharding

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

// Shard is the subset of a collection's API the sharded wrapper needs. A
// real *collection.Collection satisfies this without modification; it is
// expressed as an interface here so pkg/sharding never imports
// pkg/collection, avoiding an import cycle.
type Shard interface {
	Upsert(ctx context.Context, v vectortypes.Vector) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (vectortypes.Vector, error)
	Search(ctx context.Context, query []float32, k int) ([]vectortypes.ScoredVector, error)
	Count() int
	// AllVectors returns every live vector, used by Rebalance to re-hash ids
	// under a reweighted ring.
	AllVectors(ctx context.Context) ([]vectortypes.Vector, error)
}

// ShardMeta is the per-shard bookkeeping record: vector_count and
// virtual_node_tokens are refreshed on every Rebalance call (including
// no-op ones), last_rebalanced_at stays zero until Rebalance first runs.
type ShardMeta struct {
	ShardID           int
	VectorCount       int
	LastRebalancedAt  time.Time
	VirtualNodeTokens int
}

// RebalanceReport summarizes the effect of one Rebalance call.
type RebalanceReport struct {
	HotShards []int
	Moved     int
}

// Sharded fans point operations out to one of ShardCount independent Shard
// instances by consistent-hash routing on id, and fans search/count out to
// all shards. The ring is immutable between rebalances: Rebalance builds a
// new one and atomically swaps it in rather than mutating routing state in
// place.
type Sharded struct {
	shards               []Shard
	virtualNodesPerShard int
	ring                 atomic.Pointer[Ring]

	metaMu sync.Mutex
	meta   []ShardMeta
}

// New wraps an already-constructed slice of shards (one per ring shard
// index) with consistent-hash routing.
func New(shards []Shard, virtualNodesPerShard int) (*Sharded, error) {
	const op = "sharding.new"
	if len(shards) == 0 {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "at least one shard is required")
	}
	ring, err := NewRing(len(shards), virtualNodesPerShard)
	if err != nil {
		return nil, err
	}

	s := &Sharded{shards: shards, virtualNodesPerShard: virtualNodesPerShard}
	s.ring.Store(ring)

	meta := make([]ShardMeta, len(shards))
	for i, shard := range shards {
		meta[i] = ShardMeta{ShardID: i, VectorCount: shard.Count(), VirtualNodeTokens: virtualNodesPerShard}
	}
	s.meta = meta
	return s, nil
}

func (s *Sharded) shardFor(id string) Shard {
	return s.shards[s.ring.Load().Route(id)]
}

// Meta returns a snapshot of every shard's bookkeeping record.
func (s *Sharded) Meta() []ShardMeta {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	out := make([]ShardMeta, len(s.meta))
	copy(out, s.meta)
	return out
}

// Rebalance detects shards whose vector count exceeds (1+threshold) times
// the per-shard average, shifts virtual-node weight away from them onto
// cooler shards, and moves every vector whose id now routes to a different
// shard under the reweighted ring. A vector's destination is derived purely
// from its id hash against the new ring, so moves are idempotent and
// restartable — replaying Rebalance with an unchanged vector distribution
// finds nothing left to move. When no shard is hot, Rebalance is a no-op
// and leaves the ring untouched.
func (s *Sharded) Rebalance(ctx context.Context, threshold float64) (RebalanceReport, error) {
	const op = "sharding.rebalance"
	if threshold <= 0 || threshold >= 1 {
		return RebalanceReport{}, vectorerr.Newf(op, vectorerr.InvalidArgument, "rebalance threshold must be in (0,1), got %v", threshold)
	}
	if err := ctx.Err(); err != nil {
		return RebalanceReport{}, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}

	counts := make([]int, len(s.shards))
	total := 0
	for i, shard := range s.shards {
		counts[i] = shard.Count()
		total += counts[i]
	}
	if total == 0 {
		s.refreshMeta(s.ring.Load(), counts, time.Time{})
		return RebalanceReport{}, nil
	}
	avg := float64(total) / float64(len(s.shards))

	var hot []int
	for i, c := range counts {
		if float64(c) > (1+threshold)*avg {
			hot = append(hot, i)
		}
	}
	if len(hot) == 0 {
		s.refreshMeta(s.ring.Load(), counts, time.Time{})
		return RebalanceReport{}, nil
	}

	weights := make([]int, len(s.shards))
	for i, c := range counts {
		w := s.virtualNodesPerShard
		if c > 0 {
			w = int(float64(s.virtualNodesPerShard) * avg / float64(c))
		}
		if w < 1 {
			w = 1
		}
		weights[i] = w
	}

	newRing, err := NewWeightedRing(weights)
	if err != nil {
		return RebalanceReport{}, vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	moved := 0
	for i, shard := range s.shards {
		vectors, err := shard.AllVectors(ctx)
		if err != nil {
			return RebalanceReport{}, vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		for _, v := range vectors {
			target := newRing.Route(v.ID)
			if target == i {
				continue
			}
			if err := s.shards[target].Upsert(ctx, v); err != nil {
				return RebalanceReport{}, vectorerr.Wrap(op, vectorerr.Internal, err)
			}
			if err := shard.Delete(ctx, v.ID); err != nil {
				return RebalanceReport{}, vectorerr.Wrap(op, vectorerr.Internal, err)
			}
			moved++
		}
	}

	s.ring.Store(newRing)

	finalCounts := make([]int, len(s.shards))
	for i, shard := range s.shards {
		finalCounts[i] = shard.Count()
	}
	s.refreshMeta(newRing, finalCounts, time.Now())

	return RebalanceReport{HotShards: hot, Moved: moved}, nil
}

func (s *Sharded) refreshMeta(ring *Ring, counts []int, rebalancedAt time.Time) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	for i := range s.meta {
		s.meta[i].VectorCount = counts[i]
		s.meta[i].VirtualNodeTokens = ring.TokensForShard(i)
		if !rebalancedAt.IsZero() {
			s.meta[i].LastRebalancedAt = rebalancedAt
		}
	}
}

// Upsert routes by the vector's id to a single shard.
func (s *Sharded) Upsert(ctx context.Context, v vectortypes.Vector) error {
	return s.shardFor(v.ID).Upsert(ctx, v)
}

// Delete routes by id to a single shard.
func (s *Sharded) Delete(ctx context.Context, id string) error {
	return s.shardFor(id).Delete(ctx, id)
}

// Get routes by id to a single shard.
func (s *Sharded) Get(ctx context.Context, id string) (vectortypes.Vector, error) {
	return s.shardFor(id).Get(ctx, id)
}

// Search fans out to every shard in parallel, each returning its own top k,
// then merges into a single top-k by score.
func (s *Sharded) Search(ctx context.Context, query []float32, k int) ([]vectortypes.ScoredVector, error) {
	const op = "sharding.search"
	results := make([][]vectortypes.ScoredVector, len(s.shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			res, err := shard.Search(gctx, query, k)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	var merged []vectortypes.ScoredVector
	for _, res := range results {
		merged = append(merged, res...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Count sums the vector count across every shard.
func (s *Sharded) Count() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Count()
	}
	return total
}

// ShardCount returns the number of shards.
func (s *Sharded) ShardCount() int { return len(s.shards) }
