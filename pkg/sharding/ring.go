// Package sharding implements the sharded collection wrapper (C10): a
// consistent-hash ring over shard_count x virtual_nodes_per_shard tokens,
// and fan-out routing across independent shard collections. Grounded on the
// rpcpool-yellowstone-faithful preindex package's xxhash-modulo sharding
// idea, generalized from plain modulo to a consistent-hash ring so shard
// membership changes remap a bounded fraction of ids.
package sharding

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// Ring is a 64-bit consistent-hash ring with virtual nodes per shard.
type Ring struct {
	tokens     []uint64
	tokenShard []int // parallel to tokens, sorted by token ascending
}

// NewRing builds a ring over shardCount shards, each represented by
// virtualNodes tokens hashed from "{shard_id}:{v}".
func NewRing(shardCount, virtualNodes int) (*Ring, error) {
	const op = "sharding.new_ring"
	if shardCount <= 0 {
		return nil, vectorerr.Newf(op, vectorerr.InvalidArgument, "shardCount must be positive, got %d", shardCount)
	}
	if virtualNodes <= 0 {
		return nil, vectorerr.Newf(op, vectorerr.InvalidArgument, "virtualNodes must be positive, got %d", virtualNodes)
	}

	type entry struct {
		token uint64
		shard int
	}
	entries := make([]entry, 0, shardCount*virtualNodes)
	for shard := 0; shard < shardCount; shard++ {
		for v := 0; v < virtualNodes; v++ {
			token := xxhash.Sum64String(fmt.Sprintf("%d:%d", shard, v))
			entries = append(entries, entry{token: token, shard: shard})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].token < entries[j].token })

	r := &Ring{
		tokens:     make([]uint64, len(entries)),
		tokenShard: make([]int, len(entries)),
	}
	for i, e := range entries {
		r.tokens[i] = e.token
		r.tokenShard[i] = e.shard
	}
	return r, nil
}

// Route returns the shard index owning id: the shard of the closest token
// clockwise from hash(id), wrapping around the ring.
func (r *Ring) Route(id string) int {
	hash := xxhash.Sum64String(id)
	i := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i] >= hash })
	if i == len(r.tokens) {
		i = 0
	}
	return r.tokenShard[i]
}

// NewWeightedRing builds a ring where shard i owns weights[i] tokens instead
// of a uniform count per shard. Rebalance uses this to shift future routing
// weight away from hot shards while keeping routing purely a function of
// id hash, same as NewRing (which is equivalent to NewWeightedRing with all
// weights equal).
func NewWeightedRing(weights []int) (*Ring, error) {
	const op = "sharding.new_weighted_ring"
	if len(weights) == 0 {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "at least one shard weight is required")
	}

	type entry struct {
		token uint64
		shard int
	}
	var entries []entry
	for shard, w := range weights {
		if w <= 0 {
			return nil, vectorerr.Newf(op, vectorerr.InvalidArgument, "shard %d weight must be positive, got %d", shard, w)
		}
		for v := 0; v < w; v++ {
			token := xxhash.Sum64String(fmt.Sprintf("%d:%d", shard, v))
			entries = append(entries, entry{token: token, shard: shard})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].token < entries[j].token })

	r := &Ring{
		tokens:     make([]uint64, len(entries)),
		tokenShard: make([]int, len(entries)),
	}
	for i, e := range entries {
		r.tokens[i] = e.token
		r.tokenShard[i] = e.shard
	}
	return r, nil
}

// TokensForShard counts how many ring tokens shard currently owns — the
// virtual_node_tokens shard metadata field.
func (r *Ring) TokensForShard(shard int) int {
	count := 0
	for _, s := range r.tokenShard {
		if s == shard {
			count++
		}
	}
	return count
}
