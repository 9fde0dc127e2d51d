package sharding

import "testing"

func TestNewRingRejectsInvalidInputs(t *testing.T) {
	if _, err := NewRing(0, 4); err == nil {
		t.Error("expected error for zero shardCount")
	}
	if _, err := NewRing(4, 0); err == nil {
		t.Error("expected error for zero virtualNodes")
	}
}

func TestRingRouteIsDeterministic(t *testing.T) {
	r, err := NewRing(8, 32)
	if err != nil {
		t.Fatalf("new ring failed: %v", err)
	}
	ids := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	first := make([]int, len(ids))
	for i, id := range ids {
		first[i] = r.Route(id)
	}
	for i, id := range ids {
		if got := r.Route(id); got != first[i] {
			t.Errorf("expected stable routing for %q, got %d then %d", id, first[i], got)
		}
	}
}

func TestRingDistributesAcrossShards(t *testing.T) {
	r, err := NewRing(4, 64)
	if err != nil {
		t.Fatalf("new ring failed: %v", err)
	}
	seen := make(map[int]int)
	for i := 0; i < 2000; i++ {
		shard := r.Route(randomID(i))
		seen[shard]++
	}
	if len(seen) != 4 {
		t.Errorf("expected all 4 shards to receive at least one id, got %d shards used", len(seen))
	}
	for shard, count := range seen {
		if count < 100 {
			t.Errorf("shard %d got only %d of 2000 ids, distribution looks skewed", shard, count)
		}
	}
}

func randomID(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	n := i + 1
	for j := range b {
		b[j] = alphabet[n%len(alphabet)]
		n = n/len(alphabet) + 7919*i
	}
	return string(b)
}
