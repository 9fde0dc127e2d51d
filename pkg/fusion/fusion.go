// Package fusion combines a dense-vector ranked list and a sparse-BM25
// ranked list into one ranking (C9). It is grounded on the teacher's
// pkg/core/reranker.go ReciprocalRankFusionReranker and
// ScoreNormalizationReranker, generalized from "rerank one list by a
// secondary signal" to "fuse two independently ranked lists."
package fusion

import (
	"sort"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// Algorithm selects a fusion strategy.
type Algorithm int

const (
	ReciprocalRankFusion Algorithm = iota
	WeightedCombination
	AlphaBlending
)

// rrfConstant is the classic RRF smoothing constant from SPEC_FULL.md §4.9.
const rrfConstant = 60.0

// Ranked is one entry in either input list: an id and its list-relative
// score (distance-derived similarity for the dense list, BM25 score for the
// sparse list). Lists are assumed already truncated to their own k and
// ordered best-first.
type Ranked struct {
	ID    string
	Score float32
}

// Result is one fused ranking entry.
type Result struct {
	ID    string
	Score float32
}

// Fuse combines dense and sparse into one ranking of length finalK using
// the given algorithm and, for WeightedCombination/AlphaBlending, the dense
// weight alpha (the sparse weight is 1-alpha). When only one list is
// non-empty, fusion degenerates to that list's order. alpha outside [0,1]
// is rejected regardless of algorithm, since a caller request naming a
// nonsensical blend weight is a config error, not merely unused input.
func Fuse(algo Algorithm, dense, sparse []Ranked, alpha float32, finalK int) ([]Result, error) {
	const op = "fusion.fuse"
	if alpha < 0 || alpha > 1 {
		return nil, vectorerr.Newf(op, vectorerr.InvalidArgument, "alpha must be in [0,1], got %v", alpha)
	}
	if len(dense) == 0 && len(sparse) == 0 {
		return nil, nil
	}
	if len(sparse) == 0 {
		return truncate(passthroughOrder(dense), finalK), nil
	}
	if len(dense) == 0 {
		return truncate(passthroughOrder(sparse), finalK), nil
	}

	switch algo {
	case WeightedCombination:
		return truncate(weightedCombination(dense, sparse, alpha), finalK), nil
	case AlphaBlending:
		return truncate(alphaBlending(dense, sparse, alpha), finalK), nil
	default:
		return truncate(reciprocalRankFusion(dense, sparse), finalK), nil
	}
}

func passthroughOrder(list []Ranked) []Result {
	out := make([]Result, len(list))
	for i, r := range list {
		out[i] = Result{ID: r.ID, Score: r.Score}
	}
	return out
}

func truncate(results []Result, finalK int) []Result {
	if finalK > 0 && len(results) > finalK {
		results = results[:finalK]
	}
	return results
}

// reciprocalRankFusion implements score(id) = sum 1/(60+rank_i(id)) across
// whichever of the two lists id appears in.
func reciprocalRankFusion(dense, sparse []Ranked) []Result {
	scores := make(map[string]float64)
	order := make([]string, 0, len(dense)+len(sparse))

	addList := func(list []Ranked) {
		for rank, r := range list {
			if _, seen := scores[r.ID]; !seen {
				order = append(order, r.ID)
			}
			scores[r.ID] += 1.0 / (rrfConstant + float64(rank+1))
		}
	}
	addList(dense)
	addList(sparse)

	return sortedResults(order, scores)
}

// weightedCombination min-max normalizes each list's raw scores to [0,1],
// then blends alpha*dense + (1-alpha)*sparse; an id missing from a list
// contributes 0 for that list.
func weightedCombination(dense, sparse []Ranked, alpha float32) []Result {
	denseNorm := minMaxNormalize(dense)
	sparseNorm := minMaxNormalize(sparse)
	return blend(denseNorm, sparseNorm, alpha)
}

// alphaBlending is like weightedCombination but each list's normalized
// score is rank-based: a linear ramp from 1 (best) to 0 (worst) by
// position, rather than derived from the raw score values.
func alphaBlending(dense, sparse []Ranked, alpha float32) []Result {
	return blend(rankNormalize(dense), rankNormalize(sparse), alpha)
}

// minMaxNormalize maps a ranked list's raw scores to [0,1]. A list with a
// single entry, or with all equal scores, normalizes to 1.0 throughout.
func minMaxNormalize(list []Ranked) map[string]float64 {
	out := make(map[string]float64, len(list))
	if len(list) == 0 {
		return out
	}
	min, max := list[0].Score, list[0].Score
	for _, r := range list {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := float64(max - min)
	for _, r := range list {
		if spread == 0 {
			out[r.ID] = 1.0
			continue
		}
		out[r.ID] = float64(r.Score-min) / spread
	}
	return out
}

// rankNormalize maps position 0 (best) to 1.0 and the last position to 0.0,
// linearly. A single-entry list normalizes to 1.0.
func rankNormalize(list []Ranked) map[string]float64 {
	out := make(map[string]float64, len(list))
	n := len(list)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[list[0].ID] = 1.0
		return out
	}
	for i, r := range list {
		out[r.ID] = 1.0 - float64(i)/float64(n-1)
	}
	return out
}

func blend(denseNorm, sparseNorm map[string]float64, alpha float32) []Result {
	scores := make(map[string]float64, len(denseNorm)+len(sparseNorm))
	var order []string
	for id, s := range denseNorm {
		scores[id] = float64(alpha) * s
		order = append(order, id)
	}
	for id, s := range sparseNorm {
		if _, seen := scores[id]; !seen {
			order = append(order, id)
		}
		scores[id] += float64(1-alpha) * s
	}
	return sortedResults(order, scores)
}

func sortedResults(ids []string, scores map[string]float64) []Result {
	results := make([]Result, len(ids))
	for i, id := range ids {
		results[i] = Result{ID: id, Score: float32(scores[id])}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
