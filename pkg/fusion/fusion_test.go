package fusion

import "testing"

func TestReciprocalRankFusionMatchesWorkedExample(t *testing.T) {
	// SPEC_FULL.md / spec.md worked example: Ld=[a,b,c], Ls=[c,a,d].
	dense := []Ranked{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	sparse := []Ranked{{ID: "c"}, {ID: "a"}, {ID: "d"}}

	results, err := Fuse(ReciprocalRankFusion, dense, sparse, 0.5, 2)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected top-2, got %d", len(results))
	}

	want := map[string]float64{
		"a": 1.0/61 + 1.0/62,
		"b": 1.0 / 62,
		"c": 1.0/63 + 1.0/61,
		"d": 1.0 / 63,
	}
	const tol = 1e-9
	for _, r := range results {
		expected := want[r.ID]
		if diff := float64(r.Score) - expected; diff > tol || diff < -tol {
			t.Errorf("id %q: expected score %v, got %v", r.ID, expected, r.Score)
		}
	}
	// a and c are the top two by the worked arithmetic.
	ids := map[string]bool{results[0].ID: true, results[1].ID: true}
	if !ids["a"] || !ids["c"] {
		t.Errorf("expected top-2 to be {a,c}, got %v", results)
	}
}

func TestFuseDegeneratesWhenSparseEmpty(t *testing.T) {
	dense := []Ranked{{ID: "x", Score: 0.9}, {ID: "y", Score: 0.5}}
	results, err := Fuse(ReciprocalRankFusion, dense, nil, 0.5, 10)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "x" || results[1].ID != "y" {
		t.Errorf("expected dense order preserved, got %v", results)
	}
}

func TestFuseDegeneratesWhenDenseEmpty(t *testing.T) {
	sparse := []Ranked{{ID: "x", Score: 3}, {ID: "y", Score: 1}}
	results, err := Fuse(ReciprocalRankFusion, nil, sparse, 0.5, 10)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "x" || results[1].ID != "y" {
		t.Errorf("expected sparse order preserved, got %v", results)
	}
}

func TestFuseEmptyInputsReturnsNil(t *testing.T) {
	results, err := Fuse(ReciprocalRankFusion, nil, nil, 0.5, 10)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil for two empty lists, got %v", results)
	}
}

func TestWeightedCombinationMinMaxNormalizes(t *testing.T) {
	dense := []Ranked{{ID: "a", Score: 10}, {ID: "b", Score: 0}}
	sparse := []Ranked{{ID: "a", Score: 5}, {ID: "c", Score: 0}}

	results, err := Fuse(WeightedCombination, dense, sparse, 0.5, 10)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	// a: dense_norm=1.0, sparse_norm=1.0 -> 0.5*1+0.5*1=1.0
	// b: dense_norm=0.0, sparse missing -> 0.5*0+0=0
	// c: dense missing, sparse_norm=0.0 -> 0
	var aScore float32
	for _, r := range results {
		if r.ID == "a" {
			aScore = r.Score
		}
	}
	if aScore < 0.99 || aScore > 1.01 {
		t.Errorf("expected id a to score ~1.0, got %v", aScore)
	}
	if results[0].ID != "a" {
		t.Errorf("expected a to rank first, got %v", results)
	}
}

func TestAlphaBlendingUsesRankPosition(t *testing.T) {
	dense := []Ranked{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	sparse := []Ranked{{ID: "c"}, {ID: "b"}, {ID: "a"}}

	results, err := Fuse(AlphaBlending, dense, sparse, 0.5, 10)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	// Every id appears once at each rank position across the two lists
	// (a: rank0 dense=1.0, rank2 sparse=0.0 -> 0.5), so all three should tie.
	for _, r := range results {
		if r.Score < 0.49 || r.Score > 0.51 {
			t.Errorf("id %q: expected blended score ~0.5 by symmetry, got %v", r.ID, r.Score)
		}
	}
}

func TestFuseRespectsFinalK(t *testing.T) {
	dense := []Ranked{{ID: "a", Score: 3}, {ID: "b", Score: 2}, {ID: "c", Score: 1}}
	results, err := Fuse(ReciprocalRankFusion, dense, dense, 0.5, 1)
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected exactly 1 result, got %d", len(results))
	}
}

func TestFuseRejectsAlphaOutOfRange(t *testing.T) {
	dense := []Ranked{{ID: "a", Score: 1}}
	sparse := []Ranked{{ID: "b", Score: 1}}

	if _, err := Fuse(WeightedCombination, dense, sparse, -0.1, 10); err == nil {
		t.Error("expected error for alpha < 0")
	}
	if _, err := Fuse(WeightedCombination, dense, sparse, 1.1, 10); err == nil {
		t.Error("expected error for alpha > 1")
	}
	if _, err := Fuse(WeightedCombination, dense, sparse, 0, 10); err != nil {
		t.Errorf("alpha=0 should be valid, got %v", err)
	}
	if _, err := Fuse(WeightedCombination, dense, sparse, 1, 10); err != nil {
		t.Errorf("alpha=1 should be valid, got %v", err)
	}
}
