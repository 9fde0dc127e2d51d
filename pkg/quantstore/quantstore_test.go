package quantstore

import (
	"testing"

	"github.com/liliang-cn/sqvect/v2/pkg/cachemanager"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 16, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	codes := CollectionCodes{
		Kind:        vectortypes.QuantizationScalar,
		Dimension:   4,
		ScalarBits:  8,
		ScalarMin:   -1,
		ScalarMax:   1,
		ScalarScale: 2.0 / 255,
		Codes: [][]byte{
			{0, 128, 255, 64},
			{10, 20, 30, 40},
		},
	}

	if err := s.Store("widgets", codes); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	loaded, err := s.Load("widgets")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Kind != codes.Kind {
		t.Errorf("expected kind %v, got %v", codes.Kind, loaded.Kind)
	}
	if loaded.Dimension != codes.Dimension {
		t.Errorf("expected dimension %d, got %d", codes.Dimension, loaded.Dimension)
	}
	if len(loaded.Codes) != len(codes.Codes) {
		t.Fatalf("expected %d codes, got %d", len(codes.Codes), len(loaded.Codes))
	}
	for i := range codes.Codes {
		for j := range codes.Codes[i] {
			if loaded.Codes[i][j] != codes.Codes[i][j] {
				t.Errorf("code %d byte %d: expected %d, got %d", i, j, codes.Codes[i][j], loaded.Codes[i][j])
			}
		}
	}
}

func TestLoadMissingCollection(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 16, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if _, err := s.Load("nope"); err == nil {
		t.Error("expected error loading nonexistent collection")
	}
}

func TestRemoveAndList(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 16, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if err := s.Store(name, CollectionCodes{Dimension: 2, Codes: [][]byte{{1, 2}}}); err != nil {
			t.Fatalf("store %q failed: %v", name, err)
		}
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 collections, got %d", len(names))
	}

	if err := s.Remove("b"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	names, err = s.List()
	if err != nil {
		t.Fatalf("list after remove failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 collections after remove, got %d", len(names))
	}
	for _, n := range names {
		if n == "b" {
			t.Error("removed collection still listed")
		}
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 16, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := s.Remove("never-existed"); err != nil {
		t.Errorf("expected no error removing missing collection, got %v", err)
	}
}

func TestCachedVectorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 16, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	if _, ok := s.CachedVector("col", 1); ok {
		t.Error("expected cache miss before put")
	}
	s.PutVector("col", 1, []float32{1, 2, 3})
	vec, ok := s.CachedVector("col", 1)
	if !ok {
		t.Fatal("expected cache hit after put")
	}
	if len(vec) != 3 || vec[0] != 1 || vec[1] != 2 || vec[2] != 3 {
		t.Errorf("unexpected cached vector: %v", vec)
	}
}

func TestPutVectorRespectsCacheManagerRejection(t *testing.T) {
	dir := t.TempDir()
	mgr := cachemanager.New(8, cachemanager.Options{Strict: true})
	s, err := New(dir, 16, mgr)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	// 4 float32s = 16 bytes, over an 8-byte budget: rejected, not cached.
	s.PutVector("col", 1, []float32{1, 2, 3, 4})
	if _, ok := s.CachedVector("col", 1); ok {
		t.Error("expected oversized vector to be rejected from cache")
	}
}

func TestEvictNodeReleasesBudget(t *testing.T) {
	dir := t.TempDir()
	mgr := cachemanager.New(64, cachemanager.Options{Strict: true})
	s, err := New(dir, 16, mgr)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	s.PutVector("col", 1, []float32{1, 2, 3, 4}) // 16 bytes
	if mgr.CurrentBytes() == 0 {
		t.Fatal("expected nonzero usage after put")
	}
	s.EvictNode("col", 1)
	if mgr.CurrentBytes() != 0 {
		t.Errorf("expected budget released after eviction, got %d bytes still reserved", mgr.CurrentBytes())
	}
}
