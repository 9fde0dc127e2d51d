// Package quantstore persists per-collection quantized vector codes to disk
// and maintains a shared LRU cache of their decoded float32 form.
//
// [ADDED component, grounded on the teacher's pkg/core/io.go persistence
// style and pkg/index/hnsw.go Save/Load framing, generalized to the spec's
// on-disk layout (SPEC_FULL.md §4.4).]
package quantstore

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/cachemanager"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

const fileExt = ".qvec"

// metadata is the CBOR-encoded header of a .qvec file.
type metadata struct {
	Kind        int
	Dimension   int
	ScalarBits  int
	ScalarMin   float32
	ScalarMax   float32
	ScalarScale float32
	PQSubspaces int
	PQCentroids int
	PQCodebooks []byte
	CodeSize    int
	NodeCount   int
}

// CollectionCodes is the in-memory form of one collection's quantizer
// parameters and packed node codes, as handed to Store/returned from Load.
type CollectionCodes struct {
	Kind vectortypes.QuantizationKind

	Dimension int

	ScalarBits  int
	ScalarMin   float32
	ScalarMax   float32
	ScalarScale float32

	PQSubspaces int
	PQCentroids int
	PQCodebooks []byte // quantization.ProductQuantizer.SerializeCodebooks() output

	Codes [][]byte // one packed code per node index, in index order
}

// cacheKey identifies one decoded vector in the shared LRU cache.
type cacheKey struct {
	collection string
	node       uint32
}

// Store persists quantized codes under one directory, one file per
// collection, and fronts vector decoding with a shared LRU cache whose
// admission is governed by a cachemanager.Manager.
type Store struct {
	dir      string
	cacheMgr *cachemanager.Manager
	cache    *lru.Cache[cacheKey, []float32]
	sizes    map[cacheKey]uint64
}

// New constructs a Store rooted at dir, creating it if necessary. cacheMgr
// may be nil, in which case decoded vectors are cached without budget
// enforcement.
func New(dir string, cacheSize int, cacheMgr *cachemanager.Manager) (*Store, error) {
	const op = "quantstore.new"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}

	s := &Store{dir: dir, cacheMgr: cacheMgr, sizes: make(map[cacheKey]uint64)}
	cache, err := lru.NewWithEvict(cacheSize, s.onEvict)
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	s.cache = cache
	return s, nil
}

func (s *Store) onEvict(key cacheKey, _ []float32) {
	if s.cacheMgr == nil {
		return
	}
	if n, ok := s.sizes[key]; ok {
		s.cacheMgr.Deallocate(n)
		delete(s.sizes, key)
	}
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+fileExt)
}

// Store writes a collection's quantizer parameters and packed codes to
// disk: a little-endian u32 metadata length prefix, the CBOR metadata blob,
// then an LZ4-framed concatenation of every node's code.
func (s *Store) Store(collection string, codes CollectionCodes) error {
	const op = "quantstore.store"

	var codeSize int
	for _, code := range codes.Codes {
		if len(code) > 0 {
			codeSize = len(code)
			break
		}
	}

	meta := metadata{
		Kind:        int(codes.Kind),
		Dimension:   codes.Dimension,
		ScalarBits:  codes.ScalarBits,
		ScalarMin:   codes.ScalarMin,
		ScalarMax:   codes.ScalarMax,
		ScalarScale: codes.ScalarScale,
		PQSubspaces: codes.PQSubspaces,
		PQCentroids: codes.PQCentroids,
		PQCodebooks: codes.PQCodebooks,
		CodeSize:    codeSize,
		NodeCount:   len(codes.Codes),
	}

	metaBytes, err := cbor.Marshal(meta)
	if err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	f, err := os.Create(s.path(collection))
	if err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	defer f.Close()

	var lenPrefix [4]byte
	putUint32LE(lenPrefix[:], uint32(len(metaBytes)))
	if _, err := f.Write(lenPrefix[:]); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	if _, err := f.Write(metaBytes); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	lzw := lz4.NewWriter(f)
	blank := make([]byte, codeSize)
	for _, code := range codes.Codes {
		if len(code) == 0 {
			code = blank // tombstoned slot: keep every record codeSize bytes
		}
		if _, err := lzw.Write(code); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
	}
	if err := lzw.Close(); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	return nil
}

// Load reads a collection's quantizer parameters and packed codes back from
// disk.
func (s *Store) Load(collection string) (*CollectionCodes, error) {
	const op = "quantstore.load"

	f, err := os.Open(s.path(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vectorerr.Wrap(op, vectorerr.NotFound, err)
		}
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	defer f.Close()

	var lenPrefix [4]byte
	if _, err := io.ReadFull(f, lenPrefix[:]); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
	}
	metaLen := uint32LE(lenPrefix[:])

	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(f, metaBytes); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
	}

	var meta metadata
	if err := cbor.Unmarshal(metaBytes, &meta); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
	}

	payload, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
	}

	var codes [][]byte
	if meta.CodeSize > 0 {
		if len(payload) != meta.CodeSize*meta.NodeCount {
			return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "payload length %d doesn't match %d codes of size %d", len(payload), meta.NodeCount, meta.CodeSize)
		}
		codes = make([][]byte, meta.NodeCount)
		for i := 0; i < meta.NodeCount; i++ {
			codes[i] = payload[i*meta.CodeSize : (i+1)*meta.CodeSize]
		}
	}

	return &CollectionCodes{
		Kind:        vectortypes.QuantizationKind(meta.Kind),
		Dimension:   meta.Dimension,
		ScalarBits:  meta.ScalarBits,
		ScalarMin:   meta.ScalarMin,
		ScalarMax:   meta.ScalarMax,
		ScalarScale: meta.ScalarScale,
		PQSubspaces: meta.PQSubspaces,
		PQCentroids: meta.PQCentroids,
		PQCodebooks: meta.PQCodebooks,
		Codes:       codes,
	}, nil
}

// Remove deletes a collection's persisted codes, if present.
func (s *Store) Remove(collection string) error {
	const op = "quantstore.remove"
	if err := os.Remove(s.path(collection)); err != nil && !os.IsNotExist(err) {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	return nil
}

// List returns the names of every collection with persisted codes.
func (s *Store) List() ([]string, error) {
	const op = "quantstore.list"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// CachedVector returns a previously cached decoded vector, if present.
func (s *Store) CachedVector(collection string, node uint32) ([]float32, bool) {
	return s.cache.Get(cacheKey{collection: collection, node: node})
}

// PutVector offers a freshly decoded vector to the cache. Admission is
// governed by the shared cachemanager.Manager, if one was configured; a
// rejected admission simply means the vector isn't cached, not an error the
// caller must handle.
func (s *Store) PutVector(collection string, node uint32, vector []float32) {
	key := cacheKey{collection: collection, node: node}
	size := uint64(len(vector) * 4)

	if s.cacheMgr != nil {
		decision, err := s.cacheMgr.TryAllocate(size)
		if err != nil || decision == cachemanager.Rejected {
			return
		}
	}
	s.sizes[key] = size
	s.cache.Add(key, vector)
}

// EvictNode drops one node's cached vector, if present, releasing its
// budget reservation.
func (s *Store) EvictNode(collection string, node uint32) {
	s.cache.Remove(cacheKey{collection: collection, node: node})
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func uint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
