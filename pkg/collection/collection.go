// Package collection implements the collection aggregate (C8): the
// in-memory object that owns one id-space and wires together the HNSW
// index, the quantized code store, the BM25 sparse index, and the graph
// sidecar behind a single public API (SPEC_FULL.md §4.8). It is a rework of
// the teacher's SQLiteStore (pkg/core/store.go, store_crud.go) with SQLite
// rows replaced by in-memory maps and the HNSW/quantizer lazy-init and
// auto-train pattern kept verbatim.
package collection

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/distance"
	"github.com/liliang-cn/sqvect/v2/pkg/fusion"
	"github.com/liliang-cn/sqvect/v2/pkg/graphsidecar"
	"github.com/liliang-cn/sqvect/v2/pkg/hnsw"
	"github.com/liliang-cn/sqvect/v2/pkg/quantization"
	"github.com/liliang-cn/sqvect/v2/pkg/quantstore"
	"github.com/liliang-cn/sqvect/v2/pkg/sparse"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

// generateID mints an id for a caller that inserts a vector without one,
// the way the teacher's pkg/sqvect.generateID backs its high-level
// auto-embedding helpers.
func generateID() string {
	return uuid.New().String()
}

// candidateMultiplier over-fetches from the HNSW index so that a filter or
// tombstoned id doesn't starve a search of its requested k, mirroring the
// teacher's store_crud.go candidate-widening loop.
const candidateMultiplier = 5

// Filter reports whether a result's payload should be kept.
type Filter func(vectortypes.Payload) bool

// Collection is one id-space: an id<->node-index map over a single HNSW
// index, with optional quantized-code persistence, BM25 text search, and a
// graph sidecar. It satisfies pkg/sharding.Shard without modification.
type Collection struct {
	mu sync.RWMutex

	name   string
	cfg    vectortypes.CollectionConfig
	kernel distance.Kernel

	index *hnsw.Index

	qstore       *quantstore.Store // may be nil: no on-disk quantized persistence configured
	scalarQ      *quantization.ScalarQuantizer
	productQ     *quantization.ProductQuantizer
	quantTrained bool
	codes        map[uint32][]byte // populated only when cfg.Quantization.Kind != None

	sparseIdx *sparse.Index      // always present; MaxVocabSize 0 means unbounded
	graph     *graphsidecar.Graph // nil unless cfg.Graph.Enabled

	idToIndex map[string]uint32
	indexToID map[uint32]string
	payloads  map[string]vectortypes.Payload
	order     []string // insertion order of currently-live ids, for Scroll

	seenPlain, seenEncrypted bool // for Encryption.AllowMixed enforcement
}

// New constructs an empty collection. qstore may be nil if the caller
// doesn't need on-disk quantized persistence for this collection.
func New(name string, cfg vectortypes.CollectionConfig, qstore *quantstore.Store) (*Collection, error) {
	const op = "collection.new"
	if err := cfg.Validate(); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.InvalidArgument, err)
	}

	kernel := distance.ForMetric(cfg.Metric)
	index := hnsw.New(hnsw.Config{
		Dimension:      cfg.Dimension,
		M:              cfg.HNSW.M,
		EfConstruction: cfg.HNSW.EfConstruction,
		EfSearch:       cfg.HNSW.EfSearch,
		Kernel:         kernel,
		Seed:           cfg.HNSW.Seed,
		HasSeed:        cfg.HNSW.HasSeed,
	})

	c := &Collection{
		name:      name,
		cfg:       cfg,
		kernel:    kernel,
		index:     index,
		qstore:    qstore,
		codes:     make(map[uint32][]byte),
		sparseIdx: sparse.New(sparse.Config{K1: 1.2, B: 0.75, MaxVocabSize: cfg.SparseVocab}),
		idToIndex: make(map[string]uint32),
		indexToID: make(map[uint32]string),
		payloads:  make(map[string]vectortypes.Payload),
	}
	if cfg.Graph.Enabled {
		c.graph = graphsidecar.New()
	}
	switch cfg.Quantization.Kind {
	case vectortypes.QuantizationScalar:
		sq, err := quantization.NewScalarQuantizer(cfg.Dimension, cfg.Quantization.Bits)
		if err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.InvalidArgument, err)
		}
		c.scalarQ = sq
	case vectortypes.QuantizationProduct:
		pq, err := quantization.NewProductQuantizer(cfg.Dimension, cfg.Quantization.M, cfg.Quantization.K)
		if err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.InvalidArgument, err)
		}
		c.productQ = pq
	}
	return c, nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) checkEncryptionLocked(op string, p vectortypes.Payload) error {
	if c.cfg.Encryption.Required && p.Kind != vectortypes.PayloadEncrypted {
		return vectorerr.New(op, vectorerr.PolicyViolation, "encryption required but payload is not encrypted")
	}
	if !c.cfg.Encryption.AllowMixed {
		isEncrypted := p.Kind == vectortypes.PayloadEncrypted
		if isEncrypted && c.seenPlain {
			return vectorerr.New(op, vectorerr.PolicyViolation, "mixed encrypted/plain payloads not allowed in this collection")
		}
		if !isEncrypted && p.Kind != vectortypes.PayloadNone && c.seenEncrypted {
			return vectorerr.New(op, vectorerr.PolicyViolation, "mixed encrypted/plain payloads not allowed in this collection")
		}
	}
	return nil
}

func (c *Collection) recordPayloadKindLocked(p vectortypes.Payload) {
	if p.Kind == vectortypes.PayloadEncrypted {
		c.seenEncrypted = true
	} else if p.Kind == vectortypes.PayloadPlain {
		c.seenPlain = true
	}
}

// ensureQuantizerTrainedLocked lazily trains the configured quantizer from
// the first batch of vectors it sees, mirroring the teacher's
// auto-train-on-first-upsert behavior in store_crud.go.
func (c *Collection) ensureQuantizerTrainedLocked(op string, samples [][]float32) error {
	if c.quantTrained {
		return nil
	}
	switch c.cfg.Quantization.Kind {
	case vectortypes.QuantizationNone:
		return nil
	case vectortypes.QuantizationScalar:
		if err := c.scalarQ.Train(samples); err != nil {
			return vectorerr.Wrap(op, vectorerr.PolicyViolation, err)
		}
	case vectortypes.QuantizationProduct:
		if err := c.productQ.Train(samples); err != nil {
			return vectorerr.Wrap(op, vectorerr.PolicyViolation, err)
		}
	}
	c.quantTrained = true
	return nil
}

func (c *Collection) encodeLocked(vector []float32) []byte {
	switch c.cfg.Quantization.Kind {
	case vectortypes.QuantizationScalar:
		code, err := c.scalarQ.Encode(vector)
		if err != nil {
			return nil
		}
		return code
	case vectortypes.QuantizationProduct:
		code, err := c.productQ.Encode(vector)
		if err != nil {
			return nil
		}
		return code
	default:
		return nil
	}
}

func (c *Collection) normalizeIfCosine(v []float32) []float32 {
	if c.cfg.Metric == vectortypes.MetricCosine {
		return distance.Normalize(v)
	}
	return v
}

// Insert batch-inserts vectors, all-or-nothing: if any vector fails
// validation or the batch would exceed MaxVectors, no vector is inserted.
func (c *Collection) Insert(ctx context.Context, vectors []vectortypes.Vector) (int, error) {
	const op = "collection.insert"
	if err := ctx.Err(); err != nil {
		return 0, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range vectors {
		if vectors[i].ID == "" {
			vectors[i].ID = generateID()
		}
	}

	for _, v := range vectors {
		if len(v.Data) != c.cfg.Dimension {
			return 0, vectorerr.Newf(op, vectorerr.DimensionMismatch, "vector %q has dimension %d, collection dimension is %d", v.ID, len(v.Data), c.cfg.Dimension)
		}
		if err := c.checkEncryptionLocked(op, v.Payload); err != nil {
			return 0, err
		}
	}
	if c.cfg.MaxVectors > 0 {
		live := len(c.order)
		added := 0
		for _, v := range vectors {
			if _, exists := c.idToIndex[v.ID]; !exists {
				added++
			}
		}
		if live+added > c.cfg.MaxVectors {
			return 0, vectorerr.Newf(op, vectorerr.PolicyViolation, "insert would exceed capacity %d", c.cfg.MaxVectors)
		}
	}

	if c.cfg.Quantization.Kind != vectortypes.QuantizationNone && !c.quantTrained {
		samples := make([][]float32, len(vectors))
		for i, v := range vectors {
			samples[i] = v.Data
		}
		if err := c.ensureQuantizerTrainedLocked(op, samples); err != nil {
			return 0, vectorerr.Wrap(op, vectorerr.PolicyViolation, err)
		}
	}

	for _, v := range vectors {
		c.upsertOneLocked(v)
	}
	return len(vectors), nil
}

// upsertOneLocked inserts or replaces a single vector. Caller holds c.mu.
func (c *Collection) upsertOneLocked(v vectortypes.Vector) (wasNew bool) {
	if oldIdx, exists := c.idToIndex[v.ID]; exists {
		_ = c.index.Delete(oldIdx)
		delete(c.codes, oldIdx)
		delete(c.indexToID, oldIdx)
		c.removeFromOrderLocked(v.ID)
		wasNew = false
	} else {
		wasNew = true
	}

	stored := c.normalizeIfCosine(append([]float32(nil), v.Data...))
	nodeIdx, err := c.index.Insert(stored)
	if err != nil {
		return wasNew
	}
	c.idToIndex[v.ID] = nodeIdx
	c.indexToID[nodeIdx] = v.ID
	c.payloads[v.ID] = v.Payload
	c.order = append(c.order, v.ID)
	c.recordPayloadKindLocked(v.Payload)

	if code := c.encodeLocked(stored); code != nil {
		c.codes[nodeIdx] = code
	}
	if c.graph != nil {
		c.graph.UpsertNode(graphsidecar.GraphNode{ID: v.ID})
	}
	return wasNew
}

func (c *Collection) removeFromOrderLocked(id string) {
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Upsert inserts v or replaces the existing vector of the same id. Matches
// pkg/sharding.Shard's narrower signature; see UpsertReporting for the
// was-new flag the collection API table also calls for.
func (c *Collection) Upsert(ctx context.Context, v vectortypes.Vector) error {
	_, err := c.UpsertReporting(ctx, v)
	return err
}

// UpsertReporting is Upsert plus the was-new flag the spec's collection API
// table calls for.
func (c *Collection) UpsertReporting(ctx context.Context, v vectortypes.Vector) (wasNew bool, err error) {
	const op = "collection.upsert"
	if err := ctx.Err(); err != nil {
		return false, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	if v.ID == "" {
		v.ID = generateID()
	}
	if len(v.Data) != c.cfg.Dimension {
		return false, vectorerr.Newf(op, vectorerr.DimensionMismatch, "vector %q has dimension %d, collection dimension is %d", v.ID, len(v.Data), c.cfg.Dimension)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkEncryptionLocked(op, v.Payload); err != nil {
		return false, err
	}
	if c.cfg.MaxVectors > 0 {
		if _, exists := c.idToIndex[v.ID]; !exists && len(c.order) >= c.cfg.MaxVectors {
			return false, vectorerr.Newf(op, vectorerr.PolicyViolation, "upsert would exceed capacity %d", c.cfg.MaxVectors)
		}
	}
	if c.cfg.Quantization.Kind != vectortypes.QuantizationNone && !c.quantTrained {
		if err := c.ensureQuantizerTrainedLocked(op, [][]float32{v.Data}); err != nil {
			return false, err
		}
	}
	return c.upsertOneLocked(v), nil
}

// Delete removes id if present. It returns only an error; DeleteReporting
// also reports whether id existed.
func (c *Collection) Delete(ctx context.Context, id string) error {
	_, err := c.DeleteReporting(ctx, id)
	return err
}

// DeleteReporting is Delete plus the existed flag the spec's collection API
// table calls for.
func (c *Collection) DeleteReporting(ctx context.Context, id string) (existed bool, err error) {
	const op = "collection.delete"
	if err := ctx.Err(); err != nil {
		return false, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nodeIdx, ok := c.idToIndex[id]
	if !ok {
		return false, nil
	}
	_ = c.index.Delete(nodeIdx)
	delete(c.idToIndex, id)
	delete(c.indexToID, nodeIdx)
	delete(c.payloads, id)
	delete(c.codes, nodeIdx)
	c.removeFromOrderLocked(id)
	c.sparseIdx.RemoveDocument(id)
	if c.graph != nil {
		c.graph.DeleteNode(id)
	}
	return true, nil
}

// Get returns the live vector stored under id.
func (c *Collection) Get(ctx context.Context, id string) (vectortypes.Vector, error) {
	const op = "collection.get"
	if err := ctx.Err(); err != nil {
		return vectortypes.Vector{}, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	nodeIdx, ok := c.idToIndex[id]
	if !ok {
		return vectortypes.Vector{}, vectorerr.Newf(op, vectorerr.NotFound, "vector %q not found", id)
	}
	vec, ok := c.index.Vector(nodeIdx)
	if !ok {
		return vectortypes.Vector{}, vectorerr.Newf(op, vectorerr.NotFound, "vector %q not found", id)
	}
	return vectortypes.Vector{
		ID:      id,
		Data:    append([]float32(nil), vec...),
		Payload: c.payloads[id],
	}, nil
}

// Search returns the top-k live neighbors of query by the collection's
// configured metric, unfiltered; SearchFiltered takes a filter.
func (c *Collection) Search(ctx context.Context, query []float32, k int) ([]vectortypes.ScoredVector, error) {
	return c.SearchFiltered(ctx, query, k, nil)
}

// SearchFiltered is Search with an optional payload filter, widening the
// HNSW candidate set the way the teacher's store_crud.go search path widens
// its SQL LIMIT when an ACL filter rejects candidates.
func (c *Collection) SearchFiltered(ctx context.Context, query []float32, k int, filter Filter) ([]vectortypes.ScoredVector, error) {
	const op = "collection.search"
	if err := ctx.Err(); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	if len(query) != c.cfg.Dimension {
		return nil, vectorerr.Newf(op, vectorerr.DimensionMismatch, "query dimension %d doesn't match collection dimension %d", len(query), c.cfg.Dimension)
	}
	if k <= 0 {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "k must be positive")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	q := c.normalizeIfCosine(append([]float32(nil), query...))
	efSearch := c.cfg.HNSW.EfSearch
	if efSearch < k {
		efSearch = k
	}

	fetch := k * candidateMultiplier
	if fetch < efSearch {
		fetch = efSearch
	}
	total := c.index.Len()
	for attempt := 0; attempt < 3; attempt++ {
		if fetch > total {
			fetch = total
		}
		raw, err := c.index.Search(q, fetch, efSearch)
		if err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		out := make([]vectortypes.ScoredVector, 0, k)
		for _, r := range raw {
			id, ok := c.indexToID[r.Index]
			if !ok {
				continue
			}
			payload := c.payloads[id]
			if filter != nil && !filter(payload) {
				continue
			}
			out = append(out, vectortypes.ScoredVector{
				ID:      id,
				Score:   distance.ScoreFromDistance(c.cfg.Metric, r.Distance),
				Payload: payload,
			})
			if len(out) == k {
				return out, nil
			}
		}
		if fetch >= total {
			return out, nil
		}
		fetch *= candidateMultiplier
	}
	return nil, vectorerr.New(op, vectorerr.Internal, "search failed to converge on k results")
}

// IndexDocument registers text under id in the BM25 sparse index, for later
// use by HybridSearch's sparse side. It does not touch the dense vector
// stored under the same id.
func (c *Collection) IndexDocument(ctx context.Context, id, text string) error {
	const op = "collection.index_document"
	if err := ctx.Err(); err != nil {
		return vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	return c.sparseIdx.AddDocuments([]sparse.Document{{ID: id, Text: text}})
}

// HybridSearch fuses a dense k-NN search against query with a BM25 search
// against sparseQuery using algo, returning the top finalK results.
func (c *Collection) HybridSearch(ctx context.Context, query []float32, sparseQuery string, finalK int, algo fusion.Algorithm, alpha float32) ([]vectortypes.ScoredVector, error) {
	const op = "collection.hybrid_search"
	fetchK := finalK * candidateMultiplier
	if fetchK < finalK {
		fetchK = finalK
	}

	dense, err := c.SearchFiltered(ctx, query, fetchK, nil)
	if err != nil {
		return nil, err
	}
	denseRanked := make([]fusion.Ranked, len(dense))
	for i, d := range dense {
		denseRanked[i] = fusion.Ranked{ID: d.ID, Score: d.Score}
	}

	sparseHits, err := c.sparseIdx.Search(sparseQuery, fetchK)
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	sparseRanked := make([]fusion.Ranked, len(sparseHits))
	for i, s := range sparseHits {
		sparseRanked[i] = fusion.Ranked{ID: s.ID, Score: s.Score}
	}

	fused, err := fusion.Fuse(algo, denseRanked, sparseRanked, alpha, finalK)
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.InvalidArgument, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]vectortypes.ScoredVector, len(fused))
	for i, f := range fused {
		out[i] = vectortypes.ScoredVector{ID: f.ID, Score: f.Score, Payload: c.payloads[f.ID]}
	}
	return out, nil
}

// Scroll returns a stable page of live ids starting after cursor (the id
// last returned by a previous call, or "" for the first page), along with
// the cursor for the next page ("" once exhausted).
func (c *Collection) Scroll(ctx context.Context, cursor string, pageSize int, filter Filter) ([]vectortypes.Vector, string, error) {
	const op = "collection.scroll"
	if err := ctx.Err(); err != nil {
		return nil, "", vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	if pageSize <= 0 {
		return nil, "", vectorerr.New(op, vectorerr.InvalidArgument, "pageSize must be positive")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if cursor != "" {
		for i, id := range c.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}

	out := make([]vectortypes.Vector, 0, pageSize)
	next := ""
	for i := start; i < len(c.order); i++ {
		id := c.order[i]
		payload := c.payloads[id]
		if filter != nil && !filter(payload) {
			continue
		}
		nodeIdx := c.idToIndex[id]
		vec, _ := c.index.Vector(nodeIdx)
		out = append(out, vectortypes.Vector{ID: id, Data: append([]float32(nil), vec...), Payload: payload})
		if len(out) == pageSize {
			next = id
			break
		}
	}
	return out, next, nil
}

// AllVectors returns every live vector with its raw data, paging through
// Scroll internally. Matches pkg/sharding.Shard's signature; used by
// Sharded.Rebalance to re-hash every id under a reweighted ring.
func (c *Collection) AllVectors(ctx context.Context) ([]vectortypes.Vector, error) {
	const pageSize = 1000
	var out []vectortypes.Vector
	cursor := ""
	for {
		page, next, err := c.Scroll(ctx, cursor, pageSize, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// Count returns the total number of live vectors. Matches
// pkg/sharding.Shard's signature; see CountFiltered for the filtered form
// the collection API table also calls for.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// CountFiltered returns the number of live vectors matching filter, or the
// total live count when filter is nil.
func (c *Collection) CountFiltered(filter Filter) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if filter == nil {
		return len(c.order)
	}
	n := 0
	for _, id := range c.order {
		if filter(c.payloads[id]) {
			n++
		}
	}
	return n
}

// Graph exposes the collection's graph sidecar, or nil if disabled.
func (c *Collection) Graph() *graphsidecar.Graph { return c.graph }

// searcherAdapter lets the graph sidecar's AutoDiscoverEdges call back into
// this collection's dense Search without graphsidecar importing this
// package or pkg/hnsw directly.
type searcherAdapter struct {
	c *Collection
}

func (a searcherAdapter) Search(query []float32, k int) ([]graphsidecar.SearchHit, error) {
	results, err := a.c.SearchFiltered(context.Background(), query, k, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]graphsidecar.SearchHit, len(results))
	for i, r := range results {
		hits[i] = graphsidecar.SearchHit{ID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// AutoDiscoverEdges runs the graph sidecar's HNSW-backed auto-discovery for
// nodeID, using this collection's own dense index as the searcher.
func (c *Collection) AutoDiscoverEdges(ctx context.Context, nodeID string) (int, error) {
	const op = "collection.auto_discover_edges"
	if c.graph == nil || !c.cfg.Graph.AutoDiscovery {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, vectorerr.Wrap(op, vectorerr.Cancelled, err)
	}
	v, err := c.Get(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return c.graph.AutoDiscoverEdges(searcherAdapter{c: c}, nodeID, v.Data, c.cfg.Graph.SimilarityThreshold, c.cfg.Graph.MaxPerNode)
}

// exportCodesLocked builds a dense, node-index-aligned code array covering
// every slot up to the index's current length (including tombstoned nodes,
// which carry a nil code), matching quantstore.CollectionCodes' "one packed
// code per node index, in index order" contract. Caller holds c.mu.
func (c *Collection) exportCodesLocked() quantstore.CollectionCodes {
	out := quantstore.CollectionCodes{
		Kind:      c.cfg.Quantization.Kind,
		Dimension: c.cfg.Dimension,
	}
	if c.scalarQ != nil {
		out.ScalarBits = c.scalarQ.Bits
		out.ScalarMin = c.scalarQ.Min
		out.ScalarMax = c.scalarQ.Max
		out.ScalarScale = c.scalarQ.Scale
	}
	if c.productQ != nil {
		out.PQSubspaces = c.productQ.M
		out.PQCentroids = c.productQ.K
		out.PQCodebooks = c.productQ.SerializeCodebooks()
	}
	codes := make([][]byte, c.index.Len())
	for idx, code := range c.codes {
		if int(idx) < len(codes) {
			codes[idx] = code
		}
	}
	out.Codes = codes
	return out
}

// PersistCodes writes the collection's quantized codes to the shared
// quantstore under this collection's name. A no-op if quantization is
// disabled or no quantstore was configured.
func (c *Collection) PersistCodes() error {
	if c.qstore == nil || c.cfg.Quantization.Kind == vectortypes.QuantizationNone {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qstore.Store(c.name, c.exportCodesLocked())
}

// ExportCodes is the exported form of exportCodesLocked, for the
// persistence layer to serialize without reaching into unexported fields.
func (c *Collection) ExportCodes() quantstore.CollectionCodes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exportCodesLocked()
}

// Index exposes the underlying HNSW index, for the persistence layer's
// hnsw.bin writer/reader.
func (c *Collection) Index() *hnsw.Index { return c.index }

// SparseIndex exposes the underlying BM25 index, for the persistence
// layer's sparse.json writer/reader.
func (c *Collection) SparseIndex() *sparse.Index { return c.sparseIdx }

// Config returns the collection's configuration.
func (c *Collection) Config() vectortypes.CollectionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// IDSnapshot returns copies of the insertion-order id list, the id-to-node
// map, and the per-id payloads, for the persistence layer's metadata.json.
func (c *Collection) IDSnapshot() (order []string, idToIndex map[string]uint32, payloads map[string]vectortypes.Payload) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	order = append([]string(nil), c.order...)
	idToIndex = make(map[string]uint32, len(c.idToIndex))
	for id, idx := range c.idToIndex {
		idToIndex[id] = idx
	}
	payloads = make(map[string]vectortypes.Payload, len(c.payloads))
	for id, p := range c.payloads {
		payloads[id] = p
	}
	return order, idToIndex, payloads
}

// RestoreInput bundles every piece of state the persistence layer
// reconstructs from disk, for handing back to Restore.
type RestoreInput struct {
	Index            *hnsw.Index
	Order            []string
	IDToIndex        map[string]uint32
	Payloads         map[string]vectortypes.Payload
	Codes            map[uint32][]byte
	QuantTrained     bool
	ScalarQuantizer  *quantization.ScalarQuantizer
	ProductQuantizer *quantization.ProductQuantizer
	SparseDocuments  []sparse.Document
	GraphNodes       []graphsidecar.GraphNode
	GraphEdges       []graphsidecar.GraphEdge
}

// Restore rebuilds a Collection from previously-persisted state, bypassing
// New's empty-index construction and Insert's auto-train path. Grounded on
// the teacher's io.go import-from-dump flow, generalized from SQL row
// inserts to direct in-memory reconstruction.
func Restore(name string, cfg vectortypes.CollectionConfig, qstore *quantstore.Store, in RestoreInput) (*Collection, error) {
	const op = "collection.restore"
	if err := cfg.Validate(); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.InvalidArgument, err)
	}
	if in.Index == nil {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "restore requires a loaded index")
	}

	c := &Collection{
		name:      name,
		cfg:       cfg,
		kernel:    distance.ForMetric(cfg.Metric),
		index:     in.Index,
		qstore:    qstore,
		codes:     in.Codes,
		sparseIdx: sparse.New(sparse.Config{K1: 1.2, B: 0.75, MaxVocabSize: cfg.SparseVocab}),
		idToIndex: in.IDToIndex,
		indexToID: make(map[uint32]string, len(in.IDToIndex)),
		payloads:  in.Payloads,
		order:     in.Order,
	}
	if c.codes == nil {
		c.codes = make(map[uint32][]byte)
	}
	for id, idx := range c.idToIndex {
		c.indexToID[idx] = id
	}
	for _, p := range c.payloads {
		c.recordPayloadKindLocked(p)
	}

	c.quantTrained = in.QuantTrained
	c.scalarQ = in.ScalarQuantizer
	c.productQ = in.ProductQuantizer

	if len(in.SparseDocuments) > 0 {
		if err := c.sparseIdx.AddDocuments(in.SparseDocuments); err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
		}
	}

	if cfg.Graph.Enabled {
		c.graph = graphsidecar.New()
		for _, n := range in.GraphNodes {
			if err := c.graph.UpsertNode(n); err != nil {
				return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
			}
		}
		for _, e := range in.GraphEdges {
			if err := c.graph.UpsertEdge(e); err != nil {
				return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
			}
		}
	}

	return c, nil
}
