// Package persistence implements the directory snapshot/restore layer
// (C12): writing and reading a single collection's complete state as a
// directory of files (metadata.json, hnsw.bin, vectors.bin, quantized.qvec,
// sparse.json, graph.json). It is a rework of the teacher's pkg/core/io.go
// dump/import helpers, replacing the SQLite row scan with direct reads off
// the in-memory Collection aggregate, and replacing the teacher's
// JSON/JSONL/CSV export formats with the spec's fixed on-disk layout.
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/liliang-cn/sqvect/v2/internal/logging"
	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/collection"
	"github.com/liliang-cn/sqvect/v2/pkg/distance"
	"github.com/liliang-cn/sqvect/v2/pkg/graphsidecar"
	"github.com/liliang-cn/sqvect/v2/pkg/hnsw"
	"github.com/liliang-cn/sqvect/v2/pkg/quantization"
	"github.com/liliang-cn/sqvect/v2/pkg/quantstore"
	"github.com/liliang-cn/sqvect/v2/pkg/sparse"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

const (
	metadataFile  = "metadata.json"
	hnswFile      = "hnsw.bin"
	vectorsFile   = "vectors.bin"
	quantCollName = "quantized"
	sparseFile    = "sparse.json"
	graphFile     = "graph.json"
)

var vectorsMagic = [4]byte{'V', 'E', 'C', 1}

// metadataDoc is the JSON shape of metadata.json. NodeCount is the HNSW
// index's total slot count (including tombstoned nodes), needed to size the
// vector buffer hnsw.Load expects before hnsw.bin's own header is parsed.
type metadataDoc struct {
	Config    vectortypes.CollectionConfig
	Order     []string
	IDToIndex map[string]uint32
	Payloads  map[string]vectortypes.Payload
	NodeCount int
}

// Save writes c's complete state into dir, creating it if necessary.
func Save(c *collection.Collection, dir string) error {
	const op = "persistence.save"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	order, idToIndex, payloads := c.IDSnapshot()
	doc := metadataDoc{
		Config:    c.Config(),
		Order:     order,
		IDToIndex: idToIndex,
		Payloads:  payloads,
		NodeCount: c.Index().Len(),
	}

	if err := writeJSON(filepath.Join(dir, metadataFile), doc); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	hnswF, err := os.Create(filepath.Join(dir, hnswFile))
	if err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	defer hnswF.Close()
	if err := c.Index().Save(hnswF); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	if err := writeVectorsFile(filepath.Join(dir, vectorsFile), c.Index(), doc.NodeCount, c.Config().Dimension); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	if c.Config().Quantization.Kind != vectortypes.QuantizationNone {
		qstore, err := quantstore.New(dir, 0, nil)
		if err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		if err := qstore.Store(quantCollName, c.ExportCodes()); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
	}

	if err := writeJSON(filepath.Join(dir, sparseFile), c.SparseIndex().Documents()); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	if g := c.Graph(); g != nil {
		graphDoc := struct {
			Nodes []graphsidecar.GraphNode
			Edges []graphsidecar.GraphEdge
		}{Nodes: g.Nodes(), Edges: g.Edges()}
		if err := writeJSON(filepath.Join(dir, graphFile), graphDoc); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
	}

	return nil
}

// Load reconstructs a collection named name from dir using cfg as the
// authoritative configuration (metadata.json's own Config field is not
// read here). Any file found
// missing, truncated, or corrupt degrades that portion of the state to
// empty and logs a warning through logger rather than failing outright —
// grounded on the teacher's wrapError/StoreError discipline of never
// crashing the process on a storage error.
func Load(name string, cfg vectortypes.CollectionConfig, qstore *quantstore.Store, dir string, logger logging.Logger) (*collection.Collection, error) {
	const op = "persistence.load"

	var doc metadataDoc
	if err := readJSON(filepath.Join(dir, metadataFile), &doc); err != nil {
		logger.Warn("metadata.json missing or corrupt, restoring empty collection", "dir", dir, "error", err)
		return collection.New(name, cfg, qstore)
	}

	vectors := loadVectors(dir, doc, cfg, logger)

	idx, err := loadIndex(dir, vectors, cfg)
	if err != nil {
		logger.Warn("hnsw.bin missing or corrupt, restoring empty collection", "dir", dir, "error", err)
		return collection.New(name, cfg, qstore)
	}

	var sparseDocs []sparse.Document
	if err := readJSON(filepath.Join(dir, sparseFile), &sparseDocs); err != nil {
		logger.Warn("sparse.json missing or corrupt, restoring without sparse documents", "dir", dir, "error", err)
		sparseDocs = nil
	}

	var graphNodes []graphsidecar.GraphNode
	var graphEdges []graphsidecar.GraphEdge
	if cfg.Graph.Enabled {
		var graphDoc struct {
			Nodes []graphsidecar.GraphNode
			Edges []graphsidecar.GraphEdge
		}
		if err := readJSON(filepath.Join(dir, graphFile), &graphDoc); err != nil {
			logger.Warn("graph.json missing or corrupt, restoring empty graph", "dir", dir, "error", err)
		} else {
			graphNodes, graphEdges = graphDoc.Nodes, graphDoc.Edges
		}
	}

	codes := make(map[uint32][]byte)
	var scalarQ *quantization.ScalarQuantizer
	var productQ *quantization.ProductQuantizer
	if cfg.Quantization.Kind != vectortypes.QuantizationNone {
		store, err := quantstore.New(dir, 0, nil)
		if err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		qc, err := store.Load(quantCollName)
		if err != nil {
			logger.Warn("quantized.qvec missing or corrupt, restoring without quantized codes", "dir", dir, "error", err)
		} else {
			for i, code := range qc.Codes {
				codes[uint32(i)] = code
			}
			switch cfg.Quantization.Kind {
			case vectortypes.QuantizationScalar:
				sq, err := quantization.NewScalarQuantizer(qc.Dimension, qc.ScalarBits)
				if err == nil {
					sq.Min, sq.Max, sq.Scale, sq.Trained = qc.ScalarMin, qc.ScalarMax, qc.ScalarScale, true
					scalarQ = sq
				}
			case vectortypes.QuantizationProduct:
				pq, err := quantization.NewProductQuantizer(qc.Dimension, qc.PQSubspaces, qc.PQCentroids)
				if err == nil {
					if err := pq.DeserializeCodebooks(qc.PQCodebooks); err == nil {
						productQ = pq
					}
				}
			}
		}
	}

	restored, err := collection.Restore(name, cfg, qstore, collection.RestoreInput{
		Index:            idx,
		Order:            doc.Order,
		IDToIndex:        doc.IDToIndex,
		Payloads:         doc.Payloads,
		Codes:            codes,
		QuantTrained:     scalarQ != nil || productQ != nil,
		ScalarQuantizer:  scalarQ,
		ProductQuantizer: productQ,
		SparseDocuments:  sparseDocs,
		GraphNodes:       graphNodes,
		GraphEdges:       graphEdges,
	})
	if err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.Internal, err)
	}
	return restored, nil
}

// loadVectors rebuilds the raw float32 vector for every node slot. vectors.bin
// carries the exact bits handed to Insert/Upsert, written alongside hnsw.bin
// on every Save, so this is the primary source regardless of whether
// quantization is enabled. If vectors.bin is missing or corrupt (e.g. an
// older snapshot, or hand-edited directory) this falls back to decoding the
// persisted quantized codes when available; only as a last resort — with
// nothing on disk to recover precision from — does a slot get a zero vector,
// which degrades that id's Get()/Search() comparisons until it is
// re-upserted.
func loadVectors(dir string, doc metadataDoc, cfg vectortypes.CollectionConfig, logger logging.Logger) [][]float32 {
	if vectors, err := readVectorsFile(filepath.Join(dir, vectorsFile), doc.NodeCount, cfg.Dimension); err != nil {
		logger.Warn("vectors.bin missing or corrupt, falling back to quantized codes", "dir", dir, "error", err)
	} else {
		return vectors
	}

	vectors := make([][]float32, doc.NodeCount)
	for i := range vectors {
		vectors[i] = make([]float32, cfg.Dimension)
	}

	if cfg.Quantization.Kind == vectortypes.QuantizationNone {
		return vectors
	}

	store, err := quantstore.New(dir, 0, nil)
	if err != nil {
		return vectors
	}
	qc, err := store.Load(quantCollName)
	if err != nil {
		return vectors
	}
	for i, code := range qc.Codes {
		if i >= len(vectors) || len(code) == 0 {
			continue
		}
		decoded, derr := decodeCode(cfg, qc, code)
		if derr != nil {
			logger.Warn("failed to decode persisted quantized code, using zero vector", "node", i, "error", derr)
			continue
		}
		vectors[i] = decoded
	}
	return vectors
}

// writeVectorsFile writes the raw vector for every node in idx, in index
// order, as a fixed-width record: a 4-byte magic/version header followed by
// nodeCount*dimension little-endian float32s. encoding/binary is used
// directly here, matching hnsw.bin's own fixed-width wire format rather than
// a general-purpose codec.
func writeVectorsFile(path string, idx *hnsw.Index, nodeCount, dimension int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(vectorsMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(nodeCount)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(dimension)); err != nil {
		return err
	}

	for i := 0; i < nodeCount; i++ {
		vec, ok := idx.Vector(uint32(i))
		if !ok || len(vec) != dimension {
			vec = make([]float32, dimension)
		}
		if err := binary.Write(f, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	return nil
}

// readVectorsFile reads back the layout written by writeVectorsFile, failing
// if the header doesn't match the caller's expected nodeCount/dimension so a
// stale or foreign file can never silently desync from hnsw.bin.
func readVectorsFile(path string, nodeCount, dimension int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var gotMagic [4]byte
	if _, err := io.ReadFull(f, gotMagic[:]); err != nil {
		return nil, err
	}
	if gotMagic != vectorsMagic {
		return nil, vectorerr.New("persistence.readVectorsFile", vectorerr.CorruptedState, "bad magic in vectors.bin")
	}

	var gotNodeCount, gotDimension uint32
	if err := binary.Read(f, binary.LittleEndian, &gotNodeCount); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &gotDimension); err != nil {
		return nil, err
	}
	if int(gotNodeCount) != nodeCount || int(gotDimension) != dimension {
		return nil, vectorerr.Newf("persistence.readVectorsFile", vectorerr.CorruptedState,
			"vectors.bin declares %d nodes of dimension %d, expected %d of dimension %d",
			gotNodeCount, gotDimension, nodeCount, dimension)
	}

	vectors := make([][]float32, nodeCount)
	for i := 0; i < nodeCount; i++ {
		vec := make([]float32, dimension)
		if err := binary.Read(f, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func decodeCode(cfg vectortypes.CollectionConfig, qc *quantstore.CollectionCodes, code []byte) ([]float32, error) {
	switch cfg.Quantization.Kind {
	case vectortypes.QuantizationScalar:
		sq, err := quantization.NewScalarQuantizer(qc.Dimension, qc.ScalarBits)
		if err != nil {
			return nil, err
		}
		sq.Min, sq.Max, sq.Scale, sq.Trained = qc.ScalarMin, qc.ScalarMax, qc.ScalarScale, true
		return sq.Decode(code)
	case vectortypes.QuantizationProduct:
		pq, err := quantization.NewProductQuantizer(qc.Dimension, qc.PQSubspaces, qc.PQCentroids)
		if err != nil {
			return nil, err
		}
		if err := pq.DeserializeCodebooks(qc.PQCodebooks); err != nil {
			return nil, err
		}
		return pq.Decode(code)
	default:
		return make([]float32, qc.Dimension), nil
	}
}

func loadIndex(dir string, vectors [][]float32, cfg vectortypes.CollectionConfig) (*hnsw.Index, error) {
	f, err := os.Open(filepath.Join(dir, hnswFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return hnsw.Load(f, vectors, distance.ForMetric(cfg.Metric))
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
