package vectortypes

import "github.com/liliang-cn/sqvect/v2/internal/vectorerr"

// Metric selects the distance/similarity kernel a collection uses.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDot:
		return "dot"
	default:
		return "unknown"
	}
}

// QuantizationKind tags the quantization variant in effect for a collection.
// Per REDESIGN FLAGS, this is a tagged variant rather than a dynamic-dispatch
// hierarchy: the inner encode/decode loop is specialized per kind instead of
// paying a virtual call per vector.
type QuantizationKind int

const (
	QuantizationNone QuantizationKind = iota
	QuantizationScalar
	QuantizationProduct
)

// QuantizationConfig configures the quantization subsystem (C2/C3).
type QuantizationConfig struct {
	Kind QuantizationKind
	Bits int // scalar: bits per component, one of {1,2,4,8}
	M    int // product: number of subspaces
	K    int // product: centroids per subspace
}

// HNSWConfig configures the HNSW index (C5).
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
	HasSeed        bool
}

// ShardingConfig configures the sharded collection wrapper (C10).
type ShardingConfig struct {
	Enabled              bool
	ShardCount           int
	VirtualNodesPerShard int
	RebalanceThreshold   float64
}

// GraphConfig configures the graph sidecar (C7).
type GraphConfig struct {
	Enabled       bool
	AutoDiscovery bool
	// SimilarityThreshold is the minimum HNSW score for an auto-discovered
	// edge; MaxPerNode caps how many auto-discovered edges one node gets.
	SimilarityThreshold float32
	MaxPerNode          int
}

// EncryptionConfig configures payload-encryption policy enforcement. The
// core only checks structure; it never encrypts or decrypts.
type EncryptionConfig struct {
	Required   bool
	AllowMixed bool
}

// CollectionConfig is the complete configuration for one collection.
type CollectionConfig struct {
	Dimension     int
	Metric        Metric
	HNSW          HNSWConfig
	Quantization  QuantizationConfig
	Compression   bool
	Sharding      ShardingConfig
	Graph         GraphConfig
	Encryption    EncryptionConfig
	SparseVocab   int // C6: max_vocab_size; 0 means unbounded
	MaxVectors    int // capacity guard; 0 means unbounded
}

// Validate checks the structural constraints the spec places on a
// collection's configuration, returning an InvalidArgument error naming the
// first violation found.
func (cfg CollectionConfig) Validate() error {
	const op = "vectortypes.validate"
	if cfg.Dimension <= 0 {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.HNSW.M < 4 || cfg.HNSW.M > 128 {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "hnsw.M must be in [4,128], got %d", cfg.HNSW.M)
	}
	if cfg.HNSW.EfConstruction < cfg.HNSW.M {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "hnsw.ef_construction (%d) must be >= M (%d)", cfg.HNSW.EfConstruction, cfg.HNSW.M)
	}
	if cfg.HNSW.EfSearch < 1 {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "hnsw.ef_search must be >= 1, got %d", cfg.HNSW.EfSearch)
	}
	switch cfg.Quantization.Kind {
	case QuantizationScalar:
		switch cfg.Quantization.Bits {
		case 1, 2, 4, 8:
		default:
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "scalar quantization bits must be one of {1,2,4,8}, got %d", cfg.Quantization.Bits)
		}
	case QuantizationProduct:
		if cfg.Quantization.M <= 0 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "product quantization subspace count must be positive, got %d", cfg.Quantization.M)
		}
		if cfg.Quantization.K <= 0 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "product quantization centroid count must be positive, got %d", cfg.Quantization.K)
		}
		if cfg.Dimension%cfg.Quantization.M != 0 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "dimension (%d) must be divisible by subspace count (%d)", cfg.Dimension, cfg.Quantization.M)
		}
	}
	if cfg.Sharding.Enabled {
		if cfg.Sharding.ShardCount < 1 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "sharding.shard_count must be >= 1, got %d", cfg.Sharding.ShardCount)
		}
		if cfg.Sharding.VirtualNodesPerShard < 1 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "sharding.virtual_nodes_per_shard must be >= 1, got %d", cfg.Sharding.VirtualNodesPerShard)
		}
		if cfg.Sharding.RebalanceThreshold <= 0 || cfg.Sharding.RebalanceThreshold >= 1 {
			return vectorerr.Newf(op, vectorerr.InvalidArgument, "sharding.rebalance_threshold must be in (0,1), got %v", cfg.Sharding.RebalanceThreshold)
		}
	}
	if cfg.SparseVocab < 0 {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "sparse_vocab must be non-negative, got %d", cfg.SparseVocab)
	}
	if cfg.MaxVectors < 0 {
		return vectorerr.Newf(op, vectorerr.InvalidArgument, "max_vectors must be non-negative, got %d", cfg.MaxVectors)
	}
	return nil
}

// DefaultCollectionConfig returns sensible defaults: cosine metric, HNSW
// with M=16/efConstruction=200/efSearch=50, no quantization, no sharding, no
// graph sidecar.
func DefaultCollectionConfig(dimension int) CollectionConfig {
	return CollectionConfig{
		Dimension: dimension,
		Metric:    MetricCosine,
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Quantization: QuantizationConfig{Kind: QuantizationNone},
	}
}
