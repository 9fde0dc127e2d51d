package hnsw

import (
	"encoding/binary"
	"io"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// magic and formatVersion identify the on-disk hnsw.bin layout from
// SPEC_FULL.md §6. encoding/binary is used directly here (not a third-party
// codec) because the layout is a fixed-width wire format the spec names
// field-by-field; a generic serialization library would add an abstraction
// this format doesn't need.
var magic = [5]byte{'H', 'N', 'S', 'W', 0x01}

const formatVersion uint16 = 1

// Save writes the graph structure (not vector data) to w: header, then one
// record per node with its per-layer neighbor lists.
func (idx *Index) Save(w io.Writer) error {
	const op = "hnsw.save"

	idx.coarse.RLock()
	nodes := idx.nodes
	entryPoint := idx.entryPoint
	maxLayer := idx.maxLayer
	idx.coarse.RUnlock()

	if _, err := w.Write(magic[:]); err != nil {
		return vectorerr.Wrap(op, vectorerr.Internal, err)
	}

	header := []any{
		formatVersion,
		uint32(idx.dimension),
		uint32(len(nodes)),
		uint16(idx.m),
		uint16(idx.m0),
		entryPoint,
		uint16(maxLayer),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
	}

	for _, n := range nodes {
		n.mu.RLock()
		layer := n.layer
		deleted := n.deleted
		neighbors := n.neighbors
		n.mu.RUnlock()

		deletedByte := uint8(0)
		if deleted {
			deletedByte = 1
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(layer)); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		if err := binary.Write(w, binary.LittleEndian, deletedByte); err != nil {
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil { // padding
			return vectorerr.Wrap(op, vectorerr.Internal, err)
		}

		for l := 0; l <= layer; l++ {
			var ids []uint32
			if l < len(neighbors) {
				ids = neighbors[l]
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
				return vectorerr.Wrap(op, vectorerr.Internal, err)
			}
			for _, id := range ids {
				if err := binary.Write(w, binary.LittleEndian, id); err != nil {
					return vectorerr.Wrap(op, vectorerr.Internal, err)
				}
			}
		}
	}

	return nil
}

// Load rebuilds the graph structure from r. vectors supplies the raw float32
// data for every node, in index order — the caller (pkg/persistence) reads
// it from vectors.bin, or decodes it from the quantized store when that file
// is unusable, since hnsw.bin never carries vector data itself.
func Load(r io.Reader, vectors [][]float32, kernel func(a, b []float32) float32) (*Index, error) {
	const op = "hnsw.load"

	var gotMagic [5]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
	}
	if gotMagic != magic {
		return nil, vectorerr.New(op, vectorerr.CorruptedState, "bad magic in hnsw.bin")
	}

	var version uint16
	var dimension, nodeCount uint32
	var m, m0 uint16
	var entryPoint uint32
	var maxLayer uint16

	for _, field := range []any{&version, &dimension, &nodeCount, &m, &m0, &entryPoint, &maxLayer} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
		}
	}
	if version != formatVersion {
		return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "unsupported hnsw.bin version %d", version)
	}
	if int(nodeCount) != len(vectors) {
		return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "hnsw.bin declares %d nodes but %d vectors were supplied", nodeCount, len(vectors))
	}

	idx := New(Config{
		Dimension:      int(dimension),
		M:              int(m),
		EfConstruction: int(m) * 2,
		EfSearch:       int(m) * 2,
		Kernel:         kernel,
		HasSeed:        false,
	})
	idx.m0 = int(m0)

	nodes := make([]*node, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		var layer16 uint16
		var deletedByte, padding uint8
		if err := binary.Read(r, binary.LittleEndian, &layer16); err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &deletedByte); err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &padding); err != nil {
			return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
		}

		layer := int(layer16)
		n := &node{
			vector:    vectors[i],
			neighbors: make([][]uint32, layer+1),
			layer:     layer,
			deleted:   deletedByte != 0,
		}

		for l := 0; l <= layer; l++ {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
			}
			ids := make([]uint32, count)
			for j := range ids {
				if err := binary.Read(r, binary.LittleEndian, &ids[j]); err != nil {
					return nil, vectorerr.Wrap(op, vectorerr.CorruptedState, err)
				}
			}
			n.neighbors[l] = ids
		}

		nodes[i] = n
	}

	idx.nodes = nodes
	if nodeCount > 0 {
		idx.hasEntryPoint = true
		idx.entryPoint = entryPoint
		idx.maxLayer = int(maxLayer)
	}

	return idx, nil
}
