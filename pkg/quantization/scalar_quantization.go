// Package quantization implements the scalar (C2) and product (C3)
// quantization subsystems: fitting quantizer parameters from sample data and
// encoding/decoding vectors to and from packed byte codes.
package quantization

import (
	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
)

// ScalarQuantizer maps each float32 component to a small integer using a
// single global linear scale fit across every dimension of every training
// sample (SPEC_FULL.md §4.2 — deliberately not per-dimension, which would
// make the "scale" quality metric ill-defined).
type ScalarQuantizer struct {
	Dimension int
	Bits      int // one of {1, 2, 4, 8}
	Min       float32
	Max       float32
	Scale     float32 // (Max-Min) / (2^Bits - 1); unused when Bits==1
	Trained   bool
}

// NewScalarQuantizer validates bits and constructs an untrained quantizer.
func NewScalarQuantizer(dimension, bits int) (*ScalarQuantizer, error) {
	switch bits {
	case 1, 2, 4, 8:
	default:
		return nil, vectorerr.Newf("scalar_quantizer.new", vectorerr.InvalidArgument, "bits must be one of {1,2,4,8}, got %d", bits)
	}
	if dimension <= 0 {
		return nil, vectorerr.Newf("scalar_quantizer.new", vectorerr.InvalidArgument, "dimension must be positive, got %d", dimension)
	}
	return &ScalarQuantizer{Dimension: dimension, Bits: bits}, nil
}

// Train derives the global min/max across all dimensions of all samples and
// computes scale = (max-min)/(2^bits-1).
func (sq *ScalarQuantizer) Train(vectors [][]float32) error {
	const op = "scalar_quantizer.train"
	if len(vectors) == 0 {
		return vectorerr.New(op, vectorerr.InvalidArgument, "no training vectors provided")
	}

	min := vectors[0][0]
	max := vectors[0][0]
	for _, vec := range vectors {
		if len(vec) != sq.Dimension {
			return vectorerr.Newf(op, vectorerr.DimensionMismatch, "vector dimension %d doesn't match quantizer dimension %d", len(vec), sq.Dimension)
		}
		for _, v := range vec {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if max == min {
		max = min + 1e-6
	}

	sq.Min = min
	sq.Max = max
	sq.Scale = (max - min) / float32((int(1)<<uint(sq.Bits))-1)
	sq.Trained = true
	return nil
}

// QualityLoss reports scale/(max-min), a dimensionless measure of
// per-component quantization error relative to the value range.
func (sq *ScalarQuantizer) QualityLoss() float32 {
	if sq.Max == sq.Min {
		return 0
	}
	return sq.Scale / (sq.Max - sq.Min)
}

// Encode clamps, rounds, and bit-packs a vector per SPEC_FULL.md §4.2: 8-bit
// is one byte per dimension; 4-bit packs two values per byte, low nibble
// first; 2-bit packs four per byte, LSB-first; 1-bit is a binary threshold
// at (min+max)/2.
func (sq *ScalarQuantizer) Encode(vector []float32) ([]byte, error) {
	const op = "scalar_quantizer.encode"
	if !sq.Trained {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "quantizer not trained")
	}
	if len(vector) != sq.Dimension {
		return nil, vectorerr.Newf(op, vectorerr.DimensionMismatch, "vector dimension %d doesn't match quantizer dimension %d", len(vector), sq.Dimension)
	}

	if sq.Bits == 1 {
		return sq.encode1Bit(vector), nil
	}

	codes := make([]uint8, sq.Dimension)
	maxCode := uint32((1 << uint(sq.Bits)) - 1)
	for d, v := range vector {
		codes[d] = uint8(clampRound(v, sq.Min, sq.Scale, maxCode))
	}

	switch sq.Bits {
	case 8:
		return codes, nil
	case 4:
		return pack4Bit(codes), nil
	case 2:
		return pack2Bit(codes), nil
	default:
		return nil, vectorerr.Newf(op, vectorerr.Internal, "unsupported bits %d", sq.Bits)
	}
}

func clampRound(v, min, scale float32, maxCode uint32) uint32 {
	normalized := (v - min) / scale
	if normalized < 0 {
		normalized = 0
	}
	if normalized > float32(maxCode) {
		normalized = float32(maxCode)
	}
	return uint32(normalized + 0.5)
}

func (sq *ScalarQuantizer) encode1Bit(vector []float32) []byte {
	threshold := (sq.Min + sq.Max) / 2
	bytesNeeded := (sq.Dimension + 7) / 8
	encoded := make([]byte, bytesNeeded)
	for d, v := range vector {
		if v > threshold {
			encoded[d/8] |= 1 << uint(d%8)
		}
	}
	return encoded
}

// pack4Bit packs two 4-bit codes per byte, low nibble first.
func pack4Bit(codes []uint8) []byte {
	out := make([]byte, (len(codes)+1)/2)
	for i, c := range codes {
		byteIdx := i / 2
		if i%2 == 0 {
			out[byteIdx] |= c & 0x0F
		} else {
			out[byteIdx] |= (c & 0x0F) << 4
		}
	}
	return out
}

// pack2Bit packs four 2-bit codes per byte, LSB-first.
func pack2Bit(codes []uint8) []byte {
	out := make([]byte, (len(codes)+3)/4)
	for i, c := range codes {
		byteIdx := i / 4
		shift := uint(i%4) * 2
		out[byteIdx] |= (c & 0x03) << shift
	}
	return out
}

// Decode reconstructs a vector from packed bytes. 1-bit decode returns
// exactly Min or Max per SPEC_FULL.md §4.2.
func (sq *ScalarQuantizer) Decode(encoded []byte) ([]float32, error) {
	const op = "scalar_quantizer.decode"
	if !sq.Trained {
		return nil, vectorerr.New(op, vectorerr.InvalidArgument, "quantizer not trained")
	}

	vector := make([]float32, sq.Dimension)

	if sq.Bits == 1 {
		expected := (sq.Dimension + 7) / 8
		if len(encoded) != expected {
			return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "expected %d bytes, got %d", expected, len(encoded))
		}
		for d := 0; d < sq.Dimension; d++ {
			if encoded[d/8]&(1<<uint(d%8)) != 0 {
				vector[d] = sq.Max
			} else {
				vector[d] = sq.Min
			}
		}
		return vector, nil
	}

	codes, err := sq.unpack(encoded)
	if err != nil {
		return nil, err
	}
	for d, c := range codes {
		vector[d] = float32(c)*sq.Scale + sq.Min
	}
	return vector, nil
}

func (sq *ScalarQuantizer) unpack(encoded []byte) ([]uint8, error) {
	const op = "scalar_quantizer.decode"
	codes := make([]uint8, sq.Dimension)

	switch sq.Bits {
	case 8:
		if len(encoded) != sq.Dimension {
			return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "expected %d bytes, got %d", sq.Dimension, len(encoded))
		}
		copy(codes, encoded)
	case 4:
		expected := (sq.Dimension + 1) / 2
		if len(encoded) != expected {
			return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "expected %d bytes, got %d", expected, len(encoded))
		}
		for i := range codes {
			byteIdx := i / 2
			if i%2 == 0 {
				codes[i] = encoded[byteIdx] & 0x0F
			} else {
				codes[i] = (encoded[byteIdx] >> 4) & 0x0F
			}
		}
	case 2:
		expected := (sq.Dimension + 3) / 4
		if len(encoded) != expected {
			return nil, vectorerr.Newf(op, vectorerr.CorruptedState, "expected %d bytes, got %d", expected, len(encoded))
		}
		for i := range codes {
			byteIdx := i / 4
			shift := uint(i%4) * 2
			codes[i] = (encoded[byteIdx] >> shift) & 0x03
		}
	default:
		return nil, vectorerr.Newf(op, vectorerr.Internal, "unsupported bits %d", sq.Bits)
	}
	return codes, nil
}

// BytesPerVector returns ceil(D*bits/8), the exact per-vector memory
// footprint invariant from SPEC_FULL.md §8.
func BytesPerVector(dimension, bits int) int {
	return (dimension*bits + 7) / 8
}
