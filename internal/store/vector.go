package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs a float32 vector into its little-endian byte blob
// representation (spec 6: "little-endian float32, contiguous, length =
// dim*4 bytes"). No example repo in the corpus stores raw vector blobs (the
// teacher's pgvector.Vector type owns its own marshalling); this is a small,
// self-contained binary routine with no third-party library involved.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 blob back into a vector.
// Returns an error if the blob length is not a multiple of 4 or does not
// match the expected dimension.
func DecodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	if dim > 0 && len(blob) != dim*4 {
		return nil, fmt.Errorf("vector blob length %d does not match dim %d (expected %d bytes)", len(blob), dim, dim*4)
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// ZeroVector returns the canonical zero vector blob of the given dimension
// (spec 4.8: zero_vector(dim) is dim*4 zero bytes).
func ZeroVector(dim int) []byte {
	return make([]byte, dim*4)
}
