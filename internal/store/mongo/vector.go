package mongo

import (
	"encoding/binary"
	"math"
)

// encodeVector packs an f32 vector into the raw little-endian BLOB layout
// "Embedding", shared with the sqlite backend so vectors round-trip
// identically across engines.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
