package tensor

import (
	"encoding/binary"
	"math"
)

// SerializeFloat32 encodes a float32 slice as little-endian bytes, the
// raw tensor layout used by KServe-v2 style inference servers.
func SerializeFloat32(data []float32) []byte {
	res := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(res[i*4:], math.Float32bits(f))
	}
	return res
}

// DeserializeFloat32 decodes little-endian bytes back into a float32
// slice. Trailing bytes that do not fill a full element are ignored.
func DeserializeFloat32(encoded []byte) []float32 {
	if len(encoded) == 0 {
		return []float32{}
	}
	arr := make([]float32, len(encoded)/4)
	for i := range arr {
		arr[i] = math.Float32frombits(binary.LittleEndian.Uint32(encoded[i*4 : i*4+4]))
	}
	return arr
}
