// Package quantize implements the fixed-range scalar quantizer used by node
// compression. Components are assumed to lie in [-1, 1] (normalized embeddings)
// and are mapped onto the uint8 range [0, 255].
package quantize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const scale = 127.5

// Encode converts a float vector into its 8-bit representation using
// round((v+1)*127.5). Values outside [-1, 1] are clipped.
func Encode(vector []float64) []uint8 {
	out := make([]uint8, len(vector))
	for i, v := range vector {
		scaled := math.Round((v + 1) * scale)

		// --- clipping ---
		if scaled < 0 {
			scaled = 0
		} else if scaled > 255 {
			scaled = 255
		}

		out[i] = uint8(scaled)
	}
	return out
}

// Decode inverts Encode. The result is an approximation: the round trip error
// per component is at most 1/255.
func Decode(code []uint8) []float64 {
	out := make([]float64, len(code))
	for i, q := range code {
		out[i] = float64(q)/scale - 1
	}
	return out
}

// EncodeBatch quantizes every vector in vs.
func EncodeBatch(vs [][]float64) [][]uint8 {
	out := make([][]uint8, len(vs))
	for i, v := range vs {
		out[i] = Encode(v)
	}
	return out
}

// Codes is a batch of quantized vectors that serializes as nested JSON number
// arrays instead of the base64 strings encoding/json uses for []byte.
type Codes [][]uint8

// MarshalJSON writes each code as an array of integers.
func (c Codes) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 4*len(c)+2)
	buf = append(buf, '[')
	for i, code := range c {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, q := range code {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendUint(buf, uint64(q), 10)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON reads the nested integer arrays written by MarshalJSON.
func (c *Codes) UnmarshalJSON(data []byte) error {
	var raw [][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Codes, len(raw))
	for i, row := range raw {
		code := make([]uint8, len(row))
		for j, v := range row {
			if v < 0 || v > 255 {
				return fmt.Errorf("quantize: code %d out of uint8 range", v)
			}
			code[j] = uint8(v)
		}
		out[i] = code
	}
	*c = out
	return nil
}
