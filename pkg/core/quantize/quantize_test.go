package quantize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFormula(t *testing.T) {
	got := Encode([]float64{-1, 0, 1, 0.5, -0.5})
	// round((v+1)*127.5)
	assert.Equal(t, []uint8{0, 128, 255, 191, 64}, got)
}

func TestEncodeClips(t *testing.T) {
	assert.Equal(t, []uint8{0, 255}, Encode([]float64{-3, 7}))
}

func TestDecodeApproximatesInput(t *testing.T) {
	in := []float64{-0.93, -0.2, 0, 0.31, 0.999}
	out := Decode(Encode(in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/255+1e-12)
	}
}

func TestCodesJSON(t *testing.T) {
	codes := Codes(EncodeBatch([][]float64{{-1, 1}, {0, 0.5}}))
	data, err := json.Marshal(codes)
	require.NoError(t, err)
	assert.JSONEq(t, `[[0,255],[128,191]]`, string(data))

	var back Codes
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, codes, back)

	assert.Error(t, json.Unmarshal([]byte(`[[256]]`), &back))
}
