// Package vecmath provides the vector arithmetic used by the lattice: dot product,
// norm, cosine similarity, element-wise sum, scaling and the arithmetic mean.
//
// Dot products are dispatched to the Gonum BLAS implementation, which selects a
// SIMD kernel internally. All functions are pure and never retain their inputs.
package vecmath

import (
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

var (
	// ErrLengthMismatch is returned when two vectors of different dimension are combined.
	ErrLengthMismatch = errors.New("vecmath: vectors must have the same length")
	// ErrEmpty is returned when an operation needs at least one vector or component.
	ErrEmpty = errors.New("vecmath: empty input")
)

var gonumEngine = gonum.Implementation{}

// Backend describes the compute path in use, for startup logs.
func Backend() string {
	switch {
	case cpuid.CPU.Has(cpuid.AVX512F):
		return "gonum (avx512 capable cpu)"
	case cpuid.CPU.Has(cpuid.AVX2) && cpuid.CPU.Has(cpuid.FMA3):
		return "gonum (avx2+fma capable cpu)"
	case cpuid.CPU.Has(cpuid.ASIMD):
		return "gonum (neon capable cpu)"
	default:
		return "gonum (generic)"
	}
}

// Dot returns the dot product of a and b.
func Dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return gonumEngine.Ddot(len(a), a, 1, b, 1), nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(gonumEngine.Ddot(len(v), v, 1, v, 1))
}

// Cosine returns dot(a,b)/(|a||b|). A zero-length vector has similarity 0 with
// everything instead of NaN.
func Cosine(a, b []float64) (float64, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (na * nb), nil
}

// CosineDistance returns 1 - Cosine(a, b).
func CosineDistance(a, b []float64) (float64, error) {
	sim, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Add returns a new vector a+b.
func Add(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// Scale returns a new vector v*s.
func Scale(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * s
	}
	return out
}

// Mean returns the component-wise arithmetic mean of vs.
func Mean(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, ErrEmpty
	}
	sum := make([]float64, len(vs[0]))
	for _, v := range vs {
		if len(v) != len(sum) {
			return nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(v), len(sum))
		}
		for i, x := range v {
			sum[i] += x
		}
	}
	return Scale(sum, 1/float64(len(vs))), nil
}

// Finite reports whether every component of v is a finite number.
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
