package node

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every input validation failure: empty,
	// non-finite or wrong-dimension embeddings and bad arguments.
	ErrValidation = errors.New("validation error")

	// ErrNoMeta is returned by Open when the directory holds no meta.json.
	ErrNoMeta = errors.New("node directory has no meta.json")
)

// DimensionError reports an embedding whose length does not match the node
// (or lattice) dimension. It matches ErrValidation with errors.Is.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrValidation }
