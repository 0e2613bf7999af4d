package lattice

import (
	"errors"

	"github.com/sanonone/lattice/pkg/node"
)

var (
	// ErrValidation reports a malformed request: empty, non-finite or
	// wrong-dimension vectors, bad parameters.
	ErrValidation = node.ErrValidation

	// ErrNodeNotFound is returned for an unknown or pruned node id.
	ErrNodeNotFound = errors.New("transmitter node not found")

	// ErrHybridDisabled is returned by HybridSearch when hybrid retrieval is
	// turned off in the configuration.
	ErrHybridDisabled = errors.New("hybrid retrieval is disabled")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("lattice is closed")
)
