package lattice

import (
	"fmt"
)

// CompressedSearch selects how items of compressed nodes are kept and searched.
type CompressedSearch string

const (
	// SearchRaw keeps items.jsonl after compression; search reads the exact
	// embeddings.
	SearchRaw CompressedSearch = "raw"
	// SearchQuantized truncates items.jsonl once compressed.json is durable;
	// search then works on the dequantized 8-bit embeddings.
	SearchQuantized CompressedSearch = "quantized"
)

// Config holds the lattice tunables. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// CompressionThreshold is the mean pairwise cosine similarity a node must
	// reach before it is compressed.
	CompressionThreshold float64 `yaml:"compression_threshold" json:"compressionThreshold"`
	AutoCompress         bool    `yaml:"auto_compress" json:"autoCompress"`
	// EnableCompression is a legacy alias of AutoCompress. When set it wins.
	EnableCompression *bool `yaml:"enable_compression,omitempty" json:"-"`

	// CapacityPerTN is the soft item cap used for utilization.
	CapacityPerTN int `yaml:"capacity_per_tn" json:"capacityPerTN"`
	// GlobalMaxTNs is the hard cap on live nodes.
	GlobalMaxTNs int `yaml:"global_max_tns" json:"globalMaxTNs"`

	// Accepted but not acted upon.
	LinkDiscoveryEnabled    bool `yaml:"link_discovery_enabled" json:"linkDiscoveryEnabled"`
	SplitRateLimitPerMinute int  `yaml:"split_rate_limit_per_minute" json:"splitRateLimitPerMinute"`

	// HybridRetrieval enables the two-phase item search; without it only
	// coarse node routing is offered.
	HybridRetrieval bool `yaml:"hybrid_retrieval" json:"hybridRetrieval"`

	AutoCompressMinItems int     `yaml:"auto_compress_min_items" json:"autoCompressMinItems"`
	EnergyDecayPerHour   float64 `yaml:"energy_decay_per_hour" json:"energyDecayPerHour"`
	EnergyFloor          float64 `yaml:"energy_floor" json:"energyFloor"`
	PruneEnergyThreshold float64 `yaml:"prune_energy_threshold" json:"pruneEnergyThreshold"`
	// PruneMinNodes: pruning only happens while more than this many nodes live.
	PruneMinNodes       int     `yaml:"prune_min_nodes" json:"pruneMinNodes"`
	OverflowUtilization float64 `yaml:"overflow_utilization" json:"overflowUtilization"`

	RouteTopK  int `yaml:"route_top_k" json:"routeTopK"`
	SearchTopK int `yaml:"search_top_k" json:"searchTopK"`

	CompressedSearch CompressedSearch `yaml:"compressed_search" json:"compressedSearch"`
	// DeletePruned removes pruned node directories instead of keeping them
	// on disk marked inactive.
	DeletePruned bool `yaml:"delete_pruned" json:"deletePruned"`
	// SyncWrites fsyncs the item log on every append.
	SyncWrites bool `yaml:"sync_writes" json:"syncWrites"`
	// Dimension fixes the embedding size. 0 learns it from the first item.
	Dimension int `yaml:"dimension" json:"dimension"`
}

// DefaultConfig returns the standard lattice configuration.
func DefaultConfig() Config {
	return Config{
		CompressionThreshold:    0.6,
		AutoCompress:            true,
		CapacityPerTN:           100,
		GlobalMaxTNs:            1000,
		LinkDiscoveryEnabled:    false,
		SplitRateLimitPerMinute: 0,
		HybridRetrieval:         true,
		AutoCompressMinItems:    10,
		EnergyDecayPerHour:      0.01,
		EnergyFloor:             0.1,
		PruneEnergyThreshold:    0.3,
		PruneMinNodes:           10,
		OverflowUtilization:     0.95,
		RouteTopK:               6,
		SearchTopK:              10,
		CompressedSearch:        SearchRaw,
	}
}

// ApplyAliases folds legacy keys into their current fields.
func (c *Config) ApplyAliases() {
	if c.EnableCompression != nil {
		c.AutoCompress = *c.EnableCompression
		c.EnableCompression = nil
	}
}

// Validate checks the configuration for values the algorithms cannot work
// with.
func (c Config) Validate() error {
	switch {
	case c.CompressionThreshold < -1 || c.CompressionThreshold > 1:
		return fmt.Errorf("%w: compression_threshold must be in [-1, 1], got %v", ErrValidation, c.CompressionThreshold)
	case c.CapacityPerTN <= 0:
		return fmt.Errorf("%w: capacity_per_tn must be positive", ErrValidation)
	case c.GlobalMaxTNs <= 0:
		return fmt.Errorf("%w: global_max_tns must be positive", ErrValidation)
	case c.AutoCompressMinItems < 2:
		return fmt.Errorf("%w: auto_compress_min_items must be at least 2", ErrValidation)
	case c.EnergyDecayPerHour < 0:
		return fmt.Errorf("%w: energy_decay_per_hour must not be negative", ErrValidation)
	case c.EnergyFloor <= 0 || c.EnergyFloor > 1:
		return fmt.Errorf("%w: energy_floor must be in (0, 1]", ErrValidation)
	case c.PruneMinNodes < 0:
		return fmt.Errorf("%w: prune_min_nodes must not be negative", ErrValidation)
	case c.OverflowUtilization <= 0:
		return fmt.Errorf("%w: overflow_utilization must be positive", ErrValidation)
	case c.RouteTopK <= 0 || c.SearchTopK <= 0:
		return fmt.Errorf("%w: route_top_k and search_top_k must be positive", ErrValidation)
	case c.Dimension < 0:
		return fmt.Errorf("%w: dimension must not be negative", ErrValidation)
	}
	switch c.CompressedSearch {
	case SearchRaw, SearchQuantized:
	default:
		return fmt.Errorf("%w: compressed_search must be %q or %q, got %q", ErrValidation, SearchRaw, SearchQuantized, c.CompressedSearch)
	}
	return nil
}
