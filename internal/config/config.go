// Package config provides unified configuration for the Strata engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the process-wide configuration. Reader-level knobs default
// from here but can be overridden per Reader construction.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Scan configuration
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Segment configuration
	Segment SegmentConfig `json:"segment" yaml:"segment"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// ScanConfig holds read-path configuration.
type ScanConfig struct {
	// ScannerRowLimit caps the physical rows folded into one logical row
	// per NextRow call when aggregation is requested by the scan layer
	ScannerRowLimit int `json:"scanner_row_limit" yaml:"scanner_row_limit"`

	// MaxInListPushdown bounds bloom filter loading: an IN list selects its
	// column only when it has fewer operands than this
	MaxInListPushdown int `json:"max_in_list_pushdown" yaml:"max_in_list_pushdown"`

	// BlockCacheCapacity is a capacity for the query-path LRU cache, which
	// holds whole decoded segments. No code in this module reads it; the
	// cmd tools open tablets without a cache
	BlockCacheCapacity int `json:"block_cache_capacity" yaml:"block_cache_capacity"`
}

// SegmentConfig holds segment build configuration.
type SegmentConfig struct {
	// BlockRows is the number of rows per encoded block
	BlockRows int `json:"block_rows" yaml:"block_rows"`

	// BloomFPR is the target false positive rate for column bloom filters
	BloomFPR float64 `json:"bloom_fpr" yaml:"bloom_fpr"`
}

// CatalogConfig holds manifest catalog configuration.
type CatalogConfig struct {
	// Path is the SQLite database file for the manifest catalog
	Path string `json:"path" yaml:"path"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to all object keys
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/strata",
		Scan: ScanConfig{
			ScannerRowLimit:    1024,
			MaxInListPushdown:  40,
			BlockCacheCapacity: 4096,
		},
		Segment: SegmentConfig{
			BlockRows: 1024,
			BloomFPR:  0.01,
		},
		Catalog: CatalogConfig{},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/strata"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "manifest.db")
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Scan.ScannerRowLimit <= 0 {
		return fmt.Errorf("scan.scanner_row_limit must be positive, got %d", c.Scan.ScannerRowLimit)
	}
	if c.Segment.BlockRows <= 0 {
		return fmt.Errorf("segment.block_rows must be positive, got %d", c.Segment.BlockRows)
	}
	if c.Segment.BloomFPR <= 0 || c.Segment.BloomFPR >= 1 {
		return fmt.Errorf("segment.bloom_fpr must be in (0, 1), got %f", c.Segment.BloomFPR)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STRATA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STRATA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STRATA_SCANNER_ROW_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Scan.ScannerRowLimit)
	}
	if v := os.Getenv("STRATA_MAX_IN_LIST_PUSHDOWN"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Scan.MaxInListPushdown)
	}
	if v := os.Getenv("STRATA_BLOCK_ROWS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Segment.BlockRows)
	}
	if v := os.Getenv("STRATA_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("STRATA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STRATA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STRATA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("STRATA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("STRATA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
