// Package config defines the configuration of an arrowbridge process.
//
// The configuration is organized into logical sections:
//   - Storage: object store credentials and upload tuning for s3:// and gs:// locations
//   - Write: fragment sizing and compression for the dataset engine
//   - Read: scan batch sizing
//   - Observability: logging, metrics, tracing
//
// Example usage:
//
//	cfg := config.NewConfig("/var/lib/arrowbridge")
//	cfg.Write.MaxRowsPerFile = 100000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
)

// Config is the single configuration structure for the bridge.
type Config struct {
	// Location is the root under which every table's dataset lives.
	// A local directory path, file://, s3://bucket/prefix or gs://bucket/prefix.
	Location string `yaml:"location" json:"location"`

	// Storage settings for remote locations
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Write settings for the dataset engine
	Write WriteConfig `yaml:"write" json:"write"`

	// Read settings for scans
	Read ReadConfig `yaml:"read" json:"read"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StorageConfig contains object store settings.
type StorageConfig struct {
	// S3Region overrides the region from the AWS shared config
	S3Region string `yaml:"s3_region" json:"s3_region"`
	// S3Endpoint points at an S3-compatible endpoint (minio, localstack)
	S3Endpoint string `yaml:"s3_endpoint" json:"s3_endpoint"`
	// S3PathStyle forces path-style addressing
	S3PathStyle bool `yaml:"s3_path_style" json:"s3_path_style"`
	// UploadPartSizeMB sets the multipart upload part size
	UploadPartSizeMB int `yaml:"upload_part_size_mb" json:"upload_part_size_mb"`
	// UploadConcurrency sets the number of parts uploaded in parallel
	UploadConcurrency int `yaml:"upload_concurrency" json:"upload_concurrency"`
	// GCSCredentialsFile is a service account key file; empty uses ADC
	GCSCredentialsFile string `yaml:"gcs_credentials_file" json:"gcs_credentials_file"`
	// GCSProject is the project used for bucket metadata calls
	GCSProject string `yaml:"gcs_project" json:"gcs_project"`
}

// WriteConfig contains dataset write settings.
type WriteConfig struct {
	// MaxRowsPerFile rolls a new fragment file after this many rows
	MaxRowsPerFile int64 `yaml:"max_rows_per_file" json:"max_rows_per_file"`
	// MaxRowsPerGroup caps parquet row group length
	MaxRowsPerGroup int64 `yaml:"max_rows_per_group" json:"max_rows_per_group"`
	// Compression is the parquet page codec (none, snappy, gzip, zstd, lz4)
	Compression string `yaml:"compression" json:"compression"`
	// ManifestCompression is the manifest codec (none, snappy, s2, zstd, lz4, gzip)
	ManifestCompression string `yaml:"manifest_compression" json:"manifest_compression"`
}

// ReadConfig contains scan settings.
type ReadConfig struct {
	// BatchSize is the number of rows per batch produced by a scan
	BatchSize int64 `yaml:"batch_size" json:"batch_size"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects the zap encoding (json, console)
	LogFormat string `yaml:"log_format" json:"log_format"`
	// LogOutput lists zap output paths
	LogOutput []string `yaml:"log_output" json:"log_output"`
	// EnableMetrics activates prometheus collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates otel tracing to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

var (
	parquetCodecs  = []string{"none", "snappy", "gzip", "zstd", "lz4"}
	manifestCodecs = []string{"none", "snappy", "s2", "zstd", "lz4", "gzip"}
)

// NewConfig creates a Config rooted at location with production defaults.
func NewConfig(location string) *Config {
	return &Config{
		Location: location,
		Storage: StorageConfig{
			UploadPartSizeMB:  8,
			UploadConcurrency: 4,
		},
		Write: WriteConfig{
			MaxRowsPerFile:      1024 * 1024,
			MaxRowsPerGroup:     64 * 1024,
			Compression:         "zstd",
			ManifestCompression: "none",
		},
		Read: ReadConfig{
			BatchSize: 8192,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			LogOutput:         []string{"stderr"},
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return fmt.Errorf("location is required")
	}
	if c.Write.MaxRowsPerFile <= 0 {
		return fmt.Errorf("max_rows_per_file must be positive")
	}
	if c.Write.MaxRowsPerGroup <= 0 {
		return fmt.Errorf("max_rows_per_group must be positive")
	}
	if c.Read.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Storage.UploadPartSizeMB < 5 {
		return fmt.Errorf("upload_part_size_mb must be at least 5")
	}
	if c.Storage.UploadConcurrency <= 0 {
		return fmt.Errorf("upload_concurrency must be positive")
	}
	if !oneOf(c.Write.Compression, parquetCodecs) {
		return fmt.Errorf("unsupported parquet compression %q", c.Write.Compression)
	}
	if !oneOf(c.Write.ManifestCompression, manifestCodecs) {
		return fmt.Errorf("unsupported manifest compression %q", c.Write.ManifestCompression)
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
