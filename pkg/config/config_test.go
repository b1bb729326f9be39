package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"empty location", func(c *Config) { c.Location = " " }, "location is required"},
		{"zero rows per file", func(c *Config) { c.Write.MaxRowsPerFile = 0 }, "max_rows_per_file"},
		{"bad parquet codec", func(c *Config) { c.Write.Compression = "brotli9" }, "parquet compression"},
		{"bad manifest codec", func(c *Config) { c.Write.ManifestCompression = "xz" }, "manifest compression"},
		{"codec case", func(c *Config) { c.Write.Compression = "ZSTD" }, ""},
		{"tiny parts", func(c *Config) { c.Storage.UploadPartSizeMB = 1 }, "upload_part_size_mb"},
		{"sample rate", func(c *Config) { c.Observability.TracingSampleRate = 1.5 }, "tracing_sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/tmp/x")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileSubstitutesEnv(t *testing.T) {
	t.Setenv("BRIDGE_TEST_ROOT", "/srv/tables")
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := "location: ${BRIDGE_TEST_ROOT}\n" +
		"write:\n  compression: snappy\n  max_rows_per_file: 10\n" +
		"storage:\n  s3_region: ${BRIDGE_TEST_UNSET:-eu-west-1}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tables", cfg.Location)
	assert.Equal(t, "snappy", cfg.Write.Compression)
	assert.EqualValues(t, 10, cfg.Write.MaxRowsPerFile)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3Region)
	// untouched keys keep their defaults
	assert.EqualValues(t, 8192, cfg.Read.BatchSize)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := NewConfig("gs://bucket/prefix")
	cfg.Write.ManifestCompression = "zstd"
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
