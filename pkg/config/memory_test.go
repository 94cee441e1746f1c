package config

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryLimitFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		want     int64
		describe string
	}{
		{"unset", "", 0, "Memory: unlimited"},
		{"explicit unlimited", "unlimited", 0, "Memory: unlimited"},
		{"zero", "0", 0, "Memory: unlimited"},
		{"plain bytes", "4096", 4096, "Memory: 4.00 KB"},
		{"fractional megabytes", "1536K", 1536 << 10, "Memory: 1.50 MB"},
		{"megabytes", "512MB", 512 << 20, "Memory: 512.00 MB"},
		{"lower case gigabytes", "2gb", 2 << 30, "Memory: 2.00 GB"},
		{"padded", "  3G ", 3 << 30, "Memory: 3.00 GB"},
		{"terabytes", "1TB", 1 << 40, "Memory: 1.00 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("THOUGHTGRAPH_MEMORY_RUNTIME_LIMIT", tt.env)
			}
			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Memory.Limit())
			assert.Contains(t, cfg.String(), tt.describe)
		})
	}
}

func TestLoad_MemoryLimitRejected(t *testing.T) {
	for _, v := range []string{"-1GB", "lots", "12XB"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("THOUGHTGRAPH_MEMORY_RUNTIME_LIMIT", v)
			_, err := Load("")
			assert.ErrorContains(t, err, "memory.runtime_limit")
		})
	}
}

func TestLoad_MemorySection(t *testing.T) {
	path := writeConfig(t, `
memory:
  runtime_limit: 256MB
  gc_percent: 75
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(256<<20), cfg.Memory.Limit())
	assert.Equal(t, 75, cfg.Memory.GCPercent)

	t.Setenv("THOUGHTGRAPH_MEMORY_GC_PERCENT", "50")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Memory.GCPercent)
	assert.Equal(t, "256MB", cfg.Memory.RuntimeLimit)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, def.Memory.GCPercent)
	assert.Equal(t, int64(0), def.Memory.Limit())
}

func TestMemoryConfig_ApplyRuntimeMemory(t *testing.T) {
	prevLimit := debug.SetMemoryLimit(-1)
	prevGC := debug.SetGCPercent(100)
	t.Cleanup(func() {
		debug.SetMemoryLimit(prevLimit)
		debug.SetGCPercent(prevGC)
	})

	MemoryConfig{RuntimeLimit: "0", GCPercent: 100}.ApplyRuntimeMemory()
	assert.Equal(t, prevLimit, debug.SetMemoryLimit(-1), "unlimited leaves the runtime limit alone")

	MemoryConfig{RuntimeLimit: "1GB", GCPercent: 50}.ApplyRuntimeMemory()
	assert.Equal(t, int64(1<<30), debug.SetMemoryLimit(-1))
	assert.Equal(t, 50, debug.SetGCPercent(100))
}
