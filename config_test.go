package gpalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holmberd/go-gpalloc/internal/testutils"
)

func TestConfigValidate(t *testing.T) {
	pool := &testutils.MockBufferPool{}
	valid := Config{MaxBufferCount: 1, BufferSize: minBufferSize, Pool: pool}

	testCases := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"Minimal config", func(c *Config) {}, false},
		{"Default config", func(c *Config) { *c = DefaultConfig() }, false},
		{"Largest buffer table", func(c *Config) { c.MaxBufferCount = MaxBufferCount }, false},
		{"Zero buffers", func(c *Config) { c.MaxBufferCount = 0 }, true},
		{"Too many buffers", func(c *Config) { c.MaxBufferCount = MaxBufferCount + 1 }, true},
		{"Buffer too small", func(c *Config) { c.BufferSize = minBufferSize - blockAlign }, true},
		{"Unaligned buffer size", func(c *Config) { c.BufferSize = minBufferSize + 1 }, true},
		{"Missing pool", func(c *Config) { c.Pool = nil }, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.modify(&config)
			err := config.Validate()
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid config")
			} else {
				require.NoError(t, err)
			}
		})
	}

	t.Run("Custom rejects invalid config", func(t *testing.T) {
		config := valid
		config.BufferSize = 0
		_, err := Custom(config)
		require.Error(t, err)
	})

	t.Run("Smallest buffer serves allocations", func(t *testing.T) {
		a, err := Custom(Config{MaxBufferCount: 1, BufferSize: minBufferSize, Pool: pool, Logger: discardLogger})
		require.NoError(t, err)
		defer a.Close()
		p := a.Allocate(0)
		q := a.Allocate(minBufferSize) // Direct.
		require.NoError(t, a.Validate())
		a.Free(&p)
		a.Free(&q)
	})
}
