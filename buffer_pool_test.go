package gpalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testBufferSizes = []int{64 * KiB, 256 * KiB}

func newTestBufferPool(threshold int) *MmapBufferPool {
	return NewMmapBufferPool(BufferPoolConfig{
		FreeThreshold: threshold,
		Logger:        discardLogger,
	})
}

func TestMmapBufferPool(t *testing.T) {
	t.Run("Get and Put single buffer for each size", func(t *testing.T) {
		pool := newTestBufferPool(10)
		defer pool.Close()
		for _, size := range testBufferSizes {
			require.Zero(t, pool.numFree(size), "expected new pool for size %d to be empty", size)
		}

		for _, size := range testBufferSizes {
			buf := pool.Get(size)
			require.NotNil(t, buf, "expected a valid buffer for size %d", size)
			require.Len(t, buf, size)
			require.Equal(t, size, cap(buf))
			require.Zero(t, pool.numFree(size), "expected no free buffers after Get for size %d", size)
			buf[0], buf[size-1] = 1, 1 // Must be writable.
			pool.Put(buf)
		}

		for _, size := range testBufferSizes {
			require.Equal(t, 1, pool.numFree(size), "expected 1 free buffer after Put for size %d", size)
		}
	})

	t.Run("Put nil does not panic or add to pool", func(t *testing.T) {
		pool := newTestBufferPool(10)
		pool.Put(nil) // This should be a no-op and should not cause a panic.
		for _, size := range testBufferSizes {
			require.Zero(t, pool.numFree(size))
		}
	})

	t.Run("Zero threshold releases every buffer", func(t *testing.T) {
		pool := newTestBufferPool(0)
		size := testBufferSizes[0]
		pool.Put(pool.Get(size))
		require.Zero(t, pool.numFree(size))
	})

	t.Run("Threshold releases half of the free buffers", func(t *testing.T) {
		pool := newTestBufferPool(4)
		defer pool.Close()
		size := testBufferSizes[0]
		bufs := make([][]byte, 5)
		for i := range bufs {
			bufs[i] = pool.Get(size)
		}
		for _, b := range bufs {
			pool.Put(b)
		}
		// The fifth Put exceeds the threshold of 4 and releases 5/2 buffers.
		require.Equal(t, 3, pool.numFree(size))
	})

	t.Run("Allocate pre-warms the pool", func(t *testing.T) {
		pool := newTestBufferPool(10)
		defer pool.Close()
		size := testBufferSizes[1]
		pool.Allocate(size, 3)
		require.Equal(t, 3, pool.numFree(size))
		pool.Allocate(size, 2) // Already satisfied.
		require.Equal(t, 3, pool.numFree(size))
		pool.Allocate(size, 0)
		_ = pool.Get(size)
		require.Equal(t, 2, pool.numFree(size))
	})
}

func TestReleaseBuffers(t *testing.T) {
	testCases := []struct {
		name       string
		n          int
		threshold  int
		wantKept   int
		wantUnmaps int
	}{
		{"Below threshold", 3, 4, 3, 0},
		{"At threshold", 4, 4, 4, 0},
		{"Above threshold", 6, 4, 3, 3},
		{"Zero threshold", 3, 0, 0, 3},
		{"Empty", 0, 0, 0, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			list := make([]int, tc.n)
			kept, toUnmap := releaseBuffers(list, tc.threshold)
			require.Len(t, kept, tc.wantKept)
			require.Len(t, toUnmap, tc.wantUnmaps)
		})
	}
}
