package gpalloc

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("Empty allocator is valid", func(t *testing.T) {
		a, _ := newTestAllocator(t)
		require.NoError(t, a.Validate())
	})

	testCases := []struct {
		name    string
		corrupt func(a *Allocator, ptrs []unsafe.Pointer)
		want    string
		wantIs  error
	}{
		{
			name: "Broken back link",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				headerOf(ptrs[1]).previous += blockAlign
			},
			want: "links back",
		},
		{
			name: "Unaligned length",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				headerOf(ptrs[0]).length++
			},
			wantIs: ErrCorruptHeader,
		},
		{
			name: "Length overruns the buffer",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				headerOf(ptrs[0]).length = 2 * testBufferSize
			},
			wantIs: ErrCorruptHeader,
		},
		{
			name: "Canary mismatch",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				headerOf(ptrs[2]).canary ^= 0xff
			},
			wantIs: ErrCorruptHeader,
		},
		{
			name: "Wrong owner",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				h := headerOf(ptrs[0])
				h.markAllocated(3)
				a.seal(h)
			},
			want: "owned by buffer 3",
		},
		{
			name: "Free block missing from the free list",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				a.freeHeads[0] = nilOffset
			},
			want: "missing from the free list",
		},
		{
			name: "Adjacent free blocks",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				// ptrs[3] precedes the free tail.
				h := headerOf(ptrs[3])
				h.markFree()
				h.nextFree = a.freeHeads[0]
				a.freeHeads[0] = offsetOf(a.bases[0], h)
			},
			want: "are adjacent",
		},
		{
			name: "Missing sentinel",
			corrupt: func(a *Allocator, ptrs []unsafe.Pointer) {
				s := blockAt(a.bases[0], a.bufferSize-uint64(headerSize))
				s.markAllocated(0)
				a.seal(s)
			},
			want: "sentinel",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestAllocator(t)
			ptrs := []unsafe.Pointer{a.Allocate(24), a.Allocate(48), a.Allocate(96), a.Allocate(8)}
			require.NoError(t, a.Validate())

			tc.corrupt(a, ptrs)
			err := a.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), "buffer 0")
			if tc.want != "" {
				require.Contains(t, err.Error(), tc.want)
			}
			if tc.wantIs != nil {
				require.True(t, errors.Is(err, tc.wantIs), "expected %v, got %v", tc.wantIs, err)
			}
			a.Reset() // Discard the corrupt buffer.
		})
	}
}

// TestRandomOperations checks the buffer invariants after every operation of a random
// sequence of allocations and frees.
func TestRandomOperations(t *testing.T) {
	a, _ := newTestAllocator(t, func(c *Config) { c.MaxBufferCount = 8 })
	rng := rand.New(rand.NewSource(42)) // Fixed seed for reproducibility.

	type live struct {
		p    unsafe.Pointer
		size int
		seed byte
	}
	var ptrs []live
	for i := range 5000 {
		switch op := rng.Intn(10); {
		case op < 4 || len(ptrs) == 0:
			size := rng.Intn(4096)
			if rng.Intn(50) == 0 {
				size = maxPooledSize - rng.Intn(256)
			}
			p := a.Allocate(size)
			fill(p, size, byte(i))
			ptrs = append(ptrs, live{p, size, byte(i)})
		case op < 8:
			j := rng.Intn(len(ptrs))
			checkPattern(t, ptrs[j].p, ptrs[j].size, ptrs[j].seed)
			a.Free(&ptrs[j].p)
			ptrs[j] = ptrs[len(ptrs)-1]
			ptrs = ptrs[:len(ptrs)-1]
		default:
			s := a.Stats()
			require.Equal(
				t,
				uint64(s.ActiveBuffers)*a.bufferSize,
				s.InUseBytes+s.FreeBytes+uint64(s.ActiveBuffers*headerSize),
				"blocks must partition the active buffers",
			)
		}
		require.NoError(t, a.Validate(), "operation %d", i)
	}

	for j := range ptrs {
		checkPattern(t, ptrs[j].p, ptrs[j].size, ptrs[j].seed)
		a.Free(&ptrs[j].p)
	}
	require.NoError(t, a.Validate())
	s := a.Stats()
	require.Zero(t, s.InUseBytes)
	require.Equal(t, s.ActiveBuffers, s.FreeBlocks)
}
