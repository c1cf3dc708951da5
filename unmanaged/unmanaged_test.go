package unmanaged

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAlloc(t *testing.T) {
	t.Run("Zero count returns nil", func(t *testing.T) {
		require.Nil(t, Alloc(0))
		require.Nil(t, AllocOf[uint64](uint8(0)))
		var p unsafe.Pointer
		Free(&p, 0) // No-op.
	})

	t.Run("Memory is zeroed", func(t *testing.T) {
		const n = 10000
		p := Alloc(uint32(n))
		b := unsafe.Slice((*byte)(p), n)
		for i, v := range b {
			require.Zero(t, v, "byte %d", i)
		}
		b[n-1] = 1
		Free(&p, uint32(n))
		require.Nil(t, p, "Free must nil the pointer")
	})

	t.Run("Fill", func(t *testing.T) {
		for _, n := range []int{1, 2, 7, 4096, 5000} {
			p := AllocFill(n, 0xab)
			for i, v := range unsafe.Slice((*byte)(p), n) {
				require.Equal(t, byte(0xab), v, "count %d, byte %d", n, i)
			}
			Free(&p, n)
		}
	})

	t.Run("Negative count panics", func(t *testing.T) {
		require.Panics(t, func() { Alloc(-1) })
	})
}

func TestAllocOf(t *testing.T) {
	type pair struct {
		A uint32
		B float64
	}

	t.Run("Typed", func(t *testing.T) {
		const n = 300
		p := AllocOf[pair](n)
		s := unsafe.Slice(p, n)
		for i := range s {
			s[i] = pair{A: uint32(i), B: float64(i) / 2}
		}
		for i := range s {
			require.Equal(t, pair{A: uint32(i), B: float64(i) / 2}, s[i], "element %d", i)
		}
		FreeOf(&p, n)
		require.Nil(t, p, "FreeOf must nil the pointer")
	})

	t.Run("Broadcast value", func(t *testing.T) {
		want := pair{A: 0xdeadbeef, B: 3.5}
		for _, n := range []int64{1, 2, 3, 1000} {
			p := AllocOfValue(n, want)
			for i, v := range unsafe.Slice(p, n) {
				require.Equal(t, want, v, "count %d, element %d", n, i)
			}
			FreeOf(&p, n)
		}
	})
}
