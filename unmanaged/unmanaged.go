// Package unmanaged allocates memory directly from the operating system, outside the
// Go heap and without pooling.
//
// The functions are stateless. Every allocation must be released by the matching Free
// function with the same element type and count, which the caller tracks. Memory from
// this package must never be passed to a gpalloc allocator, and must not hold Go
// pointers.
//
// Each allocation is its own anonymous memory mapping, so it occupies at least one
// page and costs a system call to allocate and another to free. Small or numerous
// allocations, such as many short strings, belong in a gpalloc allocator instead.
package unmanaged

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/holmberd/go-gpalloc/internal/osmem"
)

// Integer is the set of count types accepted by the allocation functions.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// byteCount returns the size in bytes of count elements of elemSize bytes.
// It panics if count is negative or the size overflows an int.
func byteCount[N Integer](count N, elemSize uintptr) int {
	if count < 0 {
		panic(fmt.Sprintf("unmanaged: negative count %d", count))
	}
	if elemSize == 0 {
		return 0
	}
	if uint64(count) > uint64(math.MaxInt)/uint64(elemSize) {
		panic(fmt.Sprintf("unmanaged: %d elements of %d bytes overflow", count, elemSize))
	}
	return int(uint64(count) * uint64(elemSize))
}

// Alloc returns count bytes of zeroed memory, or nil if count is zero.
// It panics if the operating system cannot provide the memory.
func Alloc[N Integer](count N) unsafe.Pointer {
	return alloc(byteCount(count, 1))
}

// AllocFill is like Alloc but sets every byte to fill.
func AllocFill[N Integer](count N, fill byte) unsafe.Pointer {
	n := byteCount(count, 1)
	p := alloc(n)
	if p != nil && fill != 0 {
		b := unsafe.Slice((*byte)(p), n)
		b[0] = fill
		broadcast(b, 1)
	}
	return p
}

// AllocOf returns zeroed memory for count values of type T, or nil if the total size
// is zero.
func AllocOf[T any, N Integer](count N) *T {
	var zero T
	return (*T)(alloc(byteCount(count, unsafe.Sizeof(zero))))
}

// AllocOfValue is like AllocOf but initializes every element to value.
func AllocOfValue[T any, N Integer](count N, value T) *T {
	p := AllocOf[T](count)
	if p == nil {
		return nil
	}
	*p = value
	n := byteCount(count, unsafe.Sizeof(value))
	broadcast(unsafe.Slice((*byte)(unsafe.Pointer(p)), n), int(unsafe.Sizeof(value)))
	return p
}

// Free releases memory returned by Alloc or AllocFill with the same count and sets *p
// to nil. It does nothing if p or *p is nil.
func Free[N Integer](p *unsafe.Pointer, count N) {
	if p == nil || *p == nil {
		return
	}
	release(*p, byteCount(count, 1))
	*p = nil
}

// FreeOf releases memory returned by AllocOf or AllocOfValue with the same count and
// sets *p to nil.
func FreeOf[T any, N Integer](p **T, count N) {
	if p == nil || *p == nil {
		return
	}
	var zero T
	release(unsafe.Pointer(*p), byteCount(count, unsafe.Sizeof(zero)))
	*p = nil
}

func alloc(n int) unsafe.Pointer {
	if n == 0 {
		return nil
	}
	p, err := osmem.MapPointer(n)
	if err != nil {
		panic(errors.Wrapf(err, "unmanaged: allocation of %d bytes", n))
	}
	return p
}

func release(p unsafe.Pointer, n int) {
	if err := osmem.UnmapPointer(p, n); err != nil {
		panic(errors.Wrapf(err, "unmanaged: free of %d bytes at %p", n, p))
	}
}

// broadcast repeats the first width bytes of b across all of b.
func broadcast(b []byte, width int) {
	for filled := width; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}
