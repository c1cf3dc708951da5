// Package osmem acquires and releases memory directly from the operating system.
//
// Memory returned by this package is not part of the Go heap, so it is never scanned
// or moved by the garbage collector and must be released explicitly.
package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// PageSize returns the operating system page size in bytes.
func PageSize() int {
	return pageSize
}

// Map allocates size bytes of zeroed, private anonymous memory.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot map %d bytes", size)
	}
	// Use unix.Mmap to allocate virtual memory that is not part of the Go heap.
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return data, nil
}

// Unmap releases memory returned by Map. The slice must be the one returned by Map
// (same start and length).
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b[:len(b):len(b)])
}

// MapPointer is like Map but returns the start address of the mapping.
func MapPointer(size int) (unsafe.Pointer, error) {
	data, err := Map(size)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(unsafe.SliceData(data)), nil
}

// UnmapPointer releases a mapping created by MapPointer with the same size.
func UnmapPointer(p unsafe.Pointer, size int) error {
	if p == nil || size <= 0 {
		return nil
	}
	return unix.Munmap(unsafe.Slice((*byte)(p), size))
}

// Discard advises the kernel that the pages fully contained in b are no longer needed.
// The mapping stays valid; discarded pages read back as zero. It returns the number of
// bytes advised.
func Discard(b []byte) (int, error) {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	end := start + uintptr(len(b))
	ps := uintptr(pageSize)
	alignedStart := (start + ps - 1) &^ (ps - 1)
	alignedEnd := end &^ (ps - 1)
	if alignedEnd <= alignedStart {
		return 0, nil
	}
	lo := int(alignedStart - start)
	hi := int(alignedEnd - start)
	if err := unix.Madvise(b[lo:hi], unix.MADV_DONTNEED); err != nil {
		return 0, fmt.Errorf("cannot discard %d bytes: %w", hi-lo, err)
	}
	return hi - lo, nil
}
