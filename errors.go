package gpalloc

import "github.com/cockroachdb/errors"

var (
	// ErrClosed indicates use of an allocator after Close.
	ErrClosed = errors.New("gpalloc: allocator is closed")

	// ErrCorruptHeader indicates a block header that fails validation.
	ErrCorruptHeader = errors.New("gpalloc: corrupt block header")

	// ErrDoubleFree indicates a Free of a block that is not allocated.
	ErrDoubleFree = errors.New("gpalloc: block is already free")

	// ErrForeignPointer indicates a Free of a pointer this allocator did not return.
	ErrForeignPointer = errors.New("gpalloc: pointer not owned by allocator")
)
