package gpalloc

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// blockReader reads the blocks of a buffer in address order.
type blockReader struct {
	base unsafe.Pointer // Buffer start address.
	size uint64         // Buffer size.
	off  uint64         // Offset of the next block.
}

func newBlockReader(base unsafe.Pointer, size uint64) *blockReader {
	return &blockReader{base: base, size: size}
}

// Offset returns the offset of the next block.
func (r *blockReader) Offset() uint64 {
	return r.off
}

// Reset resets the reader to the start of the buffer.
func (r *blockReader) Reset() *blockReader {
	r.off = 0
	return r
}

func (r *blockReader) IsEOF() bool {
	return r.off >= r.size
}

// Next returns the next block and its offset.
// The error is [io.EOF] once the end of the buffer is reached. A header whose length
// would not advance the reader or would run past the buffer is reported as corrupt.
func (r *blockReader) Next() (off uint64, h *header, err error) {
	if r.IsEOF() {
		return 0, nil, io.EOF
	}
	off = r.off
	if off+uint64(headerSize) > r.size {
		return 0, nil, errors.Wrapf(ErrCorruptHeader, "block at offset %d overruns the buffer", off)
	}
	h = blockAt(r.base, off)
	switch {
	case h.length < uint64(headerSize):
		return 0, nil, errors.Wrapf(ErrCorruptHeader, "block at offset %d has length %d", off, h.length)
	case h.length%blockAlign != 0:
		return 0, nil, errors.Wrapf(ErrCorruptHeader, "block at offset %d has unaligned length %d", off, h.length)
	case h.length > r.size-off:
		return 0, nil, errors.Wrapf(
			ErrCorruptHeader, "block at offset %d with length %d overruns the buffer", off, h.length,
		)
	}
	r.off = nextPhysical(off, h)
	return off, h, nil
}
