package gpalloc

import "unsafe"

// Packed header state bits. All bit-mask logic is kept in this file.
const (
	noIndexBit uint32 = 1 << 31            // Block was allocated directly from the OS.
	setBit     uint32 = 1 << 30            // Block is allocated (in use).
	indexMask  uint32 = 1<<29 - 1          // Owning buffer index, or the free marker.
	sentinel   uint32 = setBit | indexMask // End-of-buffer marker; never free, never merged.
)

// MaxBufferCount is the largest number of backing buffers an allocator can own.
const MaxBufferCount = int(indexMask)

// nilOffset terminates free lists and marks the first block of a buffer.
const nilOffset = ^uint64(0)

// blockAlign is the alignment of every block, and thus of every payload.
const blockAlign = 8

// headerSize is the size of the header preceding every payload.
const headerSize = int(unsafe.Sizeof(header{}))

// header is embedded immediately before every payload.
type header struct {
	bufferIndex uint32 // Packed noIndexBit | setBit | buffer index.
	canary      uint32 // Check word of an allocated block, see canary.go; discard mark of a free block.
	previous    uint64 // Offset of the physically preceding block.
	nextFree    uint64 // Offset of the next free block in the same buffer.
	length      uint64 // Block size including the header.
}

func (h *header) isDirect() bool {
	return h.bufferIndex&noIndexBit != 0
}

func (h *header) isAllocated() bool {
	return h.bufferIndex&setBit != 0
}

func (h *header) isSentinel() bool {
	return h.bufferIndex == sentinel
}

// index returns the owning buffer index of an allocated block.
func (h *header) index() uint32 {
	return h.bufferIndex & indexMask
}

func (h *header) markAllocated(idx uint32) {
	h.bufferIndex = setBit | idx&indexMask
	h.nextFree = nilOffset
}

func (h *header) markFree() {
	h.bufferIndex = indexMask
	h.canary = 0
}

// discardedMark flags a free block whose payload pages were released by Trim.
const discardedMark uint32 = 1

func (h *header) isDiscarded() bool {
	return h.canary == discardedMark
}

func (h *header) markDiscarded() {
	h.canary = discardedMark
}

func (h *header) clearDiscarded() {
	h.canary = 0
}

func (h *header) markDirect() {
	h.bufferIndex = noIndexBit | setBit
}

func (h *header) markSentinel() {
	h.bufferIndex = sentinel
	h.canary = 0
	h.nextFree = nilOffset
	h.length = uint64(headerSize)
}

// headerOf returns the header of a payload pointer.
func headerOf(p unsafe.Pointer) *header {
	return (*header)(unsafe.Add(p, -headerSize))
}

// payloadOf returns the payload pointer of a block.
func payloadOf(h *header) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), headerSize)
}

// blockAt returns the header at offset off of a buffer.
func blockAt(base unsafe.Pointer, off uint64) *header {
	return (*header)(unsafe.Add(base, int(off)))
}

// offsetOf returns the offset of h within the buffer starting at base.
func offsetOf(base unsafe.Pointer, h *header) uint64 {
	return uint64(uintptr(unsafe.Pointer(h)) - uintptr(base))
}

// nextPhysical returns the offset of the block following the block at off.
func nextPhysical(off uint64, h *header) uint64 {
	return off + h.length
}

// blockSize returns the aligned block size needed to hold a payload of size bytes.
func blockSize(size int) uint64 {
	return alignUp(uint64(headerSize)+uint64(size), blockAlign)
}

func alignUp(n uint64, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
