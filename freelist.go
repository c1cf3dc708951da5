package gpalloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// All functions in this file assume the caller holds the allocator lock.

// findFreeBuffer returns the payload of a block of at least need bytes taken from the
// first free block large enough, scanning buffers in index order and each free list
// from its head. It activates a new buffer if no free block fits, and returns nil if
// no more buffers can be activated.
func (a *Allocator) findFreeBuffer(need uint64) unsafe.Pointer {
	for idx := range a.bufferCount {
		base := a.bases[idx]
		link := nilOffset // Predecessor on the free list; nilOffset for the head.
		for off := a.freeHeads[idx]; off != nilOffset; {
			h := blockAt(base, off)
			if h.length >= need {
				a.carve(uint32(idx), link, off, h, need)
				return payloadOf(h)
			}
			link, off = off, h.nextFree
		}
	}
	return a.newBuffer(need)
}

// carve allocates the free block h at offset off, splitting off its tail as a new
// free block when the slack can hold a header plus payload. The tail takes the
// block's position in the free list.
func (a *Allocator) carve(idx uint32, link uint64, off uint64, h *header, need uint64) {
	base := a.bases[idx]
	next := h.nextFree
	if h.length >= need+2*uint64(headerSize) {
		tailOff := off + need
		tail := blockAt(base, tailOff)
		tail.markFree()
		tail.length = h.length - need
		tail.previous = off
		tail.nextFree = next
		a.relink(base, tailOff, tail)

		h.length = need
		next = tailOff
		a.stats.splits++
	}
	a.setLink(idx, link, next)
	h.markAllocated(idx)
	a.seal(h)
	a.stats.allocs++
}

// newBuffer activates the next buffer, mapping it if needed, and formats it as an
// allocated block of need bytes, a free remainder block and the sentinel.
func (a *Allocator) newBuffer(need uint64) unsafe.Pointer {
	if a.bufferCount == a.maxBufferCount {
		if !a.warnedFull {
			a.warnedFull = true
			a.logger.Warn(
				"all buffers are in use; falling back to direct allocations",
				"maxBufferCount", a.maxBufferCount,
			)
		}
		return nil
	}
	idx := a.bufferCount
	if idx == len(a.buffers) {
		a.mapBuffer()
	}
	a.bufferCount++
	a.discarded[idx] = false
	base := a.bases[idx]
	end := a.bufferSize - uint64(headerSize) // Sentinel offset.

	first := blockAt(base, 0)
	first.previous = nilOffset
	first.length = need
	last := uint64(0) // Offset of the block preceding the sentinel.

	a.freeHeads[idx] = nilOffset
	if rest := end - need; rest >= 2*uint64(headerSize) {
		fb := blockAt(base, need)
		fb.markFree()
		fb.length = rest
		fb.previous = 0
		fb.nextFree = nilOffset
		a.freeHeads[idx] = need
		last = need
	} else {
		first.length = end
	}

	s := blockAt(base, end)
	s.markSentinel()
	s.previous = last

	first.markAllocated(uint32(idx))
	a.seal(first)
	a.stats.allocs++
	a.stats.newBuffers++
	a.logger.Debug("activated buffer", "index", idx, "size", a.bufferSize)
	return payloadOf(first)
}

// release returns the allocated block h of buffer idx to the free list, merging it
// with a free physical neighbour on either side.
func (a *Allocator) release(idx uint32, h *header) {
	base := a.bases[idx]
	off := offsetOf(base, h)
	length := h.length
	nextOff := nextPhysical(off, h)
	next := blockAt(base, nextOff) // The sentinel guarantees a next block.
	nextFree := !next.isAllocated()

	prevOff := h.previous
	var prev *header
	if prevOff != nilOffset {
		if p := blockAt(base, prevOff); !p.isAllocated() {
			prev = p
		}
	}
	a.stats.frees++

	switch {
	case prev != nil && nextFree:
		// Previous absorbs this block and next; next leaves its free list.
		a.unlink(idx, nextOff)
		prev.length += length + next.length
		prev.clearDiscarded()
		h.markFree()
		next.markFree()
		a.relink(base, prevOff, prev)
		a.stats.coalesceBackward++
		a.stats.coalesceForward++
	case nextFree:
		// This block absorbs next and takes its place in the free list.
		link := a.findLink(idx, nextOff)
		h.markFree()
		h.length = length + next.length
		h.nextFree = next.nextFree
		a.setLink(idx, link, off)
		a.relink(base, off, h)
		a.stats.coalesceForward++
	case prev != nil:
		// Previous absorbs this block; it is already on the free list.
		prev.length += length
		prev.clearDiscarded()
		h.markFree()
		a.relink(base, prevOff, prev)
		a.stats.coalesceBackward++
	default:
		h.markFree()
		h.nextFree = a.freeHeads[idx]
		a.freeHeads[idx] = off
	}
}

// relink points the block following h back at h.
func (a *Allocator) relink(base unsafe.Pointer, off uint64, h *header) {
	blockAt(base, nextPhysical(off, h)).previous = off
}

// findLink returns the free-list predecessor of the free block at off, or nilOffset
// if the block is the list head.
func (a *Allocator) findLink(idx uint32, off uint64) uint64 {
	base := a.bases[idx]
	link := nilOffset
	for cur := a.freeHeads[idx]; cur != off; cur = blockAt(base, cur).nextFree {
		if cur == nilOffset {
			panic(errors.AssertionFailedf(
				"free block at offset %d missing from free list of buffer %d", off, idx,
			))
		}
		link = cur
	}
	return link
}

// setLink makes the free-list successor of link, or the list head, point at off.
func (a *Allocator) setLink(idx uint32, link uint64, off uint64) {
	if link == nilOffset {
		a.freeHeads[idx] = off
		return
	}
	blockAt(a.bases[idx], link).nextFree = off
}

// unlink removes the free block at off from the free list of buffer idx.
func (a *Allocator) unlink(idx uint32, off uint64) {
	link := a.findLink(idx, off)
	a.setLink(idx, link, blockAt(a.bases[idx], off).nextFree)
}
