package gpalloc

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Validate checks the structural invariants of every active buffer:
//   - blocks partition the buffer exactly and end with the sentinel,
//   - every block links back to its physical predecessor,
//   - every block is either allocated by this buffer or free, with an intact check
//     word when headers are checked,
//   - no two free blocks are adjacent,
//   - the free list holds exactly the free blocks, each once.
//
// It returns nil if the allocator is consistent.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for idx := range a.bufferCount {
		if err := a.validateBuffer(uint32(idx)); err != nil {
			return errors.Wrapf(err, "buffer %d", idx)
		}
	}
	return nil
}

func (a *Allocator) validateBuffer(idx uint32) error {
	base := a.bases[idx]
	r := newBlockReader(base, a.bufferSize)
	free := make(map[uint64]struct{})
	prevOff := nilOffset
	prevFree := false
	sawSentinel := false
	var total uint64
	for {
		off, h, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if sawSentinel {
			return errors.Newf("block at offset %d follows the sentinel", off)
		}
		if h.previous != prevOff {
			return errors.Newf("block at offset %d links back to %d, expected %d", off, h.previous, prevOff)
		}
		total += h.length

		switch {
		case h.isSentinel():
			if h.length != uint64(headerSize) {
				return errors.Newf("sentinel at offset %d has length %d", off, h.length)
			}
			sawSentinel = true
		case h.isDirect():
			return errors.Newf("block at offset %d is marked as a direct allocation", off)
		case h.isAllocated():
			if h.index() != idx {
				return errors.Newf("allocated block at offset %d is owned by buffer %d", off, h.index())
			}
			if a.checkHeaders && !a.sealed(h) {
				return errors.Wrapf(ErrCorruptHeader, "allocated block at offset %d", off)
			}
		case h.bufferIndex != indexMask:
			return errors.Newf("free block at offset %d has state %#x", off, h.bufferIndex)
		default:
			if prevFree {
				return errors.Newf("free blocks at offsets %d and %d are adjacent", prevOff, off)
			}
			free[off] = struct{}{}
		}
		prevFree = !h.isAllocated()
		prevOff = off
	}
	if !sawSentinel {
		return errors.New("missing end-of-buffer sentinel")
	}
	if total != a.bufferSize {
		return errors.Newf("block lengths sum to %d, expected %d", total, a.bufferSize)
	}

	for off := a.freeHeads[idx]; off != nilOffset; off = blockAt(base, off).nextFree {
		if _, ok := free[off]; !ok {
			return errors.Newf("free list entry at offset %d is not a free block or is listed twice", off)
		}
		delete(free, off)
	}
	if len(free) != 0 {
		return errors.Newf("%d free blocks are missing from the free list", len(free))
	}
	return nil
}
