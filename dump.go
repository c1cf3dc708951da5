package gpalloc

import (
	"fmt"
	"io"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// blockKind returns a short name for the state of a block.
func blockKind(h *header) string {
	switch {
	case h.isSentinel():
		return "end"
	case h.isAllocated():
		return "used"
	default:
		return "free"
	}
}

// Print outputs a visual representation of the active buffers for debugging purposes.
// It prints one row per block with its offset, state, length and back link.
func (a *Allocator) Print(w io.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// The width is the number of hex digits in the largest offset.
	width := len(strconv.FormatUint(a.bufferSize, 16))
	for idx := range a.bufferCount {
		fmt.Fprintf(w, "--- Buffer %d ---\n", idx)
		r := newBlockReader(a.bases[idx], a.bufferSize)
		for {
			off, h, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				fmt.Fprintf(w, "[corrupt: %v]\n", err)
				break
			}
			prev := "-"
			if h.previous != nilOffset {
				prev = fmt.Sprintf("%0*x", width, h.previous)
			}
			fmt.Fprintf(w, "%0*x: %s len=%d prev=%s\n", width, off, blockKind(h), h.length, prev)
		}
		fmt.Fprintln(w)
	}
}

// DumpJSON returns a JSON document describing every mapped buffer and the blocks of
// the active ones.
func (a *Allocator) DumpJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("bufferSize").Int(int(a.bufferSize))
	obj.Name("maxBufferCount").Int(a.maxBufferCount)
	obj.Name("headerSize").Int(headerSize)
	obj.Name("activeBuffers").Int(a.bufferCount)

	buffers := obj.Name("buffers").Array()
	for idx := range a.buffers {
		b := buffers.Object()
		b.Name("index").Int(idx)
		active := idx < a.bufferCount
		b.Name("active").Bool(active)
		if active {
			a.dumpBlocks(&b, idx)
		}
		b.End()
	}
	buffers.End()
	obj.End()
	return w.Bytes(), w.Error()
}

func (a *Allocator) dumpBlocks(obj *jwriter.ObjectState, idx int) {
	var usedBytes, freeBytes uint64
	var allocCount, freeCount int
	var corrupt error

	blocks := obj.Name("blocks").Array()
	r := newBlockReader(a.bases[idx], a.bufferSize)
	for {
		off, h, err := r.Next()
		if err != nil {
			if err != io.EOF {
				corrupt = err
			}
			break
		}
		b := blocks.Object()
		b.Name("offset").Int(int(off))
		b.Name("length").Int(int(h.length))
		b.Name("kind").String(blockKind(h))
		b.End()

		switch {
		case h.isSentinel():
		case h.isAllocated():
			usedBytes += h.length
			allocCount++
		default:
			freeBytes += h.length
			freeCount++
		}
	}
	blocks.End()

	if corrupt != nil {
		obj.Name("error").String(corrupt.Error())
	}
	obj.Name("usedBytes").Int(int(usedBytes))
	obj.Name("freeBytes").Int(int(freeBytes))
	obj.Name("allocationCount").Int(allocCount)
	obj.Name("freeBlockCount").Int(freeCount)
}
