package main

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/holmberd/go-gpalloc"
)

// liveBlock is an allocation held by a worker together with the pattern written to it.
type liveBlock struct {
	p    unsafe.Pointer
	size int
	seed byte
}

// stress runs workers goroutines performing ops random allocations and frees each,
// verifying every block's contents before it is freed. It stops early when ctx is
// cancelled and returns the first corruption found.
func stress(ctx context.Context, a *gpalloc.Allocator, logger *slog.Logger, workers, ops, maxSize int, seed int64) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runWorker(ctx, a, ops, maxSize, seed+int64(w)); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "worker %d", w)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstErr == nil && ctx.Err() != nil {
		logger.Warn("stress run interrupted", "error", ctx.Err())
	}
	return firstErr
}

func runWorker(ctx context.Context, a *gpalloc.Allocator, ops, maxSize int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	var live []liveBlock
	defer func() {
		for i := range live {
			a.Free(&live[i].p)
		}
	}()

	for i := range ops {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil
		}
		if len(live) > 0 && rng.Intn(2) == 0 {
			j := rng.Intn(len(live))
			if err := verify(live[j]); err != nil {
				return err
			}
			a.Free(&live[j].p)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		b := liveBlock{size: rng.Intn(maxSize + 1), seed: byte(rng.Intn(256))}
		b.p = a.Allocate(b.size)
		fill(b)
		live = append(live, b)
	}
	for _, b := range live {
		if err := verify(b); err != nil {
			return err
		}
	}
	return nil
}

func fill(b liveBlock) {
	data := unsafe.Slice((*byte)(b.p), b.size)
	for i := range data {
		data[i] = b.seed + byte(i)
	}
}

func verify(b liveBlock) error {
	data := unsafe.Slice((*byte)(b.p), b.size)
	for i := range data {
		if data[i] != b.seed+byte(i) {
			return errors.Newf("block %p of %d bytes corrupted at byte %d", b.p, b.size, i)
		}
	}
	return nil
}
