package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/holmberd/go-gpalloc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ca := newCmdArgs(stderr)
	if err := ca.Parse(args); err != nil {
		return 2
	}
	level := slog.LevelInfo
	if ca.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	bufferSize := int(ca.BufferSize) * gpalloc.MiB
	pool := gpalloc.NewMmapBufferPool(gpalloc.BufferPoolConfig{
		FreeThreshold: int(ca.Reserve),
		Logger:        logger,
	})
	defer pool.Close()
	pool.Allocate(bufferSize, int(ca.Reserve))

	a, err := gpalloc.Custom(gpalloc.Config{
		MaxBufferCount: int(ca.Buffers),
		BufferSize:     bufferSize,
		Pool:           pool,
		Logger:         logger,
		CheckHeaders:   ca.CheckHeaders,
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}
	defer a.Close()
	a.Reserve(int(ca.Reserve))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if ca.TrimInterval > 0 {
		trimCtx, cancelTrim := context.WithCancel(ctx)
		defer cancelTrim()
		trimConfig := gpalloc.DefaultTrimWorkerConfig()
		trimConfig.Interval = ca.TrimInterval
		go func() {
			if err := a.RunTrimWorker(trimCtx, trimConfig); err != nil {
				logger.Error("trim worker failed", "error", err)
			}
		}()
	}

	logger.Info(
		"starting stress run",
		"workers", ca.Workers, "ops", ca.Ops, "maxSize", ca.MaxSize,
		"bufferSize", bufferSize, "buffers", ca.Buffers,
	)
	start := time.Now()
	err = stress(ctx, a, logger, int(ca.Workers), int(ca.Ops), int(ca.MaxSize), ca.Seed)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("stress run failed", "error", err)
		return 1
	}
	if ca.Validate {
		if err := a.Validate(); err != nil {
			logger.Error("allocator is inconsistent", "error", err)
			return 1
		}
	}

	s := a.Stats()
	fmt.Fprintf(stdout, "elapsed:            %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(stdout, "buffers:            %d active, %d mapped\n", s.ActiveBuffers, s.MappedBuffers)
	fmt.Fprintf(stdout, "allocs / frees:     %d / %d\n", s.Allocs, s.Frees)
	fmt.Fprintf(stdout, "direct:             %d / %d\n", s.DirectAllocs, s.DirectFrees)
	fmt.Fprintf(stdout, "splits:             %d\n", s.Splits)
	fmt.Fprintf(stdout, "coalesced:          %d forward, %d backward\n", s.CoalesceForward, s.CoalesceBackward)
	fmt.Fprintf(stdout, "free blocks:        %d (%d bytes, largest %d)\n", s.FreeBlocks, s.FreeBytes, s.LargestFreeBlock)
	fmt.Fprintf(stdout, "trimmed:            %d bytes\n", s.TrimmedBytes)
	if ca.JSON {
		data, err := a.DumpJSON()
		if err != nil {
			logger.Error("cannot dump block map", "error", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s\n", data)
	}
	return 0
}
