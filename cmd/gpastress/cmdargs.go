package main

import (
	"flag"
	"io"
	"time"

	"github.com/holmberd/go-gpalloc"
)

type cmdArgs struct {
	fs           *flag.FlagSet
	Workers      uint
	Ops          uint
	MaxSize      uint
	BufferSize   uint
	Buffers      uint
	Reserve      uint
	Validate     bool
	JSON         bool
	CheckHeaders bool
	Verbose      bool
	Seed         int64
	TrimInterval time.Duration
}

func newCmdArgs(output io.Writer) (ca *cmdArgs) {
	ca = &cmdArgs{
		fs: flag.NewFlagSet("gpastress", flag.ContinueOnError),
	}
	ca.fs.SetOutput(output)
	ca.fs.UintVar(&ca.Workers, "workers", 8, "Number of concurrent workers")
	ca.fs.UintVar(&ca.Ops, "ops", 100000, "Number of operations per worker")
	ca.fs.UintVar(&ca.MaxSize, "max-size", 4096, "Maximum allocation size in bytes")
	ca.fs.UintVar(&ca.BufferSize, "buffer-size", gpalloc.DefaultBufferSize/gpalloc.MiB, "Backing buffer size in MiB")
	ca.fs.UintVar(&ca.Buffers, "buffers", gpalloc.DefaultMaxBufferCount, "Maximum number of backing buffers")
	ca.fs.UintVar(&ca.Reserve, "reserve", 0, "Number of backing buffers to map before the run")
	ca.fs.BoolVar(&ca.Validate, "validate", true, "Validate the allocator after the run")
	ca.fs.BoolVar(&ca.JSON, "json", false, "Print the block map as JSON after the run")
	ca.fs.BoolVar(&ca.CheckHeaders, "check-headers", true, "Validate block headers on every free")
	ca.fs.BoolVar(&ca.Verbose, "v", false, "Enable debug logging")
	ca.fs.Int64Var(&ca.Seed, "seed", 1, "Random seed of the first worker")
	ca.fs.DurationVar(&ca.TrimInterval, "trim-interval", 0, "Run the trim worker at this interval (0 disables it)")
	return
}

func (ca *cmdArgs) Parse(arguments []string) (err error) {
	err = ca.fs.Parse(arguments)
	return
}
