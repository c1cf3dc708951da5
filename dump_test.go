package gpalloc

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrint(t *testing.T) {
	a, _ := newTestAllocator(t)
	p := a.Allocate(100)
	q := a.Allocate(testBufferSize / 2)
	a.Free(&p)

	var buf bytes.Buffer
	a.Print(&buf)
	out := buf.String()

	require.Contains(t, out, "--- Buffer 0 ---")
	require.NotContains(t, out, "--- Buffer 1 ---")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, "header, freed block, used block, free tail and sentinel:\n%s", out)
	require.Equal(t, "00000: free len=136 prev=-", lines[1])
	require.Contains(t, lines[2], "00088: used")
	require.Contains(t, lines[3], "free")
	require.Contains(t, lines[4], "end len=32")
	a.Free(&q)
}

func TestDumpJSON(t *testing.T) {
	a, _ := newTestAllocator(t)
	a.Reserve(2)
	p := a.Allocate(64)
	q := a.Allocate(64)
	a.Free(&p)

	data, err := a.DumpJSON()
	require.NoError(t, err)

	var dump struct {
		BufferSize     int `json:"bufferSize"`
		MaxBufferCount int `json:"maxBufferCount"`
		HeaderSize     int `json:"headerSize"`
		ActiveBuffers  int `json:"activeBuffers"`
		Buffers        []struct {
			Index  int  `json:"index"`
			Active bool `json:"active"`
			Blocks []struct {
				Offset int    `json:"offset"`
				Length int    `json:"length"`
				Kind   string `json:"kind"`
			} `json:"blocks"`
			Error           string `json:"error"`
			UsedBytes       int    `json:"usedBytes"`
			FreeBytes       int    `json:"freeBytes"`
			AllocationCount int    `json:"allocationCount"`
			FreeBlockCount  int    `json:"freeBlockCount"`
		} `json:"buffers"`
	}
	require.NoError(t, json.Unmarshal(data, &dump), "invalid JSON: %s", data)

	require.Equal(t, testBufferSize, dump.BufferSize)
	require.Equal(t, 4, dump.MaxBufferCount)
	require.Equal(t, HeaderSize, dump.HeaderSize)
	require.Equal(t, 1, dump.ActiveBuffers)
	require.Len(t, dump.Buffers, 2)

	active := dump.Buffers[0]
	require.True(t, active.Active)
	require.Empty(t, active.Error)
	require.Len(t, active.Blocks, 4)
	require.Equal(t, []string{"free", "used", "free", "end"}, []string{
		active.Blocks[0].Kind, active.Blocks[1].Kind, active.Blocks[2].Kind, active.Blocks[3].Kind,
	})
	require.Equal(t, 1, active.AllocationCount)
	require.Equal(t, 2, active.FreeBlockCount)
	require.Equal(t, testBufferSize, active.UsedBytes+active.FreeBytes+HeaderSize)

	require.False(t, dump.Buffers[1].Active)
	require.Empty(t, dump.Buffers[1].Blocks)
	a.Free(&q)
}
