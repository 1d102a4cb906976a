package zarrutils

import (
	"fmt"
	"strings"
)

// chunkGrid returns the number of chunks along each dimension: the shape
// divided by the chunk shape, rounded up, so edge chunks may be partially
// filled. It returns nil when the two shapes disagree in rank or a chunk
// dimension isn't positive.
func chunkGrid(shape, chunks []int) []int {
	if len(shape) != len(chunks) {
		return nil
	}
	grid := make([]int, len(shape))
	for i, d := range shape {
		c := chunks[i]
		if c <= 0 || d < 0 {
			return nil
		}
		grid[i] = (d + c - 1) / c
	}
	return grid
}

// chunkCount is the total number of chunks in grid. A zero-dimensional
// array has a single chunk.
func chunkCount(grid []int) int64 {
	if grid == nil {
		return 0
	}
	n := int64(1)
	for _, g := range grid {
		n *= int64(g)
	}
	return n
}

// chunkSize is the decoded byte length of one full chunk of d, or 0 when
// the element width is unknown or variable
func chunkSize(d ArrayDescriptor) int {
	if d.itemSize <= 0 || strings.HasPrefix(strings.TrimLeft(d.Dtype, "<>|"), "O") {
		return 0
	}
	n := d.itemSize
	for _, c := range d.Chunks {
		n *= c
	}
	return n
}

// checkChunk verifies that decoded chunk bytes hold exactly one chunk of
// d's element type. Chunks are stored whole, edge chunks included.
func checkChunk(d ArrayDescriptor, decoded []byte) error {
	want := chunkSize(d)
	if want == 0 || len(decoded) == want {
		return nil
	}
	return fmt.Errorf("chunk decodes to %d bytes, expected %d (%v items of %s)", len(decoded), want, d.Chunks, d.Dtype)
}
