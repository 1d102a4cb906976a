package zarrutils

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(descs []ArrayDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Path
	}
	return out
}

func TestListArraysV2(t *testing.T) {
	ctx := context.Background()
	acc := newAccessor(t, newV2Store(t))

	descs, err := ListArrays(ctx, acc)
	require.NoError(t, err)
	// arrays of a group come before its sub-groups
	assert.Equal(t, []string{"volume", "raw/s0", "raw/s1"}, paths(descs))

	v := descs[0]
	assert.Equal(t, []int{10, 20}, v.Shape)
	assert.Equal(t, []int{5, 5}, v.Chunks)
	assert.Equal(t, "<f8", v.Dtype)
	assert.Equal(t, "", v.Compressor)
	assert.Equal(t, int64(10*20*8), v.SizeBytes)
	assert.Equal(t, "volume/0.0", v.firstChunk)

	s0 := descs[1]
	assert.Equal(t, "zstd", s0.Compressor)
	assert.Equal(t, int64(64*64*64*2), s0.SizeBytes)
}

func TestListArraysFastSlowRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]*MemoryStore{"v2": newV2Store(t), "v3": newV3Store(t)} {
		t.Run(name, func(t *testing.T) {
			acc := newAccessor(t, s)
			slow, err := listArrays(ctx, acc, storeHierarchy{acc})
			require.NoError(t, err)

			_, err = Consolidate(ctx, acc, ConsolidateOptions{})
			require.NoError(t, err)
			h, err := fastestHierarchy(ctx, acc)
			require.NoError(t, err)
			_, isFast := h.(*consolidatedHierarchy)
			require.True(t, isFast)

			fast, err := listArrays(ctx, acc, h)
			require.NoError(t, err)
			assert.NotEmpty(t, fast)
			assert.Equal(t, slow, fast)
		})
	}
}

func TestListArraysUsesConsolidated(t *testing.T) {
	ctx := context.Background()
	s := newV2Store(t)
	acc := newAccessor(t, s)
	_, err := Consolidate(ctx, acc, ConsolidateOptions{})
	require.NoError(t, err)

	// individual array keys aren't read on the fast path
	s.Delete("raw/s0/.zarray")
	descs, err := ListArrays(ctx, acc)
	require.NoError(t, err)
	assert.Contains(t, paths(descs), "raw/s0")

	// an unreadable document falls back to walking the store
	put(t, s, ".zmetadata", "{")
	descs, err = ListArrays(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, []string{"volume", "raw/s1"}, paths(descs))
}

func TestListArraysSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	s := newV2Store(t)
	put(t, s, "raw/s1/.zarray", `{"zarr_format": 2}`)
	descs, err := ListArrays(ctx, newAccessor(t, s))
	require.NoError(t, err)
	assert.Equal(t, []string{"volume", "raw/s0"}, paths(descs))
}

func TestListArraysRootArray(t *testing.T) {
	s := NewMemoryStore()
	put(t, s, ".zarray", zarray("[100]", "[10]", "<i4", "gzip"))
	descs, err := ListArrays(context.Background(), newAccessor(t, s))
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "", descs[0].Path)
	assert.Equal(t, "0", descs[0].firstChunk)
	assert.Equal(t, int64(10), descs[0].ChunkCount)
}

func TestListArraysEmptyStore(t *testing.T) {
	descs, err := ListArrays(context.Background(), newAccessor(t, NewMemoryStore()))
	require.NoError(t, err)
	assert.Empty(t, descs)

	s, err := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	_, err = ListArrays(context.Background(), newAccessor(t, s))
	assert.ErrorIs(t, err, ErrStoreUnreachable)
}

func TestGetInfo(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]*MemoryStore{"v2": newV2Store(t), "v3": newV3Store(t)} {
		t.Run(name, func(t *testing.T) {
			acc := newAccessor(t, s)
			d, err := GetInfo(ctx, acc, "/raw/s0/")
			require.NoError(t, err)
			assert.Equal(t, "raw/s0", d.Path)
			assert.Equal(t, []int{64, 64, 64}, d.Shape)
			assert.Equal(t, int64(64*64*64*2), d.SizeBytes)

			_, err = GetInfo(ctx, acc, "raw")
			assert.ErrorIs(t, err, ErrArrayNotFound)
			_, err = GetInfo(ctx, acc, "nope/nothing")
			assert.ErrorIs(t, err, ErrArrayNotFound)
		})
	}

	d, err := GetInfo(ctx, newAccessor(t, newV3Store(t)), "raw/s0")
	require.NoError(t, err)
	assert.Equal(t, "raw/s0/c/0/0/0", d.firstChunk)
	assert.Equal(t, "uint16", d.Dtype)
}

func TestWriteSummary(t *testing.T) {
	descs := []ArrayDescriptor{
		{Path: "small", Shape: []int{4}, Chunks: []int{4}, Dtype: "<u1", SizeBytes: 4},
		{Path: "big", Shape: []int{1024, 1024}, Chunks: []int{256, 256}, Dtype: "<f4", Compressor: "zstd", SizeBytes: 4 << 20},
	}
	sum := Summarize(descs)
	assert.Equal(t, 2, sum.Arrays)
	assert.Equal(t, int64(4<<20+4), sum.TotalBytes)

	buf := &bytes.Buffer{}
	require.NoError(t, WriteSummary(buf, descs))
	out := buf.String()
	assert.Less(t, strings.Index(out, "big"), strings.Index(out, "small"), "largest first")
	assert.Contains(t, out, "4.0 MiB")
	assert.Contains(t, out, "2 arrays")
	// input order is untouched
	assert.Equal(t, "small", descs[0].Path)
}
