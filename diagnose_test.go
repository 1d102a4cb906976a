package zarrutils

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3LikeStore reports itself as an S3 store so remote-only advice applies
type s3LikeStore struct {
	*MemoryStore
}

func (s3LikeStore) Type() string { return S3StoreType }

// countingStore counts Get calls and payload bytes read per key
type countingStore struct {
	*MemoryStore
	gets map[string]int
	read map[string]int
}

func newCountingStore(s *MemoryStore) *countingStore {
	return &countingStore{MemoryStore: s, gets: map[string]int{}, read: map[string]int{}}
}

func (s *countingStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.gets[key]++
	rc, err := s.MemoryStore.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, n: func(n int) { s.read[key] += n }}, nil
}

type countingReader struct {
	io.ReadCloser
	n func(int)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n(n)
	return n, err
}

func opNames(d *Debugger) []string {
	names := []string{}
	for _, r := range d.Records() {
		names = append(names, r.Name)
	}
	return names
}

func TestDiagnoseShortCircuit(t *testing.T) {
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "missing.zarr"))
	require.NoError(t, err)
	dbg := NewDebugger(discardLogger())

	r := Diagnose(context.Background(), s, DiagnoseOptions{Detailed: true, Debugger: dbg})
	assert.False(t, r.Accessible)
	assert.Equal(t, StoreKindLocal, r.StoreType)
	assert.Empty(t, r.Arrays)
	assert.Nil(t, r.Performance)
	assert.Nil(t, r.Validation)
	require.Len(t, r.Issues, 1)
	assert.Contains(t, r.Suggestions, explainNotFound)
	assert.Equal(t, []string{"accessibility"}, opNames(dbg))
}

func TestDiagnose(t *testing.T) {
	ctx := context.Background()
	s := newV2Store(t)
	put(t, s, "volume/0.0", strings.Repeat("\x00", 5*5*8))
	dbg := NewDebugger(discardLogger())

	r := Diagnose(ctx, s, DiagnoseOptions{Debugger: dbg})
	assert.True(t, r.Accessible)
	assert.Equal(t, StoreKindMemory, r.StoreType)
	assert.Equal(t, "v2", r.Format)
	assert.Equal(t, 3, r.ArrayCount)
	assert.Equal(t, 3, r.GroupCount)
	assert.Equal(t, int64(10*20*8+2*64*64*64+2*32*32*32), r.TotalSizeBytes)
	assert.Contains(t, r.Arrays, "raw/s1")
	assert.False(t, r.HasConsolidated)
	assert.Contains(t, r.Issues, "Missing consolidated metadata (.zmetadata)")
	assert.Contains(t, r.Suggestions, issueSuggestions[IssueArrayNoUnits])
	assert.Nil(t, r.Performance, "no probe unless detailed")
	assert.Equal(t, []string{"accessibility", "validate", "inspect"}, opNames(dbg))

	r = Diagnose(ctx, s, DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, "volume/0.0", r.Performance.ProbeKey)
	assert.Equal(t, 5*5*8, r.Performance.Bytes)
	assert.Equal(t, LatencyLow, r.Performance.Tier)
	assert.GreaterOrEqual(t, r.Performance.BandwidthMBps, 0.0)
}

func TestDiagnoseProbeFallsBackToMetadata(t *testing.T) {
	r := Diagnose(context.Background(), newV2Store(t), DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, "volume/.zarray", r.Performance.ProbeKey)
	assert.NotZero(t, r.Performance.Bytes)

	empty := NewMemoryStore()
	put(t, empty, ".zgroup", `{"zarr_format": 2}`)
	r = Diagnose(context.Background(), empty, DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, ".zgroup", r.Performance.ProbeKey)
	assert.Zero(t, r.ArrayCount)
}

func TestDiagnoseUnreadableCodec(t *testing.T) {
	s := NewMemoryStore()
	put(t, s, ".zgroup", `{"zarr_format": 2}`)
	put(t, s, "a/.zarray", zarray("[8]", "[8]", "<u1", "zstd"))
	put(t, s, "a/0", "not zstd at all")

	r := Diagnose(context.Background(), s, DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, "a/0", r.Performance.ProbeKey)
	found := false
	for _, iss := range r.Issues {
		if strings.Contains(iss, "could not be decoded") {
			found = true
		}
	}
	assert.True(t, found, "issues: %v", r.Issues)
	assert.Contains(t, r.Suggestions, explainCodec)

	// a well formed chunk decodes
	put(t, s, "a/0", string(zstdChunk(t, []byte("12345678"))))
	r = Diagnose(context.Background(), s, DiagnoseOptions{Detailed: true})
	assert.NotContains(t, r.Suggestions, explainCodec)
	assert.NotContains(t, r.Suggestions, explainShape)

	// decodes, but to a short chunk
	put(t, s, "a/0", string(zstdChunk(t, []byte("1234"))))
	r = Diagnose(context.Background(), s, DiagnoseOptions{Detailed: true})
	assert.Contains(t, r.Issues, "Array 'a': a/0: chunk decodes to 4 bytes, expected 8 ([8] items of <u1)")
	assert.Contains(t, r.Suggestions, explainShape)
}

func TestDiagnoseRemoteSuggestsConsolidation(t *testing.T) {
	ctx := context.Background()
	s := s3LikeStore{newV2Store(t)}

	r := Diagnose(ctx, s, DiagnoseOptions{})
	assert.Equal(t, StoreKindS3, r.StoreType)
	require.NotEmpty(t, r.Suggestions)
	assert.Contains(t, r.Suggestions[0], "zarr-utils consolidate")

	_, err := Consolidate(ctx, NewAccessor(ctx, s, AccessorOptions{}), ConsolidateOptions{})
	require.NoError(t, err)
	r = Diagnose(ctx, s, DiagnoseOptions{})
	assert.True(t, r.HasConsolidated)
	for _, sug := range r.Suggestions {
		assert.NotContains(t, sug, "zarr-utils consolidate")
	}
}

func TestLatencyTier(t *testing.T) {
	cases := map[time.Duration]LatencyTier{
		0:                                      LatencyLow,
		99 * time.Millisecond:                  LatencyLow,
		LowLatencyThreshold:                    LatencyMedium,
		999 * time.Millisecond:                 LatencyMedium,
		HighLatencyThreshold:                   LatencyHigh,
		HighLatencyThreshold + time.Nanosecond: LatencyHigh,
		30 * time.Second:                       LatencyHigh,
	}
	for d, want := range cases {
		assert.Equal(t, want, latencyTier(d), d.String())
	}
}

func TestClassifyStore(t *testing.T) {
	assert.Equal(t, StoreKindMemory, classifyStore(NewMemoryStore()))
	assert.Equal(t, StoreKindS3, classifyStore(s3LikeStore{NewMemoryStore()}))
	cached, err := NewCachedStore(NewMemoryStore(), 2)
	require.NoError(t, err)
	assert.Equal(t, StoreKindMemory, classifyStore(cached))
}

func TestDiagnoseUnsupportedCodecIsNoted(t *testing.T) {
	s := NewMemoryStore()
	put(t, s, ".zgroup", `{"zarr_format": 2}`)
	put(t, s, "x/.zarray", zarray("[8]", "[8]", "<u1", "blosc"))
	put(t, s, "x/0", "blosc framed bytes")

	r := Diagnose(context.Background(), s, DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, "x/0", r.Performance.ProbeKey)
	assert.Equal(t, []string{`Array 'x': chunk check skipped: codec "blosc" not supported here`}, r.Notes)
	for _, iss := range r.Issues {
		assert.NotContains(t, iss, "could not be decoded")
	}
	assert.NotContains(t, r.Suggestions, explainCodec)

	// v3 sharded arrays have no single-codec chunks either
	v3 := NewMemoryStore()
	put(t, v3, "zarr.json", `{"zarr_format": 3, "node_type": "group", "attributes": {"a": 1}}`)
	put(t, v3, "img/zarr.json", zarrJSONArray("[8]", "[8]", "uint8",
		`[{"name": "sharding_indexed", "configuration": {"chunk_shape": [4]}}]`))
	put(t, v3, "img/c/0", "shard bytes")
	r = Diagnose(context.Background(), v3, DiagnoseOptions{Detailed: true})
	assert.Len(t, r.Notes, 1)
	assert.NotContains(t, r.Suggestions, explainCodec)
}

func TestDiagnoseReadsChunkOnce(t *testing.T) {
	ctx := context.Background()
	mem := newV2Store(t)
	put(t, mem, "volume/0.0", strings.Repeat("\x00", 5*5*8))
	s := newCountingStore(mem)

	acc := NewAccessor(ctx, s, AccessorOptions{})
	assert.True(t, acc.Contains(ctx, "volume/0.0"))
	assert.Zero(t, s.read["volume/0.0"], "Contains doesn't read the payload")
	assert.False(t, acc.Contains(ctx, "volume/9.9"))

	s.gets = map[string]int{}
	r := Diagnose(ctx, s, DiagnoseOptions{Detailed: true})
	require.NotNil(t, r.Performance)
	assert.Equal(t, "volume/0.0", r.Performance.ProbeKey)
	assert.Equal(t, 1, s.gets["volume/0.0"])
	assert.Empty(t, r.Notes)
}
