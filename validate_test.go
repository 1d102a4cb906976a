package zarrutils

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(r *ValidationReport) []IssueKind {
	ks := []IssueKind{}
	for _, f := range r.Findings {
		ks = append(ks, f.Kind)
	}
	return ks
}

func TestValidateV2(t *testing.T) {
	ctx := context.Background()
	acc := newAccessor(t, newV2Store(t))
	r := Validate(ctx, acc, ValidateOptions{})

	assert.True(t, r.Valid)
	assert.False(t, r.HasConsolidated)
	assert.Equal(t, []string{
		"Missing consolidated metadata (.zmetadata)",
		"Group 'labels' has no attributes",
		"Array 'raw/s1': No units specified in attributes",
	}, r.Issues)
	assert.Equal(t, []IssueKind{IssueConsolidatedMissing, IssueGroupNoAttributes, IssueArrayNoUnits}, kinds(r))
	assert.Empty(t, r.FatalIssues())

	require.Len(t, r.Groups, 3)
	assert.Equal(t, "sample", r.Groups[""].Attrs["title"])
	assert.Empty(t, r.Groups[""].Issues)
	assert.Equal(t, []string{"Group 'labels' has no attributes"}, r.Groups["labels"].Issues)

	require.Len(t, r.Arrays, 3)
	s0 := r.Arrays["raw/s0"]
	assert.Equal(t, []int{64, 64, 64}, s0.Shape)
	assert.Equal(t, []int{32, 32, 32}, s0.Chunks)
	assert.Equal(t, "<u2", s0.Dtype)
	require.NotNil(t, s0.Compression)
	assert.Equal(t, "zstd", *s0.Compression)
	assert.Empty(t, s0.Issues)
	assert.Nil(t, r.Arrays["volume"].Compression)
	assert.Len(t, r.Arrays["raw/s1"].Issues, 1)
}

func TestValidateRequireConsolidated(t *testing.T) {
	ctx := context.Background()
	acc := newAccessor(t, newV2Store(t))

	r := Validate(ctx, acc, ValidateOptions{RequireConsolidated: true})
	assert.False(t, r.Valid)
	fatal := r.FatalIssues()
	require.Len(t, fatal, 1)
	assert.Equal(t, IssueConsolidatedMissing, fatal[0].Kind)

	_, err := Consolidate(ctx, acc, ConsolidateOptions{})
	require.NoError(t, err)
	r = Validate(ctx, acc, ValidateOptions{RequireConsolidated: true})
	assert.True(t, r.Valid)
	assert.True(t, r.HasConsolidated)
}

func TestValidateStructuralDefects(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		key   string
		val   string
		path  string
		kind  IssueKind
		fatal bool
	}{
		{"chunk rank mismatch", "raw/s1/.zarray", zarray("[32, 32, 32]", "[32, 32]", "<u2", ""), "raw/s1", IssueChunkRankMismatch, true},
		{"zero dimension", "raw/s1/.zarray", zarray("[0, 32, 32]", "[32, 32, 32]", "<u2", ""), "raw/s1", IssueNonPositiveDimension, true},
		{"negative chunk", "volume/.zarray", zarray("[10, 20]", "[5, -1]", "<f8", ""), "volume", IssueNonPositiveDimension, true},
		{"corrupt json", "volume/.zarray", `{"shape": [10, `, "volume", IssueMetadataCorrupt, true},
		{"missing fields", "volume/.zarray", `{"zarr_format": 2, "shape": [10]}`, "volume", IssueArrayMetadataUnreadable, true},
		{"bad dtype", "volume/.zarray", zarray("[10]", "[5]", "<q8", ""), "volume", IssueArrayMetadataUnreadable, true},
		{"corrupt attrs", "raw/.zattrs", `{"units": `, "raw", IssueMetadataCorrupt, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newV2Store(t)
			put(t, s, c.key, c.val)
			r := Validate(ctx, newAccessor(t, s), ValidateOptions{})

			assert.Equal(t, !c.fatal, r.Valid)
			require.True(t, r.Has(c.kind), "kinds: %v", kinds(r))
			var found *Issue
			for i := range r.Findings {
				if r.Findings[i].Kind == c.kind {
					found = &r.Findings[i]
				}
			}
			assert.Equal(t, c.path, found.Path)
			assert.Equal(t, c.fatal, found.Fatal)
			assert.Contains(t, r.Issues, found.Message)

			if a, ok := r.Arrays[c.path]; ok {
				assert.Contains(t, a.Issues, found.Message)
			} else {
				assert.Contains(t, r.Groups[c.path].Issues, found.Message)
			}
		})
	}
}

func TestValidateConsolidatedState(t *testing.T) {
	ctx := context.Background()

	t.Run("stale", func(t *testing.T) {
		s := newV2Store(t)
		acc := newAccessor(t, s)
		_, err := Consolidate(ctx, acc, ConsolidateOptions{})
		require.NoError(t, err)
		assert.False(t, Validate(ctx, acc, ValidateOptions{}).Has(IssueConsolidatedStale))

		put(t, s, "extra/.zarray", zarray("[4]", "[4]", "<i4", ""))
		r := Validate(ctx, acc, ValidateOptions{})
		assert.True(t, r.HasConsolidated)
		assert.True(t, r.Has(IssueConsolidatedStale))
		assert.True(t, r.Valid)
	})

	t.Run("whitespace changes are not stale", func(t *testing.T) {
		s := newV2Store(t)
		acc := newAccessor(t, s)
		_, err := Consolidate(ctx, acc, ConsolidateOptions{})
		require.NoError(t, err)
		put(t, s, ".zattrs", "{\n  \"title\":   \"sample\"\n}\n")
		assert.False(t, Validate(ctx, acc, ValidateOptions{}).Has(IssueConsolidatedStale))
	})

	t.Run("corrupt", func(t *testing.T) {
		s := newV2Store(t)
		put(t, s, ".zmetadata", `{"zarr_consolidated_format": 1, "metadata": `)
		r := Validate(ctx, newAccessor(t, s), ValidateOptions{})
		assert.False(t, r.Valid)
		assert.False(t, r.HasConsolidated)
		assert.True(t, r.Has(IssueConsolidatedCorrupt))
	})
}

func TestValidateUnreachable(t *testing.T) {
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	r := Validate(context.Background(), newAccessor(t, s), ValidateOptions{})

	assert.False(t, r.Valid)
	require.Len(t, r.Issues, 1)
	assert.True(t, strings.HasPrefix(r.Issues[0], "Error accessing store:"), r.Issues[0])
	assert.Equal(t, IssueStoreUnreachable, r.Findings[0].Kind)
	assert.Empty(t, r.Arrays)
	assert.Empty(t, r.Groups)
	assert.False(t, r.HasConsolidated)
}

func TestValidateNotZarr(t *testing.T) {
	s := NewMemoryStore()
	put(t, s, "notes.txt", "hello")
	r := Validate(context.Background(), newAccessor(t, s), ValidateOptions{})
	assert.False(t, r.Valid)
	assert.True(t, r.Has(IssueRootMetadataMissing))
}

func TestValidateRootWithoutAttributes(t *testing.T) {
	s := NewMemoryStore()
	put(t, s, ".zgroup", `{"zarr_format": 2}`)
	r := Validate(context.Background(), newAccessor(t, s), ValidateOptions{})
	assert.True(t, r.Valid)
	assert.Contains(t, r.Issues, "Root group has no attributes")
	assert.Empty(t, r.Arrays)
}

func TestValidateV3(t *testing.T) {
	ctx := context.Background()
	s := newV3Store(t)
	acc := newAccessor(t, s)

	r := Validate(ctx, acc, ValidateOptions{})
	assert.True(t, r.Valid)
	assert.Equal(t, "Missing consolidated metadata (zarr.json consolidated_metadata)", r.Issues[0])
	assert.Equal(t, "uint16", r.Arrays["raw/s0"].Dtype)
	assert.Equal(t, "zstd", *r.Arrays["raw/s0"].Compression)
	assert.Nil(t, r.Arrays["raw/s1"].Compression)
	assert.Equal(t, []int{16, 16}, r.Arrays["raw/s1"].Chunks)
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, r.Groups["raw"].Attrs["spacing"])

	put(t, s, "raw/s1/zarr.json", `{"zarr_format": 3, `)
	r = Validate(ctx, acc, ValidateOptions{})
	assert.False(t, r.Valid)
	assert.True(t, r.Has(IssueMetadataCorrupt))

	put(t, s, "raw/s1/zarr.json", `{"zarr_format": 3, "node_type": "table"}`)
	r = Validate(ctx, acc, ValidateOptions{})
	assert.False(t, r.Valid)
	assert.True(t, r.Has(IssueUnknownNodeType))
}
