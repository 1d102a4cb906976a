package zarrutils

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func put(t *testing.T, s Store, key, val string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), key, strings.NewReader(val)))
}

func get(t *testing.T, s Store, key string) []byte {
	t.Helper()
	data, ok, err := NewAccessor(context.Background(), s, AccessorOptions{Format: FormatV2}).Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "missing key %s", key)
	return data
}

func zarray(shape, chunks string, dtype, compressor string) string {
	comp := "null"
	if compressor != "" {
		comp = fmt.Sprintf(`{"id": %q, "level": 1}`, compressor)
	}
	return fmt.Sprintf(`{
    "chunks": %s,
    "compressor": %s,
    "dtype": %q,
    "fill_value": 0,
    "filters": null,
    "order": "C",
    "shape": %s,
    "zarr_format": 2
}`, chunks, comp, dtype, shape)
}

// newV2Store builds:
//
//	/            group, attrs
//	labels       group, no attrs
//	raw          group, attrs
//	raw/s0       array, units
//	raw/s1       array, no units
//	volume       array, units
func newV2Store(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	put(t, s, ".zgroup", `{"zarr_format": 2}`)
	put(t, s, ".zattrs", `{"title": "sample"}`)
	put(t, s, "labels/.zgroup", `{"zarr_format": 2}`)
	put(t, s, "raw/.zgroup", `{"zarr_format": 2}`)
	put(t, s, "raw/.zattrs", `{"pixelResolution": {"dimensions": [40, 4, 4], "unit": "nm"}}`)
	put(t, s, "raw/s0/.zarray", zarray("[64, 64, 64]", "[32, 32, 32]", "<u2", "zstd"))
	put(t, s, "raw/s0/.zattrs", `{"units": "nm"}`)
	put(t, s, "raw/s1/.zarray", zarray("[32, 32, 32]", "[32, 32, 32]", "<u2", "zstd"))
	put(t, s, "volume/.zarray", zarray("[10, 20]", "[5, 5]", "<f8", ""))
	put(t, s, "volume/.zattrs", `{"units": "m"}`)
	return s
}

func zarrJSONArray(shape, chunks, dtype string, codecs string) string {
	return fmt.Sprintf(`{
    "zarr_format": 3,
    "node_type": "array",
    "shape": %s,
    "data_type": %q,
    "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": %s}},
    "chunk_key_encoding": {"name": "default", "configuration": {"separator": "/"}},
    "fill_value": 0,
    "codecs": %s,
    "attributes": {}
}`, shape, dtype, chunks, codecs)
}

const zstdCodecs = `[{"name": "bytes", "configuration": {"endian": "little"}}, {"name": "zstd", "configuration": {"level": 0}}]`

// newV3Store mirrors newV2Store's layout in v3 form, without the volume
// array
func newV3Store(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	put(t, s, "zarr.json", `{"zarr_format": 3, "node_type": "group", "attributes": {"title": "sample"}}`)
	put(t, s, "labels/zarr.json", `{"zarr_format": 3, "node_type": "group"}`)
	put(t, s, "raw/zarr.json", `{"zarr_format": 3, "node_type": "group", "attributes": {"spacing": [1, 2, 3]}}`)
	put(t, s, "raw/s0/zarr.json", zarrJSONArray("[64, 64, 64]", "[32, 32, 32]", "uint16", zstdCodecs))
	put(t, s, "raw/s1/zarr.json", zarrJSONArray("[32, 32]", "[16, 16]", "float32", `[{"name": "bytes"}]`))
	return s
}

func newAccessor(t *testing.T, s Store) *Accessor {
	t.Helper()
	return NewAccessor(context.Background(), s, AccessorOptions{})
}
