package zarrutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MetaType names the well-known metadata keys of a zarr hierarchy
type MetaType string

const (
	// MTAttributes stores userland metadata keyed by node path (v2)
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store (v2)
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store (v2)
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata (v2)
	MTMetadata MetaType = ".zmetadata"
	// MTNode holds array or group metadata, attributes included (v3)
	MTNode MetaType = "zarr.json"
)

// ConsolidatedFormatVersion is written to zarr_consolidated_format
const ConsolidatedFormatVersion = 1

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
	MTMetadata:   {},
	MTNode:       {},
}

// KeyMetaType reports the metadata type named by the last segment of a store
// key. ok is false for chunk keys and anything else that isn't metadata.
func KeyMetaType(key string) (mt MetaType, ok bool) {
	mt = MetaType(path.Base(key))
	_, ok = metaTypes[mt]
	return mt, ok
}

// Attributes is the user metadata attached to an array or group
type Attributes map[string]interface{}

// HasAny reports whether at least one of keys is set
func (a Attributes) HasAny(keys ...string) bool {
	for _, k := range keys {
		if _, ok := a[k]; ok {
			return true
		}
	}
	return false
}

// ConsolidatedMetadata aggregates the raw metadata of every node in a store
// into one document. Payloads are kept as raw JSON so reading the document
// back yields each node's metadata unchanged.
//
// For v2 stores keys are metadata keys (".zgroup", "a/b/.zarray"). For v3
// stores keys are node paths ("a/b") and values are full zarr.json payloads.
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

// NewConsolidatedMetadata returns an empty, well-formed document
func NewConsolidatedMetadata() *ConsolidatedMetadata {
	return &ConsolidatedMetadata{
		ConsolidatedFormat: ConsolidatedFormatVersion,
		Metadata:           map[string]json.RawMessage{},
	}
}

const consolidatedSchemaURL = "https://zarr-utils.local/schema/consolidated.json"

const consolidatedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["zarr_consolidated_format", "metadata"],
  "properties": {
    "zarr_consolidated_format": {"type": "integer", "minimum": 1},
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "object"}
    }
  }
}`

var consolidatedEnvelope = jsonschema.MustCompileString(consolidatedSchemaURL, consolidatedSchema)

// ParseConsolidatedMetadata decodes a .zmetadata payload, checking the
// envelope against the consolidated metadata schema. Any failure wraps
// ErrMetadataCorrupt.
func ParseConsolidatedMetadata(data []byte) (*ConsolidatedMetadata, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, MTMetadata, err)
	}
	if err := consolidatedEnvelope.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, MTMetadata, err)
	}

	cm := &ConsolidatedMetadata{}
	if err := json.Unmarshal(data, cm); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, MTMetadata, err)
	}
	if cm.Metadata == nil {
		cm.Metadata = map[string]json.RawMessage{}
	}
	return cm, nil
}

// Encode serializes the document. Output is deterministic: map keys are
// sorted and HTML characters in dtype strings like "<f8" are left alone.
func (m *ConsolidatedMetadata) Encode() ([]byte, error) {
	return encodeJSON(m)
}

// Canonical returns the RFC 8785 canonical form of the metadata mapping,
// used to compare documents regardless of whitespace or key order
func (m *ConsolidatedMetadata) Canonical() ([]byte, error) {
	data, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}

// Equal compares the metadata mappings of two documents canonically
func (m *ConsolidatedMetadata) Equal(b *ConsolidatedMetadata) bool {
	if m == nil || b == nil {
		return m == b
	}
	ca, err := m.Canonical()
	if err != nil {
		return false
	}
	cb, err := b.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func encodeJSON(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string or list defining a valid data type for the array.
	Dtype StructuredType `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used.
	Compressor *CompressionMeta `json:"compressor"`
	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied.
	Filters []Filter `json:"filters"`
	// If present, either the string "." or "/" definining the separator placed
	// between the dimensions of a chunk. Defaults to ".".
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

// ChunkKey returns the store key of a chunk relative to the array path
func (a *ArrayMeta) ChunkKey(coords []int) string {
	sep := a.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	return joinCoords(coords, sep)
}

// Filter is a codec configuration applied before compression
type Filter struct {
	ID     string `json:"id"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// Arrays can be organized into groups which can also contain other groups.
// In v2 a group exists at logical path “foo/bar” if the “foo/bar/.zgroup”
// key exists in the store. In v3 the node's zarr.json carries
// node_type "group".
type GroupMeta struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type,omitempty"`
}

const (
	nodeTypeArray = "array"
	nodeTypeGroup = "group"
)

// ArrayMetaV3 is the subset of a v3 array zarr.json this package reads
type ArrayMetaV3 struct {
	ZarrFormat       int              `json:"zarr_format"`
	NodeType         string           `json:"node_type"`
	Shape            []int            `json:"shape"`
	DataType         json.RawMessage  `json:"data_type"`
	ChunkGrid        ChunkGridV3      `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding `json:"chunk_key_encoding"`
	Codecs           []CodecV3        `json:"codecs"`
	Attributes       Attributes       `json:"attributes,omitempty"`
}

// ChunkGridV3 describes a regular chunk grid
type ChunkGridV3 struct {
	Name          string `json:"name"`
	Configuration struct {
		ChunkShape []int `json:"chunk_shape"`
	} `json:"configuration"`
}

// ChunkKeyEncoding selects how chunk coordinates map to store keys in v3
type ChunkKeyEncoding struct {
	Name          string `json:"name"`
	Configuration struct {
		Separator string `json:"separator"`
	} `json:"configuration"`
}

// CodecV3 is one entry of a v3 codec pipeline
type CodecV3 struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// bytes-to-bytes codecs that don't compress
var passthroughCodecs = map[string]bool{
	"bytes":     true,
	"transpose": true,
	"crc32c":    true,
	"endian":    true,
}

// Compressor returns the name of the first compressing codec, or ""
func (a *ArrayMetaV3) Compressor() string {
	for _, c := range a.Codecs {
		if !passthroughCodecs[c.Name] {
			return c.Name
		}
	}
	return ""
}

// DataTypeName returns data_type as a string. Extension types given as an
// object are reported by their name field.
func (a *ArrayMetaV3) DataTypeName() string {
	var s string
	if err := json.Unmarshal(a.DataType, &s); err == nil {
		return s
	}
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(a.DataType, &named); err == nil {
		return named.Name
	}
	return string(a.DataType)
}

// ChunkKey returns the store key of a chunk relative to the array path
func (a *ArrayMetaV3) ChunkKey(coords []int) string {
	sep := a.ChunkKeyEncoding.Configuration.Separator
	if a.ChunkKeyEncoding.Name == "v2" {
		if sep == "" {
			sep = "."
		}
		return joinCoords(coords, sep)
	}
	if sep == "" {
		sep = "/"
	}
	if len(coords) == 0 {
		return "c"
	}
	return "c" + sep + joinCoords(coords, sep)
}

// consolidatedV3 is the inline consolidated_metadata field of a v3 root
type consolidatedV3 struct {
	Kind           string                     `json:"kind"`
	MustUnderstand bool                       `json:"must_understand"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

const consolidatedV3Field = "consolidated_metadata"

func joinCoords(coords []int, sep string) string {
	if len(coords) == 0 {
		return "0"
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, sep)
}
