package zarrutils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// CompressionMeta is the v2 compressor configuration of an array
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// Decompressor wraps r with the decompressor for m's codec id. zstd and
// gzip are read through the dataset compression formats, zlib through
// klauspost's reader. Other ids fail with ErrUnsupportedCodec.
func (m *CompressionMeta) Decompressor(r io.Reader) (io.ReadCloser, error) {
	switch m.ID {
	case "zstd", "gzip":
		rc, err := compression.Decompressor(m.ID, r)
		if err != nil {
			return nil, fmt.Errorf("%s decompress: %w", m.ID, err)
		}
		return rc, nil
	case "zlib":
		return zlib.NewReader(r)
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedCodec, m.ID)
}

// Decompress decodes a chunk payload written with the given numcodecs id.
// An empty id means the chunk is stored uncompressed.
func Decompress(id string, data []byte) ([]byte, error) {
	switch id {
	case "":
		return data, nil
	case "lz4":
		return decompressLZ4(data)
	}

	r, err := (&CompressionMeta{ID: id}).Decompressor(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// an lz4 block can't expand by more than this factor, which bounds the
// length a damaged header may claim
const maxLZ4Ratio = 255

// numcodecs LZ4 prefixes the block with its uncompressed length as a
// little-endian uint32
func decompressLZ4(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 chunk of %d bytes is too short", len(data))
	}
	size := uint64(binary.LittleEndian.Uint32(data[:4]))
	if limit := uint64(len(data)-4)*maxLZ4Ratio + 64; size > limit {
		return nil, fmt.Errorf("lz4 chunk header claims %d bytes, more than %d bytes of block can hold", size, len(data)-4)
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out[:n], nil
}
