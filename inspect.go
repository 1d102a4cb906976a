package zarrutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// ArrayDescriptor summarises one array. SizeBytes is the uncompressed size:
// the product of the shape times the element width.
type ArrayDescriptor struct {
	Path       string `json:"path"`
	Shape      []int  `json:"shape"`
	Chunks     []int  `json:"chunks"`
	Dtype      string `json:"dtype"`
	Compressor string `json:"compressor,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
	ChunkCount int64  `json:"chunk_count"`

	// key of the first chunk, used by the diagnostics probe
	firstChunk string
	itemSize   int
}

func newArrayDescriptor(p string, info *arrayInfo) ArrayDescriptor {
	size := int64(info.ItemSize)
	for _, d := range info.Shape {
		size *= int64(d)
	}
	if size < 0 {
		size = 0
	}
	d := ArrayDescriptor{
		Path:       p,
		Shape:      info.Shape,
		Chunks:     info.Chunks,
		Dtype:      info.Dtype,
		Compressor: info.Compressor,
		SizeBytes:  size,
		ChunkCount: chunkCount(chunkGrid(info.Shape, info.Chunks)),
		itemSize:   info.ItemSize,
	}
	if info.chunkKey != nil {
		d.firstChunk = joinKey(p, info.chunkKey(make([]int, len(info.Shape))))
	}
	return d
}

// ListArrays describes every array in the store in traversal order: the
// arrays of a group by name, then each sub-group's subtree. When
// consolidated metadata is present and parseable, descriptors are built from
// it without reading individual array keys. Otherwise the store is walked.
//
// Arrays whose metadata can't be decoded are logged and skipped. A store
// without root metadata has no arrays.
func ListArrays(ctx context.Context, acc *Accessor) ([]ArrayDescriptor, error) {
	if err := acc.Reachable(ctx); err != nil {
		return nil, err
	}
	h, err := fastestHierarchy(ctx, acc)
	if err != nil {
		return nil, err
	}
	return listArrays(ctx, acc, h)
}

// fastestHierarchy returns the consolidated view when one is available,
// the store itself otherwise
func fastestHierarchy(ctx context.Context, acc *Accessor) (hierarchy, error) {
	doc, root, ok, err := readConsolidated(ctx, acc)
	if errors.Is(err, ErrMetadataCorrupt) {
		acc.Logger().Warn("ignoring unreadable consolidated metadata", "key", acc.ConsolidatedKey(), "err", err)
		return storeHierarchy{acc}, nil
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return storeHierarchy{acc}, nil
	}
	acc.Logger().Debug("using consolidated metadata", "key", acc.ConsolidatedKey(), "entries", len(doc.Metadata))
	return newConsolidatedHierarchy(acc.Format(), doc, root), nil
}

func listArrays(ctx context.Context, acc *Accessor, h hierarchy) ([]ArrayDescriptor, error) {
	descs := []ArrayDescriptor{}
	err := walk(ctx, h, func(n *node) error {
		if n.Kind != NodeArray {
			return nil
		}
		info, err := decodeArray(acc.Format(), n)
		if err != nil {
			acc.Logger().Warn("skipping array", "path", displayPath(n.Path), "err", err)
			return nil
		}
		descs = append(descs, newArrayDescriptor(n.Path, info))
		return nil
	})
	if errors.Is(err, ErrNotZarr) {
		// nothing to list
		return descs, nil
	}
	if err != nil {
		return nil, err
	}
	return descs, nil
}

// GetInfo describes the array at path. It fails with ErrArrayNotFound when
// path doesn't resolve to an array.
func GetInfo(ctx context.Context, acc *Accessor, path string) (*ArrayDescriptor, error) {
	p := NormalizePath(path)
	n, err := storeHierarchy{acc}.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if n == nil || n.Kind != NodeArray {
		return nil, fmt.Errorf("%w: %q", ErrArrayNotFound, displayPath(p))
	}
	info, err := decodeArray(acc.Format(), n)
	if err != nil {
		return nil, err
	}
	d := newArrayDescriptor(p, info)
	return &d, nil
}

// Summary totals a set of descriptors
type Summary struct {
	Arrays     int   `json:"arrays"`
	TotalBytes int64 `json:"total_bytes"`
}

// Summarize totals the sizes of descs
func Summarize(descs []ArrayDescriptor) Summary {
	s := Summary{Arrays: len(descs)}
	for _, d := range descs {
		s.TotalBytes += d.SizeBytes
	}
	return s
}

// WriteSummary prints descs as a table, largest arrays first, followed by a
// total line
func WriteSummary(w io.Writer, descs []ArrayDescriptor) error {
	sorted := make([]ArrayDescriptor, len(descs))
	copy(sorted, descs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SizeBytes > sorted[j].SizeBytes
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSHAPE\tCHUNKS\tDTYPE\tCOMPRESSOR\tSIZE")
	for _, d := range sorted {
		comp := d.Compressor
		if comp == "" {
			comp = "-"
		}
		fmt.Fprintf(tw, "%s\t%v\t%v (%s)\t%s\t%s\t%s\n",
			displayPath(d.Path), d.Shape, d.Chunks, humanize.Comma(d.ChunkCount), d.Dtype, comp, humanize.IBytes(uint64(d.SizeBytes)))
	}
	s := Summarize(descs)
	fmt.Fprintf(tw, "\n%d arrays\t\t\t\t\t%s\n", s.Arrays, humanize.IBytes(uint64(s.TotalBytes)))
	return tw.Flush()
}
