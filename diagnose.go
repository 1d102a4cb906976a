package zarrutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Latency tier thresholds for the performance probe. A read faster than
// LowLatencyThreshold is low latency, one at or above HighLatencyThreshold
// is high latency, anything between is medium.
const (
	LowLatencyThreshold  = 100 * time.Millisecond
	HighLatencyThreshold = time.Second
)

// LatencyTier is a qualitative bucket for a measured read latency
type LatencyTier string

const (
	LatencyLow    LatencyTier = "low"
	LatencyMedium LatencyTier = "medium"
	LatencyHigh   LatencyTier = "high"
)

func latencyTier(d time.Duration) LatencyTier {
	switch {
	case d < LowLatencyThreshold:
		return LatencyLow
	case d < HighLatencyThreshold:
		return LatencyMedium
	default:
		return LatencyHigh
	}
}

// Store classifications reported by Diagnose
const (
	StoreKindLocal   = "local"
	StoreKindMemory  = "memory"
	StoreKindS3      = "s3"
	StoreKindGCS     = "gcs"
	StoreKindUnknown = "unknown"
)

func classifyStore(s Store) string {
	switch s.Type() {
	case LocalStoreType:
		return StoreKindLocal
	case MemoryStoreType:
		return StoreKindMemory
	case S3StoreType, MinioStoreType:
		return StoreKindS3
	case GCSStoreType:
		return StoreKindGCS
	default:
		return StoreKindUnknown
	}
}

// Performance is the result of the single timed read Diagnose makes when
// asked for a detailed report
type Performance struct {
	ProbeKey       string        `json:"probe_key"`
	Latency        time.Duration `json:"-"`
	LatencySeconds float64       `json:"latency_seconds"`
	Bytes          int           `json:"bytes"`
	BandwidthMBps  float64       `json:"bandwidth_mbps"`
	Tier           LatencyTier   `json:"latency_tier"`
}

// DiagnosticReport combines accessibility, inspection, validation and
// optionally a performance probe into one report
type DiagnosticReport struct {
	StoreType       string                     `json:"store_type"`
	Format          string                     `json:"format,omitempty"`
	Accessible      bool                       `json:"accessible"`
	HasConsolidated bool                       `json:"has_consolidated"`
	ArrayCount      int                        `json:"array_count"`
	GroupCount      int                        `json:"group_count"`
	TotalSizeBytes  int64                      `json:"total_size_bytes"`
	Arrays          map[string]ArrayDescriptor `json:"arrays"`
	Issues          []string                   `json:"issues"`
	Performance     *Performance               `json:"performance,omitempty"`
	Suggestions     []string                   `json:"suggestions"`
	// Notes are checks that were skipped, not problems
	Notes           []string                   `json:"notes,omitempty"`
	Validation      *ValidationReport          `json:"validation,omitempty"`
}

// DiagnoseOptions configures Diagnose
type DiagnoseOptions struct {
	// Detailed enables the performance probe
	Detailed bool
	Format   Format
	Validate ValidateOptions
	// Debugger, when set, tracks each diagnostic step
	Debugger *Debugger
	Logger   *slog.Logger
}

func (r *DiagnosticReport) suggest(s string) {
	for _, have := range r.Suggestions {
		if have == s {
			return
		}
	}
	r.Suggestions = append(r.Suggestions, s)
}

// suggestions keyed by validation finding kind
var issueSuggestions = map[IssueKind]string{
	IssueConsolidatedStale:       "Run `zarr-utils repair` to refresh consolidated metadata that no longer matches the store.",
	IssueConsolidatedCorrupt:     "Run `zarr-utils repair` to rebuild the unreadable consolidated metadata.",
	IssueArrayNoUnits:            "Run `zarr-utils repair --add-missing-attrs` to add a units attribute to arrays without one.",
	IssueGroupNoAttributes:       "Add descriptive attributes to groups so the dataset is self-documenting.",
	IssueChunkRankMismatch:       explainShape,
	IssueNonPositiveDimension:    explainShape,
	IssueMetadataCorrupt:         explainCorrupt,
	IssueArrayMetadataUnreadable: "Some array metadata is missing required fields; rewrite it with a zarr library.",
	IssueRootMetadataMissing:     explainNotZarr,
}

// Diagnose reports on the health of a store. Accessibility is checked
// first; an inaccessible store short-circuits the report with
// Accessible=false and no further probing. Diagnose records problems in the
// report rather than returning them.
func Diagnose(ctx context.Context, s Store, opts DiagnoseOptions) *DiagnosticReport {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	dbg := opts.Debugger
	r := &DiagnosticReport{
		StoreType:   classifyStore(s),
		Arrays:      map[string]ArrayDescriptor{},
		Issues:      []string{},
		Suggestions: []string{},
	}

	err := dbg.Do(ctx, "accessibility", func(ctx context.Context) error {
		_, err := s.List(ctx, "")
		return err
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
		log.Warn("store not accessible", "store", r.StoreType, "err", err)
		r.Issues = append(r.Issues, fmt.Sprintf("Store is not accessible: %s", err))
		r.suggest(Explain(err))
		return r
	}
	r.Accessible = true

	acc := NewAccessor(ctx, s, AccessorOptions{Format: opts.Format, Logger: log})
	r.Format = acc.Format().String()
	if opts.Validate.Logger == nil {
		opts.Validate.Logger = log
	}

	var v *ValidationReport
	dbg.Do(ctx, "validate", func(ctx context.Context) error {
		v = Validate(ctx, acc, opts.Validate)
		return nil
	})
	r.Validation = v
	r.HasConsolidated = v.HasConsolidated
	r.GroupCount = len(v.Groups)
	r.Issues = append(r.Issues, v.Issues...)

	if IsRemote(s) && !v.HasConsolidated {
		r.suggest("Consolidate metadata with `zarr-utils consolidate`: remote stores read much faster with consolidated metadata.")
	}
	for _, f := range v.Findings {
		if sug, ok := issueSuggestions[f.Kind]; ok {
			r.suggest(sug)
		}
	}

	var descs []ArrayDescriptor
	err = dbg.Do(ctx, "inspect", func(ctx context.Context) error {
		var err error
		descs, err = ListArrays(ctx, acc)
		return err
	})
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("Error listing arrays: %s", err))
		r.suggest(Explain(err))
	}
	for _, d := range descs {
		r.Arrays[d.Path] = d
		r.TotalSizeBytes += d.SizeBytes
	}
	r.ArrayCount = len(descs)

	if opts.Detailed {
		probe(ctx, acc, dbg, descs, r)
	}

	log.Info("diagnosis finished",
		"store", r.StoreType,
		"arrays", r.ArrayCount,
		"groups", r.GroupCount,
		"size", humanize.IBytes(uint64(r.TotalSizeBytes)),
		"issues", len(r.Issues),
	)
	return r
}

// probe times one small read: the first chunk of the first array, or its
// metadata key when that chunk was never written. Stores without arrays
// are probed on their root metadata key. The first successful read is the
// one timed.
func probe(ctx context.Context, acc *Accessor, dbg *Debugger, descs []ArrayDescriptor, r *DiagnosticReport) {
	type target struct {
		key   string
		chunk bool
	}
	var (
		targets []target
		first   *ArrayDescriptor
	)
	if len(descs) > 0 {
		first = &descs[0]
		if first.firstChunk != "" {
			targets = append(targets, target{first.firstChunk, true})
		}
		targets = append(targets, target{acc.ArrayMetaKey(first.Path), false})
	} else {
		targets = append(targets, target{acc.GroupMetaKey(""), false})
	}

	var (
		hit  *target
		data []byte
		took time.Duration
	)
	err := dbg.Do(ctx, "probe", func(ctx context.Context) error {
		for i := range targets {
			start := time.Now()
			got, ok, err := acc.Get(ctx, targets[i].key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", targets[i].key, err)
			}
			if ok {
				hit, data, took = &targets[i], got, time.Since(start)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("Performance probe failed %s", err))
		r.suggest(Explain(err))
		return
	}
	if hit == nil {
		r.Notes = append(r.Notes, "Performance probe skipped: no metadata or chunk key to read")
		return
	}

	perf := &Performance{
		ProbeKey:       hit.key,
		Latency:        took,
		LatencySeconds: took.Seconds(),
		Bytes:          len(data),
		Tier:           latencyTier(took),
	}
	if secs := took.Seconds(); secs > 0 {
		perf.BandwidthMBps = float64(len(data)) / 1e6 / secs
	}
	r.Performance = perf
	if perf.Tier == LatencyHigh {
		r.suggest(fmt.Sprintf("Reads take %s; enable the metadata cache (--cache-size) or use a store in a closer region.", took.Round(time.Millisecond)))
	}

	if !hit.chunk {
		return
	}
	decoded, err := Decompress(first.Compressor, data)
	if errors.Is(err, ErrUnsupportedCodec) {
		r.Notes = append(r.Notes, fmt.Sprintf("Array '%s': chunk check skipped: codec %q not supported here",
			displayPath(first.Path), first.Compressor))
		return
	}
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("Array '%s': chunk %s could not be decoded with codec %q: %s",
			displayPath(first.Path), hit.key, first.Compressor, err))
		r.suggest(explainCodec)
		return
	}
	if err := checkChunk(*first, decoded); err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("Array '%s': %s: %s", displayPath(first.Path), hit.key, err))
		r.suggest(explainShape)
	}
}
