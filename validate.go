package zarrutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// IssueKind categorises a validation finding. Whether a kind is fatal is
// fixed by fatalKinds, except for IssueConsolidatedMissing which follows
// ValidateOptions.RequireConsolidated.
type IssueKind string

const (
	IssueStoreUnreachable        IssueKind = "store-unreachable"
	IssueRootMetadataMissing     IssueKind = "root-metadata-missing"
	IssueMetadataCorrupt         IssueKind = "metadata-corrupt"
	IssueArrayMetadataUnreadable IssueKind = "array-metadata-unreadable"
	IssueUnknownNodeType         IssueKind = "unknown-node-type"
	IssueChunkRankMismatch       IssueKind = "chunk-rank-mismatch"
	IssueNonPositiveDimension    IssueKind = "non-positive-dimension"
	IssueConsolidatedCorrupt     IssueKind = "consolidated-corrupt"
	IssueIOFailure               IssueKind = "io-failure"

	IssueConsolidatedMissing IssueKind = "consolidated-missing"
	IssueConsolidatedStale   IssueKind = "consolidated-stale"
	IssueGroupNoAttributes   IssueKind = "group-no-attributes"
	IssueArrayNoUnits        IssueKind = "array-no-units"
)

var fatalKinds = map[IssueKind]bool{
	IssueStoreUnreachable:        true,
	IssueRootMetadataMissing:     true,
	IssueMetadataCorrupt:         true,
	IssueArrayMetadataUnreadable: true,
	IssueUnknownNodeType:         true,
	IssueChunkRankMismatch:       true,
	IssueNonPositiveDimension:    true,
	IssueConsolidatedCorrupt:     true,
	IssueIOFailure:               true,
}

// Fatal reports whether findings of this kind make a store invalid under
// the default policy
func (k IssueKind) Fatal() bool { return fatalKinds[k] }

// Issue is a single validation finding
type Issue struct {
	Kind IssueKind `json:"kind"`
	// Path of the node the issue belongs to, "" for the root or store level
	Path    string `json:"path"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func (i Issue) String() string { return i.Message }

// ArrayReport is what Validate records for each array
type ArrayReport struct {
	Shape       []int    `json:"shape"`
	Dtype       string   `json:"dtype"`
	Chunks      []int    `json:"chunks"`
	Compression *string  `json:"compression"`
	Issues      []string `json:"issues"`
}

// GroupReport is what Validate records for each group
type GroupReport struct {
	Attrs  Attributes `json:"attrs"`
	Issues []string   `json:"issues"`
}

// ValidationReport is the result of Validate. Issues holds every message in
// the order it was found; Findings carries the same issues with their kind.
// Valid is true iff no finding is fatal.
type ValidationReport struct {
	Valid           bool                    `json:"valid"`
	HasConsolidated bool                    `json:"has_consolidated"`
	Issues          []string                `json:"issues"`
	Arrays          map[string]*ArrayReport `json:"arrays"`
	Groups          map[string]*GroupReport `json:"groups"`
	Findings        []Issue                 `json:"findings"`
}

func newValidationReport() *ValidationReport {
	return &ValidationReport{
		Valid:    true,
		Issues:   []string{},
		Arrays:   map[string]*ArrayReport{},
		Groups:   map[string]*GroupReport{},
		Findings: []Issue{},
	}
}

// Has reports whether any finding is of kind k
func (r *ValidationReport) Has(k IssueKind) bool {
	for _, f := range r.Findings {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// FatalIssues returns the findings that make the report invalid
func (r *ValidationReport) FatalIssues() []Issue {
	var fatal []Issue
	for _, f := range r.Findings {
		if f.Fatal {
			fatal = append(fatal, f)
		}
	}
	return fatal
}

// ValidateOptions configures Validate
type ValidateOptions struct {
	// RequireConsolidated makes missing consolidated metadata a fatal issue
	RequireConsolidated bool
	Logger              *slog.Logger
}

type validator struct {
	acc    *Accessor
	opts   ValidateOptions
	report *ValidationReport
	fresh  *collector
}

func (v *validator) record(kind IssueKind, p, msg string) {
	fatal := kind.Fatal()
	if kind == IssueConsolidatedMissing && v.opts.RequireConsolidated {
		fatal = true
	}
	v.report.Findings = append(v.report.Findings, Issue{Kind: kind, Path: p, Message: msg, Fatal: fatal})
	v.report.Issues = append(v.report.Issues, msg)
	if fatal {
		v.report.Valid = false
	}
}

// Validate checks a store's structure and metadata conventions. Checks
// accumulate rather than stop at the first problem, so a partially broken
// store still yields a full report. Validate never returns an error: an
// unreachable store is reported as a single fatal issue.
func Validate(ctx context.Context, acc *Accessor, opts ValidateOptions) *ValidationReport {
	log := opts.Logger
	if log == nil {
		log = acc.Logger()
	}
	v := &validator{acc: acc, opts: opts, report: newValidationReport(), fresh: newCollector(acc.Format())}

	if err := acc.Reachable(ctx); err != nil {
		v.record(IssueStoreUnreachable, "", fmt.Sprintf("Error accessing store: %s", err))
		log.Warn("store unreachable", "store", acc.Store().Type(), "err", err)
		return v.report
	}

	existing, root, present, err := readConsolidated(ctx, acc)
	switch {
	case err != nil:
		v.record(IssueConsolidatedCorrupt, "", fmt.Sprintf("Consolidated metadata (%s) is unreadable: %s", acc.ConsolidatedKey(), err))
	case !present && root != nil && v3NodeKind(root) == NodeArray:
		// a v3 array root has nowhere to hold consolidated metadata
	case !present:
		v.record(IssueConsolidatedMissing, "", fmt.Sprintf("Missing consolidated metadata (%s)", consolidatedLabel(acc.Format())))
	default:
		v.report.HasConsolidated = true
	}

	err = walk(ctx, storeHierarchy{acc}, v.visit)
	switch {
	case errors.Is(err, ErrNotZarr):
		v.record(IssueRootMetadataMissing, "", "No zarr group or array metadata found at the store root")
	case err != nil:
		v.record(IssueIOFailure, "", fmt.Sprintf("Error reading store: %s", err))
	}

	if err == nil && existing != nil && len(v.fresh.corrupt) == 0 && !existing.Equal(v.fresh.doc) {
		v.record(IssueConsolidatedStale, "", "Consolidated metadata is out of date with the store contents")
	}

	log.Debug("validation finished",
		"valid", v.report.Valid,
		"issues", len(v.report.Issues),
		"arrays", len(v.report.Arrays),
		"groups", len(v.report.Groups),
	)
	return v.report
}

func (v *validator) visit(n *node) error {
	// feeds the staleness comparison, never fails
	v.fresh.add(n)

	switch n.Kind {
	case NodeGroup:
		v.visitGroup(n)
	case NodeArray:
		v.visitArray(n)
	default:
		if !json.Valid(n.Meta) {
			v.record(IssueMetadataCorrupt, n.Path, fmt.Sprintf("Node '%s': metadata (%s) is not valid JSON", displayPath(n.Path), n.MetaKey))
			return nil
		}
		v.record(IssueUnknownNodeType, n.Path, fmt.Sprintf("Node '%s': unrecognised node type in %s", displayPath(n.Path), n.MetaKey))
	}
	return nil
}

func (v *validator) visitGroup(n *node) {
	g := &GroupReport{Attrs: Attributes{}, Issues: []string{}}
	v.report.Groups[n.Path] = g
	add := func(kind IssueKind, msg string) {
		g.Issues = append(g.Issues, msg)
		v.record(kind, n.Path, msg)
	}

	if !json.Valid(n.Meta) {
		add(IssueMetadataCorrupt, fmt.Sprintf("Group '%s': metadata (%s) is not valid JSON", displayPath(n.Path), n.MetaKey))
		return
	}
	attrs, err := nodeAttributes(v.acc.Format(), n)
	if err != nil {
		add(IssueMetadataCorrupt, fmt.Sprintf("Group '%s': attributes are not valid JSON", displayPath(n.Path)))
		return
	}
	g.Attrs = attrs
	if len(attrs) > 0 {
		return
	}
	if n.Path == "" {
		add(IssueGroupNoAttributes, "Root group has no attributes")
	} else {
		add(IssueGroupNoAttributes, fmt.Sprintf("Group '%s' has no attributes", n.Path))
	}
}

func (v *validator) visitArray(n *node) {
	a := &ArrayReport{Shape: []int{}, Chunks: []int{}, Issues: []string{}}
	v.report.Arrays[n.Path] = a
	add := func(kind IssueKind, msg string) {
		a.Issues = append(a.Issues, msg)
		v.record(kind, n.Path, msg)
	}

	info, err := decodeArray(v.acc.Format(), n)
	if errors.Is(err, ErrMetadataCorrupt) {
		add(IssueMetadataCorrupt, fmt.Sprintf("Array '%s': metadata is not valid JSON: %s", displayPath(n.Path), err))
		return
	}
	if err != nil {
		add(IssueArrayMetadataUnreadable, fmt.Sprintf("Array '%s': could not read array metadata: %s", displayPath(n.Path), err))
		return
	}

	a.Shape, a.Chunks, a.Dtype = info.Shape, info.Chunks, info.Dtype
	if info.Compressor != "" {
		c := info.Compressor
		a.Compression = &c
	}

	if len(info.Chunks) != len(info.Shape) {
		add(IssueChunkRankMismatch, fmt.Sprintf("Array '%s': chunk shape %v has %d dimensions but array shape %v has %d",
			displayPath(n.Path), info.Chunks, len(info.Chunks), info.Shape, len(info.Shape)))
	}
	if d, ok := firstNonPositive(info.Shape); ok {
		add(IssueNonPositiveDimension, fmt.Sprintf("Array '%s': shape has non-positive dimension %d", displayPath(n.Path), d))
	}
	if d, ok := firstNonPositive(info.Chunks); ok {
		add(IssueNonPositiveDimension, fmt.Sprintf("Array '%s': chunks have non-positive dimension %d", displayPath(n.Path), d))
	}
	if !info.Attrs.HasAny(unitsKeys...) {
		add(IssueArrayNoUnits, fmt.Sprintf("Array '%s': No units specified in attributes", displayPath(n.Path)))
	}
}

// attribute names accepted as carrying units
var unitsKeys = []string{"units", "unit"}

func firstNonPositive(dims []int) (int, bool) {
	for _, d := range dims {
		if d <= 0 {
			return d, true
		}
	}
	return 0, false
}

func consolidatedLabel(f Format) string {
	if f == FormatV3 {
		return string(MTNode) + " " + consolidatedV3Field
	}
	return string(MTMetadata)
}
