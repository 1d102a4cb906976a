package zarrutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultUnits is the units value Repair inserts when none is configured
const DefaultUnits = "unknown"

// RepairOptions configures Repair
type RepairOptions struct {
	// AddMissingAttrs inserts a units attribute on arrays that lack one
	AddMissingAttrs bool
	// DefaultUnits is the value inserted, DefaultUnits when empty
	DefaultUnits string
	// Validate configures the validation pass that drives the repair
	Validate ValidateOptions
	Logger   *slog.Logger
}

// RepairReport lists what Repair did, keyed by node path ("" is the root)
type RepairReport struct {
	Actions map[string][]string `json:"actions"`
	// Unrepairable holds findings with no automatic fix. They are reported,
	// not raised.
	Unrepairable []Issue           `json:"unrepairable"`
	Before       *ValidationReport `json:"before"`
	After        *ValidationReport `json:"after"`
}

// Changed reports whether Repair wrote anything
func (r *RepairReport) Changed() bool { return len(r.Actions) > 0 }

// Err returns an error wrapping ErrUnrepairable when some findings could
// not be fixed, nil otherwise
func (r *RepairReport) Err() error {
	if len(r.Unrepairable) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Unrepairable))
	for i, iss := range r.Unrepairable {
		msgs[i] = iss.Message
	}
	return fmt.Errorf("%w: %s", ErrUnrepairable, strings.Join(msgs, "; "))
}

func (r *RepairReport) action(p, what string) {
	r.Actions[p] = append(r.Actions[p], what)
}

// kinds that a fresh consolidation fixes
var consolidationFixes = map[IssueKind]bool{
	IssueConsolidatedMissing: true,
	IssueConsolidatedStale:   true,
	IssueConsolidatedCorrupt: true,
}

// kinds that make consolidation itself impossible
var consolidationBlockers = map[IssueKind]bool{
	IssueMetadataCorrupt:     true,
	IssueUnknownNodeType:     true,
	IssueRootMetadataMissing: true,
	IssueIOFailure:           true,
}

// Repair validates the store and applies the fixes it knows: consolidated
// metadata that is missing, stale or corrupt is rebuilt, and with
// AddMissingAttrs arrays without units get a default. Existing attributes
// are never overwritten. Running Repair on a repaired store is a no-op.
//
// Only an unreachable store is returned as an error. Findings without a
// fix end up in RepairReport.Unrepairable.
func Repair(ctx context.Context, acc *Accessor, opts RepairOptions) (*RepairReport, error) {
	log := opts.Logger
	if log == nil {
		log = acc.Logger()
	}
	if opts.Validate.Logger == nil {
		opts.Validate.Logger = log
	}
	units := opts.DefaultUnits
	if units == "" {
		units = DefaultUnits
	}

	before := Validate(ctx, acc, opts.Validate)
	if before.Has(IssueStoreUnreachable) {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnreachable, before.Issues[0])
	}

	r := &RepairReport{
		Actions:      map[string][]string{},
		Unrepairable: []Issue{},
		Before:       before,
		After:        before,
	}

	blocked := false
	needConsolidate := false
	for _, f := range before.Findings {
		switch {
		case consolidationFixes[f.Kind]:
			needConsolidate = true
		case consolidationBlockers[f.Kind]:
			blocked = true
			r.Unrepairable = append(r.Unrepairable, f)
		case f.Fatal:
			r.Unrepairable = append(r.Unrepairable, f)
		}
	}

	if opts.AddMissingAttrs {
		for _, f := range before.Findings {
			if f.Kind != IssueArrayNoUnits {
				continue
			}
			added, err := addUnits(ctx, acc, f.Path, units)
			if err != nil {
				log.Warn("adding units failed", "path", displayPath(f.Path), "err", err)
				r.Unrepairable = append(r.Unrepairable, Issue{
					Kind:    f.Kind,
					Path:    f.Path,
					Message: fmt.Sprintf("%s (could not add units: %s)", f.Message, err),
				})
				continue
			}
			if added {
				r.action(f.Path, fmt.Sprintf("added attribute units=%q", units))
				needConsolidate = true
			}
		}
	}

	if needConsolidate {
		if blocked {
			for _, f := range before.Findings {
				if consolidationFixes[f.Kind] {
					r.Unrepairable = append(r.Unrepairable, f)
				}
			}
		} else {
			_, err := Consolidate(ctx, acc, ConsolidateOptions{})
			switch {
			case errors.Is(err, ErrRootNotGroup):
				log.Debug("root is an array, not consolidating")
			case err != nil:
				return nil, err
			default:
				r.action("", fmt.Sprintf("consolidated metadata written to %s", consolidatedLabel(acc.Format())))
			}
		}
	}

	if r.Changed() {
		r.After = Validate(ctx, acc, opts.Validate)
	}
	log.Info("repair finished",
		"actions", len(r.Actions),
		"unrepairable", len(r.Unrepairable),
		"valid", r.After.Valid,
	)
	return r, nil
}

// addUnits sets units on the array at p unless units or unit is present.
// added is false when nothing was written.
func addUnits(ctx context.Context, acc *Accessor, p, units string) (added bool, err error) {
	attrs, err := acc.Attributes(ctx, p)
	if err != nil {
		return false, err
	}
	if attrs.HasAny(unitsKeys...) {
		return false, nil
	}
	attrs["units"] = units
	if err := acc.SetAttributes(ctx, p, attrs); err != nil {
		return false, err
	}
	return true, nil
}
