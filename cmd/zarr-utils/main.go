// zarr-utils inspects, consolidates, validates and repairs the metadata of
// zarr v2 and v3 stores on local disk, S3 (or any S3-compatible endpoint)
// and Google Cloud Storage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	zarrutils "github.com/ayenpure/zarr-utils"
)

// exitError carries a process exit code without printing anything more
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *cmdEnv) error
}

var commands = []command{
	{"inspect", "inspect <store> [--array path]", "list arrays with shape, chunks, dtype and size", runInspect},
	{"consolidate", "consolidate <store> [--dry-run]", "write consolidated metadata", runConsolidate},
	{"validate", "validate <store>", "check structure and metadata conventions", runValidate},
	{"repair", "repair <store> [--add-missing-attrs]", "fix what validate reports", runRepair},
	{"diagnose", "diagnose <store> [--detailed] [--debug]", "report accessibility, contents and read performance", runDiagnose},
	{"spacing", "spacing <store> <path>", "print the voxel spacing (z, y, x) of a node", runSpacing},
}

// cmdEnv is everything a command needs once flags are parsed
type cmdEnv struct {
	cfg    *zarrutils.Config
	args   []string
	stdout io.Writer
	logger *slog.Logger

	json            bool
	dryRun          bool
	addMissingAttrs bool
	detailed        bool
	debug           bool
	array           string
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHelp(stderr)
		return nil
	}
	if args[0] == "version" || args[0] == "--version" {
		fmt.Fprintf(stdout, "zarr-utils %s\n", zarrutils.Version)
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		printHelp(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := zarrutils.LoadConfig(configPath(args[1:]))
	if err != nil {
		return err
	}

	env := &cmdEnv{cfg: cfg, stdout: stdout}
	flagSet := pflag.NewFlagSet("zarr-utils "+cmd.name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.String("config", "", "YAML config file")
	cfg.AddFlags(flagSet)
	flagSet.BoolVar(&env.json, "json", false, "print JSON instead of text")
	switch cmd.name {
	case "inspect":
		flagSet.StringVar(&env.array, "array", "", "describe a single array")
	case "consolidate":
		flagSet.BoolVar(&env.dryRun, "dry-run", false, "print the document without writing it")
	case "repair":
		flagSet.BoolVar(&env.addMissingAttrs, "add-missing-attrs", false, "add a units attribute to arrays without one")
	case "diagnose":
		flagSet.BoolVar(&env.detailed, "detailed", false, "time a small read to estimate latency and bandwidth")
		flagSet.BoolVar(&env.debug, "debug", false, "log and time every diagnostic step")
	}
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  zarr-utils %s\n\n%s\n\nFlags:\n", cmd.usage, cmd.summary)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	env.args = flagSet.Args()
	if len(env.args) == 0 {
		flagSet.Usage()
		return fmt.Errorf("%s: store locator required", cmd.name)
	}

	env.logger, err = cfg.NewLogger(stderr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return cmd.run(ctx, env)
}

// configPath finds --config ahead of flag parsing, since the file supplies
// the defaults the flags override
func configPath(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return os.Getenv(zarrutils.EnvPrefix + "CONFIG")
}

func (e *cmdEnv) open(ctx context.Context) (*zarrutils.Accessor, error) {
	format, err := e.cfg.ZarrFormat()
	if err != nil {
		return nil, err
	}
	s, err := zarrutils.OpenStore(ctx, e.args[0], e.cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	return zarrutils.NewAccessor(ctx, s, zarrutils.AccessorOptions{Format: format, Logger: e.logger}), nil
}

func (e *cmdEnv) validateOptions() zarrutils.ValidateOptions {
	return zarrutils.ValidateOptions{RequireConsolidated: e.cfg.RequireConsolidated, Logger: e.logger}
}

func (e *cmdEnv) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInspect(ctx context.Context, e *cmdEnv) error {
	acc, err := e.open(ctx)
	if err != nil {
		return err
	}

	if e.array != "" {
		d, err := zarrutils.GetInfo(ctx, acc, e.array)
		if err != nil {
			fmt.Fprintln(e.stdout, zarrutils.Explain(err))
			return err
		}
		if e.json {
			return e.printJSON(d)
		}
		return zarrutils.WriteSummary(e.stdout, []zarrutils.ArrayDescriptor{*d})
	}

	descs, err := zarrutils.ListArrays(ctx, acc)
	if err != nil {
		fmt.Fprintln(e.stdout, zarrutils.Explain(err))
		return err
	}
	if e.json {
		return e.printJSON(descs)
	}
	return zarrutils.WriteSummary(e.stdout, descs)
}

func runConsolidate(ctx context.Context, e *cmdEnv) error {
	acc, err := e.open(ctx)
	if err != nil {
		return err
	}
	doc, err := zarrutils.Consolidate(ctx, acc, zarrutils.ConsolidateOptions{DryRun: e.dryRun})
	if err != nil {
		fmt.Fprintln(e.stdout, zarrutils.Explain(err))
		return err
	}
	if e.dryRun || e.json {
		data, err := doc.Encode()
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(data)
		return err
	}
	fmt.Fprintf(e.stdout, "consolidated %d metadata entries into %s\n", len(doc.Metadata), acc.ConsolidatedKey())
	return nil
}

func runValidate(ctx context.Context, e *cmdEnv) error {
	acc, err := e.open(ctx)
	if err != nil {
		return err
	}
	report := zarrutils.Validate(ctx, acc, e.validateOptions())
	if e.json {
		if err := e.printJSON(report); err != nil {
			return err
		}
	} else {
		printValidation(e.stdout, report)
	}
	if !report.Valid {
		return exitError{code: 1}
	}
	return nil
}

func printValidation(w io.Writer, r *zarrutils.ValidationReport) {
	status := "valid"
	if !r.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "store is %s (%d arrays, %d groups, consolidated: %t)\n", status, len(r.Arrays), len(r.Groups), r.HasConsolidated)
	for _, f := range r.Findings {
		level := "warning"
		if f.Fatal {
			level = "error"
		}
		fmt.Fprintf(w, "  %-7s %s\n", level, f.Message)
	}
}

func runRepair(ctx context.Context, e *cmdEnv) error {
	acc, err := e.open(ctx)
	if err != nil {
		return err
	}
	report, err := zarrutils.Repair(ctx, acc, zarrutils.RepairOptions{
		AddMissingAttrs: e.addMissingAttrs,
		DefaultUnits:    e.cfg.DefaultUnits,
		Validate:        e.validateOptions(),
		Logger:          e.logger,
	})
	if err != nil {
		fmt.Fprintln(e.stdout, zarrutils.Explain(err))
		return err
	}
	if e.json {
		return e.printJSON(report)
	}

	if !report.Changed() {
		fmt.Fprintln(e.stdout, "nothing to repair")
	}
	paths := make([]string, 0, len(report.Actions))
	for p := range report.Actions {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		label := p
		if label == "" {
			label = "/"
		}
		for _, a := range report.Actions[p] {
			fmt.Fprintf(e.stdout, "%s: %s\n", label, a)
		}
	}
	for _, iss := range report.Unrepairable {
		fmt.Fprintf(e.stdout, "unrepairable: %s\n", iss.Message)
	}
	if len(report.Unrepairable) > 0 {
		return exitError{code: 1}
	}
	return nil
}

func runDiagnose(ctx context.Context, e *cmdEnv) error {
	format, err := e.cfg.ZarrFormat()
	if err != nil {
		return err
	}
	var dbg *zarrutils.Debugger
	if e.debug {
		dbg = zarrutils.NewDebugger(e.logger)
	}

	s, err := zarrutils.OpenStore(ctx, e.args[0], e.cfg.StoreOptions())
	if err != nil {
		fmt.Fprintln(e.stdout, zarrutils.Explain(err))
		return err
	}
	report := zarrutils.Diagnose(ctx, s, zarrutils.DiagnoseOptions{
		Detailed: e.detailed,
		Format:   format,
		Validate: e.validateOptions(),
		Debugger: dbg,
		Logger:   e.logger,
	})

	if e.json {
		if err := e.printJSON(report); err != nil {
			return err
		}
	} else {
		printDiagnosis(e.stdout, report)
		if dbg != nil {
			sum := dbg.Summary()
			fmt.Fprintf(e.stdout, "\ndebug: %d operations, %d failed, %s total, slowest %s\n",
				sum.Operations, sum.Failures, sum.Total, sum.Slowest)
		}
	}
	if !report.Accessible {
		return exitError{code: 1}
	}
	return nil
}

func printDiagnosis(w io.Writer, r *zarrutils.DiagnosticReport) {
	fmt.Fprintf(w, "store type:    %s\n", r.StoreType)
	fmt.Fprintf(w, "accessible:    %t\n", r.Accessible)
	if r.Accessible {
		fmt.Fprintf(w, "format:        %s\n", r.Format)
		fmt.Fprintf(w, "consolidated:  %t\n", r.HasConsolidated)
		fmt.Fprintf(w, "arrays:        %d\n", r.ArrayCount)
		fmt.Fprintf(w, "groups:        %d\n", r.GroupCount)
		fmt.Fprintf(w, "total size:    %s\n", humanize.IBytes(uint64(r.TotalSizeBytes)))
	}
	if p := r.Performance; p != nil {
		fmt.Fprintf(w, "read latency:  %.3fs (%s), %d bytes from %s, %.2f MB/s\n",
			p.LatencySeconds, p.Tier, p.Bytes, p.ProbeKey, p.BandwidthMBps)
	}
	if len(r.Issues) > 0 {
		fmt.Fprintln(w, "\nissues:")
		for _, iss := range r.Issues {
			fmt.Fprintf(w, "  - %s\n", iss)
		}
	}
	if len(r.Notes) > 0 {
		fmt.Fprintln(w, "\nnotes:")
		for _, n := range r.Notes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "\nsuggestions:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

func runSpacing(ctx context.Context, e *cmdEnv) error {
	if len(e.args) < 2 {
		return fmt.Errorf("spacing: node path required")
	}
	acc, err := e.open(ctx)
	if err != nil {
		return err
	}
	attrs, err := acc.Attributes(ctx, e.args[1])
	if err != nil {
		fmt.Fprintln(e.stdout, zarrutils.Explain(err))
		return err
	}
	s := zarrutils.VoxelSpacing(attrs, zarrutils.DefaultVoxelSpacing)
	if e.json {
		return e.printJSON(map[string]float64{"z": s[0], "y": s[1], "x": s[2]})
	}
	fmt.Fprintf(e.stdout, "z=%g y=%g x=%g\n", s[0], s[1], s[2])
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `zarr-utils %s: metadata tooling for zarr v2 and v3 stores.

Stores are local paths, file://, s3://bucket/prefix, gs://bucket/prefix
or memory://. Settings come from --config (YAML), ZARR_UTILS_* variables
(a .env file is read too) and flags, later sources winning.

Usage:
  zarr-utils <command> [flags]

Commands:
`, zarrutils.Version)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-44s %s\n", c.usage, c.summary)
	}
	fmt.Fprintln(w, "\nRun 'zarr-utils <command> --help' for command flags.")
}
