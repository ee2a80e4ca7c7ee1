// weave CLI - rewrites compiled units so that they report their execution
// to a trace sink
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/weave/config"
	"github.com/chazu/weave/instrument"
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/interp"
	"github.com/chazu/weave/pkg/trace"
	"github.com/chazu/weave/report"
)

// unitExt is the file extension of serialized units.
const unitExt = ".wvbc"

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (higher is more verbose)")
	configDir := flag.String("config", "", "Directory holding weave.toml (default: search upwards from the working directory)")
	outDir := flag.String("o", "weave-out", "Output directory for rewritten units")
	reportDB := flag.String("report", "", "Record the batch manifest in this SQLite database")
	label := flag.String("label", "", "Label of the recorded batch (default: the input paths)")
	workers := flag.Int("workers", 0, "Concurrent rewrites (overrides weave.toml)")
	noMethods := flag.Bool("no-methods", false, "Do not instrument method entry, exit and allocation")
	noFields := flag.Bool("no-fields", false, "Do not instrument field and array accesses")
	noVars := flag.Bool("no-vars", false, "Do not instrument local variable accesses")
	noVerify := flag.Bool("no-verify", false, "Skip verification of rewritten methods")
	traceDir := flag.String("trace", "", "Write the disassembly of rewritten units to this directory")
	disasm := flag.Bool("disasm", false, "Print the disassembly of the inputs and exit")
	run := flag.String("run", "", "After rewriting, run a static ()V method (e.g. 'app/Main.main') and print its events")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: weave [options] paths...\n\n")
		fmt.Fprintf(os.Stderr, "Rewrites %s units found under the given paths.\n\n", unitExt)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  weave ./classes                       # Rewrite into ./weave-out\n")
		fmt.Fprintf(os.Stderr, "  weave -no-vars -o out ./classes       # Skip variable events\n")
		fmt.Fprintf(os.Stderr, "  weave -report runs.db ./classes       # Record the manifest\n")
		fmt.Fprintf(os.Stderr, "  weave -run app/Main.main ./classes    # Rewrite, then run and print events\n")
		fmt.Fprintf(os.Stderr, "  weave -disasm ./classes/app/Main.wvbc # Show a unit\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	files, err := collect(paths)
	if err != nil {
		fail(err)
	}

	if *disasm {
		for _, f := range files {
			if err := printUnit(f); err != nil {
				fail(err)
			}
		}
		return
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fail(err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	cfg.Methods = cfg.Methods && !*noMethods
	cfg.Fields = cfg.Fields && !*noFields
	cfg.Variables = cfg.Variables && !*noVars
	cfg.Verify = cfg.Verify && !*noVerify
	if *traceDir != "" {
		cfg.Trace, cfg.TraceDir = true, *traceDir
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	inputs := make([]instrument.Input, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			fail(err)
		}
		inputs = append(inputs, instrument.Input{Name: f, Data: data})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rw := instrument.New(cfg)
	manifest, err := rw.TransformBatch(ctx, inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: batch interrupted: %v\n", err)
	}

	units, err := writeOutputs(*outDir, manifest)
	if err != nil {
		fail(err)
	}
	printManifest(manifest)

	if *reportDB != "" {
		if *label == "" {
			*label = strings.Join(paths, " ")
		}
		if err := saveReport(*reportDB, *label, manifest); err != nil {
			fail(err)
		}
	}

	if *run != "" {
		if err := runEntry(*run, units); err != nil {
			fail(err)
		}
	}

	if manifest.Count(instrument.StatusFailed) > 0 {
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

// collect expands directories into the unit files they contain
func collect(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, unitExt) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", p, err)
		}
	}
	return files, nil
}

func printUnit(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	u, err := bytecode.WireCodec{}.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Print(u.Disassemble())
	return nil
}

// writeOutputs writes every produced unit under dir, named after the unit,
// and returns the decoded outputs.
func writeOutputs(dir string, m *instrument.Manifest) ([]*bytecode.Unit, error) {
	var units []*bytecode.Unit
	for _, e := range m.Entries {
		if e.Output == nil {
			continue
		}
		u, err := bytecode.WireCodec{}.Decode(e.Output)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Input, err)
		}
		path, err := outputPath(dir, u.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Input, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, e.Output, 0o644); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// outputPath returns where the unit named name is written under dir.
func outputPath(dir, name string) (string, error) {
	path := filepath.Join(dir, bytecode.RelPath(name)+unitExt)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unit %q resolves outside %s", name, dir)
	}
	return path, nil
}

func printManifest(m *instrument.Manifest) {
	for _, e := range m.Entries {
		r := e.Result
		switch r.Status {
		case instrument.StatusRewritten:
			fmt.Printf("%-10s %s (%d methods, %d probes)\n", r.Status, r.Unit, r.Stats.Methods, r.Stats.Probes())
		case instrument.StatusFailed:
			fmt.Printf("%-10s %s: %s\n", r.Status, e.Input, r.Reason)
		default:
			fmt.Printf("%-10s %s: %s\n", r.Status, r.Unit, r.Reason)
		}
	}
	fmt.Printf("\n%d rewritten, %d skipped, %d fallback, %d failed\n",
		m.Count(instrument.StatusRewritten), m.Count(instrument.StatusSkipped),
		m.Count(instrument.StatusFallback), m.Count(instrument.StatusFailed))
}

func saveReport(path, label string, m *instrument.Manifest) error {
	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.SaveManifest(label, m)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded batch %d in %s\n", id, path)
	return nil
}

// runEntry runs owner.method ()V over units with a printing sink.
func runEntry(entry string, units []*bytecode.Unit) error {
	i := strings.LastIndex(entry, ".")
	if i <= 0 || i == len(entry)-1 {
		return fmt.Errorf("invalid entry point %q, expected Owner.method", entry)
	}
	owner, name := entry[:i], entry[i+1:]

	rec := trace.NewRecorder()
	machine := interp.New(trace.Multi(trace.NewPrinter(os.Stdout), rec))
	machine.Load(units...)
	_, err := machine.Invoke(owner, name, "()V")
	if exc, ok := interp.IsThrown(err); ok {
		fmt.Printf("uncaught %s\n", interp.FormatValue(exc))
		err = nil
	}
	if err != nil {
		return err
	}
	if berr := rec.Balanced(); berr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", berr)
	}
	fmt.Printf("%d events\n", rec.Len())
	return nil
}
