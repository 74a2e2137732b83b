package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/export"
	"github.com/nirzaf/Hl7OpenSoup/internal/pipeline"
)

type validateOptions struct {
	skipLength bool
	noCache    bool
	categories bool
}

func newValidateCommand(g *globals) *cobra.Command {
	var o validateOptions
	cmd := &cobra.Command{
		Use:   "validate [FILE|DIR|GLOB]...",
		Short: "Validate message files against their HL7 version and custom profiles",
		Long: `Validate parses every input and checks each message against the standard profile
of the version it declares, merged with any custom profiles. Inputs default to the
configuration file's inputs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), g, args, o)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.skipLength, "skip-length", false, "do not check field lengths")
	f.BoolVar(&o.noCache, "no-cache", false, "ignore the validation cache")
	f.BoolVar(&o.categories, "categories", false, "print finding counts per category")
	return cmd
}

func runValidate(ctx context.Context, g *globals, args []string, o validateOptions) error {
	opts, err := g.runOptions(args)
	if err != nil {
		return err
	}
	opts.SkipLength = o.skipLength
	opts.NoCache = o.noCache

	p := &pipeline.Pipeline{Env: g.env}
	summary, runErr := p.Run(ctx, opts)
	g.printRun(summary, runErr, o.categories)
	if len(summary.Files) > 0 {
		_, _ = fmt.Fprintf(g.stdout, "%d file(s), %d message(s): %d error(s), %d warning(s)\n",
			len(summary.Files), summary.Messages(), summary.Errors, summary.Warnings)
	}
	return runErr
}

type exportOptions struct {
	validateOptions
	format  string
	out     string
	dsn     string
	columns []string
	dryRun  bool
}

func newExportCommand(g *globals) *cobra.Command {
	var o exportOptions
	cmd := &cobra.Command{
		Use:   "export [FILE|DIR|GLOB]...",
		Short: "Validate message files and export them",
		Long: `Export validates its inputs like validate and then writes every message to a
file, stdout or a database. With block_on_errors set, nothing is written when any
message has errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), g, args, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", "", fmt.Sprintf("output format %v", export.Formats()))
	f.StringVarP(&o.out, "out", "o", "", `output file, "-" for stdout`)
	f.StringVar(&o.dsn, "dsn", "", "load into a SQLite file or PostgreSQL URL instead of writing a file")
	f.StringArrayVar(&o.columns, "column", nil, "export column as [NAME=]PATH (repeatable)")
	f.BoolVar(&o.dryRun, "dry-run", false, "validate and encode without writing anything")
	f.BoolVar(&o.skipLength, "skip-length", false, "do not check field lengths")
	f.BoolVar(&o.noCache, "no-cache", false, "ignore the validation cache")
	return cmd
}

func runExport(ctx context.Context, g *globals, args []string, o exportOptions) error {
	opts, err := g.runOptions(args)
	if err != nil {
		return err
	}
	opts.Export = true
	opts.Format = o.format
	opts.Out = o.out
	opts.DSN = o.dsn
	opts.Columns = o.columns
	opts.DryRun = o.dryRun
	opts.SkipLength = o.skipLength
	opts.NoCache = o.noCache

	p := &pipeline.Pipeline{Env: g.env}
	summary, runErr := p.Run(ctx, opts)
	g.printRun(summary, runErr, false)
	if o.dryRun && summary.Snapshot != nil {
		dest := summary.Output
		if summary.Plan.Export.DSN != "" {
			dest = summary.Plan.Export.DSN
		}
		_, _ = fmt.Fprintf(g.stderr, "dry run: %d message(s) would be written to %s\n", len(summary.Snapshot.Entries), dest)
	}
	return runErr
}

// printRun prints the findings of a pipeline run in input order, then the reasons the run
// failed that no finding covers.
func (g *globals) printRun(summary pipeline.Summary, runErr error, categories bool) {
	c := diagnostics.NewCollection()
	for _, f := range summary.Files {
		if f.Err != nil {
			_, _ = fmt.Fprintf(g.stderr, "%s: %v\n", f.Path, f.Err)
			continue
		}
		for _, diags := range f.Diagnostics {
			for _, d := range diags {
				c.Add(d)
			}
		}
		for _, d := range f.Failures {
			c.Add(d)
		}
	}
	fm := g.formatter()
	_ = fm.WriteAll(g.stderr, c)
	fm.PrintSummary(g.stderr, c)
	if categories {
		fm.PrintCategorizedSummary(g.stderr, c)
	}

	var diagErr *pipeline.DiagnosticsError
	if errors.As(runErr, &diagErr) && errors.Is(diagErr.Cause, export.ErrBlocked) {
		_, _ = fmt.Fprintf(g.stderr, "%v\n", diagErr.Cause)
	}
}
