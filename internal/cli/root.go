// Package cli builds the hl7soup command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nirzaf/Hl7OpenSoup/internal/config"
	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/fileset"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
	"github.com/nirzaf/Hl7OpenSoup/internal/pipeline"
)

// Version is reported by --version; release builds set it with -ldflags.
var Version = "dev"

// globals holds the persistent flags and what PersistentPreRunE derives from them.
type globals struct {
	stdout io.Writer
	stderr io.Writer

	configPath     string
	strictConfig   bool
	verbose        bool
	logFormat      string
	color          string
	profiles       []string
	defaultVersion string
	charset        string

	logger   *slog.Logger
	colorize bool
	env      pipeline.Environment
}

// NewRootCommand returns the hl7soup command with every subcommand registered. Output
// goes to stdout; diagnostics and logs go to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "hl7soup",
		Short:         "Parse, validate, edit and export HL7 v2 messages",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return g.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "path to configuration file (default ./"+config.DefaultFile+" when present)")
	pf.BoolVar(&g.strictConfig, "strict-config", false, "treat unknown configuration keys as errors")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&g.logFormat, "log-format", "text", "log record format (text|json)")
	pf.StringVar(&g.color, "color", "auto", "colorize diagnostics (auto|on|off)")
	pf.StringSliceVarP(&g.profiles, "profile", "p", nil, "custom profile merged over the standard one (repeatable)")
	pf.StringVar(&g.defaultVersion, "default-version", "", "HL7 version assumed for messages that declare none")
	pf.StringVar(&g.charset, "charset", "", "character set of the input files")

	root.AddCommand(
		newParseCommand(g),
		newValidateCommand(g),
		newExportCommand(g),
		newDescribeCommand(g),
		newEditCommand(g),
	)
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// ExitCode maps an Execute error to the process exit status: 2 when output could not be
// written, 1 for every other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var writeErr *pipeline.WriteError
	if errors.As(err, &writeErr) {
		return 2
	}
	return 1
}

// Reported reports whether the command already printed err as diagnostics.
func Reported(err error) bool {
	var diagErr *pipeline.DiagnosticsError
	return errors.As(err, &diagErr)
}

func (g *globals) setup() error {
	var format logging.Format
	switch g.logFormat {
	case "text":
		format = logging.FormatText
	case "json":
		format = logging.FormatJSON
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", g.logFormat)
	}
	switch g.color {
	case "on":
		g.colorize = true
	case "off":
		g.colorize = false
	case "auto":
		g.colorize = isTerminal(g.stderr) && !color.NoColor
	default:
		return fmt.Errorf("invalid --color %q (want auto, on or off)", g.color)
	}
	g.logger = logging.New(logging.Options{Verbose: g.verbose, Format: format, Writer: g.stderr})
	g.env = pipeline.Environment{
		Logger:     g.logger,
		FSResolver: fileset.NewOSResolver,
		Writer:     pipeline.NewOSWriter(),
		Stdout:     g.stdout,
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// runOptions fills the options every command shares. Command line paths are made absolute
// so they resolve against the working directory rather than the configuration file.
func (g *globals) runOptions(inputs []string) (pipeline.RunOptions, error) {
	abs, err := absPaths(inputs)
	if err != nil {
		return pipeline.RunOptions{}, err
	}
	profiles, err := absPaths(g.profiles)
	if err != nil {
		return pipeline.RunOptions{}, err
	}
	return pipeline.RunOptions{
		ConfigPath:     g.configPath,
		StrictConfig:   g.strictConfig,
		Inputs:         abs,
		Profiles:       profiles,
		DefaultVersion: g.defaultVersion,
		Charset:        g.charset,
	}, nil
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func (g *globals) formatter() *diagnostics.Formatter {
	f := diagnostics.NewFormatter()
	if g.verbose {
		f = diagnostics.NewVerboseFormatter()
	}
	f.Colorize = g.colorize
	return f
}

// report prints diags with a summary line and returns a *pipeline.DiagnosticsError when
// any of them is an error.
func (g *globals) report(diags []diagnostics.Diagnostic) error {
	c := diagnostics.NewCollection(diags...)
	f := g.formatter()
	_ = f.WriteAll(g.stderr, c)
	f.PrintSummary(g.stderr, c)
	errs := c.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &pipeline.DiagnosticsError{Diagnostic: errs[0], Errors: len(errs)}
}
