package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nirzaf/Hl7OpenSoup/internal/config"
	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/interpret"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/pathexpr"
	"github.com/nirzaf/Hl7OpenSoup/internal/pipeline"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
)

// workspace is what the single-file commands share: the plan, a registry holding the
// custom profiles and a loader.
type workspace struct {
	plan     config.Plan
	registry *schema.Registry
	profiles []string
	loader   *loader.Loader
	logger   logging.Logger
}

func (g *globals) workspace(inputs []string) (*workspace, error) {
	opts, err := g.runOptions(inputs)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{Env: g.env}
	plan, warnings, err := p.Plan(opts)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		g.logger.Warn(w)
	}
	adapter := logging.NewSlogAdapter(g.logger)
	registry := schema.NewRegistry(schema.Options{DefaultVersion: plan.DefaultVersion, Logger: adapter})
	names, _, err := pipeline.LoadProfiles(registry, plan.Profiles, os.ReadFile)
	if err != nil {
		return nil, err
	}
	return &workspace{
		plan:     plan,
		registry: registry,
		profiles: names,
		loader:   loader.New(loader.Options{Charset: plan.Charset, Logger: adapter}),
		logger:   adapter,
	}, nil
}

func (w *workspace) load(ctx context.Context, path string) (*loader.Result, error) {
	return w.loader.Load(ctx, loader.Source{Path: path})
}

func (w *workspace) lookup(msg *model.Message) interpret.ProfileLookup {
	res := w.registry.Resolve(msg.Version(), w.profiles...)
	return interpret.ProfileLookup{Profile: res.Profile}
}

// single loads the one input a command operates on.
func (w *workspace) single(ctx context.Context) (*loader.Result, error) {
	if n := len(w.plan.Inputs); n != 1 {
		return nil, fmt.Errorf("expected one message file, found %d", n)
	}
	return w.load(ctx, w.plan.Inputs[0])
}

// pick returns the 1-based message n of res.
func pick(res *loader.Result, n int) (*model.Message, error) {
	msgs := res.Document.Messages
	if n < 1 || n > len(msgs) {
		return nil, fmt.Errorf("%s: no message %d (file holds %d)", res.Path, n, len(msgs))
	}
	return msgs[n-1], nil
}

func newParseCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE|DIR|GLOB...",
		Short: "Parse message files and summarize every message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd.Context(), g, args)
		},
	}
}

func runParse(ctx context.Context, g *globals, args []string) error {
	ws, err := g.workspace(args)
	if err != nil {
		return err
	}
	var diags []diagnostics.Diagnostic
	for _, path := range ws.plan.Inputs {
		res, err := ws.load(ctx, path)
		if err != nil {
			return err
		}
		for i, msg := range res.Document.Messages {
			_, _ = fmt.Fprintf(g.stdout, "%s: message %d\n", path, i+1)
			overview := interpret.Message(msg, ws.lookup(msg), res.Messages[i])
			if err := overview.Write(g.stdout); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(g.stdout)
			diags = append(diags, res.Messages[i]...)
		}
		diags = append(diags, res.Failures...)
	}
	return g.report(diags)
}

func newDescribeCommand(g *globals) *cobra.Command {
	var message int
	cmd := &cobra.Command{
		Use:   "describe FILE PATH",
		Short: "Explain a segment or field",
		Long: `Describe prints the definition and value of the node PATH addresses, such as
"PID-5", "OBX[2]-3.1" or "MSH.9". A bare segment code lists every defined field of
that segment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.Context(), g, args[0], args[1], message)
		},
	}
	cmd.Flags().IntVarP(&message, "message", "m", 1, "1-based message within the file")
	return cmd
}

func runDescribe(ctx context.Context, g *globals, file, path string, n int) error {
	expr, err := pathexpr.Parse(path)
	if err != nil {
		return err
	}
	ws, err := g.workspace([]string{file})
	if err != nil {
		return err
	}
	res, err := ws.single(ctx)
	if err != nil {
		return err
	}
	msg, err := pick(res, n)
	if err != nil {
		return err
	}
	lookup := ws.lookup(msg)

	if expr.Level() == model.LevelSegment {
		p, err := expr.Target(msg)
		if err != nil {
			return err
		}
		info, err := interpret.Segment(msg, p.Segment, lookup)
		if err != nil {
			return err
		}
		return info.Write(g.stdout)
	}
	p, ok := expr.Path(msg)
	if !ok {
		return fmt.Errorf("%s: %w", expr, model.ErrNoSuchNode)
	}
	info, err := interpret.Field(msg, p, lookup)
	if err != nil {
		return err
	}
	return info.Write(g.stdout)
}
