package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/pathexpr"
	"github.com/nirzaf/Hl7OpenSoup/internal/pipeline"
	"github.com/nirzaf/Hl7OpenSoup/internal/position"
	"github.com/nirzaf/Hl7OpenSoup/internal/session"
	"github.com/nirzaf/Hl7OpenSoup/internal/validate"
)

type editOptions struct {
	message int
	sets    []string
	values  []string
	cells   []string
	out     string
	inPlace bool
	diff    bool
}

func newEditCommand(g *globals) *cobra.Command {
	var o editOptions
	cmd := &cobra.Command{
		Use:   "edit FILE",
		Short: "Change field values of one message and revalidate it",
		Long: `Edit applies every --set, --value and --cell change to one message of FILE,
revalidates it and prints the edited file to stdout. --set and --cell values are encoded
text, so "DOE^JANE" sets two components; --value text is escaped and stays one value.

  --set PID-5=DOE^JANE          replace the node a path addresses
  --value NTE-3=50% ^ rising    store plain text, escaping delimiters (50% \S\ rising)
  --cell OBX[2],5,1=7.4         replace a grid cell: segment, field row, component column`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), g, args[0], o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.message, "message", "m", 1, "1-based message within the file")
	f.StringArrayVar(&o.sets, "set", nil, "PATH=VALUE replacement (repeatable)")
	f.StringArrayVar(&o.values, "value", nil, "PATH=TEXT replacement with delimiters escaped (repeatable)")
	f.StringArrayVar(&o.cells, "cell", nil, "SEGMENT,ROW,COL=VALUE grid replacement (repeatable)")
	f.StringVarP(&o.out, "out", "o", "", "write the edited file here instead of stdout")
	f.BoolVarP(&o.inPlace, "in-place", "i", false, "overwrite FILE")
	f.BoolVar(&o.diff, "diff", false, "print a diff of the change instead of the edited file")
	cmd.MarkFlagsMutuallyExclusive("out", "in-place", "diff")
	return cmd
}

// namedEdit keeps the flag an edit came from for error messages.
type namedEdit struct {
	flag string
	edit session.Edit
}

func runEdit(ctx context.Context, g *globals, file string, o editOptions) error {
	if len(o.sets)+len(o.values)+len(o.cells) == 0 {
		return errors.New("nothing to do: pass --set, --value or --cell")
	}
	ws, err := g.workspace([]string{file})
	if err != nil {
		return err
	}
	res, err := ws.single(ctx)
	if err != nil {
		return err
	}
	msg, err := pick(res, o.message)
	if err != nil {
		return err
	}
	edits, err := parseEdits(msg, o.sets, o.values, o.cells)
	if err != nil {
		return err
	}

	s := session.Open(msg, session.Options{
		Registry:  ws.registry,
		Profiles:  ws.profiles,
		Validator: validate.Validator{SkipLengths: !ws.plan.CheckLengths},
		Logger:    ws.logger,
	})
	defer s.Close()
	for _, ne := range edits {
		if _, err := s.Apply(ctx, ne.edit); err != nil {
			return fmt.Errorf("%s: %w", ne.flag, err)
		}
	}
	if err := s.Wait(ctx); err != nil {
		return err
	}

	edited := s.Snapshot()
	doc := *res.Document
	doc.Messages = slices.Clone(doc.Messages)
	doc.Messages[o.message-1] = edited
	text := doc.String()

	diags, _ := s.Diagnostics()
	diags = diagnostics.NewLineIndex(res.Path, text).Resolve(edited, diags)
	validate.Sort(diags)

	switch {
	case o.diff:
		writeDiff(g.stdout, res.Path, res.Text, text)
	case o.inPlace || o.out != "":
		dest := res.Path
		if o.out != "" {
			abs, err := absPaths([]string{o.out})
			if err != nil {
				return err
			}
			dest = abs[0]
		}
		data, err := loader.Encode(text, res.Charset)
		if err != nil {
			return err
		}
		if err := g.env.Writer.WriteFile(dest, data); err != nil {
			return &pipeline.WriteError{Path: dest, Err: err}
		}
		g.logger.Debug("edited", "path", dest, "edits", len(edits))
	default:
		_, _ = io.WriteString(g.stdout, text)
	}
	return g.report(diags)
}

func parseEdits(msg *model.Message, sets, values, cells []string) ([]namedEdit, error) {
	out := make([]namedEdit, 0, len(sets)+len(values)+len(cells))
	for _, spec := range sets {
		p, value, err := pathAssignment(msg, "--set", spec)
		if err != nil {
			return nil, err
		}
		out = append(out, namedEdit{flag: "--set " + spec, edit: session.Replace(p, value)})
	}
	for _, spec := range values {
		p, value, err := pathAssignment(msg, "--value", spec)
		if err != nil {
			return nil, err
		}
		out = append(out, namedEdit{flag: "--value " + spec, edit: session.SetValue(p, value)})
	}
	for _, spec := range cells {
		lhs, value, ok := strings.Cut(spec, "=")
		parts := strings.Split(lhs, ",")
		if !ok || len(parts) != 3 {
			return nil, fmt.Errorf("--cell %q: want SEGMENT,ROW,COL=VALUE", spec)
		}
		expr, err := pathexpr.Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("--cell %q: %w", spec, err)
		}
		if expr.Level() != model.LevelSegment {
			return nil, fmt.Errorf("--cell %q: %s is not a segment", spec, parts[0])
		}
		seg, err := expr.Target(msg)
		if err != nil {
			return nil, fmt.Errorf("--cell %q: %w", spec, err)
		}
		row, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("--cell %q: row: %w", spec, err)
		}
		col, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("--cell %q: column: %w", spec, err)
		}
		grid := position.Grid{Segment: seg.Segment}
		out = append(out, namedEdit{flag: "--cell " + spec, edit: session.ReplaceCell(grid, row, col, value)})
	}
	return out, nil
}

// pathAssignment splits PATH=VALUE and resolves PATH to a field-or-deeper node of msg.
func pathAssignment(msg *model.Message, flag, spec string) (model.Path, string, error) {
	lhs, value, ok := strings.Cut(spec, "=")
	if !ok {
		return model.Path{}, "", fmt.Errorf("%s %q: want PATH=VALUE", flag, spec)
	}
	expr, err := pathexpr.Parse(lhs)
	if err != nil {
		return model.Path{}, "", fmt.Errorf("%s %q: %w", flag, spec, err)
	}
	if expr.Level() == model.LevelSegment {
		return model.Path{}, "", fmt.Errorf("%s %q: path must name a field", flag, spec)
	}
	p, err := expr.Target(msg)
	if err != nil {
		return model.Path{}, "", fmt.Errorf("%s %q: %w", flag, spec, err)
	}
	return p, value, nil
}

// writeDiff prints a line diff of two message texts, one segment per line.
func writeDiff(w io.Writer, path, before, after string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(segmentLines(before), segmentLines(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	_, _ = fmt.Fprintf(w, "--- %s\n+++ %s (edited)\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				_, _ = fmt.Fprint(w, prefix, line)
			}
		}
	}
}

func segmentLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
