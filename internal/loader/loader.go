// Package loader reads message files: it decodes their character set, parses every
// message they contain and resolves finding locations to file lines.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/parser"
)

// Extensions lists the file extensions recognised as message files.
var Extensions = []string{".hl7", ".txt", ".msg", ".dat"}

// Supported reports whether path has a message file extension.
func Supported(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Source names one input. Data, when set, is used instead of reading Path.
type Source struct {
	Path    string
	Data    []byte
	Charset string
}

// Result is one loaded input.
type Result struct {
	Path    string
	Charset string
	// Text is the decoded source all offsets refer to.
	Text     string
	Document *model.Document
	// Messages holds the parse findings of each message, indexed like Document.Messages,
	// with file locations resolved.
	Messages [][]diagnostics.Diagnostic
	// Failures holds one error per message that could not be parsed.
	Failures []diagnostics.Diagnostic
	// Err is set when the input could not be read or decoded.
	Err error
}

// Lines returns a line index over the decoded text.
func (r *Result) Lines() *diagnostics.LineIndex {
	return diagnostics.NewLineIndex(r.Path, r.Text)
}

// Options configures a Loader.
type Options struct {
	// ReadFile reads a source path; defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
	// Charset is used for sources that do not name their own.
	Charset string
	// Workers bounds concurrent loads; defaults to GOMAXPROCS.
	Workers int
	Logger  logging.Logger
}

// Loader loads sources.
type Loader struct {
	readFile func(string) ([]byte, error)
	charset  string
	workers  int
	logger   logging.Logger
}

// New constructs a Loader.
func New(opts Options) *Loader {
	l := &Loader{
		readFile: opts.ReadFile,
		charset:  opts.Charset,
		workers:  opts.Workers,
		logger:   logging.Component(opts.Logger, "loader"),
	}
	if l.readFile == nil {
		l.readFile = os.ReadFile
	}
	if l.workers <= 0 {
		l.workers = runtime.GOMAXPROCS(0)
	}
	return l
}

// Load reads, decodes and parses src. Read and decode failures are returned as errors;
// parse failures are reported on the result.
func (l *Loader) Load(ctx context.Context, src Source) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := src.Data
	if data == nil {
		var err error
		data, err = l.readFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path, err)
		}
	}
	declared := src.Charset
	if declared == "" {
		declared = l.charset
	}
	text, charset, err := Decode(data, declared)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := parser.Parse(text)
	res := &Result{Path: src.Path, Charset: charset, Text: text, Document: parsed.Document}
	lines := res.Lines()
	for i, msg := range parsed.Document.Messages {
		res.Messages = append(res.Messages, lines.Resolve(msg, parsed.Messages[i]))
	}
	for _, d := range parsed.Failures {
		d.Location = lines.Locate(d.Location.Offset)
		res.Failures = append(res.Failures, d)
	}
	l.logger.Debug("loaded",
		"path", src.Path,
		"charset", charset,
		"messages", len(parsed.Document.Messages),
		"failures", len(parsed.Document.Failures),
	)
	return res, nil
}

// LoadBatch loads sources concurrently. Results are in source order; a source that fails
// to load has Err set. The returned error is non-nil only when ctx is cancelled.
func (l *Loader) LoadBatch(ctx context.Context, srcs []Source) ([]*Result, error) {
	results := make([]*Result, len(srcs))
	if len(srcs) == 0 {
		return results, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(l.workers, len(srcs)))
	for i, src := range srcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := l.Load(gctx, src)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.logger.Warn("load failed", "path", src.Path, "error", err)
				res = &Result{Path: src.Path, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
