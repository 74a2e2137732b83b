// Package pipeline loads, validates and exports message files in one pass.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nirzaf/Hl7OpenSoup/internal/cache"
	"github.com/nirzaf/Hl7OpenSoup/internal/config"
	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/export"
	"github.com/nirzaf/Hl7OpenSoup/internal/fileset"
	"github.com/nirzaf/Hl7OpenSoup/internal/interpret"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
	"github.com/nirzaf/Hl7OpenSoup/internal/validate"
)

// Environment captures external dependencies used by the pipeline.
type Environment struct {
	FSResolver func(string) (fileset.Resolver, error)
	Logger     *slog.Logger
	Writer     Writer
	// Stdout receives exports that name no output file.
	Stdout io.Writer
	// ReadFile reads inputs and profiles; defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
	// Cache stores validation results; when nil the configured cache directory is used.
	Cache cache.Store
	// Store loads a snapshot into a database; defaults to export.Store.
	Store func(ctx context.Context, dsn string, snap *export.Snapshot, opts export.Options) error
	Hooks Hooks
	Now   func() time.Time
}

// Writer writes export files to persistent storage.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// Pipeline orchestrates configuration loading, validation, and export.
type Pipeline struct {
	Env Environment
}

// RunOptions configures a pipeline execution. Non-empty fields override the
// configuration file.
type RunOptions struct {
	ConfigPath string
	// Dir is where the default configuration file is looked up and relative inputs
	// resolve when no configuration file is used. Defaults to the working directory.
	Dir            string
	StrictConfig   bool
	Inputs         []string
	Profiles       []string
	DefaultVersion string
	Charset        string
	// Export runs the export stage.
	Export     bool
	Format     string
	Out        string
	DSN        string
	Columns    []string
	SkipLength bool
	NoCache    bool
	DryRun     bool
}

// File is the outcome for one input.
type File struct {
	Path     string
	Charset  string
	Document *model.Document
	// Diagnostics holds the parse and validation findings of each message, indexed like
	// Document.Messages, sorted and with file locations resolved.
	Diagnostics [][]diagnostics.Diagnostic
	// Failures holds one error per message that could not be parsed.
	Failures []diagnostics.Diagnostic
	// Resolutions is the profile each message was validated against.
	Resolutions []schema.Resolution
	Err         error
}

// Summary captures the results of a run.
type Summary struct {
	Plan           config.Plan
	ConfigWarnings []string
	Files          []File
	Snapshot       *export.Snapshot
	// Output is the export destination, "-" for stdout.
	Output    string
	CacheHits int
	Errors    int
	Warnings  int
}

// Messages returns the number of parsed messages across all files.
func (s Summary) Messages() int {
	n := 0
	for _, f := range s.Files {
		if f.Document != nil {
			n += len(f.Document.Messages)
		}
	}
	return n
}

// DiagnosticsError indicates that errors were reported via diagnostics.
type DiagnosticsError struct {
	// Diagnostic is the first error in input order; zero when only Cause is set.
	Diagnostic diagnostics.Diagnostic
	Errors     int
	Cause      error
}

func (e *DiagnosticsError) Error() string {
	d := e.Diagnostic
	if d.Message == "" {
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%d errors", e.Errors)
	}
	msg := d.Message
	if d.HasLocation() {
		msg = fmt.Sprintf("%s:%d:%d: %s", d.Location.Path, d.Location.Line, d.Location.Column, d.Message)
	}
	if e.Errors > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, e.Errors-1)
	}
	return msg
}

func (e *DiagnosticsError) Unwrap() error {
	return e.Cause
}

// WriteError wraps failures encountered while writing export output.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewOSWriter returns a Writer that performs atomic writes on the local filesystem.
func NewOSWriter() Writer {
	return &osWriter{perm: 0o644}
}

type osWriter struct {
	perm fs.FileMode
}

func (w *osWriter) WriteFile(path string, data []byte) error {
	if path == "" {
		return errors.New("pipeline: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".hl7soup-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
		_ = tmp.Close()
	}()
	if w.perm != 0 {
		if err := tmp.Chmod(w.perm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// Run executes the pipeline. It returns a *DiagnosticsError when any input carries error
// findings (warnings too, with warnings_as_errors) and a *WriteError when the export
// could not be written. The summary is filled in either way.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (summary Summary, err error) {
	logger := p.Env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hooks := p.Env.Hooks
	readFile := p.Env.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	defer func() {
		if hooks.AfterRun != nil {
			if hookErr := hooks.AfterRun(ctx, summary); hookErr != nil && err == nil {
				err = hookErr
			}
		}
	}()

	plan, warnings, err := p.Plan(opts)
	if err != nil {
		return summary, err
	}
	summary.ConfigWarnings = warnings
	for _, w := range warnings {
		logger.Warn(w)
	}
	summary.Plan = plan
	if len(plan.Inputs) == 0 {
		return summary, errors.New("no input files")
	}

	adapter := logging.NewSlogAdapter(logger)
	registry := schema.NewRegistry(schema.Options{DefaultVersion: plan.DefaultVersion, Logger: adapter})
	profileNames, profileKey, err := LoadProfiles(registry, plan.Profiles, readFile)
	if err != nil {
		return summary, err
	}

	if hooks.BeforeLoad != nil {
		if err := hooks.BeforeLoad(ctx, plan.Inputs); err != nil {
			return summary, err
		}
	}

	ld := loader.New(loader.Options{ReadFile: readFile, Charset: plan.Charset, Logger: adapter})
	srcs := make([]loader.Source, len(plan.Inputs))
	for i, path := range plan.Inputs {
		srcs[i] = loader.Source{Path: path}
	}
	results, err := ld.LoadBatch(ctx, srcs)
	if err != nil {
		return summary, err
	}
	if hooks.AfterLoad != nil {
		if err := hooks.AfterLoad(ctx, results); err != nil {
			return summary, err
		}
	}

	store := p.Env.Cache
	if store == nil && plan.CacheDir != "" && !opts.NoCache {
		fc, err := cache.NewFileCache(plan.CacheDir)
		if err != nil {
			logger.Warn("cache disabled", "dir", plan.CacheDir, "error", err)
		} else {
			store = fc
		}
	}
	v := &validation{
		registry:  registry,
		validator: validate.Validator{SkipLengths: !plan.CheckLengths},
		profiles:  profileNames,
		keyPrefix: profileKey,
		store:     store,
		ttl:       plan.CacheTTL,
		logger:    logger,
	}
	summary.Files, summary.CacheHits, err = v.run(ctx, results)
	if err != nil {
		return summary, err
	}
	if hooks.AfterValidate != nil {
		if err := hooks.AfterValidate(ctx, summary.Files); err != nil {
			return summary, err
		}
	}

	derr := tally(&summary, plan.WarningsAsErrors)

	if opts.Export {
		if err := p.export(ctx, &summary, plan, opts.DryRun); err != nil {
			if errors.Is(err, export.ErrBlocked) {
				if derr == nil {
					derr = &DiagnosticsError{}
				}
				derr.Cause = err
				return summary, derr
			}
			return summary, err
		}
	}

	logger.Info("run complete",
		"files", len(summary.Files),
		"messages", summary.Messages(),
		"errors", summary.Errors,
		"warnings", summary.Warnings,
		"cache_hits", summary.CacheHits,
	)
	if derr != nil {
		return summary, derr
	}
	return summary, nil
}

// Plan loads the configuration and applies opts over it. Inputs and profiles named in
// opts replace the configured ones.
func (p *Pipeline) Plan(opts RunOptions) (config.Plan, []string, error) {
	plan, baseDir, warnings, err := p.loadPlan(opts)
	if err != nil {
		return config.Plan{}, nil, err
	}
	if len(opts.Inputs) > 0 || len(opts.Profiles) > 0 {
		resolverFn := p.Env.FSResolver
		if resolverFn == nil {
			resolverFn = fileset.NewOSResolver
		}
		resolver, err := resolverFn(baseDir)
		if err != nil {
			return config.Plan{}, nil, fmt.Errorf("resolve filesystem: %w", err)
		}
		if len(opts.Inputs) > 0 {
			if plan.Inputs, err = resolver.WithFilter(loader.Supported).Resolve(opts.Inputs); err != nil {
				return config.Plan{}, nil, fmt.Errorf("inputs: %w", err)
			}
		}
		if len(opts.Profiles) > 0 {
			if plan.Profiles, err = resolver.Resolve(opts.Profiles); err != nil {
				return config.Plan{}, nil, fmt.Errorf("profiles: %w", err)
			}
		}
	}
	if err := applyOverrides(&plan, baseDir, opts); err != nil {
		return config.Plan{}, nil, err
	}
	return plan, warnings, nil
}

// loadPlan reads the named or default configuration file. Without one, defaults apply
// and relative paths resolve against opts.Dir.
func (p *Pipeline) loadPlan(opts RunOptions) (config.Plan, string, []string, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Plan{}, "", nil, err
		}
		dir = wd
	}
	path := opts.ConfigPath
	if path == "" {
		candidate := filepath.Join(dir, config.DefaultFile)
		if _, err := os.Stat(candidate); err != nil {
			return config.Default(), dir, nil, nil
		}
		path = candidate
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return config.Plan{}, "", nil, fmt.Errorf("resolve config path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	resolverFn := p.Env.FSResolver
	if resolverFn == nil {
		resolverFn = fileset.NewOSResolver
	}
	resolver, err := resolverFn(baseDir)
	if err != nil {
		return config.Plan{}, "", nil, fmt.Errorf("resolve filesystem: %w", err)
	}
	res, err := config.Load(absPath, config.LoadOptions{Strict: opts.StrictConfig, Resolver: &resolver})
	if err != nil {
		return config.Plan{}, "", nil, err
	}
	return res.Plan, baseDir, res.Warnings, nil
}

func applyOverrides(plan *config.Plan, baseDir string, opts RunOptions) error {
	if opts.DefaultVersion != "" {
		if !schema.Known(opts.DefaultVersion) {
			return fmt.Errorf("unsupported version %q (known: %s)", opts.DefaultVersion, strings.Join(schema.Versions, ", "))
		}
		plan.DefaultVersion = opts.DefaultVersion
	}
	if opts.Charset != "" {
		plan.Charset = opts.Charset
	}
	if opts.SkipLength {
		plan.CheckLengths = false
	}
	if opts.Format != "" {
		format, err := export.ParseFormat(opts.Format)
		if err != nil {
			return err
		}
		plan.Export.Options.Format = format
	}
	if len(opts.Columns) > 0 {
		mapping, err := export.ParseMapping(opts.Columns)
		if err != nil {
			return err
		}
		plan.Export.Options.Mapping = mapping
	}
	switch {
	case opts.Out == "-":
		plan.Export.Out = ""
	case filepath.IsAbs(opts.Out):
		plan.Export.Out = filepath.Clean(opts.Out)
	case opts.Out != "":
		plan.Export.Out = filepath.Join(baseDir, opts.Out)
	}
	if opts.DSN != "" {
		plan.Export.DSN = opts.DSN
	}
	return nil
}

// LoadProfiles registers every profile file under its base name. It returns the names in
// load order and a key covering their contents.
func LoadProfiles(registry *schema.Registry, paths []string, readFile func(string) ([]byte, error)) ([]string, []byte, error) {
	names := make([]string, 0, len(paths))
	var key bytes.Buffer
	for _, path := range paths {
		format, err := schema.FormatFromPath(path)
		if err != nil {
			return nil, nil, err
		}
		data, err := readFile(filepath.Clean(path))
		if err != nil {
			return nil, nil, fmt.Errorf("read profile: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		prof, err := registry.LoadProfile(name, data, format)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, prof.Name)
		key.WriteString(prof.Name)
		key.WriteByte(0)
		key.Write(data)
		key.WriteByte(0)
	}
	return names, key.Bytes(), nil
}

type validation struct {
	registry  *schema.Registry
	validator validate.Validator
	profiles  []string
	keyPrefix []byte
	store     cache.Store
	ttl       time.Duration
	logger    *slog.Logger
}

// run validates every message of every loaded input, one input per worker.
func (v *validation) run(ctx context.Context, results []*loader.Result) ([]File, int, error) {
	files := make([]File, len(results))
	hits := make([]int, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, res := range results {
		g.Go(func() error {
			file, n, err := v.file(gctx, res)
			files[i], hits[i] = file, n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	total := 0
	for _, n := range hits {
		total += n
	}
	return files, total, nil
}

func (v *validation) file(ctx context.Context, res *loader.Result) (File, int, error) {
	file := File{Path: res.Path, Charset: res.Charset, Document: res.Document, Failures: res.Failures, Err: res.Err}
	if res.Err != nil {
		return file, 0, nil
	}
	lines := res.Lines()
	hits := 0
	for i, msg := range res.Document.Messages {
		resolution := v.registry.Resolve(msg.Version(), v.profiles...)
		found, hit, err := v.message(ctx, msg, resolution)
		if err != nil {
			return file, hits, err
		}
		if hit {
			hits++
		}
		diags := append(slices.Clone(res.Messages[i]), lines.Resolve(msg, found)...)
		validate.Sort(diags)
		file.Diagnostics = append(file.Diagnostics, diags)
		file.Resolutions = append(file.Resolutions, resolution)
	}
	return file, hits, nil
}

// message validates msg, consulting the store first. Cache failures only cost a rerun.
func (v *validation) message(ctx context.Context, msg *model.Message, res schema.Resolution) ([]diagnostics.Diagnostic, bool, error) {
	var key string
	if v.store != nil {
		key = cache.ComputeKeyWithPrefix("validate",
			v.keyPrefix,
			[]byte(v.registry.DefaultVersion()),
			[]byte(fmt.Sprint(v.validator.SkipLengths)),
			[]byte(msg.String()),
		)
		var cached []diagnostics.Diagnostic
		hit, err := v.store.Load(ctx, key, &cached)
		if err != nil {
			v.logger.Debug("cache load failed", "error", err)
		} else if hit {
			return cached, true, nil
		}
	}
	diags, err := v.validator.RunContext(ctx, msg, res)
	if err != nil {
		return nil, false, err
	}
	if v.store != nil {
		if err := v.store.Save(ctx, key, diags, v.ttl); err != nil {
			v.logger.Debug("cache save failed", "error", err)
		}
	}
	return diags, false, nil
}

// tally counts findings and returns the error to report for them, if any.
func tally(summary *Summary, warningsAsErrors bool) *DiagnosticsError {
	var derr *DiagnosticsError
	var loadErrs []error
	note := func(d diagnostics.Diagnostic) {
		isErr := d.IsError() || (warningsAsErrors && d.IsWarning())
		switch {
		case d.IsError():
			summary.Errors++
		case d.IsWarning():
			summary.Warnings++
		}
		if !isErr {
			return
		}
		if derr == nil {
			derr = &DiagnosticsError{Diagnostic: d}
		}
		derr.Errors++
	}
	for _, f := range summary.Files {
		if f.Err != nil {
			summary.Errors++
			loadErrs = append(loadErrs, f.Err)
			continue
		}
		for _, diags := range f.Diagnostics {
			for _, d := range diags {
				note(d)
			}
		}
		for _, d := range f.Failures {
			note(d)
		}
	}
	if len(loadErrs) > 0 {
		if derr == nil {
			derr = &DiagnosticsError{}
		}
		derr.Errors += len(loadErrs)
		derr.Cause = errors.Join(loadErrs...)
	}
	return derr
}

func (p *Pipeline) export(ctx context.Context, summary *Summary, plan config.Plan, dryRun bool) error {
	now := time.Now
	if p.Env.Now != nil {
		now = p.Env.Now
	}
	snap := &export.Snapshot{Generated: now().UTC()}
	for _, f := range summary.Files {
		if f.Document == nil {
			continue
		}
		for i, msg := range f.Document.Messages {
			snap.Add(export.Entry{
				Source:      f.Path,
				Message:     msg.Clone(),
				Lookup:      interpret.ProfileLookup{Profile: f.Resolutions[i].Profile},
				Diagnostics: f.Diagnostics[i],
			})
		}
	}
	summary.Snapshot = snap

	hooks := p.Env.Hooks
	if hooks.BeforeWrite != nil {
		if err := hooks.BeforeWrite(ctx, snap); err != nil {
			return err
		}
	}
	opts := plan.Export.Options

	if dsn := plan.Export.DSN; dsn != "" {
		summary.Output = dsn
		if dryRun {
			return nil
		}
		store := p.Env.Store
		if store == nil {
			store = export.Store
		}
		if err := store(ctx, dsn, snap, opts); err != nil {
			if errors.Is(err, export.ErrBlocked) {
				return err
			}
			return &WriteError{Path: dsn, Err: err}
		}
		return nil
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, snap, opts); err != nil {
		return err
	}
	out := plan.Export.Out
	if out == "" {
		summary.Output = "-"
		if dryRun {
			return nil
		}
		stdout := p.Env.Stdout
		if stdout == nil {
			stdout = os.Stdout
		}
		if _, err := stdout.Write(buf.Bytes()); err != nil {
			return &WriteError{Path: "-", Err: err}
		}
		return nil
	}

	summary.Output = out
	if dryRun {
		return nil
	}
	same, err := fileMatches(out, buf.Bytes())
	if err != nil {
		return &WriteError{Path: out, Err: err}
	}
	if same {
		return nil
	}
	writer := p.Env.Writer
	if writer == nil {
		writer = NewOSWriter()
	}
	if err := writer.WriteFile(out, buf.Bytes()); err != nil {
		return &WriteError{Path: out, Err: err}
	}
	return nil
}

func fileMatches(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(existing, content), nil
}
