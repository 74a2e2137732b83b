package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/tools/txtar"

	"github.com/nirzaf/Hl7OpenSoup/internal/cache"
	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/export"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

// workspace extracts testdata/run.txtar into a temp dir, applying edits on top.
func workspace(t *testing.T, edits map[string]string) string {
	t.Helper()
	archive, err := txtar.ParseFile("testdata/run.txtar")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	dir := t.TempDir()
	files := map[string][]byte{}
	for _, f := range archive.Files {
		files[f.Name] = f.Data
	}
	for name, content := range edits {
		files[name] = []byte(content)
	}
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunValidates(t *testing.T) {
	dir := workspace(t, nil)
	p := &Pipeline{}

	summary, err := p.Run(context.Background(), RunOptions{Dir: dir})

	var derr *DiagnosticsError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DiagnosticsError, got %T: %v", err, err)
	}
	if derr.Errors != 1 || derr.Diagnostic.Reason != diagnostics.ReasonMissingRequiredField {
		t.Fatalf("unexpected error %+v", derr)
	}
	loc := derr.Diagnostic.Location
	if loc.Path != filepath.Join(dir, "inbox", "bad.hl7") || loc.Line != 3 || loc.Column != len("PID|1||")+1 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if !strings.HasSuffix(err.Error(), "bad.hl7:3:8: "+derr.Diagnostic.Message) {
		t.Fatalf("unexpected error text %q", err.Error())
	}

	var paths []string
	for _, f := range summary.Files {
		paths = append(paths, filepath.Base(f.Path))
	}
	if diff := cmp.Diff([]string{"bad.hl7", "good.hl7"}, paths); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if summary.Messages() != 2 || summary.Errors != 1 || summary.Warnings != 0 {
		t.Fatalf("unexpected counts: messages=%d errors=%d warnings=%d", summary.Messages(), summary.Errors, summary.Warnings)
	}
	good := summary.Files[1]
	if len(good.Diagnostics) != 1 || len(good.Diagnostics[0]) != 0 {
		t.Fatalf("expected the site profile to accept ZPI, got %v", good.Diagnostics)
	}
	if good.Resolutions[0].Profile == nil || !good.Resolutions[0].Exact {
		t.Fatalf("unexpected resolution %+v", good.Resolutions[0])
	}
	if summary.Snapshot != nil || summary.Output != "" {
		t.Fatal("export ran without being requested")
	}
}

func TestRunWithoutProfileRejectsExtension(t *testing.T) {
	dir := workspace(t, map[string]string{
		"hl7soup.toml": "inputs = [\"inbox/good.hl7\"]\n",
	})

	summary, err := (&Pipeline{}).Run(context.Background(), RunOptions{Dir: dir})
	var derr *DiagnosticsError
	if !errors.As(err, &derr) || derr.Diagnostic.Reason != diagnostics.ReasonUnknownSegmentCode {
		t.Fatalf("expected unknown segment error, got %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("errors = %d, want 1", summary.Errors)
	}
}

func TestRunExport(t *testing.T) {
	dir := workspace(t, nil)
	w := &MemoryWriter{}
	p := &Pipeline{Env: Environment{Writer: w, Now: fixedNow}}

	summary, err := p.Run(context.Background(), RunOptions{Dir: dir, Export: true})
	var derr *DiagnosticsError
	if !errors.As(err, &derr) {
		t.Fatalf("expected validation errors to be reported, got %v", err)
	}

	out := filepath.Join(dir, "out", "summary.csv")
	if diff := cmp.Diff([]string{out}, w.Paths()); diff != "" {
		t.Fatalf("written paths mismatch (-want +got):\n%s", diff)
	}
	if summary.Output != out || len(summary.Snapshot.Entries) != 2 {
		t.Fatalf("unexpected summary output=%q entries=%d", summary.Output, len(summary.Snapshot.Entries))
	}
	data, _ := w.GetFile(out)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "Message_Index,") {
		t.Fatalf("unexpected csv:\n%s", data)
	}
	if !strings.Contains(lines[1], "BAD1") || !strings.Contains(lines[1], "Error") {
		t.Fatalf("first row should be the failing message: %q", lines[1])
	}
	if !strings.Contains(lines[2], "GOOD1") || !strings.Contains(lines[2], "Valid") {
		t.Fatalf("second row should be the clean message: %q", lines[2])
	}
}

func TestRunExportOverrides(t *testing.T) {
	dir := workspace(t, nil)
	var stdout bytes.Buffer
	p := &Pipeline{Env: Environment{Stdout: &stdout, Now: fixedNow}}

	summary, err := p.Run(context.Background(), RunOptions{
		Dir:    dir,
		Inputs: []string{"inbox/good.hl7"},
		Export: true,
		Format: "hl7",
		Out:    "-",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Output != "-" {
		t.Fatalf("Output = %q, want stdout", summary.Output)
	}
	if got := stdout.String(); !strings.HasPrefix(got, "MSH|^~\\&|APP|FAC") || !strings.Contains(got, "ZPI|1|REX") {
		t.Fatalf("unexpected pipe output %q", got)
	}
}

func TestRunBlockOnErrors(t *testing.T) {
	dir := workspace(t, map[string]string{
		"hl7soup.toml": `
inputs = ["inbox"]
profiles = ["profiles/site.yaml"]

[export]
block_on_errors = true
out = "out/messages.json"
`,
	})
	w := &MemoryWriter{}
	_, err := (&Pipeline{Env: Environment{Writer: w}}).Run(context.Background(), RunOptions{Dir: dir, Export: true})

	if !errors.Is(err, export.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	var derr *DiagnosticsError
	if !errors.As(err, &derr) || derr.Errors != 1 {
		t.Fatalf("expected DiagnosticsError carrying the finding, got %v", err)
	}
	if len(w.Paths()) != 0 {
		t.Fatalf("blocked export wrote %v", w.Paths())
	}
}

func TestRunStore(t *testing.T) {
	dir := workspace(t, nil)
	var gotDSN string
	var entries int
	p := &Pipeline{Env: Environment{
		Store: func(_ context.Context, dsn string, snap *export.Snapshot, _ export.Options) error {
			gotDSN, entries = dsn, len(snap.Entries)
			return nil
		},
	}}

	summary, _ := p.Run(context.Background(), RunOptions{Dir: dir, Export: true, DSN: "postgres://localhost/hl7"})
	if gotDSN != "postgres://localhost/hl7" || entries != 2 || summary.Output != gotDSN {
		t.Fatalf("store got dsn=%q entries=%d output=%q", gotDSN, entries, summary.Output)
	}

	p.Env.Store = func(context.Context, string, *export.Snapshot, export.Options) error {
		return errors.New("connection refused")
	}
	_, err := p.Run(context.Background(), RunOptions{Dir: dir, Export: true, DSN: "postgres://localhost/hl7"})
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Path != "postgres://localhost/hl7" {
		t.Fatalf("expected WriteError, got %v", err)
	}
}

func TestRunWriteError(t *testing.T) {
	dir := workspace(t, nil)
	w := &MemoryWriter{Err: errors.New("disk full")}

	_, err := (&Pipeline{Env: Environment{Writer: w}}).Run(context.Background(), RunOptions{Dir: dir, Export: true})
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WriteError, got %T: %v", err, err)
	}
	if !strings.Contains(werr.Error(), "disk full") {
		t.Fatalf("unexpected error %v", werr)
	}
}

func TestRunDryRun(t *testing.T) {
	dir := workspace(t, nil)
	w := &MemoryWriter{}

	summary, _ := (&Pipeline{Env: Environment{Writer: w}}).Run(context.Background(), RunOptions{Dir: dir, Export: true, DryRun: true})
	if summary.Snapshot == nil || summary.Output == "" {
		t.Fatal("dry run should still build the export")
	}
	if len(w.Paths()) != 0 {
		t.Fatalf("dry run wrote %v", w.Paths())
	}
}

func TestRunCachesValidation(t *testing.T) {
	dir := workspace(t, nil)
	store, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := &Pipeline{Env: Environment{Cache: store}}

	first, _ := p.Run(context.Background(), RunOptions{Dir: dir})
	second, _ := p.Run(context.Background(), RunOptions{Dir: dir})
	if first.CacheHits != 0 || second.CacheHits != 2 {
		t.Fatalf("cache hits = %d then %d, want 0 then 2", first.CacheHits, second.CacheHits)
	}
	for i := range first.Files {
		if diff := cmp.Diff(first.Files[i].Diagnostics, second.Files[i].Diagnostics, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("cached findings differ (-first +second):\n%s", diff)
		}
	}

	third, _ := p.Run(context.Background(), RunOptions{Dir: dir, SkipLength: true})
	if third.CacheHits != 0 {
		t.Fatalf("changing validation options must miss the cache, got %d hits", third.CacheHits)
	}
}

func TestRunUnreadableInput(t *testing.T) {
	dir := workspace(t, nil)
	p := &Pipeline{Env: Environment{
		ReadFile: func(path string) ([]byte, error) {
			if strings.HasSuffix(path, "good.hl7") {
				return nil, os.ErrPermission
			}
			return os.ReadFile(path)
		},
	}}

	summary, err := p.Run(context.Background(), RunOptions{Dir: dir})
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error to surface, got %v", err)
	}
	var derr *DiagnosticsError
	if !errors.As(err, &derr) || derr.Errors != 2 {
		t.Fatalf("expected two errors, got %v", err)
	}
	if summary.Files[1].Err == nil || summary.Files[1].Document != nil {
		t.Fatalf("unexpected file result %+v", summary.Files[1])
	}
}

func TestRunConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		edits   map[string]string
		opts    RunOptions
		wantErr string
	}{
		{
			name:    "strict unknown key",
			edits:   map[string]string{"hl7soup.toml": "inputs = [\"inbox\"]\nextra = 1\n"},
			opts:    RunOptions{StrictConfig: true},
			wantErr: "unknown configuration keys: extra",
		},
		{
			name:    "bad profile",
			edits:   map[string]string{"profiles/site.yaml": "segments: [\n"},
			wantErr: "site",
		},
		{
			name:    "unknown version override",
			opts:    RunOptions{DefaultVersion: "3.0"},
			wantErr: `unsupported version "3.0"`,
		},
		{
			name:    "unknown format override",
			opts:    RunOptions{Format: "docx", Export: true},
			wantErr: `unknown export format "docx"`,
		},
		{
			name:    "no inputs",
			edits:   map[string]string{"hl7soup.toml": ""},
			wantErr: "no input files",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			opts.Dir = workspace(t, tc.edits)
			_, err := (&Pipeline{}).Run(context.Background(), opts)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRunHooks(t *testing.T) {
	dir := workspace(t, nil)
	var stages []string
	record := func(stage string) { stages = append(stages, stage) }
	hooks := Hooks{
		BeforeLoad: func(_ context.Context, inputs []string) error {
			record("before-load")
			if len(inputs) != 2 {
				t.Errorf("BeforeLoad inputs = %v", inputs)
			}
			return nil
		},
		AfterLoad: func(_ context.Context, results []*loader.Result) error {
			record("after-load")
			return nil
		},
		AfterValidate: func(_ context.Context, files []File) error {
			record("after-validate")
			return nil
		},
		BeforeWrite: func(_ context.Context, snap *export.Snapshot) error {
			record("before-write")
			return nil
		},
	}.Chain(Hooks{
		AfterRun: func(_ context.Context, summary Summary) error {
			record("after-run")
			return nil
		},
	})

	p := &Pipeline{Env: Environment{Writer: &MemoryWriter{}, Hooks: hooks}}
	_, _ = p.Run(context.Background(), RunOptions{Dir: dir, Export: true})

	want := []string{"before-load", "after-load", "after-validate", "before-write", "after-run"}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHookAborts(t *testing.T) {
	dir := workspace(t, nil)
	stop := errors.New("stop")
	var ran bool
	p := &Pipeline{Env: Environment{Hooks: Hooks{
		AfterLoad: func(context.Context, []*loader.Result) error { return stop },
		AfterRun: func(_ context.Context, summary Summary) error {
			ran = true
			if len(summary.Files) != 0 {
				t.Errorf("aborted run validated %d files", len(summary.Files))
			}
			return nil
		},
	}}}

	_, err := p.Run(context.Background(), RunOptions{Dir: dir})
	if !errors.Is(err, stop) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if !ran {
		t.Fatal("AfterRun must run on failure")
	}
}

func TestChainStopsOnError(t *testing.T) {
	var calls []string
	first := Hooks{BeforeLoad: func(context.Context, []string) error {
		calls = append(calls, "first")
		return errors.New("nope")
	}}
	second := Hooks{BeforeLoad: func(context.Context, []string) error {
		calls = append(calls, "second")
		return nil
	}}
	if err := first.Chain(second).BeforeLoad(context.Background(), nil); err == nil {
		t.Fatal("expected chained error")
	}
	if !slices.Equal(calls, []string{"first"}) {
		t.Fatalf("calls = %v", calls)
	}
	if (Hooks{}).Chain(Hooks{}).AfterRun != nil {
		t.Fatal("chaining nil hooks should stay nil")
	}
}

func TestOSWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := NewOSWriter().WriteFile(path, []byte("{}")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{}" {
		t.Fatalf("read back %q, %v", data, err)
	}
	same, err := fileMatches(path, []byte("{}"))
	if err != nil || !same {
		t.Fatalf("fileMatches = %v, %v", same, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
	if err := NewOSWriter().WriteFile("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
