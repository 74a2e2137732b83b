package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

func newFileCache(t *testing.T) (*FileCache, *clock) {
	t.Helper()
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	clk := newClock()
	fc.now = clk.now
	return fc, clk
}

func TestFileCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc, _ := newFileCache(t)

	want := []diagnostics.Diagnostic{{
		Severity: diagnostics.SeverityError,
		Reason:   diagnostics.ReasonMalformedHeader,
		Message:  "bad header",
		Path:     model.Path{Segment: 1, Field: 5, Repetition: 1},
		Segment:  "PID",
		Span:     model.Span{Start: 10, End: 14},
		HasSpan:  true,
		Notes:    []string{"note"},
		Source:   "validator",
	}}
	key := ComputeKeyWithPrefix("validate", []byte("2.5"), []byte("MSH|^~\\&|"))
	if err := fc.Save(ctx, key, want, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got []diagnostics.Diagnostic
	hit, err := fc.Load(ctx, key, &got)
	if err != nil || !hit {
		t.Fatalf("Load = %v, %v; want hit", hit, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	hit, err = fc.Load(ctx, "other", &got)
	if err != nil || hit {
		t.Fatalf("Load(other) = %v, %v; want miss", hit, err)
	}
}

func TestFileCacheEmptyValue(t *testing.T) {
	ctx := context.Background()
	fc, _ := newFileCache(t)

	var clean []diagnostics.Diagnostic
	if err := fc.Save(ctx, "clean", clean, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := []diagnostics.Diagnostic{{Message: "stale"}}
	hit, err := fc.Load(ctx, "clean", &got)
	if err != nil || !hit {
		t.Fatalf("Load = %v, %v; want hit", hit, err)
	}
	if len(got) != 0 {
		t.Fatalf("Load decoded %v, want no diagnostics", got)
	}
	if total, stale, _ := fc.Stats(); total != 1 || stale != 0 {
		t.Fatalf("Stats = %d, %d; want the entry kept", total, stale)
	}
}

func TestFileCacheExpiry(t *testing.T) {
	ctx := context.Background()
	fc, clk := newFileCache(t)

	if err := fc.Save(ctx, "short", "v", time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fc.Save(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clk.advance(time.Hour)

	if total, stale, size := fc.Stats(); total != 2 || stale != 1 || size == 0 {
		t.Fatalf("Stats = %d, %d, %d; want 2 entries, 1 stale", total, stale, size)
	}

	var s string
	if hit, _ := fc.Load(ctx, "short", &s); hit {
		t.Fatal("expected expired entry to miss")
	}
	if _, err := os.Stat(fc.pathFor("short")); !os.IsNotExist(err) {
		t.Fatalf("expected expired entry to be removed, stat err = %v", err)
	}
	if hit, _ := fc.Load(ctx, "forever", &s); !hit || s != "v" {
		t.Fatalf("entry without ttl missed: %v %q", hit, s)
	}
}

func TestFileCacheCleanupAndCorruption(t *testing.T) {
	ctx := context.Background()
	fc, clk := newFileCache(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := fc.Save(ctx, key, key, time.Minute); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := fc.Save(ctx, "keep", "k", time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(fc.pathFor("keep"), []byte("not msgpack"), cacheFilePerm); err != nil {
		t.Fatal(err)
	}

	var s string
	if hit, err := fc.Load(ctx, "keep", &s); hit || err != nil {
		t.Fatalf("corrupt entry: hit=%v err=%v; want silent miss", hit, err)
	}

	if err := fc.Save(ctx, "keep", "k", time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clk.advance(30 * time.Minute)
	removed, err := fc.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("Cleanup removed %d, want 3", removed)
	}
	if total, _, _ := fc.Stats(); total != 1 {
		t.Fatalf("expected one entry left, got %d", total)
	}
}

func TestFileCacheLayout(t *testing.T) {
	ctx := context.Background()
	fc, _ := newFileCache(t)

	key := "validate:../../etc/passwd"
	if err := fc.Save(ctx, key, 1, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := fc.pathFor(key)
	rel, err := filepath.Rel(fc.Dir(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("entry escaped cache dir: %s", path)
	}
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) != 3 || !strings.HasSuffix(parts[2], ".mp") {
		t.Fatalf("unexpected layout %q", rel)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}

	if err := fc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if total, _, _ := fc.Stats(); total != 0 {
		t.Fatalf("expected empty cache after Clear, got %d", total)
	}
}

func TestFileCacheContext(t *testing.T) {
	fc, _ := newFileCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fc.Save(ctx, "k", 1, 0); err == nil {
		t.Fatal("expected Save to honour cancellation")
	}
	var v int
	if _, err := fc.Load(ctx, "k", &v); err == nil {
		t.Fatal("expected Load to honour cancellation")
	}
}
