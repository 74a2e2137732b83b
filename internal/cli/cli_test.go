package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/nirzaf/Hl7OpenSoup/internal/pipeline"
)

// fixtures extracts testdata/cli.txtar into a temp dir.
func fixtures(t *testing.T) string {
	t.Helper()
	archive, err := txtar.ParseFile("testdata/cli.txtar")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	dir := t.TempDir()
	for _, f := range archive.Files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), append([]string{"--color", "off"}, args...), &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func mustContain(t *testing.T, label, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Fatalf("%s missing %q:\n%s", label, want, got)
		}
	}
}

func TestParse(t *testing.T) {
	dir := fixtures(t)
	res := execute(t, "parse", filepath.Join(dir, "good.hl7"), filepath.Join(dir, "two.hl7"))
	if res.err != nil {
		t.Fatalf("parse: %v\n%s", res.err, res.stderr)
	}
	mustContain(t, "stdout", res.stdout,
		"good.hl7: message 1",
		"Admit, Discharge, Transfer (ADT^A01)",
		"GOOD1",
		"two.hl7: message 2",
		"TWO",
	)
}

func TestValidate(t *testing.T) {
	dir := fixtures(t)

	res := execute(t, "validate", filepath.Join(dir, "good.hl7"))
	if res.err != nil {
		t.Fatalf("validate good.hl7: %v\n%s", res.err, res.stderr)
	}
	mustContain(t, "stdout", res.stdout, "1 file(s), 1 message(s): 0 error(s), 0 warning(s)")

	res = execute(t, "validate", filepath.Join(dir, "good.hl7"), filepath.Join(dir, "bad.hl7"))
	var derr *pipeline.DiagnosticsError
	if !errors.As(res.err, &derr) {
		t.Fatalf("expected DiagnosticsError, got %v", res.err)
	}
	if !Reported(res.err) || ExitCode(res.err) != 1 {
		t.Fatalf("Reported = %v, ExitCode = %d", Reported(res.err), ExitCode(res.err))
	}
	mustContain(t, "stderr", res.stderr, "bad.hl7:3:8:", "PID-3", "[MissingRequiredField]", "1 error(s)")
	mustContain(t, "stdout", res.stdout, "2 file(s), 2 message(s): 1 error(s)")
}

func TestValidateProfiles(t *testing.T) {
	dir := fixtures(t)
	pets := filepath.Join(dir, "pets.hl7")

	if res := execute(t, "validate", pets); res.err == nil {
		t.Fatalf("expected ZPI to be rejected without a profile")
	}
	res := execute(t, "validate", "--profile", filepath.Join(dir, "site.yaml"), pets)
	if res.err != nil {
		t.Fatalf("validate with profile: %v\n%s", res.err, res.stderr)
	}
}

func TestValidateConfig(t *testing.T) {
	dir := fixtures(t)
	cfg := filepath.Join(dir, "hl7soup.toml")
	content := "inputs = [\"pets.hl7\"]\nprofiles = [\"site.yaml\"]\n"
	if err := os.WriteFile(cfg, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	res := execute(t, "--config", cfg, "validate")
	if res.err != nil {
		t.Fatalf("validate: %v\n%s", res.err, res.stderr)
	}
	mustContain(t, "stdout", res.stdout, "1 file(s), 1 message(s)")

	if err := os.WriteFile(cfg, []byte(content+"bogus = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res = execute(t, "--config", cfg, "--strict-config", "validate")
	if res.err == nil || !strings.Contains(res.err.Error(), "unknown configuration keys: bogus") {
		t.Fatalf("expected strict config error, got %v", res.err)
	}
	if Reported(res.err) {
		t.Fatalf("configuration errors are not printed as diagnostics")
	}
}

func TestExport(t *testing.T) {
	dir := fixtures(t)
	good := filepath.Join(dir, "good.hl7")

	res := execute(t, "export", "--format", "csv-summary", "--out", "-", good)
	if res.err != nil {
		t.Fatalf("export: %v\n%s", res.err, res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "Message_Index") {
		t.Fatalf("expected a summary header on stdout, got:\n%s", res.stdout)
	}

	out := filepath.Join(dir, "out", "patients.csv")
	res = execute(t, "export", "--format", "csv", "--column", "family=PID-5.1", "--column", "PID-3.1", "--out", out, good)
	if res.err != nil {
		t.Fatalf("export to file: %v\n%s", res.err, res.stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, "csv", string(data), "family", "DOE", "123")

	res = execute(t, "export", "--dry-run", "--out", filepath.Join(dir, "dry.json"), good)
	if res.err != nil {
		t.Fatalf("dry run: %v", res.err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dry.json")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote output, stat err = %v", err)
	}
	mustContain(t, "stderr", res.stderr, "dry run: 1 message(s) would be written to")
}

func TestExportWriteError(t *testing.T) {
	dir := fixtures(t)
	out := filepath.Join(dir, "good.hl7", "out.json")
	res := execute(t, "export", "--out", out, filepath.Join(dir, "good.hl7"))
	var werr *pipeline.WriteError
	if !errors.As(res.err, &werr) {
		t.Fatalf("expected WriteError, got %v", res.err)
	}
	if ExitCode(res.err) != 2 {
		t.Fatalf("ExitCode = %d, want 2", ExitCode(res.err))
	}
}

func TestDescribe(t *testing.T) {
	dir := fixtures(t)
	good := filepath.Join(dir, "good.hl7")

	tests := []struct {
		path  string
		wants []string
	}{
		{"PID-8", []string{"Field:", "Administrative Sex", "Meaning:", "Male"}},
		{"pid.5", []string{"DOE", "JANE", "Components:"}},
		{"PID", []string{"Patient Identification", "PID-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := execute(t, "describe", good, tt.path)
			if res.err != nil {
				t.Fatalf("describe: %v", res.err)
			}
			mustContain(t, "stdout", res.stdout, tt.wants...)
		})
	}

	res := execute(t, "describe", "--message", "2", filepath.Join(dir, "two.hl7"), "PID-5")
	if res.err != nil {
		t.Fatalf("describe message 2: %v", res.err)
	}
	mustContain(t, "stdout", res.stdout, "TWO")

	for _, args := range [][]string{
		{good, "PID-30"},
		{good, "NTE"},
		{"--message", "3", good, "PID-5"},
		{good, "PID-0"},
	} {
		if res := execute(t, append([]string{"describe"}, args...)...); res.err == nil {
			t.Fatalf("describe %v: expected an error", args)
		}
	}
}

func TestEdit(t *testing.T) {
	dir := fixtures(t)
	good := filepath.Join(dir, "good.hl7")

	tests := []struct {
		name  string
		args  []string
		wants []string
	}{
		{"set", []string{"--set", "PID-5=DOE^JILL"}, []string{"||DOE^JILL|"}},
		{"cell", []string{"--cell", "PID,5,2=JILL"}, []string{"||DOE^JILL|"}},
		{"absent field", []string{"--set", "PV1-3=WARD"}, []string{"PV1|1|I|WARD"}},
		{"combined", []string{"--set", "MSH-10=EDITED", "--cell", "pid,8,0=F"}, []string{"|EDITED|", "|19800101|F"}},
		{"plain text value", []string{"--value", "PID-5.2=JILL & CO"}, []string{"||DOE^JILL \\T\\ CO|"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, append([]string{"edit", good}, tt.args...)...)
			if res.err != nil {
				t.Fatalf("edit: %v\n%s", res.err, res.stderr)
			}
			mustContain(t, "stdout", res.stdout, tt.wants...)
		})
	}

	original, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(original), "JILL") {
		t.Fatal("edit without --in-place modified the input")
	}
}

func TestEditRevalidates(t *testing.T) {
	dir := fixtures(t)
	res := execute(t, "edit", filepath.Join(dir, "good.hl7"), "--set", "PID-3=")
	if !Reported(res.err) {
		t.Fatalf("expected the cleared identifier to be reported, got %v", res.err)
	}
	mustContain(t, "stderr", res.stderr, "[MissingRequiredField]")

	res = execute(t, "edit", filepath.Join(dir, "bad.hl7"), "--set", "PID-3=999^^^HOSP^MR")
	if res.err != nil {
		t.Fatalf("fixing the identifier: %v\n%s", res.err, res.stderr)
	}
}

func TestEditDiff(t *testing.T) {
	dir := fixtures(t)
	res := execute(t, "edit", "--diff", filepath.Join(dir, "good.hl7"), "--set", "PID-5.2=JILL")
	if res.err != nil {
		t.Fatalf("edit --diff: %v", res.err)
	}
	mustContain(t, "diff", res.stdout,
		"-PID|1||123^^^HOSP^MR||DOE^JANE||19800101|M\n",
		"+PID|1||123^^^HOSP^MR||DOE^JILL||19800101|M\n",
		" PV1|1|I\n",
	)
}

func TestEditWrites(t *testing.T) {
	dir := fixtures(t)
	two := filepath.Join(dir, "two.hl7")

	res := execute(t, "edit", "--in-place", "--message", "2", two, "--set", "PID-5=TWO^BETH")
	if res.err != nil {
		t.Fatalf("edit --in-place: %v", res.err)
	}
	data, err := os.ReadFile(two)
	if err != nil {
		t.Fatal(err)
	}
	mustContain(t, "two.hl7", string(data), "ONE^ANN", "TWO^BETH")
	if res.stdout != "" {
		t.Fatalf("in-place edit printed to stdout: %q", res.stdout)
	}

	out := filepath.Join(dir, "copy.hl7")
	if res := execute(t, "edit", "--out", out, two, "--set", "PID-5=X"); res.err != nil {
		t.Fatalf("edit --out: %v", res.err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected %s to be written: %v", out, err)
	}
}

func TestEditRejects(t *testing.T) {
	dir := fixtures(t)
	good := filepath.Join(dir, "good.hl7")
	tests := []struct {
		name string
		args []string
	}{
		{"no edits", nil},
		{"missing value", []string{"--set", "PID-5"}},
		{"value without path", []string{"--value", "JILL"}},
		{"segment path", []string{"--set", "PID=X"}},
		{"wildcard", []string{"--set", "PID-3[*]=X"}},
		{"separator in component", []string{"--set", "PID-5.1=A^B"}},
		{"absent segment", []string{"--set", "NTE-1=X"}},
		{"bad cell", []string{"--cell", "PID,five,1=X"}},
		{"cell needs segment", []string{"--cell", "PID-5,1,1=X"}},
		{"exclusive outputs", []string{"--diff", "--in-place", "--set", "PID-5=X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, append([]string{"edit", good}, tt.args...)...)
			if res.err == nil {
				t.Fatalf("expected an error, stdout:\n%s", res.stdout)
			}
			if Reported(res.err) {
				t.Fatalf("rejected edit reported as diagnostics: %v", res.err)
			}
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	dir := fixtures(t)
	good := filepath.Join(dir, "good.hl7")

	for _, args := range [][]string{
		{"--color", "sometimes", "parse", good},
		{"--log-format", "xml", "parse", good},
		{"--default-version", "9.9", "parse", good},
		{"--charset", "klingon", "parse", good},
		{"parse"},
		{"frobnicate"},
	} {
		if res := execute(t, args...); res.err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}

	res := execute(t, "--verbose", "--log-format", "json", "validate", good)
	if res.err != nil {
		t.Fatalf("validate: %v", res.err)
	}
	mustContain(t, "stderr", res.stderr, `"msg":"run complete"`)

	res = execute(t, "--version")
	if res.err != nil || !strings.Contains(res.stdout, Version) {
		t.Fatalf("--version = %q, %v", res.stdout, res.err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{&pipeline.DiagnosticsError{Errors: 1}, 1},
		{fmt.Errorf("wrapped: %w", &pipeline.WriteError{Path: "out", Err: os.ErrPermission}), 2},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
