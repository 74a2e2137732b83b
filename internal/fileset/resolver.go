// Package fileset expands input patterns into message and profile file lists.
package fileset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Resolver expands glob patterns and directories against an fs.FS. Matched paths are
// rewritten by a join function and returned sorted and de-duplicated.
type Resolver struct {
	fsys fs.FS
	join func(name string) string
	// Filter selects the files kept when a pattern names a directory. Nil keeps all.
	Filter func(name string) bool
}

// ErrNoPatterns indicates that Resolve was invoked without any patterns.
var ErrNoPatterns = errors.New("fileset: no patterns provided")

// PatternError wraps syntax issues reported while evaluating a glob pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e PatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern %q: %v", e.Pattern, e.Err)
}

func (e PatternError) Unwrap() error { return e.Err }

// NoMatchError lists the patterns that yielded no files.
type NoMatchError struct {
	Patterns []string
}

func (e NoMatchError) Error() string {
	return "patterns matched no files: " + strings.Join(e.Patterns, ", ")
}

// NewResolver returns a Resolver over fsys that keeps match names as they are.
func NewResolver(fsys fs.FS) Resolver {
	return Resolver{
		fsys: fsys,
		join: func(name string) string { return name },
	}
}

// NewOSResolver returns a Resolver rooted at base that yields absolute OS paths.
// Absolute patterns are matched against the OS filesystem directly.
func NewOSResolver(base string) (Resolver, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return Resolver{}, fmt.Errorf("resolve base %q: %w", base, err)
	}

	info, err := os.Stat(absBase)
	if err != nil {
		return Resolver{}, fmt.Errorf("stat base %q: %w", absBase, err)
	}
	if !info.IsDir() {
		return Resolver{}, fmt.Errorf("base %q is not a directory", absBase)
	}

	return Resolver{
		fsys: os.DirFS(absBase),
		join: func(name string) string {
			if filepath.IsAbs(name) {
				return filepath.Clean(name)
			}
			return filepath.Join(absBase, filepath.FromSlash(name))
		},
	}, nil
}

// WithFilter returns a copy of r that keeps only directory entries accepted by keep.
func (r Resolver) WithFilter(keep func(name string) bool) Resolver {
	r.Filter = keep
	return r
}

// Resolve expands each pattern. A match that is a directory contributes every file
// beneath it that passes Filter. A pattern contributing nothing is reported in a
// NoMatchError.
func (r Resolver) Resolve(patterns []string) ([]string, error) {
	if r.fsys == nil {
		return nil, errors.New("fileset: resolver has no filesystem")
	}
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	joinFn := r.join
	if joinFn == nil {
		joinFn = func(name string) string { return name }
	}

	combined := make([]string, 0)
	missing := make([]string, 0)

	for _, pattern := range patterns {
		var found []string
		var err error
		if filepath.IsAbs(pattern) {
			found, err = r.expand(os.DirFS("/"), strings.TrimPrefix(filepath.ToSlash(pattern), "/"))
			for i, name := range found {
				found[i] = filepath.FromSlash("/" + name)
			}
		} else {
			found, err = r.expand(r.fsys, filepath.ToSlash(filepath.Clean(pattern)))
			for i, name := range found {
				found[i] = joinFn(name)
			}
		}
		if err != nil {
			return nil, PatternError{Pattern: pattern, Err: err}
		}
		if len(found) == 0 {
			missing = append(missing, pattern)
			continue
		}
		combined = append(combined, found...)
	}

	if len(missing) > 0 {
		return nil, NoMatchError{Patterns: missing}
	}

	slices.Sort(combined)
	return slices.Compact(combined), nil
}

func (r Resolver) expand(fsys fs.FS, pattern string) ([]string, error) {
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, match := range matches {
		info, err := fs.Stat(fsys, match)
		if err != nil || !info.IsDir() {
			out = append(out, match)
			continue
		}
		err = fs.WalkDir(fsys, match, func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || (r.Filter != nil && !r.Filter(name)) {
				return nil
			}
			out = append(out, name)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
