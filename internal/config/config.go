// Package config loads and validates the hl7soup configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/nirzaf/Hl7OpenSoup/internal/export"
	"github.com/nirzaf/Hl7OpenSoup/internal/fileset"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
)

// DefaultFile is the configuration file looked up when none is named.
const DefaultFile = "hl7soup.toml"

// DefaultCacheTTL applies when the cache section names a directory but no ttl.
const DefaultCacheTTL = 24 * time.Hour

// ValidationConfig captures the [validation] table.
type ValidationConfig struct {
	CheckLengths     *bool `toml:"check_lengths"`
	WarningsAsErrors bool  `toml:"warnings_as_errors"`
}

// ExportConfig captures the [export] table.
type ExportConfig struct {
	Format        string   `toml:"format"`
	Out           string   `toml:"out"`
	BlockOnErrors bool     `toml:"block_on_errors"`
	Pretty        bool     `toml:"pretty"`
	IncludeRaw    bool     `toml:"include_raw"`
	Columns       []string `toml:"columns"`
	Table         string   `toml:"table"`
	DSN           string   `toml:"dsn"`
}

// CacheConfig captures the [cache] table.
type CacheConfig struct {
	Dir string `toml:"dir"`
	TTL string `toml:"ttl"`
}

// Config mirrors the expected hl7soup TOML schema.
type Config struct {
	DefaultVersion string           `toml:"default_version"`
	Inputs         []string         `toml:"inputs"`
	Profiles       []string         `toml:"profiles"`
	Charset        string           `toml:"charset"`
	Validation     ValidationConfig `toml:"validation"`
	Export         ExportConfig     `toml:"export"`
	Cache          CacheConfig      `toml:"cache"`
}

// ExportPlan is the resolved export configuration.
type ExportPlan struct {
	Options export.Options
	// Out is the output file; empty writes to stdout.
	Out string
	// DSN selects a database sink instead of a file.
	DSN string
}

// Plan is the fully-resolved configuration used by downstream stages.
type Plan struct {
	DefaultVersion   string
	Inputs           []string
	Profiles         []string
	Charset          string
	CheckLengths     bool
	WarningsAsErrors bool
	Export           ExportPlan
	CacheDir         string
	CacheTTL         time.Duration
}

// Default returns the plan used when no configuration file exists.
func Default() Plan {
	return Plan{
		DefaultVersion: schema.DefaultVersion,
		CheckLengths:   true,
		Export:         ExportPlan{Options: export.Options{Format: export.FormatJSON}},
	}
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	Strict   bool
	Resolver *fileset.Resolver
}

// Result wraps a loaded plan alongside any non-fatal warnings.
type Result struct {
	Plan     Plan
	Warnings []string
}

var knownKeys = map[string][]string{
	"":           {"default_version", "inputs", "profiles", "charset", "validation", "export", "cache"},
	"validation": {"check_lengths", "warnings_as_errors"},
	"export":     {"format", "out", "block_on_errors", "pretty", "include_raw", "columns", "table", "dsn"},
	"cache":      {"dir", "ttl"},
}

// Load reads, validates, and resolves an hl7soup configuration file. Relative paths
// resolve against the directory of the file.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknownKeys, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	plan := Default()
	if cfg.DefaultVersion != "" {
		if !schema.Known(cfg.DefaultVersion) {
			return res, fmt.Errorf("%s: unsupported default_version %q (known: %s)", path, cfg.DefaultVersion, strings.Join(schema.Versions, ", "))
		}
		plan.DefaultVersion = cfg.DefaultVersion
	}
	if cfg.Charset != "" {
		if _, _, err := loader.Decode(nil, cfg.Charset); err != nil {
			return res, fmt.Errorf("%s: charset: %w", path, err)
		}
		plan.Charset = cfg.Charset
	}
	if cfg.Validation.CheckLengths != nil {
		plan.CheckLengths = *cfg.Validation.CheckLengths
	}
	plan.WarningsAsErrors = cfg.Validation.WarningsAsErrors

	baseDir := filepath.Dir(path)

	var resolver fileset.Resolver
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	} else {
		resolver, err = fileset.NewOSResolver(baseDir)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	if len(cfg.Inputs) > 0 {
		if plan.Inputs, err = resolvePatterns(resolver.WithFilter(loader.Supported), "inputs", cfg.Inputs); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}
	if len(cfg.Profiles) > 0 {
		if plan.Profiles, err = resolvePatterns(resolver.WithFilter(isProfile), "profiles", cfg.Profiles); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	if plan.Export, err = resolveExport(path, cfg.Export); err != nil {
		return res, err
	}

	if cfg.Cache.Dir != "" {
		plan.CacheDir, err = resolveRelative(path, "cache.dir", cfg.Cache.Dir)
		if err != nil {
			return res, err
		}
		plan.CacheTTL = DefaultCacheTTL
		if cfg.Cache.TTL != "" {
			ttl, err := time.ParseDuration(cfg.Cache.TTL)
			if err != nil || ttl <= 0 {
				return res, fmt.Errorf("%s: invalid cache.ttl %q", path, cfg.Cache.TTL)
			}
			plan.CacheTTL = ttl
		}
	}

	res.Plan = plan
	return res, nil
}

func resolveExport(path string, cfg ExportConfig) (ExportPlan, error) {
	plan := Default().Export
	if cfg.Format != "" {
		format, err := export.ParseFormat(cfg.Format)
		if err != nil {
			return plan, fmt.Errorf("%s: export.format: %w", path, err)
		}
		plan.Options.Format = format
	}
	plan.Options.BlockOnErrors = cfg.BlockOnErrors
	plan.Options.Pretty = cfg.Pretty
	plan.Options.IncludeRaw = cfg.IncludeRaw
	plan.Options.Table = cfg.Table
	if len(cfg.Columns) > 0 {
		mapping, err := export.ParseMapping(cfg.Columns)
		if err != nil {
			return plan, fmt.Errorf("%s: export.columns: %w", path, err)
		}
		plan.Options.Mapping = mapping
	}
	if cfg.Table != "" && plan.Options.Mapping == nil {
		return plan, fmt.Errorf("%s: export.table requires export.columns", path)
	}
	if cfg.Out != "" {
		out, err := resolveRelative(path, "export.out", cfg.Out)
		if err != nil {
			return plan, err
		}
		plan.Out = out
	}
	plan.DSN = cfg.DSN
	// Plain relative sqlite paths follow the config file; URIs are kept as written.
	if cfg.DSN != "" && !strings.Contains(cfg.DSN, ":") && !filepath.IsAbs(cfg.DSN) {
		plan.DSN = filepath.Join(filepath.Dir(path), filepath.Clean(cfg.DSN))
	}
	return plan, nil
}

func isProfile(name string) bool {
	_, err := schema.FormatFromPath(name)
	return err == nil
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	unknown := make([]string, 0)
	check := func(prefix string, record map[string]any) {
		for key := range record {
			if !slices.Contains(knownKeys[prefix], key) {
				if prefix != "" {
					key = prefix + "." + key
				}
				unknown = append(unknown, key)
			}
		}
	}
	check("", raw)
	for table := range knownKeys {
		if table == "" {
			continue
		}
		if record, ok := raw[table].(map[string]any); ok {
			check(table, record)
		}
	}
	slices.Sort(unknown)
	return unknown, nil
}

// resolveRelative joins a relative path to the config directory, refusing upward traversal.
func resolveRelative(path, field, value string) (string, error) {
	if filepath.IsAbs(value) {
		return filepath.Clean(value), nil
	}
	cleaned := filepath.Clean(value)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %s must not traverse upwards", path, field)
	}
	return filepath.Join(filepath.Dir(path), cleaned), nil
}

func resolvePatterns(resolver fileset.Resolver, field string, patterns []string) ([]string, error) {
	paths, err := resolver.Resolve(patterns)
	if err != nil {
		switch {
		case errors.Is(err, fileset.ErrNoPatterns):
			return nil, fmt.Errorf("%s must include at least one pattern", field)
		default:
			var noMatchErr fileset.NoMatchError
			if errors.As(err, &noMatchErr) {
				return nil, fmt.Errorf("%s patterns matched no files: %s", field, strings.Join(noMatchErr.Patterns, ", "))
			}

			var patternErr fileset.PatternError
			if errors.As(err, &patternErr) {
				return nil, fmt.Errorf("%s: invalid glob pattern %q: %w", field, patternErr.Pattern, patternErr.Err)
			}

			return nil, fmt.Errorf("%s: %w", field, err)
		}
	}

	return paths, nil
}
