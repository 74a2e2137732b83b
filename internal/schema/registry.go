package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nirzaf/Hl7OpenSoup/internal/cache"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
)

// resolutionTTL bounds how long a memoized resolution is reused. Loading a profile clears
// the cache, so the TTL only limits memory held for versions no longer in use.
const resolutionTTL = time.Hour

// Options configures a Registry.
type Options struct {
	// DefaultVersion applies to messages without a usable declared version.
	DefaultVersion string
	// Cache memoizes resolutions; a MemoryCache is used when nil.
	Cache  cache.Cache
	Logger logging.Logger
}

// Resolution is the profile selected for a declared version.
type Resolution struct {
	Profile *Profile
	// Declared is the version read from the message header.
	Declared string
	// Exact is false when Declared is unknown and the closest version was used instead.
	Exact bool
}

// Registry holds the standard profiles and registered custom profiles. It is safe for
// concurrent use; profiles it hands out are shared and must be treated as read-only.
type Registry struct {
	mu             sync.RWMutex
	standard       map[string]*Profile
	custom         map[string]*Profile
	generation     uint64
	defaultVersion string
	cache          cache.Cache
	logger         logging.Logger
}

// NewRegistry builds a registry with every standard version loaded.
func NewRegistry(opts Options) *Registry {
	def := opts.DefaultVersion
	if !Known(def) {
		def = DefaultVersion
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewMemoryCache()
	}
	r := &Registry{
		standard:       make(map[string]*Profile, len(Versions)),
		custom:         make(map[string]*Profile),
		defaultVersion: def,
		cache:          c,
		logger:         logging.Component(opts.Logger, "schema"),
	}
	for _, v := range Versions {
		r.standard[v] = standardProfile(v)
	}
	return r
}

// DefaultVersion returns the version used for messages that declare none.
func (r *Registry) DefaultVersion() string {
	return r.defaultVersion
}

// Standard returns the built-in profile for an exact version.
func (r *Registry) Standard(version string) (*Profile, bool) {
	p, ok := r.standard[strings.TrimSpace(version)]
	return p, ok
}

// Custom returns a registered custom profile.
func (r *Registry) Custom(name string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.custom[name]
	return p, ok
}

// CustomNames returns the names of all registered custom profiles.
func (r *Registry) CustomNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.custom))
	for name := range r.custom {
		names = append(names, name)
	}
	return names
}

// LoadProfile decodes a custom profile and registers it under name, replacing any profile
// of the same name. On error the registry is left unchanged; resolutions handed out
// earlier keep the profile they were built from.
func (r *Registry) LoadProfile(name string, source []byte, format Format) (*Profile, error) {
	p, err := DecodeProfile(name, source, format)
	if err != nil {
		r.logger.Warn("profile rejected", "name", name, "format", format, "err", err)
		return nil, err
	}
	r.mu.Lock()
	r.custom[p.Name] = p
	r.generation++
	r.mu.Unlock()
	r.cache.Clear(context.Background())
	r.logger.Info("profile loaded", "name", p.Name, "segments", len(p.Segments), "rules", len(p.Rules))
	return p, nil
}

// Resolve selects the profile for a declared version merged with the named custom
// profiles, in order. An empty declaration resolves exactly to the default version; an
// unknown one resolves to the closest known version with Exact false. Unknown custom
// names are skipped.
func (r *Registry) Resolve(version string, custom ...string) Resolution {
	declared := strings.TrimSpace(version)
	r.mu.RLock()
	gen := r.generation
	r.mu.RUnlock()
	key := fmt.Sprintf("resolve:%d:%s|%s", gen, declared, strings.Join(custom, ","))
	ctx := context.Background()
	if v, ok := r.cache.Get(ctx, key); ok {
		if res, ok := v.(Resolution); ok {
			return res
		}
	}

	res := Resolution{Declared: declared, Exact: true}
	target := r.defaultVersion
	if declared != "" {
		target = Closest(declared, r.defaultVersion)
		res.Exact = target == declared
	}
	profile := r.standard[target]

	r.mu.RLock()
	if r.generation != gen {
		// a profile was loaded meanwhile; resolve against it without caching
		key = ""
	}
	for _, name := range custom {
		cp, ok := r.custom[name]
		if !ok {
			r.logger.Warn("unknown custom profile", "name", name)
			continue
		}
		profile = profile.Merge(cp)
	}
	r.mu.RUnlock()

	res.Profile = profile
	if !res.Exact {
		r.logger.Debug("closest version used", "declared", declared, "version", target)
	}
	if key != "" {
		r.cache.Set(ctx, key, res, resolutionTTL)
	}
	return res
}
