package schema

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// Versions lists the standard versions with built-in profiles, oldest first.
var Versions = []string{
	"2.1", "2.2", "2.3", "2.3.1", "2.4", "2.5", "2.5.1",
	"2.6", "2.7", "2.7.1", "2.8", "2.8.1", "2.8.2", "2.9",
}

// DefaultVersion is used when a message declares no version.
const DefaultVersion = "2.5"

func parseVersion(v string) ([]int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// compareVersions orders dotted versions numerically. Unparseable versions sort first.
func compareVersions(a, b string) int {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	switch {
	case !okA && !okB:
		return cmp.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return slices.Compare(pa, pb)
}

// Known reports whether v has a built-in profile.
func Known(v string) bool {
	return slices.Contains(Versions, strings.TrimSpace(v))
}

// Closest returns the known version that best matches v: the newest known version not
// newer than v, or the oldest known version when v predates them all. Unparseable input
// maps to fallback.
func Closest(v, fallback string) string {
	v = strings.TrimSpace(v)
	if Known(v) {
		return v
	}
	if _, ok := parseVersion(v); !ok {
		return fallback
	}
	best := Versions[0]
	for _, known := range Versions {
		if compareVersions(known, v) <= 0 {
			best = known
		}
	}
	return best
}
