package domain

import (
	"strconv"
	"strings"
)

const maxSlugLength = 56

// Slug lower-cases s and collapses every run of characters outside
// [a-z0-9] into a single underscore, e.g. "/api/v1" becomes "api_v1".
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "_")
	}
	return slug
}

// UniqueName returns base, or base with the smallest numeric suffix
// ("_2", "_3", ...) that taken does not report as used. The reserved
// system name is always treated as taken.
func UniqueName(base string, taken func(string) bool) string {
	if base != SystemBackendName && !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
