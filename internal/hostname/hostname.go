// Package hostname pulls a device name out of retrieved configuration text and
// turns it into something safe to use as a file name.
package hostname

import (
	"regexp"
	"strings"
)

var (
	ciscoPattern   = regexp.MustCompile(`(?m)^\s*hostname\s+"?([^"\s]+)"?`)
	aristaPattern  = regexp.MustCompile(`(?m)^\s*(?:[Hh]ostname:|hostname)\s+"?([^"\s]+)"?`)
	junosPattern   = regexp.MustCompile(`(?m)host-name\s+"?([^";\s]+)"?`)
	srosPattern    = regexp.MustCompile(`(?m)^\s*(?:system\s+)?name\s+"([^"]+)"`)
	srlPattern     = regexp.MustCompile(`host-name"?\s*:?\s+"?([^"\s,}]+)"?`)
	genericPattern = regexp.MustCompile(`(?m)hostname\s+"?([^"\s]+)"?`)
)

func patternFor(family string) *regexp.Regexp {
	f := strings.ToLower(family)
	switch {
	case strings.HasPrefix(f, "cisco"):
		return ciscoPattern
	case strings.HasPrefix(f, "arista"):
		return aristaPattern
	case strings.HasPrefix(f, "juniper"):
		return junosPattern
	case f == "nokia_sros":
		return srosPattern
	case f == "nokia_srl":
		return srlPattern
	default:
		return genericPattern
	}
}

// Extract returns the device name found in text using the pattern for family.
// Unknown families use a generic "hostname <name>" match. The second return
// value is false when nothing matched.
func Extract(text, family string) (string, bool) {
	m := patternFor(family).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", false
	}
	return name, true
}

// Sanitize replaces every character outside [A-Za-z0-9_-] with an underscore
// and trims underscores from both ends. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if safe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func safe(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '-' || r == '_'
}

// SafeName is the naming key for a backup file: the sanitized hostname, or the
// sanitized address when no usable hostname is known.
func SafeName(host, address string) string {
	if s := Sanitize(host); s != "" {
		return s
	}
	if s := Sanitize(address); s != "" {
		return s
	}
	return "unknown"
}
