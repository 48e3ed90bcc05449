// Package phone holds the destination normalization rules shared by the
// server-side call router and the client dialer. Both sides must agree on
// what a dialable number looks like, so the rules live in one place.
package phone

import "strings"

// Sanitize strips everything but digits, '+', '*' and '#'.
func Sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '*' || r == '#':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format sanitizes raw and, when it is not already fully qualified,
// prefixes the caller's region dialing prefix.
func Format(raw, regionPrefix string) string {
	d := Sanitize(raw)
	if d == "" {
		return ""
	}
	if strings.HasPrefix(d, "+") {
		return d
	}
	// "00" international prefix is an alias for "+".
	if strings.HasPrefix(d, "00") {
		return "+" + d[2:]
	}
	if regionPrefix != "" {
		return regionPrefix + d
	}
	return d
}

// IsDialable reports whether d looks like an E.164 number: leading '+',
// then 7 to 15 digits.
func IsDialable(d string) bool {
	if !strings.HasPrefix(d, "+") {
		return false
	}
	digits := d[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
