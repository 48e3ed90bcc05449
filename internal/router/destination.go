package router

import (
	"webphone-platform/pkg/phone"
)

// destinationField is the canonical request field for the dial target.
// The shim list exists because historical clients (and some provider
// client-session parameter paths) delivered it under other names; new
// writers must use the canonical field only.
const destinationField = "destination"

var destinationShims = []string{
	"To",
	"to",
	"number",
	"phoneNumber",
	"PhoneNumber",
	"Called",
}

// SanitizeDestination strips everything but digits, '+', '*' and '#'.
func SanitizeDestination(raw string) string {
	return phone.Sanitize(raw)
}

// FormatDestination sanitizes raw and, when it is not already fully
// qualified, prefixes the caller's region dialing prefix.
func FormatDestination(raw, regionPrefix string) string {
	return phone.Format(raw, regionPrefix)
}

// IsDialable reports whether d looks like an E.164 number.
func IsDialable(d string) bool {
	return phone.IsDialable(d)
}

// ResolveDestination searches the canonical field first, then the
// compatibility shims, returning the first syntactically valid E.164-like
// value. getter returns "" for absent fields.
func ResolveDestination(getter func(field string) string) (string, error) {
	fields := append([]string{destinationField}, destinationShims...)
	for _, f := range fields {
		raw := getter(f)
		if raw == "" {
			continue
		}
		d := phone.Sanitize(raw)
		if phone.IsDialable(d) {
			return d, nil
		}
	}
	return "", ErrNoDestination
}
