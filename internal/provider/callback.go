package provider

import (
	"net/http"
	"strconv"
	"strings"
)

// StatusCallbackForm captures the subset of voice status callback fields the
// reconciler cares about. The provider sends
// application/x-www-form-urlencoded and may deliver the same callback more
// than once; parsing stays dumb here and dedupe lives server-side.
type StatusCallbackForm struct {
	CallSID      string
	AccountSID   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration int
	Timestamp    string
}

// ParseStatusCallback parses a provider status callback request.
func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}

	f := StatusCallbackForm{
		CallSID:    r.PostFormValue("CallSid"),
		AccountSID: r.PostFormValue("AccountSid"),
		From:       normalizeAddress(r.PostFormValue("From")),
		To:         normalizeAddress(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		Timestamp:  r.PostFormValue("Timestamp"),
	}

	// CallDuration is only present on terminal callbacks.
	if v := strings.TrimSpace(r.PostFormValue("CallDuration")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.CallDuration = n
		}
	}
	return f, nil
}

// HasDuration reports whether the callback carried a usable duration.
func (f StatusCallbackForm) HasDuration() bool {
	return f.CallDuration > 0
}

func normalizeAddress(s string) string {
	// Providers sometimes send "anonymous", "client:alice" or empty; keep as-is.
	return strings.TrimSpace(s)
}
