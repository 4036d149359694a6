// Package symbol validates user supplied tickers before they reach a shell
// command, a container exec call or a downstream query.
package symbol

import (
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)

// Sanitize trims and uppercases raw and reports whether the result is a
// valid ticker. Callers must reject the request when ok is false; there is
// no default symbol.
func Sanitize(raw string) (sym string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !pattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// Valid reports whether s is already in canonical form.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
