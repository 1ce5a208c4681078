// Package normalize cleans free-text address input before it is sent to any
// upstream resolution or geocoding service.
package normalize

import (
	"regexp"
	"strings"
)

// Upstream geocoders reject "#" in address text.
var unitToken = "Unit "

var parenRe = regexp.MustCompile(`\([^)]*\)`)

// AddressText canonicalizes a free-text address: every "#" becomes the
// literal token "Unit " and parenthesized annotations (floor, suite, room)
// are removed along with their parentheses. Empty input returns empty output.
func AddressText(s string) string {
	s = strings.ReplaceAll(s, "#", unitToken)
	return parenRe.ReplaceAllString(s, "")
}
