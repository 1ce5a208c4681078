package normalize

import (
	"regexp"
	"strings"
)

// ParsedAddress holds the candidate fields extracted from an unstructured
// address-like string. Empty strings mean the field was not detected.
type ParsedAddress struct {
	Fields       []string `json:"fields"`
	Town         string   `json:"town,omitempty"`
	State        string   `json:"state,omitempty"`
	Postcode     string   `json:"postcode,omitempty"`
	ParenInside  string   `json:"paren_inside,omitempty"`
	ParenOutside string   `json:"paren_outside,omitempty"`
}

var (
	// Segment delimiters: pipes, semicolons, parentheses and spaced dashes.
	segmentRe = regexp.MustCompile(`\s-{1,2}\s|[|;()]`)

	// Trailing "city[,] ST zip" / "city[,] ST" / "city[,] zip". The city
	// token is matched loosely; the state code must be exactly two capital
	// letters and the zip five or nine digits.
	cityStateZipRe = regexp.MustCompile(`((?i:[a-z][a-z .'\-]*?))[\s,]+([A-Z]{2})[\s,]+(\d{5}(?:-?\d{4})?)\s*$`)
	cityStateRe    = regexp.MustCompile(`((?i:[a-z][a-z .'\-]*?))[\s,]+([A-Z]{2})\s*$`)
	cityZipRe      = regexp.MustCompile(`((?i:[a-z][a-z .'\-]*?))[\s,]+(\d{5}(?:-?\d{4})?)\s*$`)

	zipRe        = regexp.MustCompile(`\b\d{5}(?:-?\d{4})?\b`)
	firstParenRe = regexp.MustCompile(`^([^(]*)\(([^)]*)\)`)
)

// ParseRawAddress heuristically splits an unstructured address-like string
// into candidate fields plus detected town/state/zip. Later segments are
// statistically more likely to be the tail of a full address, so a later
// city/state/zip match overwrites an earlier one. This function never fails;
// undetected fields are simply left empty.
func ParseRawAddress(raw string) ParsedAddress {
	parsed := ParsedAddress{}

	if m := firstParenRe.FindStringSubmatch(raw); m != nil {
		parsed.ParenOutside = strings.TrimSpace(m[1])
		parsed.ParenInside = strings.TrimSpace(m[2])
	}

	segments := segmentRe.Split(raw, -1)
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		if m := cityStateZipRe.FindStringSubmatch(seg); m != nil {
			parsed.Town, parsed.State, parsed.Postcode = strings.TrimSpace(m[1]), m[2], m[3]
		} else if m := cityStateRe.FindStringSubmatch(seg); m != nil {
			parsed.Town, parsed.State = strings.TrimSpace(m[1]), m[2]
		} else if m := cityZipRe.FindStringSubmatch(seg); m != nil {
			parsed.Town, parsed.Postcode = strings.TrimSpace(m[1]), m[2]
		}

		// The zip capture is independent of the city/state match above.
		if zips := zipRe.FindAllString(seg, -1); len(zips) > 0 {
			parsed.Postcode = zips[len(zips)-1]
		}

		for _, field := range strings.Split(seg, ",") {
			field = strings.TrimSpace(field)
			if field != "" {
				parsed.Fields = append(parsed.Fields, field)
			}
		}
	}

	return parsed
}
