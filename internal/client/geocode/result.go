package geocode

import (
	"strings"

	"github.com/gregarious/onlyinpgh-sub000/internal/models"
)

// Result types that identify a named landmark specific enough to anchor a
// place even without a street number.
var landmarkTypes = map[string]bool{
	"premise":           true,
	"establishment":     true,
	"point_of_interest": true,
	"natural_feature":   true,
	"airport":           true,
	"park":              true,
}

// Component types that name a landmark usable as the leading part of a
// synthesized street address. Premise and subpremise are appended separately.
var landmarkComponentTypes = []string{
	"establishment",
	"point_of_interest",
	"natural_feature",
	"airport",
	"park",
}

// HasType reports whether the result is classified with the given type.
func (r *Result) HasType(t string) bool {
	for _, rt := range r.Types {
		if rt == t {
			return true
		}
	}
	return false
}

// component returns the first address component carrying the given type, or
// nil if none does.
func (r *Result) component(t string) *Component {
	for i := range r.AddressComponents {
		for _, ct := range r.AddressComponents[i].Types {
			if ct == t {
				return &r.AddressComponents[i]
			}
		}
	}
	return nil
}

// LongComponent returns the long name of the first component with the given
// type, or "".
func (r *Result) LongComponent(t string) string {
	if c := r.component(t); c != nil {
		return c.LongName
	}
	return ""
}

// ShortComponent returns the short name of the first component with the
// given type, or "".
func (r *Result) ShortComponent(t string) string {
	if c := r.component(t); c != nil {
		return c.ShortName
	}
	return ""
}

// IsConcrete classifies whether the result is specific enough to anchor a
// place. A street intersection or a route with a house number is always
// concrete. With allowNumberless, a named landmark (premise, establishment,
// point of interest, natural feature, airport, park) also qualifies.
// Anything vaguer (a neighborhood, a whole city) is not.
func (r *Result) IsConcrete(allowNumberless bool) bool {
	if r.HasType("intersection") {
		return true
	}
	if r.component("route") != nil && r.component("street_number") != nil {
		return true
	}
	if allowNumberless {
		for _, t := range r.Types {
			if landmarkTypes[t] {
				return true
			}
		}
	}
	return false
}

// establishmentName returns the preferred establishment-like component name.
// When a result has several establishment components, the first whose name
// does not contain "university" wins: campus buildings are routinely tagged
// with both their own name and the enclosing university.
func (r *Result) establishmentName() string {
	var names []string
	seen := map[string]bool{}
	for _, t := range landmarkComponentTypes {
		for i := range r.AddressComponents {
			c := &r.AddressComponents[i]
			if !seen[c.LongName] && c.hasType(t) {
				names = append(names, c.LongName)
				seen[c.LongName] = true
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	for _, n := range names {
		if !strings.Contains(strings.ToLower(n), "university") {
			return n
		}
	}
	return names[0]
}

func (c *Component) hasType(t string) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// StreetAddress synthesizes a street address line from the result's
// components. Precedence: named landmark plus premise/subpremise, else
// intersection, else route prefixed by the house number when present.
func (r *Result) StreetAddress() string {
	if name := r.establishmentName(); name != "" {
		parts := []string{name}
		if p := r.LongComponent("premise"); p != "" && p != name {
			parts = append(parts, p)
		}
		if sp := r.LongComponent("subpremise"); sp != "" {
			parts = append(parts, sp)
		}
		return strings.TrimRight(strings.Join(parts, ", "), ", ")
	}

	if r.HasType("intersection") {
		if ix := r.LongComponent("intersection"); ix != "" {
			return ix
		}
		// Fall back to the leading segment of the formatted address.
		addr, _, _ := strings.Cut(r.FormattedAddress, ",")
		return strings.TrimSpace(addr)
	}

	route := r.LongComponent("route")
	if route == "" {
		return ""
	}
	if num := r.LongComponent("street_number"); num != "" {
		return num + " " + route
	}
	return route
}

// Location converts the result into a location candidate.
func (r *Result) Location() models.Location {
	lat := models.RoundCoord(r.Geometry.Location.Lat)
	lng := models.RoundCoord(r.Geometry.Location.Lng)
	loc := models.Location{
		Address:   r.StreetAddress(),
		Town:      r.LongComponent("locality"),
		State:     r.ShortComponent("administrative_area_level_1"),
		Postcode:  r.LongComponent("postal_code"),
		Country:   r.ShortComponent("country"),
		Latitude:  &lat,
		Longitude: &lng,
	}
	loc.Normalize()
	return loc
}
