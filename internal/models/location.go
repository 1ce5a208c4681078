package models

import (
	"fmt"
	"math"
	"strings"
)

// CoordPrecision is the number of fractional digits stored for latitude and
// longitude values.
const CoordPrecision = 6

// Location represents a single physical address record, decomposed into its
// component fields plus optional geocoded coordinates.
type Location struct {
	ID        int64    `json:"id"`
	Address   string   `json:"address"`
	Town      string   `json:"town"`
	State     string   `json:"state"`
	Postcode  string   `json:"postcode"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// RoundCoord rounds a coordinate to the stored precision.
func RoundCoord(v float64) float64 {
	scale := math.Pow10(CoordPrecision)
	return math.Round(v*scale) / scale
}

// HasCoords reports whether the location carries a geocoded lat/long pair.
func (l *Location) HasCoords() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Normalize canonicalizes the mutable fields in place: state and country
// codes are upper-cased, coordinates are rounded to the stored precision and
// a missing country defaults to US.
func (l *Location) Normalize() {
	l.Address = strings.TrimSpace(l.Address)
	l.Town = strings.TrimSpace(l.Town)
	l.State = strings.ToUpper(strings.TrimSpace(l.State))
	l.Postcode = strings.TrimSpace(l.Postcode)
	l.Country = strings.ToUpper(strings.TrimSpace(l.Country))
	if l.Country == "" {
		l.Country = "US"
	}
	if l.Latitude != nil {
		lat := RoundCoord(*l.Latitude)
		l.Latitude = &lat
	}
	if l.Longitude != nil {
		lng := RoundCoord(*l.Longitude)
		l.Longitude = &lng
	}
}

// Validate checks the location invariants: coordinates are both present or
// both absent and within range, and state/country codes are two letters when
// set.
func (l *Location) Validate() error {
	if (l.Latitude == nil) != (l.Longitude == nil) {
		return fmt.Errorf("models: latitude and longitude must both be set or both be empty")
	}
	if l.Latitude != nil {
		if *l.Latitude < -90 || *l.Latitude > 90 {
			return fmt.Errorf("models: invalid latitude: %f", *l.Latitude)
		}
		if *l.Longitude < -180 || *l.Longitude > 180 {
			return fmt.Errorf("models: invalid longitude: %f", *l.Longitude)
		}
	}
	if l.State != "" && len(l.State) != 2 {
		return fmt.Errorf("models: state code must be 2 characters: %q", l.State)
	}
	if l.Country != "" && len(l.Country) != 2 {
		return fmt.Errorf("models: country code must be 2 characters: %q", l.Country)
	}
	return nil
}

// FullAddress renders the location as a single comma-separated address
// string, skipping empty fields. Useful as geocoder input.
func (l *Location) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{l.Address, l.Town} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(l.State + " " + l.Postcode)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
