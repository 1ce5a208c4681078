package models

import (
	"fmt"
	"time"
)

// Place represents a named point of interest. Many places may share one
// location; the (name, location) pair is unique among persisted places.
type Place struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	LocationID  *int64    `json:"location_id,omitempty"`
	Location    *Location `json:"location,omitempty"`
	OrgID       *int64    `json:"org_id,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Organization represents an owning organization for places and events.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Event represents a scheduled happening at a resolved place.
type Event struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	PlaceID     *int64     `json:"place_id,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
}

// External service tags for ExternalPlaceSource rows.
const (
	ServiceGraph   = "graph-id-service"
	ServiceResolve = "resolve-service"
)

// MaxExternalUIDLen bounds the stored external object identifier.
const MaxExternalUIDLen = 36

// ExternalPlaceSource maps one external service's object identifier to
// exactly one canonical place. (Service, UID) is unique; lookups on it are
// the first and cheapest resolution strategy.
type ExternalPlaceSource struct {
	ID      int64  `json:"id"`
	Service string `json:"service"`
	UID     string `json:"uid"`
	PlaceID int64  `json:"place_id"`
}

// Validate checks the source row invariants.
func (s *ExternalPlaceSource) Validate() error {
	switch s.Service {
	case ServiceGraph, ServiceResolve:
	default:
		return fmt.Errorf("models: unknown external service tag: %q", s.Service)
	}
	if s.UID == "" || len(s.UID) > MaxExternalUIDLen {
		return fmt.Errorf("models: external uid must be 1-%d characters: %q", MaxExternalUIDLen, s.UID)
	}
	return nil
}
