// Package service contains the resolution cascade: the ordered sequence of
// strategies that turns noisy venue descriptions into canonical places.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/geocode"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"
	"github.com/gregarious/onlyinpgh-sub000/internal/normalize"

	"github.com/rs/zerolog"
)

// seedBoundsDelta is the half-width in degrees of the bias box built around
// a seed location's coordinates when geocoding.
const seedBoundsDelta = 0.05

// InvalidInputError marks caller input the resolver cannot work with,
// distinct from upstream service failures.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "service: invalid input: " + e.Reason
}

// ResolveClient matches structured place records against a curated
// reference database.
type ResolveClient interface {
	Resolve(ctx context.Context, q resolve.Query) (*resolve.Candidate, error)
}

// GeocodeClient converts free address text into components and coordinates.
type GeocodeClient interface {
	Geocode(ctx context.Context, address string, opts ...geocode.Option) (*geocode.Result, error)
}

// GraphClient fetches external graph objects by id.
type GraphClient interface {
	Lookup(ctx context.Context, ids graph.IDSet) (map[string]graph.Record, error)
}

// Store is the canonical dedup store gateway.
type Store interface {
	FindOrCreateLocation(ctx context.Context, cand models.Location) (models.Location, bool, error)
	FindOrCreatePlace(ctx context.Context, name string, locationID, orgID *int64) (models.Place, bool, error)
	FindPlaceByExternalID(ctx context.Context, service, uid string) (*models.Place, error)
	RecordExternalID(ctx context.Context, service, uid string, placeID int64) error
}

// Resolver runs the resolution cascade over the upstream capabilities.
type Resolver struct {
	resolver ResolveClient
	geocoder GeocodeClient
	graph    GraphClient
	store    Store
	logger   zerolog.Logger

	// When true, upstream service errors on an individual cascade step are
	// treated as "try the next strategy" instead of aborting resolution.
	// Throttle errors always abort so a batch cannot burn a capped quota.
	skipServiceErrors bool
}

// NewResolver creates a resolver over the given capabilities.
func NewResolver(rc ResolveClient, gc GeocodeClient, gr GraphClient, store Store, skipServiceErrors bool, logger zerolog.Logger) *Resolver {
	return &Resolver{
		resolver:          rc,
		geocoder:          gc,
		graph:             gr,
		store:             store,
		logger:            logger,
		skipServiceErrors: skipServiceErrors,
	}
}

// skippable reports whether an error from one cascade step should advance
// the cascade rather than abort it. Throttle errors and anything unexpected
// always propagate.
func (r *Resolver) skippable(err error) bool {
	var throttle *geocode.ThrottleError
	if errors.As(err, &throttle) {
		return false
	}
	if !r.skipServiceErrors {
		return false
	}
	var svcErr *resolve.ServiceError
	var apiErr *geocode.APIError
	return errors.As(err, &svcErr) || errors.As(err, &apiErr)
}

// ResolveViaExternalID returns the place already linked to an external
// object id, or nil when the id was never resolved before. This is the
// first and cheapest strategy and is always tried before any heuristics.
func (r *Resolver) ResolveViaExternalID(ctx context.Context, service, uid string) (*models.Place, error) {
	if uid == "" {
		return nil, nil
	}
	place, err := r.store.FindPlaceByExternalID(ctx, service, uid)
	if err != nil {
		return nil, fmt.Errorf("service: external id lookup failed: %w", err)
	}
	return place, nil
}

// ResolveLocation resolves a partial location into a persisted canonical
// one, or nil when no confident result exists. The fielded resolve service
// is always preferred over geocoding; geocoded results must be concrete
// under the given policy before they are accepted.
func (r *Resolver) ResolveLocation(ctx context.Context, partial models.Location, allowNumberless bool) (*models.Location, error) {
	partial.Address = normalize.AddressText(partial.Address)
	partial.Normalize()

	cand, err := r.tryResolve(ctx, resolve.Query{
		Name:      "",
		Address:   partial.Address,
		Town:      partial.Town,
		State:     partial.State,
		Postcode:  partial.Postcode,
		Latitude:  partial.Latitude,
		Longitude: partial.Longitude,
	}, nil)
	if err != nil {
		return nil, err
	}
	if cand != nil {
		loc, err := r.persistLocation(ctx, candidateLocation(cand))
		if err != nil {
			return nil, err
		}
		return loc, nil
	}

	text := partial.FullAddress()
	if text == "" {
		return nil, nil
	}
	result, err := r.tryGeocode(ctx, text, allowNumberless, &partial)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	loc, err := r.persistLocation(ctx, result.Location())
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// ResolvePlace resolves a raw free-text place description. It is total over
// the expected-failure domain: ambiguity and (configured) skippable service
// errors advance the cascade, and exhausting every strategy returns a place
// carrying fallbackName with no location. Only unexpected errors are
// returned.
func (r *Resolver) ResolvePlace(ctx context.Context, rawText, fallbackName string, seed *models.Location) (models.Place, error) {
	parsed := normalize.ParseRawAddress(rawText)

	for _, step := range r.rawTextSteps(rawText, fallbackName, parsed) {
		place, err := step.run(ctx, r, seed)
		if err != nil {
			if r.skippable(err) {
				r.logger.Debug().Err(err).Str("step", step.name).
					Msg("service: cascade step failed, trying next strategy")
				continue
			}
			return models.Place{}, err
		}
		if place != nil {
			r.logger.Info().Str("step", step.name).Str("place", place.Name).
				Msg("service: resolved raw text")
			return *place, nil
		}
	}

	// Terminal fallback: a well-formed place with no location.
	r.logger.Info().Str("raw", rawText).Msg("service: cascade exhausted, using fallback")
	return models.Place{Name: fallbackName}, nil
}

// cascadeStep is one strategy in the raw-text resolution cascade. A nil
// place with nil error means "no confident result, try the next one".
type cascadeStep struct {
	name string
	run  func(ctx context.Context, r *Resolver, seed *models.Location) (*models.Place, error)
}

// rawTextSteps builds the ordered strategy list for one raw string. The
// ordering encodes a confidence ranking: a named-entity hit in the curated
// resolve database always beats a geocoded street address, and a multi-field
// query beats a single bare string.
func (r *Resolver) rawTextSteps(rawText, fallbackName string, parsed normalize.ParsedAddress) []cascadeStep {
	var steps []cascadeStep

	addResolve := func(name string, q resolve.Query) {
		if q.IsEmpty() {
			return
		}
		steps = append(steps, cascadeStep{name: name, run: func(ctx context.Context, r *Resolver, seed *models.Location) (*models.Place, error) {
			return r.resolveStep(ctx, q, seed)
		}})
	}
	addGeocode := func(name, text, placeName string, allowNumberless bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		steps = append(steps, cascadeStep{name: name, run: func(ctx context.Context, r *Resolver, seed *models.Location) (*models.Place, error) {
			return r.geocodeStep(ctx, text, placeName, allowNumberless, seed)
		}})
	}

	trimmed := strings.TrimSpace(rawText)
	addResolve("resolve-full-text", resolve.Query{Name: trimmed})

	if len(parsed.Fields) > 0 {
		first := parsed.Fields[0]
		addResolve("resolve-first-field", resolve.Query{Name: first})
		if len(parsed.Fields) > 1 {
			addResolve("resolve-name-address", resolve.Query{Name: first, Address: parsed.Fields[1]})
		}
		if parsed.Postcode != "" {
			addResolve("resolve-name-postcode", resolve.Query{Name: first, Postcode: parsed.Postcode})
		}
		if parsed.Town != "" || parsed.State != "" {
			addResolve("resolve-name-town-state", resolve.Query{
				Name:     first,
				Town:     parsed.Town,
				State:    parsed.State,
				Postcode: parsed.Postcode,
			})
		}
	}

	if parsed.ParenInside != "" {
		addResolve("resolve-paren-outside-name", resolve.Query{Name: parsed.ParenOutside, Address: parsed.ParenInside})
		addResolve("resolve-paren-inside-name", resolve.Query{Name: parsed.ParenInside, Address: parsed.ParenOutside})
	}

	fallback := fallbackName
	if fallback == "" && len(parsed.Fields) > 0 {
		fallback = parsed.Fields[0]
	}

	addGeocode("geocode-full-text", normalize.AddressText(rawText), fallback, false)
	if len(parsed.Fields) > 1 {
		tail := strings.Join(parsed.Fields[1:], ", ")
		addGeocode("geocode-tail", normalize.AddressText(tail), parsed.Fields[0], true)
	}
	if parsed.ParenInside != "" {
		addGeocode("geocode-paren-inside", normalize.AddressText(parsed.ParenInside), parsed.ParenOutside, true)
		addGeocode("geocode-paren-outside", normalize.AddressText(parsed.ParenOutside), parsed.ParenInside, true)
	}

	return steps
}

// resolveStep runs one fielded-resolve attempt and persists a confident
// candidate as a place.
func (r *Resolver) resolveStep(ctx context.Context, q resolve.Query, seed *models.Location) (*models.Place, error) {
	cand, err := r.tryResolve(ctx, q, seed)
	if err != nil || cand == nil {
		return nil, err
	}

	loc, err := r.persistLocation(ctx, candidateLocation(cand))
	if err != nil {
		return nil, err
	}
	place, _, err := r.store.FindOrCreatePlace(ctx, cand.Name, &loc.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("service: failed to persist place: %w", err)
	}
	place.Location = loc
	if cand.UID != "" {
		if err := r.store.RecordExternalID(ctx, models.ServiceResolve, cand.UID, place.ID); err != nil {
			return nil, err
		}
	}
	return &place, nil
}

// geocodeStep runs one geocoding attempt and persists a concrete result as
// a place named placeName.
func (r *Resolver) geocodeStep(ctx context.Context, text, placeName string, allowNumberless bool, seed *models.Location) (*models.Place, error) {
	result, err := r.tryGeocode(ctx, text, allowNumberless, seed)
	if err != nil || result == nil {
		return nil, err
	}

	loc, err := r.persistLocation(ctx, result.Location())
	if err != nil {
		return nil, err
	}
	place, _, err := r.store.FindOrCreatePlace(ctx, placeName, &loc.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("service: failed to persist place: %w", err)
	}
	place.Location = loc
	return &place, nil
}

// tryResolve sends one fielded query, with empty fields filled from the
// seed location, and returns the confident candidate if any.
func (r *Resolver) tryResolve(ctx context.Context, q resolve.Query, seed *models.Location) (*resolve.Candidate, error) {
	if seed != nil {
		if q.Town == "" {
			q.Town = seed.Town
		}
		if q.State == "" {
			q.State = seed.State
		}
		if q.Postcode == "" {
			q.Postcode = seed.Postcode
		}
		if q.Latitude == nil && q.Longitude == nil && seed.HasCoords() {
			q.Latitude, q.Longitude = seed.Latitude, seed.Longitude
		}
	}
	if q.IsEmpty() {
		return nil, nil
	}
	return r.resolver.Resolve(ctx, q)
}

// tryGeocode geocodes text biased by the seed location and returns the
// result only when it is concrete under the given policy.
func (r *Resolver) tryGeocode(ctx context.Context, text string, allowNumberless bool, seed *models.Location) (*geocode.Result, error) {
	var opts []geocode.Option
	if seed != nil {
		if seed.HasCoords() {
			opts = append(opts, geocode.WithBounds(
				geocode.LatLng{Lat: *seed.Latitude - seedBoundsDelta, Lng: *seed.Longitude - seedBoundsDelta},
				geocode.LatLng{Lat: *seed.Latitude + seedBoundsDelta, Lng: *seed.Longitude + seedBoundsDelta},
			))
		} else if seed.Country != "" {
			opts = append(opts, geocode.WithRegion(strings.ToLower(seed.Country)))
		}
	}

	result, err := r.geocoder.Geocode(ctx, text, opts...)
	if err != nil || result == nil {
		return nil, err
	}
	if !result.IsConcrete(allowNumberless) {
		r.logger.Debug().Str("text", text).Strs("types", result.Types).
			Msg("service: discarding non-concrete geocode result")
		return nil, nil
	}
	return result, nil
}

// persistLocation runs the candidate through the dedup gateway.
func (r *Resolver) persistLocation(ctx context.Context, cand models.Location) (*models.Location, error) {
	stored, created, err := r.store.FindOrCreateLocation(ctx, cand)
	if err != nil {
		return nil, fmt.Errorf("service: failed to persist location: %w", err)
	}
	if created {
		r.logger.Debug().Str("address", stored.Address).Int64("id", stored.ID).
			Msg("service: created new location")
	}
	return &stored, nil
}

// candidateLocation converts a resolve candidate into a location candidate.
func candidateLocation(c *resolve.Candidate) models.Location {
	loc := models.Location{
		Address:   c.Address,
		Town:      c.Town,
		State:     c.State,
		Postcode:  c.Postcode,
		Country:   c.Country,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}
	loc.Normalize()
	return loc
}
