package service

import (
	"context"
	"fmt"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"
	"github.com/gregarious/onlyinpgh-sub000/internal/normalize"
)

// VenueRecord is the venue description carried by an external source
// record: an optional external id plus whatever name/address fields the
// source exposed.
type VenueRecord struct {
	Service  string
	UID      string
	Name     string
	Location *models.Location
	OrgID    *int64
}

func emptyLocation(l *models.Location) bool {
	return l == nil || (l.Address == "" && l.Town == "" && l.State == "" &&
		l.Postcode == "" && !l.HasCoords())
}

// ResolveVenue resolves a venue encountered via an external record. A known
// external id short-circuits everything; otherwise the fielded resolve
// service is tried (re-seeded from the owning entity's own location when the
// venue has no address), then geocoding, then dedup persistence. With no
// venue information at all the owning entity's place is inherited.
func (r *Resolver) ResolveVenue(ctx context.Context, v VenueRecord, owner *models.Place) (models.Place, error) {
	if v.Service != "" && v.UID != "" {
		found, err := r.ResolveViaExternalID(ctx, v.Service, v.UID)
		if err != nil {
			return models.Place{}, err
		}
		if found != nil {
			return *found, nil
		}
	}

	var partial models.Location
	if v.Location != nil {
		partial = *v.Location
		partial.Address = normalize.AddressText(partial.Address)
		partial.Normalize()
	}

	place, err := r.resolveVenueFields(ctx, v, partial, owner)
	if err != nil {
		return models.Place{}, err
	}

	if place == nil && owner != nil && owner.ID != 0 {
		// Last resort: the referring entity's own place.
		place = owner
	}
	if place == nil {
		place = &models.Place{Name: v.Name}
	}

	if place.ID != 0 && v.Service != "" && v.UID != "" {
		if err := r.store.RecordExternalID(ctx, v.Service, v.UID, place.ID); err != nil {
			return models.Place{}, err
		}
	}
	return *place, nil
}

// resolveVenueFields works through the field-based strategies: fielded
// resolve, owner-seeded fielded resolve, geocoding, dedup persistence. A nil
// place means no strategy produced anything.
func (r *Resolver) resolveVenueFields(ctx context.Context, v VenueRecord, partial models.Location, owner *models.Place) (*models.Place, error) {
	if v.Name == "" && emptyLocation(&partial) {
		return nil, nil
	}

	q := resolve.Query{
		Name:      v.Name,
		Address:   partial.Address,
		Town:      partial.Town,
		State:     partial.State,
		Postcode:  partial.Postcode,
		Latitude:  partial.Latitude,
		Longitude: partial.Longitude,
	}
	cand, err := r.tryResolve(ctx, q, nil)
	if err != nil && !r.skippable(err) {
		return nil, err
	}

	// Without an address the resolve service often needs a locality; seed
	// town/state from the owning entity's resolved location and retry.
	if cand == nil && q.Address == "" && owner != nil && owner.Location != nil {
		cand, err = r.tryResolve(ctx, q, owner.Location)
		if err != nil && !r.skippable(err) {
			return nil, err
		}
	}
	if cand != nil {
		loc, err := r.persistLocation(ctx, candidateLocation(cand))
		if err != nil {
			return nil, err
		}
		place, _, err := r.store.FindOrCreatePlace(ctx, cand.Name, &loc.ID, v.OrgID)
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

	// Fill in coordinates by geocoding the best available address text.
	if !partial.HasCoords() {
		text := partial.FullAddress()
		if text == "" {
			text = v.Name
		}
		result, err := r.tryGeocode(ctx, text, true, seedLocation(owner))
		if err != nil {
			if r.skippable(err) {
				result = nil
			} else {
				return nil, err
			}
		}
		if result != nil {
			geocoded := result.Location()
			// Keep the source's own street address when the geocoder only
			// confirmed coordinates for it.
			if partial.Address != "" && geocoded.Address == "" {
				geocoded.Address = partial.Address
			}
			partial = geocoded
		}
	}

	if emptyLocation(&partial) {
		return nil, nil
	}

	loc, err := r.persistLocation(ctx, partial)
	if err != nil {
		return nil, err
	}
	place, _, err := r.store.FindOrCreatePlace(ctx, v.Name, &loc.ID, v.OrgID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to persist place: %w", err)
	}
	place.Location = loc
	return &place, nil
}

// seedLocation returns the location usable as a resolution seed, handling a
// nil place.
func seedLocation(p *models.Place) *models.Location {
	if p == nil {
		return nil
	}
	return p.Location
}

// ResolvePage fetches one graph object and resolves its venue into a place.
// Objects that are not pages are rejected with an InvalidInputError.
func (r *Resolver) ResolvePage(ctx context.Context, pageID string, owner *models.Place) (models.Place, error) {
	records, err := r.graph.Lookup(ctx, graph.SingleID(pageID))
	if err != nil {
		return models.Place{}, err
	}
	rec := records[pageID]
	if rec.Type != "" && rec.Type != "page" {
		return models.Place{}, &InvalidInputError{Reason: fmt.Sprintf("object %s is a %s, not a page", pageID, rec.Type)}
	}

	v := VenueRecord{Service: models.ServiceGraph, UID: pageID, Name: rec.Name}
	if rec.Location != nil {
		v.Location = &models.Location{
			Address:   rec.Location.Street,
			Town:      rec.Location.City,
			State:     rec.Location.State,
			Postcode:  rec.Location.Zip,
			Country:   rec.Location.Country,
			Latitude:  rec.Location.Latitude,
			Longitude: rec.Location.Longitude,
		}
	} else if rec.Venue != "" {
		// Free-text venue hint only; run it through the raw-text cascade.
		return r.ResolvePlace(ctx, rec.Venue, rec.Name, seedLocation(owner))
	}
	return r.ResolveVenue(ctx, v, owner)
}
