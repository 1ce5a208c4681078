package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregarious/onlyinpgh-sub000/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DefaultCoordTolerance is the dedup window, in degrees, applied to
// latitude/longitude when matching geocoded location candidates. It absorbs
// sub-meter geocoder jitter between runs.
const DefaultCoordTolerance = 1e-5

// Repository implements the canonical store gateway on PostgreSQL.
type Repository struct {
	db             *pgxpool.Pool
	coordTolerance float64
	logger         zerolog.Logger
}

// NewRepository creates a new PostgreSQL repository. A non-positive
// tolerance falls back to DefaultCoordTolerance.
func NewRepository(db *pgxpool.Pool, coordTolerance float64, logger zerolog.Logger) *Repository {
	if coordTolerance <= 0 {
		coordTolerance = DefaultCoordTolerance
	}
	return &Repository{db: db, coordTolerance: coordTolerance, logger: logger}
}

const locationColumns = "id, address, town, state, postcode, country, latitude, longitude"

func scanLocation(row pgx.Row) (models.Location, error) {
	var loc models.Location
	err := row.Scan(&loc.ID, &loc.Address, &loc.Town, &loc.State, &loc.Postcode,
		&loc.Country, &loc.Latitude, &loc.Longitude)
	return loc, err
}

// FindOrCreateLocation returns the canonical stored row for the candidate,
// inserting it only when no equivalent row exists. Geocoded candidates match
// on their non-empty fields plus a tolerance window on the coordinates;
// ungeocoded candidates require an exact match on every field so two
// different vague addresses are never conflated. The returned bool is true
// when a new row was inserted.
func (r *Repository) FindOrCreateLocation(ctx context.Context, cand models.Location) (models.Location, bool, error) {
	cand.Normalize()
	if err := cand.Validate(); err != nil {
		return models.Location{}, false, fmt.Errorf("repository: invalid location candidate: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.Location{}, false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The existence check and the insert must be atomic with respect to
	// other writers, or near-duplicate rows slip in under concurrent batch
	// jobs.
	lockKey := cand.Address + "|" + cand.Town + "|" + cand.Postcode
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return models.Location{}, false, fmt.Errorf("repository: failed to take advisory lock: %w", err)
	}

	matches, err := r.matchLocations(ctx, tx, cand)
	if err != nil {
		return models.Location{}, false, err
	}
	if len(matches) > 0 {
		if len(matches) > 1 {
			// Pre-existing duplicate data; pick deterministically.
			r.logger.Warn().Int("matches", len(matches)).Str("address", cand.Address).
				Msg("repository: multiple equivalent locations found, using lowest id")
		}
		if err := tx.Commit(ctx); err != nil {
			return models.Location{}, false, fmt.Errorf("repository: failed to commit: %w", err)
		}
		return matches[0], false, nil
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO locations (address, town, state, postcode, country, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+locationColumns,
		cand.Address, cand.Town, cand.State, cand.Postcode, cand.Country,
		cand.Latitude, cand.Longitude)
	created, err := scanLocation(row)
	if err != nil {
		return models.Location{}, false, fmt.Errorf("repository: failed to insert location: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Location{}, false, fmt.Errorf("repository: failed to commit: %w", err)
	}
	return created, true, nil
}

// matchLocations returns existing rows equivalent to the candidate, lowest
// id first.
func (r *Repository) matchLocations(ctx context.Context, tx pgx.Tx, cand models.Location) ([]models.Location, error) {
	var (
		sql  string
		args []any
	)
	if cand.HasCoords() {
		sql = `
			SELECT ` + locationColumns + `
			FROM locations
			WHERE latitude BETWEEN $1 - $3 AND $1 + $3
			  AND longitude BETWEEN $2 - $3 AND $2 + $3
			  AND ($4 = '' OR address = $4)
			  AND ($5 = '' OR town = $5)
			  AND ($6 = '' OR state = $6)
			  AND ($7 = '' OR postcode = $7)
			  AND country = $8
			ORDER BY id
		`
		args = []any{*cand.Latitude, *cand.Longitude, r.coordTolerance,
			cand.Address, cand.Town, cand.State, cand.Postcode, cand.Country}
	} else {
		sql = `
			SELECT ` + locationColumns + `
			FROM locations
			WHERE address = $1 AND town = $2 AND state = $3 AND postcode = $4
			  AND country = $5 AND latitude IS NULL AND longitude IS NULL
			ORDER BY id
		`
		args = []any{cand.Address, cand.Town, cand.State, cand.Postcode, cand.Country}
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query locations: %w", err)
	}
	defer rows.Close()

	var matches []models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan location: %w", err)
		}
		matches = append(matches, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating locations: %w", err)
	}
	return matches, nil
}

// FindOrCreatePlace returns the canonical place for the (name, location)
// pair, creating it when absent. The returned bool is true on insert.
func (r *Repository) FindOrCreatePlace(ctx context.Context, name string, locationID, orgID *int64) (models.Place, bool, error) {
	var place models.Place
	row := r.db.QueryRow(ctx, `
		INSERT INTO places (name, location_id, org_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, location_id) DO NOTHING
		RETURNING id, name, description, location_id, org_id, tags
	`, name, locationID, orgID)
	err := row.Scan(&place.ID, &place.Name, &place.Description, &place.LocationID, &place.OrgID, &place.Tags)
	if err == nil {
		return place, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Place{}, false, fmt.Errorf("repository: failed to insert place: %w", err)
	}

	// Conflict: the row already exists.
	row = r.db.QueryRow(ctx, `
		SELECT id, name, description, location_id, org_id, tags
		FROM places
		WHERE name = $1 AND location_id IS NOT DISTINCT FROM $2
	`, name, locationID)
	err = row.Scan(&place.ID, &place.Name, &place.Description, &place.LocationID, &place.OrgID, &place.Tags)
	if err != nil {
		return models.Place{}, false, fmt.Errorf("repository: failed to fetch existing place: %w", err)
	}
	return place, false, nil
}

// GetPlace fetches a place with its location joined in, or nil when absent.
func (r *Repository) GetPlace(ctx context.Context, id int64) (*models.Place, error) {
	row := r.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.description, p.location_id, p.org_id, p.tags,
		       l.id, l.address, l.town, l.state, l.postcode, l.country, l.latitude, l.longitude
		FROM places p
		LEFT JOIN locations l ON l.id = p.location_id
		WHERE p.id = $1
	`, id)

	var (
		place                                models.Place
		locID                                *int64
		loc                                  models.Location
		addr, town, state, postcode, country *string
	)
	err := row.Scan(&place.ID, &place.Name, &place.Description, &place.LocationID, &place.OrgID, &place.Tags,
		&locID, &addr, &town, &state, &postcode, &country, &loc.Latitude, &loc.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to fetch place: %w", err)
	}
	if locID != nil {
		loc.ID = *locID
		loc.Address, loc.Town, loc.State = *addr, *town, *state
		loc.Postcode, loc.Country = *postcode, *country
		place.Location = &loc
	}
	return &place, nil
}

// FindPlaceByExternalID returns the place previously linked to the external
// (service, uid) pair, or nil when the pair has never been resolved.
func (r *Repository) FindPlaceByExternalID(ctx context.Context, service, uid string) (*models.Place, error) {
	var placeID int64
	err := r.db.QueryRow(ctx, `
		SELECT place_id FROM external_place_sources WHERE service = $1 AND uid = $2
	`, service, uid).Scan(&placeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to look up external source: %w", err)
	}
	return r.GetPlace(ctx, placeID)
}

// RecordExternalID links an external (service, uid) pair to a place. The
// unique constraint makes repeated recording idempotent.
func (r *Repository) RecordExternalID(ctx context.Context, service, uid string, placeID int64) error {
	src := models.ExternalPlaceSource{Service: service, UID: uid, PlaceID: placeID}
	if err := src.Validate(); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO external_place_sources (service, uid, place_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (service, uid) DO NOTHING
	`, service, uid, placeID)
	if err != nil {
		return fmt.Errorf("repository: failed to record external source: %w", err)
	}
	return nil
}

// FindOrCreateOrganization returns the organization with the given name,
// creating it when absent.
func (r *Repository) FindOrCreateOrganization(ctx context.Context, name string) (models.Organization, bool, error) {
	var org models.Organization
	err := r.db.QueryRow(ctx, `
		INSERT INTO organizations (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name
	`, name).Scan(&org.ID, &org.Name)
	if err == nil {
		return org, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Organization{}, false, fmt.Errorf("repository: failed to insert organization: %w", err)
	}
	err = r.db.QueryRow(ctx, "SELECT id, name FROM organizations WHERE name = $1", name).
		Scan(&org.ID, &org.Name)
	if err != nil {
		return models.Organization{}, false, fmt.Errorf("repository: failed to fetch organization: %w", err)
	}
	return org, false, nil
}

// InsertEvent stores an event row for a resolved place. Re-importing the
// same feed upserts rather than duplicating.
func (r *Repository) InsertEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO events (name, description, place_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, start_time) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`, ev.Name, ev.Description, ev.PlaceID, ev.Start, ev.End).Scan(&ev.ID)
	if err != nil {
		return models.Event{}, fmt.Errorf("repository: failed to insert event: %w", err)
	}
	return ev, nil
}
