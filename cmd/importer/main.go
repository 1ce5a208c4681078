package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/geocode"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/config"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"
	"github.com/gregarious/onlyinpgh-sub000/internal/repository"
	"github.com/gregarious/onlyinpgh-sub000/internal/service"
)

// failureNotice records one failed record without aborting the batch.
type failureNotice struct {
	SourceID string
	Err      error
}

func main() {
	icalSource := flag.String("ical", "", "Path or URL of an iCalendar feed to import")
	csvPath := flag.String("file", "", "Path to a CSV of venue records to import")
	configPath := flag.String("config", "./configs", "Path to the config directory")
	flag.Parse()

	if *icalSource == "" && *csvPath == "" {
		fmt.Println("Error: one of --ical or --file is required")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	ctx := context.Background()
	conn, err := pgxpool.New(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to db")
	}
	defer conn.Close()

	if err := createSchemaIfNotExists(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("cannot create schema")
	}

	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID).Logger()

	repo := repository.NewRepository(conn, cfg.CoordTolerance, logger)
	resolver := service.NewResolver(
		resolve.NewClient(resolve.Config{
			BaseURL:    cfg.ResolveBaseURL,
			APIKey:     cfg.ResolveAPIKey,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger),
		geocode.NewClient(geocode.Config{
			BaseURL:         cfg.GeocodeBaseURL,
			APIKey:          cfg.GeocodeAPIKey,
			ThrottleRetries: cfg.ThrottleRetries,
			ThrottleDelay:   cfg.ThrottleDelay,
			RequestsPerSec:  cfg.GeocodeQPS,
		}, logger),
		graph.NewClient(graph.Config{
			BaseURL:     cfg.GraphBaseURL,
			AccessToken: cfg.GraphAccessToken,
			MaxRetries:  cfg.MaxRetries,
		}, logger),
		repo, cfg.SkipServiceErrors, logger)

	// One cache per batch job: many events at one venue cost one upstream
	// resolution.
	cache := service.NewCache()

	var failures []failureNotice
	switch {
	case *icalSource != "":
		failures, err = importICalFeed(ctx, *icalSource, resolver, cache, repo, logger)
	default:
		failures, err = importVenueCSV(ctx, *csvPath, resolver, cache, repo, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("import aborted")
	}

	for _, f := range failures {
		logger.Warn().Str("source_id", f.SourceID).Err(f.Err).Msg("record failed")
	}
	logger.Info().Int("failures", len(failures)).Int("cached_venues", cache.Len()).
		Msg("import complete")
}

// abortable reports whether an error must stop the whole batch instead of
// being recorded as a per-record failure. Hammering a capped daily quota
// would burn it for nothing.
func abortable(err error) bool {
	var throttle *geocode.ThrottleError
	return errors.As(err, &throttle)
}

// importICalFeed resolves every event's LOCATION text into a place and
// stores the events.
func importICalFeed(ctx context.Context, source string, resolver *service.Resolver, cache *service.Cache, repo *repository.Repository, logger zerolog.Logger) ([]failureNotice, error) {
	body, err := openSource(source)
	if err != nil {
		return nil, fmt.Errorf("importer: cannot open feed: %w", err)
	}
	defer body.Close()

	cal, err := ics.ParseCalendar(body)
	if err != nil {
		return nil, fmt.Errorf("importer: cannot parse feed: %w", err)
	}

	var failures []failureNotice
	for _, ev := range cal.Events() {
		sourceID := ev.Id()

		summary := propertyValue(ev, ics.ComponentPropertySummary)
		locText := propertyValue(ev, ics.ComponentPropertyLocation)

		start, err := ev.GetStartAt()
		if err != nil {
			failures = append(failures, failureNotice{SourceID: sourceID, Err: err})
			continue
		}

		key := service.VenueCacheKey(locText, nil)
		place, err := cache.GetOrResolve(key, func() (*models.Place, error) {
			p, err := resolver.ResolvePlace(ctx, locText, "", nil)
			if err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			if abortable(err) {
				return failures, err
			}
			failures = append(failures, failureNotice{SourceID: sourceID, Err: err})
			continue
		}

		event := models.Event{Name: summary, Start: start}
		if end, err := ev.GetEndAt(); err == nil {
			event.End = &end
		}
		if place != nil && place.ID != 0 {
			event.PlaceID = &place.ID
		}
		if _, err := repo.InsertEvent(ctx, event); err != nil {
			failures = append(failures, failureNotice{SourceID: sourceID, Err: err})
			continue
		}
		logger.Debug().Str("event", summary).Str("venue", locText).Msg("imported event")
	}
	return failures, nil
}

// importVenueCSV resolves venue records of the form
// uid,name,street,city,state,zip[,organization] into places. The optional
// organization column links the place to an owning organization.
func importVenueCSV(ctx context.Context, path string, resolver *service.Resolver, cache *service.Cache, repo *repository.Repository, logger zerolog.Logger) ([]failureNotice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("importer: failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("importer: failed to read header: %w", err)
	}

	var failures []failureNotice
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return failures, fmt.Errorf("importer: failed to read record: %w", err)
		}
		if len(record) < 6 {
			failures = append(failures, failureNotice{
				SourceID: strings.Join(record, ","),
				Err:      fmt.Errorf("importer: expected at least 6 columns, got %d", len(record)),
			})
			continue
		}

		venue := service.VenueRecord{
			Service: models.ServiceGraph,
			UID:     record[0],
			Name:    record[1],
			Location: &models.Location{
				Address:  record[2],
				Town:     record[3],
				State:    record[4],
				Postcode: record[5],
			},
		}
		if len(record) > 6 && strings.TrimSpace(record[6]) != "" {
			org, _, err := repo.FindOrCreateOrganization(ctx, strings.TrimSpace(record[6]))
			if err != nil {
				failures = append(failures, failureNotice{SourceID: venue.UID, Err: err})
				continue
			}
			venue.OrgID = &org.ID
		}

		key := service.VenueCacheKey(venue.Name, venue.Location)
		place, err := cache.GetOrResolve(key, func() (*models.Place, error) {
			p, err := resolver.ResolveVenue(ctx, venue, nil)
			if err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			if abortable(err) {
				return failures, err
			}
			failures = append(failures, failureNotice{SourceID: venue.UID, Err: err})
			continue
		}
		logger.Debug().Str("uid", venue.UID).Str("place", place.Name).Msg("imported venue")
	}
	return failures, nil
}

func propertyValue(ev *ics.VEvent, prop ics.ComponentProperty) string {
	if p := ev.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func openSource(source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
	return os.Open(source)
}

func createSchemaIfNotExists(ctx context.Context, conn *pgxpool.Pool) error {
	query := `
	CREATE TABLE IF NOT EXISTS locations (
		id BIGSERIAL PRIMARY KEY,
		address VARCHAR(255) NOT NULL DEFAULT '',
		town VARCHAR(255) NOT NULL DEFAULT '',
		state VARCHAR(2) NOT NULL DEFAULT '',
		postcode VARCHAR(16) NOT NULL DEFAULT '',
		country VARCHAR(2) NOT NULL DEFAULT 'US',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION
	);
	CREATE INDEX IF NOT EXISTS locations_coords_idx ON locations (latitude, longitude);

	CREATE TABLE IF NOT EXISTS organizations (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS places (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location_id BIGINT REFERENCES locations(id),
		org_id BIGINT REFERENCES organizations(id),
		tags TEXT[] NOT NULL DEFAULT '{}',
		UNIQUE NULLS NOT DISTINCT (name, location_id)
	);

	CREATE TABLE IF NOT EXISTS external_place_sources (
		id BIGSERIAL PRIMARY KEY,
		service VARCHAR(32) NOT NULL,
		uid VARCHAR(36) NOT NULL,
		place_id BIGINT NOT NULL REFERENCES places(id),
		UNIQUE (service, uid)
	);

	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		place_id BIGINT REFERENCES places(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		UNIQUE (name, start_time)
	);
	`
	_, err := conn.Exec(ctx, query)
	return err
}
