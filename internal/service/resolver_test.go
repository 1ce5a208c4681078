package service

import (
	"context"
	"testing"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/geocode"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockResolveClient is a mock implementation of the ResolveClient interface
type MockResolveClient struct {
	mock.Mock
}

func (m *MockResolveClient) Resolve(ctx context.Context, q resolve.Query) (*resolve.Candidate, error) {
	args := m.Called(ctx, q)
	cand, _ := args.Get(0).(*resolve.Candidate)
	return cand, args.Error(1)
}

// MockGeocodeClient is a mock implementation of the GeocodeClient interface
type MockGeocodeClient struct {
	mock.Mock
}

func (m *MockGeocodeClient) Geocode(ctx context.Context, address string, opts ...geocode.Option) (*geocode.Result, error) {
	args := m.Called(ctx, address, opts)
	result, _ := args.Get(0).(*geocode.Result)
	return result, args.Error(1)
}

// MockGraphClient is a mock implementation of the GraphClient interface
type MockGraphClient struct {
	mock.Mock
}

func (m *MockGraphClient) Lookup(ctx context.Context, ids graph.IDSet) (map[string]graph.Record, error) {
	args := m.Called(ctx, ids)
	records, _ := args.Get(0).(map[string]graph.Record)
	return records, args.Error(1)
}

// MockStore is a mock implementation of the Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) FindOrCreateLocation(ctx context.Context, cand models.Location) (models.Location, bool, error) {
	args := m.Called(ctx, cand)
	return args.Get(0).(models.Location), args.Bool(1), args.Error(2)
}

func (m *MockStore) FindOrCreatePlace(ctx context.Context, name string, locationID, orgID *int64) (models.Place, bool, error) {
	args := m.Called(ctx, name, locationID, orgID)
	return args.Get(0).(models.Place), args.Bool(1), args.Error(2)
}

func (m *MockStore) FindPlaceByExternalID(ctx context.Context, service, uid string) (*models.Place, error) {
	args := m.Called(ctx, service, uid)
	place, _ := args.Get(0).(*models.Place)
	return place, args.Error(1)
}

func (m *MockStore) RecordExternalID(ctx context.Context, service, uid string, placeID int64) error {
	args := m.Called(ctx, service, uid, placeID)
	return args.Error(0)
}

func newTestResolver(rc ResolveClient, gc GeocodeClient, gr GraphClient, store Store) *Resolver {
	return NewResolver(rc, gc, gr, store, true, zerolog.Nop())
}

func ptr[T any](v T) *T {
	return &v
}

func TestResolver_ResolvePlace_EmptyInputReturnsEmptyPlace(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	place, err := r.ResolvePlace(context.Background(), "", "", nil)

	require.NoError(t, err)
	assert.Equal(t, models.Place{}, place)
	mockResolve.AssertNotCalled(t, "Resolve")
	mockGeocode.AssertNotCalled(t, "Geocode")
}

func TestResolver_ResolvePlace_FullTextResolveHit(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	raw := "Square Cafe, 1137 S Braddock Ave, Pittsburgh, PA 15218"
	cand := &resolve.Candidate{
		UID:        "abc123",
		Name:       "Square Cafe",
		Address:    "1137 S Braddock Ave",
		Town:       "Pittsburgh",
		State:      "PA",
		Postcode:   "15218",
		Latitude:   ptr(40.432),
		Longitude:  ptr(-79.888),
		Similarity: 1.0,
		Resolved:   true,
	}

	mockResolve.On("Resolve", mock.Anything, resolve.Query{Name: raw}).Return(cand, nil)
	storedLoc := models.Location{ID: 7, Address: "1137 S Braddock Ave", Town: "Pittsburgh",
		State: "PA", Postcode: "15218", Country: "US",
		Latitude: ptr(40.432), Longitude: ptr(-79.888)}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.Anything).Return(storedLoc, true, nil)
	mockStore.On("FindOrCreatePlace", mock.Anything, "Square Cafe", ptr(int64(7)), (*int64)(nil)).
		Return(models.Place{ID: 3, Name: "Square Cafe", LocationID: ptr(int64(7))}, true, nil)
	mockStore.On("RecordExternalID", mock.Anything, models.ServiceResolve, "abc123", int64(3)).Return(nil)

	place, err := r.ResolvePlace(context.Background(), raw, "fallback", nil)

	require.NoError(t, err)
	assert.Equal(t, int64(3), place.ID)
	assert.Equal(t, "Square Cafe", place.Name)
	require.NotNil(t, place.Location)
	assert.Equal(t, int64(7), place.Location.ID)
	mockGeocode.AssertNotCalled(t, "Geocode")
	mockStore.AssertExpectations(t)
}

func TestResolver_ResolvePlace_FallbackWhenNothingMatches(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil)
	mockGeocode.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	place, err := r.ResolvePlace(context.Background(), "total nonsense text", "Mystery Venue", nil)

	require.NoError(t, err)
	assert.Equal(t, "Mystery Venue", place.Name)
	assert.Nil(t, place.Location)
	assert.Zero(t, place.ID)
}

func TestResolver_ResolvePlace_GeocodeFallback(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil)

	result := &geocode.Result{Types: []string{"street_address"}}
	result.AddressComponents = []geocode.Component{
		{LongName: "3518", ShortName: "3518", Types: []string{"street_number"}},
		{LongName: "Boulevard of the Allies", ShortName: "Blvd of the Allies", Types: []string{"route"}},
		{LongName: "Pittsburgh", ShortName: "Pittsburgh", Types: []string{"locality"}},
		{LongName: "Pennsylvania", ShortName: "PA", Types: []string{"administrative_area_level_1"}},
		{LongName: "United States", ShortName: "US", Types: []string{"country"}},
	}
	result.Geometry.Location = geocode.LatLng{Lat: 40.435, Lng: -79.958}
	mockGeocode.On("Geocode", mock.Anything, "3518 Blvd of the Allies", mock.Anything).Return(result, nil)

	storedLoc := models.Location{ID: 11, Address: "3518 Boulevard of the Allies",
		Town: "Pittsburgh", State: "PA", Country: "US",
		Latitude: ptr(40.435), Longitude: ptr(-79.958)}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.MatchedBy(func(l models.Location) bool {
		return l.Address == "3518 Boulevard of the Allies" && l.Town == "Pittsburgh"
	})).Return(storedLoc, true, nil)
	mockStore.On("FindOrCreatePlace", mock.Anything, "Oakland Spot", ptr(int64(11)), (*int64)(nil)).
		Return(models.Place{ID: 9, Name: "Oakland Spot", LocationID: ptr(int64(11))}, true, nil)

	place, err := r.ResolvePlace(context.Background(), "3518 Blvd of the Allies", "Oakland Spot", nil)

	require.NoError(t, err)
	assert.Equal(t, "Oakland Spot", place.Name)
	require.NotNil(t, place.Location)
	assert.Equal(t, "3518 Boulevard of the Allies", place.Location.Address)
	mockStore.AssertExpectations(t)
}

func TestResolver_ResolvePlace_SkippableServiceErrorsAdvanceCascade(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockResolve.On("Resolve", mock.Anything, mock.Anything).
		Return(nil, &resolve.ServiceError{ErrorType: "server_error", Message: "boom"})
	mockGeocode.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	place, err := r.ResolvePlace(context.Background(), "Brillobox, Pittsburgh PA", "Brillobox", nil)

	require.NoError(t, err)
	assert.Equal(t, "Brillobox", place.Name)
	assert.Nil(t, place.Location)
}

func TestResolver_ResolvePlace_ServiceErrorPropagatesWhenNotSkippable(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := NewResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore, false, zerolog.Nop())

	svcErr := &resolve.ServiceError{ErrorType: "server_error", Message: "boom"}
	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(nil, svcErr)

	_, err := r.ResolvePlace(context.Background(), "Brillobox, Pittsburgh PA", "Brillobox", nil)

	assert.ErrorIs(t, err, svcErr)
}

func TestResolver_ResolvePlace_ThrottleAlwaysAborts(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil)
	throttle := &geocode.ThrottleError{Query: "anything"}
	mockGeocode.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(nil, throttle)

	_, err := r.ResolvePlace(context.Background(), "some venue text", "fallback", nil)

	assert.ErrorIs(t, err, throttle)
}

func TestResolver_ResolvePlace_SeedFillsMissingFields(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	seed := &models.Location{Town: "Pittsburgh", State: "PA"}

	var sawSeededQuery bool
	mockResolve.On("Resolve", mock.Anything, mock.MatchedBy(func(q resolve.Query) bool {
		if q.Town == "Pittsburgh" && q.State == "PA" {
			sawSeededQuery = true
		}
		return true
	})).Return(nil, nil)
	mockGeocode.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	_, err := r.ResolvePlace(context.Background(), "Thunderbird Cafe", "", seed)

	require.NoError(t, err)
	assert.True(t, sawSeededQuery, "expected at least one query seeded with town/state hints")
}

func TestResolver_ResolveViaExternalID(t *testing.T) {
	tests := []struct {
		name      string
		uid       string
		stored    *models.Place
		expectNil bool
	}{
		{
			name:      "empty uid short-circuits",
			uid:       "",
			expectNil: true,
		},
		{
			name:      "unknown uid returns nil",
			uid:       "999",
			stored:    nil,
			expectNil: true,
		},
		{
			name:   "known uid returns place",
			uid:    "42",
			stored: &models.Place{ID: 5, Name: "Square Cafe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			r := newTestResolver(new(MockResolveClient), new(MockGeocodeClient), new(MockGraphClient), mockStore)

			if tt.uid != "" {
				mockStore.On("FindPlaceByExternalID", mock.Anything, models.ServiceGraph, tt.uid).
					Return(tt.stored, nil)
			}

			place, err := r.ResolveViaExternalID(context.Background(), models.ServiceGraph, tt.uid)

			require.NoError(t, err)
			if tt.expectNil {
				assert.Nil(t, place)
			} else {
				assert.Equal(t, tt.stored, place)
			}
			mockStore.AssertExpectations(t)
		})
	}
}

func TestResolver_ResolveLocation_PrefersResolveOverGeocode(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	cand := &resolve.Candidate{
		Name: "Square Cafe", Address: "1137 S Braddock Ave", Town: "Pittsburgh",
		State: "PA", Similarity: 0.97, Resolved: true,
	}
	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(cand, nil)
	stored := models.Location{ID: 2, Address: "1137 S Braddock Ave", Town: "Pittsburgh", State: "PA", Country: "US"}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.Anything).Return(stored, false, nil)

	loc, err := r.ResolveLocation(context.Background(),
		models.Location{Address: "1137 S Braddock Ave", Town: "Pittsburgh"}, false)

	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, int64(2), loc.ID)
	mockGeocode.AssertNotCalled(t, "Geocode")
}

func TestResolver_ResolveLocation_NormalizesAddressBeforeQuerying(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockResolve.On("Resolve", mock.Anything, mock.MatchedBy(func(q resolve.Query) bool {
		return q.Address == "6351 Walnut St. Unit 5"
	})).Return(nil, nil)
	mockGeocode.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	loc, err := r.ResolveLocation(context.Background(),
		models.Location{Address: "6351 Walnut St. #5"}, false)

	require.NoError(t, err)
	assert.Nil(t, loc)
	mockResolve.AssertExpectations(t)
}
