package service

import (
	"context"
	"testing"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResolver_ResolveVenue_ExternalIDShortCircuits(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, new(MockGeocodeClient), new(MockGraphClient), mockStore)

	known := &models.Place{ID: 5, Name: "Square Cafe"}
	mockStore.On("FindPlaceByExternalID", mock.Anything, models.ServiceGraph, "fb-123").
		Return(known, nil)

	place, err := r.ResolveVenue(context.Background(), VenueRecord{
		Service: models.ServiceGraph,
		UID:     "fb-123",
		Name:    "Some Other Name",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, *known, place)
	mockResolve.AssertNotCalled(t, "Resolve")
}

func TestResolver_ResolveVenue_ResolvesAndLinksExternalID(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	mockStore.On("FindPlaceByExternalID", mock.Anything, models.ServiceGraph, "fb-9").
		Return(nil, nil)

	cand := &resolve.Candidate{
		UID: "factual-7", Name: "Brillobox", Address: "4104 Penn Ave",
		Town: "Pittsburgh", State: "PA", Similarity: 0.95, Resolved: true,
	}
	mockResolve.On("Resolve", mock.Anything, mock.MatchedBy(func(q resolve.Query) bool {
		return q.Name == "Brillobox" && q.Address == "4104 Penn Ave"
	})).Return(cand, nil)

	stored := models.Location{ID: 4, Address: "4104 Penn Ave", Town: "Pittsburgh", State: "PA", Country: "US"}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.Anything).Return(stored, true, nil)
	mockStore.On("FindOrCreatePlace", mock.Anything, "Brillobox", ptr(int64(4)), (*int64)(nil)).
		Return(models.Place{ID: 8, Name: "Brillobox", LocationID: ptr(int64(4))}, true, nil)
	mockStore.On("RecordExternalID", mock.Anything, models.ServiceResolve, "factual-7", int64(8)).Return(nil)
	mockStore.On("RecordExternalID", mock.Anything, models.ServiceGraph, "fb-9", int64(8)).Return(nil)

	place, err := r.ResolveVenue(context.Background(), VenueRecord{
		Service:  models.ServiceGraph,
		UID:      "fb-9",
		Name:     "Brillobox",
		Location: &models.Location{Address: "4104 Penn Ave", Town: "Pittsburgh", State: "PA"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(8), place.ID)
	mockStore.AssertExpectations(t)
}

func TestResolver_ResolveVenue_SeedsTownFromOwnerOnRetry(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, new(MockGraphClient), mockStore)

	owner := &models.Place{
		ID:       2,
		Name:     "Owner Org HQ",
		Location: &models.Location{Town: "Pittsburgh", State: "PA"},
	}

	// First attempt carries no address and fails; the retry is seeded with
	// the owner's town/state.
	bare := resolve.Query{Name: "Thunderbird Cafe"}
	seeded := resolve.Query{Name: "Thunderbird Cafe", Town: "Pittsburgh", State: "PA"}
	mockResolve.On("Resolve", mock.Anything, bare).Return(nil, nil).Once()
	cand := &resolve.Candidate{Name: "Thunderbird Cafe", Address: "4023 Butler St",
		Town: "Pittsburgh", State: "PA", Similarity: 0.9, Resolved: true}
	mockResolve.On("Resolve", mock.Anything, seeded).Return(cand, nil).Once()

	stored := models.Location{ID: 6, Address: "4023 Butler St", Town: "Pittsburgh", State: "PA", Country: "US"}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.Anything).Return(stored, true, nil)
	mockStore.On("FindOrCreatePlace", mock.Anything, "Thunderbird Cafe", ptr(int64(6)), (*int64)(nil)).
		Return(models.Place{ID: 12, Name: "Thunderbird Cafe", LocationID: ptr(int64(6))}, true, nil)

	place, err := r.ResolveVenue(context.Background(), VenueRecord{Name: "Thunderbird Cafe"}, owner)

	require.NoError(t, err)
	assert.Equal(t, int64(12), place.ID)
	mockResolve.AssertExpectations(t)
}

func TestResolver_ResolveVenue_InheritsOwnerPlaceAsLastResort(t *testing.T) {
	mockStore := new(MockStore)
	r := newTestResolver(new(MockResolveClient), new(MockGeocodeClient), new(MockGraphClient), mockStore)

	owner := &models.Place{ID: 3, Name: "Owner Org HQ"}

	place, err := r.ResolveVenue(context.Background(), VenueRecord{}, owner)

	require.NoError(t, err)
	assert.Equal(t, *owner, place)
}

func TestResolver_ResolveVenue_NoInfoNoOwnerReturnsNamedStub(t *testing.T) {
	mockStore := new(MockStore)
	r := newTestResolver(new(MockResolveClient), new(MockGeocodeClient), new(MockGraphClient), mockStore)

	place, err := r.ResolveVenue(context.Background(), VenueRecord{}, nil)

	require.NoError(t, err)
	assert.Equal(t, models.Place{}, place)
}

func TestResolver_ResolvePage_RejectsNonPageObjects(t *testing.T) {
	mockGraph := new(MockGraphClient)
	mockStore := new(MockStore)
	r := newTestResolver(new(MockResolveClient), new(MockGeocodeClient), mockGraph, mockStore)

	mockGraph.On("Lookup", mock.Anything, graph.SingleID("u-1")).
		Return(map[string]graph.Record{"u-1": {ID: "u-1", Type: "user", Name: "Some Person"}}, nil)

	_, err := r.ResolvePage(context.Background(), "u-1", nil)

	var invalid *InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestResolver_ResolvePage_ResolvesPageVenue(t *testing.T) {
	mockResolve := new(MockResolveClient)
	mockGeocode := new(MockGeocodeClient)
	mockGraph := new(MockGraphClient)
	mockStore := new(MockStore)
	r := newTestResolver(mockResolve, mockGeocode, mockGraph, mockStore)

	lat, lng := 40.4612, -79.9689
	mockGraph.On("Lookup", mock.Anything, graph.SingleID("page-1")).
		Return(map[string]graph.Record{"page-1": {
			ID: "page-1", Type: "page", Name: "Brillobox",
			Location: &graph.PageLocation{
				Street: "4104 Penn Ave", City: "Pittsburgh", State: "PA",
				Latitude: &lat, Longitude: &lng,
			},
		}}, nil)

	mockStore.On("FindPlaceByExternalID", mock.Anything, models.ServiceGraph, "page-1").
		Return(nil, nil)
	mockResolve.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil)

	stored := models.Location{ID: 20, Address: "4104 Penn Ave", Town: "Pittsburgh",
		State: "PA", Country: "US", Latitude: &lat, Longitude: &lng}
	mockStore.On("FindOrCreateLocation", mock.Anything, mock.Anything).Return(stored, true, nil)
	mockStore.On("FindOrCreatePlace", mock.Anything, "Brillobox", ptr(int64(20)), (*int64)(nil)).
		Return(models.Place{ID: 30, Name: "Brillobox", LocationID: ptr(int64(20))}, true, nil)
	mockStore.On("RecordExternalID", mock.Anything, models.ServiceGraph, "page-1", int64(30)).Return(nil)

	place, err := r.ResolvePage(context.Background(), "page-1", nil)

	require.NoError(t, err)
	assert.Equal(t, int64(30), place.ID)
	mockStore.AssertExpectations(t)
}
