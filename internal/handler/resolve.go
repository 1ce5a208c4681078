package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/geocode"
	"github.com/gregarious/onlyinpgh-sub000/internal/models"
	"github.com/gregarious/onlyinpgh-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// ResolverService is the resolution capability consumed by the HTTP layer.
type ResolverService interface {
	ResolvePlace(ctx context.Context, rawText, fallbackName string, seed *models.Location) (models.Place, error)
	ResolveLocation(ctx context.Context, partial models.Location, allowNumberless bool) (*models.Location, error)
	ResolveViaExternalID(ctx context.Context, svc, uid string) (*models.Place, error)
	ResolvePage(ctx context.Context, pageID string, owner *models.Place) (models.Place, error)
}

// ResolveHandler exposes the resolution cascade over HTTP.
type ResolveHandler struct {
	service ResolverService
}

// NewResolveHandler creates a new resolve handler.
func NewResolveHandler(svc ResolverService) *ResolveHandler {
	return &ResolveHandler{service: svc}
}

type resolvePlaceRequest struct {
	RawText      string           `json:"raw_text"`
	FallbackName string           `json:"fallback_name"`
	Seed         *models.Location `json:"seed,omitempty"`
}

// ResolvePlace handles POST /resolve/place requests.
func (h *ResolveHandler) ResolvePlace(c *gin.Context) {
	var req resolvePlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	place, err := h.service.ResolvePlace(c.Request.Context(), req.RawText, req.FallbackName, req.Seed)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, place)
}

type resolveLocationRequest struct {
	Location        models.Location `json:"location"`
	AllowNumberless bool            `json:"allow_numberless"`
}

// ResolveLocation handles POST /resolve/location requests. An unresolvable
// location yields 404.
func (h *ResolveHandler) ResolveLocation(c *gin.Context) {
	var req resolveLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	loc, err := h.service.ResolveLocation(c.Request.Context(), req.Location, req.AllowNumberless)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no confident match"})
		return
	}
	c.JSON(http.StatusOK, loc)
}

// ResolvePage handles POST /resolve/page/:id requests: fetch a graph page
// object and resolve its venue into a place.
func (h *ResolveHandler) ResolvePage(c *gin.Context) {
	pageID := c.Param("id")
	if pageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing page id"})
		return
	}

	place, err := h.service.ResolvePage(c.Request.Context(), pageID, nil)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, place)
}

// ResolveExternal handles GET /resolve/external/:service/:uid requests.
func (h *ResolveHandler) ResolveExternal(c *gin.Context) {
	svc := c.Param("service")
	uid := c.Param("uid")
	if svc == "" || uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing service or uid"})
		return
	}

	place, err := h.service.ResolveViaExternalID(c.Request.Context(), svc, uid)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if place == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown external id"})
		return
	}
	c.JSON(http.StatusOK, place)
}

func writeServiceError(c *gin.Context, err error) {
	var invalid *service.InvalidInputError
	var throttle *geocode.ThrottleError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	case errors.As(err, &throttle):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream rate limited"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
