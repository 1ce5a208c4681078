package main

import (
	"context"
	"net/http"

	"github.com/gregarious/onlyinpgh-sub000/internal/client/geocode"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/graph"
	"github.com/gregarious/onlyinpgh-sub000/internal/client/resolve"
	"github.com/gregarious/onlyinpgh-sub000/internal/config"
	"github.com/gregarious/onlyinpgh-sub000/internal/handler"
	"github.com/gregarious/onlyinpgh-sub000/internal/repository"
	"github.com/gregarious/onlyinpgh-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	// Database connection
	conn, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to db")
	}
	defer conn.Close()

	// Initialize layers
	repo := repository.NewRepository(conn, cfg.CoordTolerance, log.Logger)

	resolveClient := resolve.NewClient(resolve.Config{
		BaseURL:    cfg.ResolveBaseURL,
		APIKey:     cfg.ResolveAPIKey,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, log.Logger)
	geocodeClient := geocode.NewClient(geocode.Config{
		BaseURL:         cfg.GeocodeBaseURL,
		APIKey:          cfg.GeocodeAPIKey,
		ThrottleRetries: cfg.ThrottleRetries,
		ThrottleDelay:   cfg.ThrottleDelay,
		RequestsPerSec:  cfg.GeocodeQPS,
	}, log.Logger)
	graphClient := graph.NewClient(graph.Config{
		BaseURL:     cfg.GraphBaseURL,
		AccessToken: cfg.GraphAccessToken,
		MaxRetries:  cfg.MaxRetries,
	}, log.Logger)

	resolver := service.NewResolver(resolveClient, geocodeClient, graphClient, repo,
		cfg.SkipServiceErrors, log.Logger)

	resolveHandler := handler.NewResolveHandler(resolver)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	r.POST("/resolve/place", resolveHandler.ResolvePlace)
	r.POST("/resolve/location", resolveHandler.ResolveLocation)
	r.POST("/resolve/page/:id", resolveHandler.ResolvePage)
	r.GET("/resolve/external/:service/:uid", resolveHandler.ResolveExternal)

	r.Run(cfg.ServerAddress)
}
