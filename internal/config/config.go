// Package config loads runtime configuration from file and environment.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the composition roots need: store connection,
// server address, upstream service endpoints/credentials and the resolution
// policy knobs.
type Config struct {
	DBSource      string `mapstructure:"DB_SOURCE"`
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`

	ResolveBaseURL string `mapstructure:"RESOLVE_BASE_URL"`
	ResolveAPIKey  string `mapstructure:"RESOLVE_API_KEY"`

	GeocodeBaseURL string `mapstructure:"GEOCODE_BASE_URL"`
	GeocodeAPIKey  string `mapstructure:"GEOCODE_API_KEY"`

	GraphBaseURL     string `mapstructure:"GRAPH_BASE_URL"`
	GraphAccessToken string `mapstructure:"GRAPH_ACCESS_TOKEN"`

	MaxRetries      int           `mapstructure:"MAX_RETRIES"`
	RetryDelay      time.Duration `mapstructure:"RETRY_DELAY"`
	ThrottleRetries int           `mapstructure:"THROTTLE_RETRIES"`
	ThrottleDelay   time.Duration `mapstructure:"THROTTLE_DELAY"`
	GeocodeQPS      float64       `mapstructure:"GEOCODE_QPS"`

	// Dedup window in degrees for geocoded location matching.
	CoordTolerance float64 `mapstructure:"COORD_TOLERANCE"`

	// Treat upstream service errors on a cascade step as "try the next
	// strategy" instead of aborting the resolution.
	SkipServiceErrors bool `mapstructure:"SKIP_SERVICE_ERRORS"`
}

// LoadConfig reads configuration from app.env in the given path, with
// environment variables taking precedence.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_ADDRESS", "0.0.0.0:8080")
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY", time.Second)
	viper.SetDefault("THROTTLE_RETRIES", 3)
	viper.SetDefault("THROTTLE_DELAY", 2*time.Second)
	viper.SetDefault("GEOCODE_QPS", 5.0)
	viper.SetDefault("COORD_TOLERANCE", 1e-5)
	viper.SetDefault("SKIP_SERVICE_ERRORS", true)

	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
