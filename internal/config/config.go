// Package config handles environment-driven runtime configuration.
//
// Every tunable maps to an ANI_MATE_* environment variable with a sane
// default, so a bare `ani-mate` invocation works out of the box.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds all runtime configuration for the ani-mate server.
type Config struct {
	Port  string `env:"ANI_MATE_PORT" envDefault:"7890"`
	Debug bool   `env:"ANI_MATE_DEBUG" envDefault:"false"`

	// DataDir holds the history/favorites database. Empty means
	// $XDG_STATE_HOME/ani-mate (or ~/.local/state/ani-mate).
	DataDir string `env:"ANI_MATE_DATA_DIR"`

	// Upstream timeouts
	CatalogTimeout  time.Duration `env:"ANI_MATE_CATALOG_TIMEOUT" envDefault:"8s"`
	MetadataTimeout time.Duration `env:"ANI_MATE_METADATA_TIMEOUT" envDefault:"5s"`
	ProviderTimeout time.Duration `env:"ANI_MATE_PROVIDER_TIMEOUT" envDefault:"8s"`

	// Search aggregation knobs
	SupplementalSearchCap int `env:"ANI_MATE_SUPPLEMENTAL_SEARCH_CAP" envDefault:"3"`
	CoverBatchLimit       int `env:"ANI_MATE_COVER_BATCH_LIMIT" envDefault:"15"`

	// Minimum number of members a relation cluster needs before results
	// are tagged with a franchise id in API responses.
	FranchiseMinSize int `env:"ANI_MATE_FRANCHISE_MIN_SIZE" envDefault:"2"`

	// Cache TTLs: successful lookups live long, failures retry sooner.
	CacheTTL     time.Duration `env:"ANI_MATE_CACHE_TTL" envDefault:"1h"`
	CacheFailTTL time.Duration `env:"ANI_MATE_CACHE_FAIL_TTL" envDefault:"5m"`
	AiringTTL    time.Duration `env:"ANI_MATE_AIRING_TTL" envDefault:"5m"`
}

// Load parses environment variables into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "config: failed to parse environment")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// HistoryDBPath returns the location of the SQLite history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "ani-mate.db")
}

func defaultDataDir() string {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "ani-mate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "state", "ani-mate")
}
