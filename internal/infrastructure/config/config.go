package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting of the API process.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBURL         string        `env:"DB_URL,required,notEmpty"`
	DBMaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"8"`
	DBConnTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`

	RedisURL     string        `env:"REDIS_URL,required,notEmpty"`
	ItemCacheTTL time.Duration `env:"ITEM_CACHE_TTL" envDefault:"5m"`

	// EnrichmentTimeout bounds the item lookup performed for each inserted conversation.
	EnrichmentTimeout time.Duration `env:"ENRICHMENT_TIMEOUT" envDefault:"3s"`

	AsynqConcurrency int    `env:"ASYNQ_CONCURRENCY" envDefault:"10"`
	AsynqQueues      string `env:"ASYNQ_QUEUES" envDefault:"default=1,conversation=1"`
}

// Load reads an optional .env file and parses the environment into a Config.
// A missing .env file is not an error; the returned bool reports whether one was loaded.
func Load(files ...string) (*Config, bool, error) {
	loaded := godotenv.Load(files...) == nil

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, loaded, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.EnrichmentTimeout <= 0 {
		return nil, loaded, fmt.Errorf("config: ENRICHMENT_TIMEOUT must be positive")
	}
	return &cfg, loaded, nil
}

// QueueWeights parses AsynqQueues ("critical=6,default=3,low=1") into a map.
// Entries without a valid positive weight default to 1.
func (c *Config) QueueWeights() map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(c.AsynqQueues, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}
