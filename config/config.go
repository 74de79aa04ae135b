package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug            bool   `envconfig:"debug"`
	Port             int    `envconfig:"port" default:"8080"`
	Env              string `envconfig:"env" default:"dev"`
	DBDriver         string `envconfig:"db_driver" default:"postgres"`
	SQLitePath       string `envconfig:"sqlite_path" default:"qwik.db"`
	PostgresHost     string `envconfig:"postgres_host"`
	PostgresUser     string `envconfig:"postgres_user"`
	PostgresDB       string `envconfig:"postgres_db"`
	PostgresPort     int    `envconfig:"postgres_port" default:"5432"`
	PostgresPassword string `envconfig:"postgres_password"`
	PostgresTimeZone string `envconfig:"postgres_timezone" default:"UTC"`
	JWTSecret        string `envconfig:"jwt_secret"`

	// Redis is optional. Without it the fan-out bus and the thread pair lock
	// stay inside this process.
	RedisAddr     string        `envconfig:"redis_addr"`
	RedisPassword string        `envconfig:"redis_password"`
	RedisChannel  string        `envconfig:"redis_channel" default:"qwik:chat"`
	PairLockTTL   time.Duration `envconfig:"pair_lock_ttl" default:"5s"`

	AllowedOrigins      string `envconfig:"allowed_origins"`
	WSOutboundBuffer    int    `envconfig:"ws_outbound_buffer" default:"64"`
	WSMaxMessageBytes   int64  `envconfig:"ws_max_message_bytes" default:"65536"`
	SearchRatePerMinute uint   `envconfig:"search_rate_per_minute" default:"30"`
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Printf("couldn't load env vars: %v", err)
		}
	}

	c := &Config{}
	err := envconfig.Process("qwik", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Origins returns the configured allowed origins. An empty result means any
// origin is accepted.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
