package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds every runtime setting for the bot. It is loaded once in main
// and passed into component constructors; no package reads the environment
// directly.
type Config struct {
	AppEnv           string `env:"APP_ENV,default=dev"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	MetricsNamespace string `env:"METRICS_NAMESPACE,default=dumu"`
	HTTPListenAddr   string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	PublicBaseURL    string `env:"PUBLIC_BASE_URL"`
	PublicBasePath   string `env:"PUBLIC_BASE_PATH"`

	// Meta / Instagram Graph API
	VerifyToken     string        `env:"VERIFY_TOKEN,required=true"`
	PageAccessToken string        `env:"PAGE_ACCESS_TOKEN,required=true"`
	GraphBaseURL    string        `env:"GRAPH_BASE_URL,default=https://graph.facebook.com/v18.0"`
	GraphTimeout    time.Duration `env:"GRAPH_TIMEOUT,default=10s"`

	// Storage. Driver is "postgres" or "sqlite"; SQLite is the local-dev
	// default so the bot runs without a provisioned database.
	DatabaseDriver string `env:"DATABASE_DRIVER,default=sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH,default=./dumu.db"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	RedisTLS      bool   `env:"REDIS_TLS,default=false"`

	// Pesapal (card payments)
	PesapalBaseURL        string        `env:"PESAPAL_BASE_URL,default=https://pay.pesapal.com/v3"`
	PesapalConsumerKey    string        `env:"PESAPAL_CONSUMER_KEY,required=true"`
	PesapalConsumerSecret string        `env:"PESAPAL_CONSUMER_SECRET,required=true"`
	PesapalIPNID          string        `env:"PESAPAL_IPN_ID"`
	PesapalTimeout        time.Duration `env:"PESAPAL_TIMEOUT,default=10s"`
	PesapalSubmitTimeout  time.Duration `env:"PESAPAL_SUBMIT_TIMEOUT,default=30s"`

	// Kopo Kopo (M-Pesa STK push)
	KopokopoBaseURL      string        `env:"KOPOKOPO_BASE_URL,default=https://api.kopokopo.com"`
	KopokopoClientID     string        `env:"KOPOKOPO_CLIENT_ID,required=true"`
	KopokopoClientSecret string        `env:"KOPOKOPO_CLIENT_SECRET,required=true"`
	KopokopoTillNumber   string        `env:"KOPOKOPO_TILL_NUMBER"`
	KopokopoTimeout      time.Duration `env:"KOPOKOPO_TIMEOUT,default=30s"`

	Currency string `env:"CURRENCY,default=KES"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.DatabaseDriver)) {
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	return nil
}

// CallbackURL joins the public base URL with a path, falling back to the
// merchant-site placeholder when no base URL is configured. Pesapal rejects
// requests without a syntactically valid callback.
func (c *Config) CallbackURL(path string) string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	if base == "" {
		base = "https://dumuapparels.com"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
