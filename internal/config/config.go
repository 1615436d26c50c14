package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"socialpublish"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"socialpublish"`

	RedisURL   string `envconfig:"REDIS_URL" default:"redis:6379"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI         bool          `envconfig:"ENABLE_API" default:"true"`
	EnableSweepWorker bool          `envconfig:"ENABLE_SWEEP_WORKER" default:"false"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"0s"`
	MigrationPath     string        `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	WorkerSecret  string `envconfig:"PUBLISH_WORKER_SECRET"`
	SettingsURL   string `envconfig:"SETTINGS_URL" default:"/panel/configuraciones"`

	// Meta app
	MetaAppID        string        `envconfig:"META_APP_ID"`
	MetaAppSecret    string        `envconfig:"META_APP_SECRET"`
	MetaGraphVersion string        `envconfig:"META_GRAPH_VERSION" default:"v19.0"`
	MetaGraphURL     string        `envconfig:"META_GRAPH_URL" default:"https://graph.facebook.com"`
	MetaDialogURL    string        `envconfig:"META_DIALOG_URL" default:"https://www.facebook.com"`
	MetaHTTPTimeout  time.Duration `envconfig:"META_HTTP_TIMEOUT" default:"15s"`
	MetaRateLimit    float64       `envconfig:"META_RATE_LIMIT_RPS" default:"0"`
	OAuthRedirectURI string        `envconfig:"INSTAGRAM_OAUTH_REDIRECT_URI"`
	OAuthScopes      string        `envconfig:"INSTAGRAM_OAUTH_SCOPES"`
	OAuthAuthType    string        `envconfig:"INSTAGRAM_OAUTH_AUTH_TYPE"`
	LoginMode        string        `envconfig:"INSTAGRAM_LOGIN_MODE" default:"legacy"`
	PreferredPageID  string        `envconfig:"FACEBOOK_PAGE_ID"`
	OAuthStateTTL    time.Duration `envconfig:"OAUTH_STATE_TTL" default:"10m"`
	OAuthStateSecret string        `envconfig:"OAUTH_STATE_SECRET"`

	// Queue
	RetryBaseDelay     time.Duration `envconfig:"PUBLISH_RETRY_BASE_DELAY" default:"60s"`
	RetryMaxDelay      time.Duration `envconfig:"PUBLISH_RETRY_MAX_DELAY" default:"30m"`
	MaxAttempts        int           `envconfig:"PUBLISH_MAX_ATTEMPTS" default:"5"`
	ProcessingLease    time.Duration `envconfig:"PUBLISH_PROCESSING_LEASE" default:"15m"`
	TokenRefreshWindow time.Duration `envconfig:"TOKEN_REFRESH_WINDOW" default:"168h"`
	TokenRefreshBatch  int           `envconfig:"TOKEN_REFRESH_BATCH_LIMIT" default:"25"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: PUBLISH_MAX_ATTEMPTS must be at least 1", ErrMissingRequired)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("%w: PUBLISH_RETRY_BASE_DELAY/PUBLISH_RETRY_MAX_DELAY", ErrMissingRequired)
	}
	return nil
}

// Scopes returns the OAuth scopes to request. An explicit override wins over the
// login-mode defaults.
func (c *Config) Scopes() []string {
	if override := SplitScopes(c.OAuthScopes); len(override) > 0 {
		return override
	}
	return RequiredScopes(c.LoginMode)
}

// RequiredScopes lists the permissions discovery needs for the given login mode.
func RequiredScopes(loginMode string) []string {
	if strings.EqualFold(loginMode, "business") {
		return []string{
			"instagram_business_basic",
			"instagram_business_content_publish",
			"pages_show_list",
			"pages_read_engagement",
			"business_management",
		}
	}
	return []string{
		"instagram_basic",
		"instagram_content_publish",
		"pages_show_list",
		"pages_read_engagement",
		"business_management",
	}
}

func SplitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
